//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/errclass.go
//

// Package errclass classifies network errors into short, platform-independent
// labels suitable for structured logging and systematic result analysis.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Generic labels used when no more specific classification applies.
const (
	// EGENERIC is returned when no other classification matches.
	EGENERIC = "EGENERIC"

	// ETIMEDOUT is returned for operation timeouts, including context
	// deadline exceeded and I/O deadline exceeded.
	ETIMEDOUT = "ETIMEDOUT"

	// ECANCELED is returned when the context was cancelled.
	ECANCELED = "ECANCELED"

	// EOF is returned when the peer closed the connection cleanly.
	EEOF = "EOF"
)

// errnoClass maps a [syscall.Errno] to its classification label.
var errnoClass = map[syscall.Errno]string{
	errEADDRNOTAVAIL:   "EADDRNOTAVAIL",
	errEADDRINUSE:      "EADDRINUSE",
	errECONNABORTED:    "ECONNABORTED",
	errECONNREFUSED:    "ECONNREFUSED",
	errECONNRESET:      "ECONNRESET",
	errEHOSTUNREACH:    "EHOSTUNREACH",
	errEINVAL:          "EINVAL",
	errEINTR:           "EINTR",
	errENETDOWN:        "ENETDOWN",
	errENETUNREACH:     "ENETUNREACH",
	errENOBUFS:         "ENOBUFS",
	errENOTCONN:        "ENOTCONN",
	errEPROTONOSUPPORT: "EPROTONOSUPPORT",
	errETIMEDOUT:       ETIMEDOUT,
}

// Classify maps err to a short classification label. It returns "" when err
// is nil, and [EGENERIC] when no more specific classification applies.
//
// Classify checks, in order: context cancellation/deadline, a wrapped
// [syscall.Errno] known to [errnoClass], [net.Error.Timeout], and
// [io.EOF]/[io.ErrUnexpectedEOF].
func Classify(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ECANCELED
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ETIMEDOUT
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if class, found := errnoClass[errno]; found {
			return class
		}
		return EGENERIC
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return EEOF
	}

	return EGENERIC
}
