// SPDX-License-Identifier: GPL-3.0-or-later

package errclass_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/measurement-kit/netcore/errclass"
	"github.com/stretchr/testify/assert"
)

// Classify returns "" for a nil error.
func TestClassifyNil(t *testing.T) {
	assert.Equal(t, "", errclass.Classify(nil))
}

// Classify recognizes context cancellation and deadline errors.
func TestClassifyContext(t *testing.T) {
	assert.Equal(t, errclass.ECANCELED, errclass.Classify(context.Canceled))
	assert.Equal(t, errclass.ETIMEDOUT, errclass.Classify(context.DeadlineExceeded))
}

// Classify recognizes io.EOF and io.ErrUnexpectedEOF.
func TestClassifyEOF(t *testing.T) {
	assert.Equal(t, errclass.EEOF, errclass.Classify(io.EOF))
	assert.Equal(t, errclass.EEOF, errclass.Classify(io.ErrUnexpectedEOF))
}

// Classify recognizes a timing-out net.Error.
func TestClassifyNetTimeout(t *testing.T) {
	_, err := net.DialTimeout("tcp", "127.0.0.1:1", 1*time.Nanosecond)
	if err == nil {
		t.Skip("dial unexpectedly succeeded")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		assert.Equal(t, errclass.ETIMEDOUT, errclass.Classify(err))
	} else {
		t.Skip("dial did not produce a net.Error with Timeout() true on this platform")
	}
}

// Classify falls back to EGENERIC for unrecognized errors.
func TestClassifyGeneric(t *testing.T) {
	assert.Equal(t, errclass.EGENERIC, errclass.Classify(errors.New("boom")))
}
