// SPDX-License-Identifier: GPL-3.0-or-later

package netcore

import "fmt"

// Error is the common error envelope used across this module's packages.
//
// An [*Error] lets callers recover a short, stable kind alongside the
// underlying cause via [errors.As] and [errors.Unwrap]. The subpackages
// (e.g. dns, tlsdial, socks5, ndt) define their own string-typed Kind
// constants and error types and do not construct an [*Error].
type Error struct {
	// Kind is a short, stable, package-scoped identifier for the failure
	// (e.g. "dns: unsupported class").
	Kind string

	// Cause is the underlying error, if any.
	Cause error

	// Context carries optional key-value pairs useful for diagnostics
	// (e.g. the hostname a DNS query failed for).
	Context map[string]string
}

// NewError returns an [*Error] with the given kind and cause.
func NewError(kind string, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithContext returns err with k=v recorded in its Context map.
func (err *Error) WithContext(k, v string) *Error {
	if err.Context == nil {
		err.Context = make(map[string]string)
	}
	err.Context[k] = v
	return err
}

// Error implements the error interface.
func (err *Error) Error() string {
	if err.Cause == nil {
		return err.Kind
	}
	return fmt.Sprintf("%s: %s", err.Kind, err.Cause.Error())
}

// Unwrap allows [errors.Is] and [errors.As] to reach [Error.Cause].
func (err *Error) Unwrap() error {
	return err.Cause
}
