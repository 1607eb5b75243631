// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/nop/blob/main/tls.go
//

// Package tlsdial performs a TLS handshake on top of a
// [*transport.Transport], returning a fresh Transport wrapping the
// negotiated connection.
package tlsdial

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/measurement-kit/netcore/transport"
)

// DefaultCABundlePath is used when [Options.CABundlePath] is empty. It is a
// build-time default pointing at the common Debian/Ubuntu CA bundle
// location; callers targeting other platforms must set CABundlePath
// explicitly.
var DefaultCABundlePath = "/etc/ssl/certs/ca-certificates.crt"

// Kind values identify the errors this package raises.
const (
	KindMissingCaBundlePath = "tlsdial: missing CA bundle path"
	KindInvalidCertificate  = "tlsdial: invalid certificate"
	KindInvalidHostname     = "tlsdial: invalid hostname"
	KindNoCertificate       = "tlsdial: no certificate presented"
	KindTLS                 = "tlsdial: handshake failed"
)

// ErrMissingCaBundlePath means the CA bundle at [Options.CABundlePath] (or
// at [DefaultCABundlePath] when that is empty) could not be read or parsed.
var ErrMissingCaBundlePath = errors.New(KindMissingCaBundlePath)

// ErrNoCertificate means the handshake completed but the peer presented no
// certificate, which should not be possible for a well-behaved TLS server
// and is treated as a hard failure rather than silently accepted.
var ErrNoCertificate = errors.New(KindNoCertificate)

// InvalidCertificateError wraps an [*x509.CertificateInvalidError]-family
// verification failure.
type InvalidCertificateError struct {
	Cause error
}

func (e *InvalidCertificateError) Error() string {
	return fmt.Sprintf("%s: %s", KindInvalidCertificate, e.Cause)
}

func (e *InvalidCertificateError) Unwrap() error { return e.Cause }

// InvalidHostnameError wraps an [*x509.HostnameError].
type InvalidHostnameError struct {
	Cause error
}

func (e *InvalidHostnameError) Error() string {
	return fmt.Sprintf("%s: %s", KindInvalidHostname, e.Cause)
}

func (e *InvalidHostnameError) Unwrap() error { return e.Cause }

// TLSError wraps any other handshake-time failure (network error, protocol
// mismatch, and so on).
type TLSError struct {
	Cause error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("%s: %s", KindTLS, e.Cause)
}

func (e *TLSError) Unwrap() error { return e.Cause }

// Options configures [Handshake].
type Options struct {
	// CABundlePath is the PEM file used to verify the peer's
	// certificate. Empty means [DefaultCABundlePath]. Ignored if RootCAs
	// is non-nil.
	CABundlePath string

	// RootCAs, if non-nil, is used directly instead of loading
	// CABundlePath from disk. Tests use this to inject a pool built from
	// an in-memory fixture certificate.
	RootCAs *x509.CertPool

	// InsecureSkipVerify disables certificate and hostname verification,
	// for use against test fixtures only.
	InsecureSkipVerify bool

	// NextProtos sets the ALPN protocol list offered during the
	// handshake (e.g. []string{"h2", "http/1.1"}).
	NextProtos []string
}

func (o Options) caBundlePath() string {
	if o.CABundlePath != "" {
		return o.CABundlePath
	}
	return DefaultCABundlePath
}

// loadRootCAs reads and parses path into a fresh [*x509.CertPool].
func loadRootCAs(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%s: no certificates parsed", path)
	}
	return pool, nil
}

// Handshake performs a TLS client handshake over tr's underlying
// connection, with hostname as the SNI value and the Go standard library's
// own verification. On success it returns a fresh [*transport.Transport]
// wrapping the negotiated [*tls.Conn], bound to the same reactor as tr; tr
// itself must not be used again afterward.
func Handshake(ctx context.Context, tr *transport.Transport, hostname string, opts Options) (*transport.Transport, error) {
	tlsConfig := &tls.Config{
		ServerName:         hostname,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		NextProtos:         opts.NextProtos,
	}

	if !opts.InsecureSkipVerify {
		if opts.RootCAs != nil {
			tlsConfig.RootCAs = opts.RootCAs
		} else {
			path := opts.caBundlePath()
			if path == "" {
				return nil, ErrMissingCaBundlePath
			}
			roots, err := loadRootCAs(path)
			if err != nil {
				return nil, ErrMissingCaBundlePath
			}
			tlsConfig.RootCAs = roots
		}
	}

	conn := tls.Client(tr.Conn(), tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, classifyHandshakeError(err)
	}

	state := conn.ConnectionState()
	if !opts.InsecureSkipVerify && len(state.PeerCertificates) == 0 {
		conn.Close()
		return nil, ErrNoCertificate
	}

	return transport.New(conn, tr.Reactor()), nil
}

// classifyHandshakeError maps a handshake-time error to this package's
// closed error vocabulary.
func classifyHandshakeError(err error) error {
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return &InvalidHostnameError{Cause: err}
	}
	var unknownAuthorityErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthorityErr) {
		return &InvalidCertificateError{Cause: err}
	}
	var certInvalidErr x509.CertificateInvalidError
	if errors.As(err, &certInvalidErr) {
		return &InvalidCertificateError{Cause: err}
	}
	return &TLSError{Cause: err}
}
