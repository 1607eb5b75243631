// SPDX-License-Identifier: GPL-3.0-or-later

package netcore

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"
)

// capturingHandler is a [slog.Handler] that appends every record it
// receives to a slice so tests can assert on emitted structured logs.
type capturingHandler struct {
	records *[]slog.Record
}

var _ slog.Handler = &capturingHandler{}

func (h *capturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *capturingHandler) Handle(ctx context.Context, record slog.Record) error {
	*h.records = append(*h.records, record)
	return nil
}

func (h *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *capturingHandler) WithGroup(name string) slog.Handler {
	return h
}

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	return slog.New(&capturingHandler{records: &records}), &records
}

// funcConn is a [net.Conn] whose methods are implemented by user-provided
// function fields, with a nil field meaning "panic if invoked". It exists so
// tests can construct conns exposing exactly the behavior they need.
type funcConn struct {
	ReadFunc             func(b []byte) (int, error)
	WriteFunc            func(b []byte) (int, error)
	CloseFunc            func() error
	LocalAddrFunc        func() net.Addr
	RemoteAddrFunc       func() net.Addr
	SetDeadlineFunc      func(t time.Time) error
	SetReadDeadlineFunc  func(t time.Time) error
	SetWriteDeadlineFunc func(t time.Time) error
}

var _ net.Conn = &funcConn{}

func (c *funcConn) Read(b []byte) (int, error) {
	return c.ReadFunc(b)
}

func (c *funcConn) Write(b []byte) (int, error) {
	return c.WriteFunc(b)
}

func (c *funcConn) Close() error {
	return c.CloseFunc()
}

func (c *funcConn) LocalAddr() net.Addr {
	return c.LocalAddrFunc()
}

func (c *funcConn) RemoteAddr() net.Addr {
	return c.RemoteAddrFunc()
}

func (c *funcConn) SetDeadline(t time.Time) error {
	return c.SetDeadlineFunc(t)
}

func (c *funcConn) SetReadDeadline(t time.Time) error {
	return c.SetReadDeadlineFunc(t)
}

func (c *funcConn) SetWriteDeadline(t time.Time) error {
	return c.SetWriteDeadlineFunc(t)
}

// newMinimalConn returns a [*funcConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *funcConn {
	return &funcConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// funcTLSEngine is a [TLSEngine] whose methods are implemented by
// user-provided function fields.
type funcTLSEngine struct {
	ClientFunc func(conn net.Conn, config *tls.Config) TLSConn
	NameFunc   func() string
	ParrotFunc func() string
}

var _ TLSEngine = &funcTLSEngine{}

func (e *funcTLSEngine) Client(conn net.Conn, config *tls.Config) TLSConn {
	return e.ClientFunc(conn, config)
}

func (e *funcTLSEngine) Name() string {
	return e.NameFunc()
}

func (e *funcTLSEngine) Parrot() string {
	return e.ParrotFunc()
}

// funcDialer is a [Dialer] whose DialContext method is implemented by a
// user-provided function field.
type funcDialer struct {
	DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)
}

var _ Dialer = &funcDialer{}

func (d *funcDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return d.DialContextFunc(ctx, network, address)
}

// funcTLSConn is a [TLSConn] whose methods are implemented by user-provided
// function fields, delegating the [net.Conn] surface to FuncConn.
type funcTLSConn struct {
	FuncConn             *funcConn
	ConnectionStateFunc  func() tls.ConnectionState
	HandshakeContextFunc func(ctx context.Context) error
}

var _ TLSConn = &funcTLSConn{}

func (c *funcTLSConn) ConnectionState() tls.ConnectionState {
	return c.ConnectionStateFunc()
}

func (c *funcTLSConn) HandshakeContext(ctx context.Context) error {
	return c.HandshakeContextFunc(ctx)
}

func (c *funcTLSConn) Read(b []byte) (int, error)  { return c.FuncConn.Read(b) }
func (c *funcTLSConn) Write(b []byte) (int, error) { return c.FuncConn.Write(b) }
func (c *funcTLSConn) Close() error                { return c.FuncConn.Close() }
func (c *funcTLSConn) LocalAddr() net.Addr         { return c.FuncConn.LocalAddr() }
func (c *funcTLSConn) RemoteAddr() net.Addr        { return c.FuncConn.RemoteAddr() }
func (c *funcTLSConn) SetDeadline(t time.Time) error      { return c.FuncConn.SetDeadline(t) }
func (c *funcTLSConn) SetReadDeadline(t time.Time) error  { return c.FuncConn.SetReadDeadline(t) }
func (c *funcTLSConn) SetWriteDeadline(t time.Time) error { return c.FuncConn.SetWriteDeadline(t) }

// newMockTLSEngine returns a [*funcTLSEngine] that wraps the given
// [TLSConn]. The engine's Client method returns the conn, Name returns
// "mock", and Parrot returns "".
func newMockTLSEngine(conn TLSConn) *funcTLSEngine {
	return &funcTLSEngine{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn {
			return conn
		},
		NameFunc: func() string {
			return "mock"
		},
		ParrotFunc: func() string {
			return ""
		},
	}
}
