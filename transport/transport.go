// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport wraps a [net.Conn] with a callback-driven API bound to a
// [*reactor.Reactor]: every callback a caller registers (OnConnect, OnData,
// OnFlush, OnError) is dispatched through [reactor.Reactor.ScheduleNow], so
// it always runs on the reactor's own goroutine regardless of which
// goroutine actually performed the socket I/O.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/measurement-kit/netcore/buffer"
	"github.com/measurement-kit/netcore/reactor"
)

// State is the lifecycle state of a [Transport].
type State int

const (
	// Connecting is the state between construction and the first OnConnect
	// dispatch.
	Connecting State = iota

	// Open is the state once OnConnect has been dispatched and I/O is live.
	Open

	// Closing is the state between a call to [Transport.Close] and the
	// completion of its teardown.
	Closing

	// Closed is the terminal state; all further I/O fails.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Errors returned to OnError callbacks and by [Transport.Write].
var (
	// ErrEOF indicates the peer closed the connection cleanly.
	ErrEOF = errors.New("transport: connection closed by peer")

	// ErrTimeout indicates the deadline armed with [Transport.SetTimeout]
	// elapsed before an in-flight Read or Write completed.
	ErrTimeout = errors.New("transport: i/o timeout")

	// ErrSocket indicates a non-timeout, non-EOF I/O error.
	ErrSocket = errors.New("transport: socket error")

	// ErrClosed indicates an operation was attempted after [Transport.Close].
	ErrClosed = errors.New("transport: already closed")
)

const readChunkSize = 4096

// Transport wraps a [net.Conn] bound to a [*reactor.Reactor]. The zero value
// is not usable; construct one with [New].
type Transport struct {
	conn    net.Conn
	reactor *reactor.Reactor

	mu          sync.Mutex
	state       State
	onConnect   func()
	onData      func([]byte)
	onFlush     func()
	onError     func(error)
	recvBacklog buffer.Buffer
	recordRecv  bool
	recvRecord  buffer.Buffer
	recordSent  bool
	sentRecord  buffer.Buffer
	timeout     time.Duration
	closeOnce   sync.Once
	socks5Host  string
	socks5Port  int
}

// New wraps conn for use with r. The transport starts in [Connecting] state;
// shortly after construction, asynchronously, the state becomes [Open],
// OnConnect (if registered) fires once, and then the background read pump
// starts.
func New(conn net.Conn, r *reactor.Reactor) *Transport {
	t := &Transport{
		conn:    conn,
		reactor: r,
		state:   Connecting,
	}
	r.ScheduleNow(func() {
		t.mu.Lock()
		if t.state != Connecting {
			t.mu.Unlock()
			return
		}
		t.state = Open
		onConnect := t.onConnect
		t.mu.Unlock()
		if onConnect != nil {
			onConnect()
		}
		go t.readLoop()
	})
	return t
}

// Conn returns the underlying [net.Conn].
func (t *Transport) Conn() net.Conn {
	return t.conn
}

// Reactor returns the [*reactor.Reactor] this transport is bound to, so
// higher-level layers (such as tlsdial) can construct a fresh [Transport]
// wrapping a new [net.Conn] (e.g. a negotiated [*tls.Conn]) on the same
// reactor.
func (t *Transport) Reactor() *reactor.Reactor {
	return t.reactor
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnConnect registers fn to run once the transport transitions to [Open].
// Registering after the transition already happened is a programmer error
// the caller should avoid; this mirrors bufferevent's single-shot connect
// callback rather than trying to replay it.
func (t *Transport) OnConnect(fn func()) {
	t.mu.Lock()
	t.onConnect = fn
	t.mu.Unlock()
}

// OnData registers fn to receive bytes as they arrive. Passing nil disables
// delivery: bytes keep accumulating in an internal backlog but are not
// delivered until OnData is registered again, at which point the backlog is
// delivered immediately (as a single callback), followed by live data.
func (t *Transport) OnData(fn func([]byte)) {
	t.mu.Lock()
	t.onData = fn
	var backlog []byte
	if fn != nil && t.recvBacklog.Len() > 0 {
		backlog = append([]byte(nil), t.recvBacklog.Bytes()...)
		t.recvBacklog.Discard(t.recvBacklog.Len())
	}
	t.mu.Unlock()
	if fn != nil && len(backlog) > 0 {
		t.reactor.ScheduleNow(func() {
			fn(backlog)
		})
	}
}

// OnFlush registers fn to run each time a pending [Transport.Write] has been
// fully written to the underlying connection.
func (t *Transport) OnFlush(fn func()) {
	t.mu.Lock()
	t.onFlush = fn
	t.mu.Unlock()
}

// OnError registers fn to run when the transport observes a fatal I/O
// error. Exactly one error is ever delivered to a given OnError
// registration: after delivery the transport moves toward [Closed] and no
// further callbacks of any kind fire.
func (t *Transport) OnError(fn func(error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

// SetTimeout arms an absolute deadline d from now on the underlying
// connection: any Read or Write not completed by then fails with a
// timeout, which [classifyIOError] turns into [ErrTimeout] delivered to
// OnError. The deadline must be refreshed (call SetTimeout again) to cover
// each new phase of a protocol that has its own per-phase budget.
func (t *Transport) SetTimeout(d time.Duration) {
	t.mu.Lock()
	t.timeout = d
	t.mu.Unlock()
	t.conn.SetDeadline(time.Now().Add(d))
}

// ClearTimeout removes any deadline previously armed with
// [Transport.SetTimeout].
func (t *Transport) ClearTimeout() {
	t.mu.Lock()
	t.timeout = 0
	t.mu.Unlock()
	t.conn.SetDeadline(time.Time{})
}

// Write queues p for writing and performs the write on a dedicated
// goroutine so the reactor's own goroutine is never blocked on socket I/O.
// OnFlush (if registered) fires through the reactor once the write
// completes.
func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	if t.state == Closing || t.state == Closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.recordSent {
		t.sentRecord.Write(p)
	}
	t.mu.Unlock()

	data := append([]byte(nil), p...)
	go func() {
		_, err := t.conn.Write(data)
		if err != nil {
			t.reactor.ScheduleNow(func() {
				t.fail(classifyIOError(err))
			})
			return
		}
		t.mu.Lock()
		onFlush := t.onFlush
		t.mu.Unlock()
		if onFlush != nil {
			t.reactor.ScheduleNow(onFlush)
		}
	}()
	return nil
}

// WriteString is a convenience wrapper around [Transport.Write].
func (t *Transport) WriteString(s string) error {
	return t.Write([]byte(s))
}

// WriteBuffer writes and fully drains buf via [Transport.Write].
func (t *Transport) WriteBuffer(buf *buffer.Buffer) error {
	p := append([]byte(nil), buf.Bytes()...)
	buf.Discard(buf.Len())
	return t.Write(p)
}

// Unread pushes p back into the internal backlog as if it had just arrived
// from the peer but had not yet been delivered. Callers such as socks5
// use this to return piggybacked application bytes left over after parsing
// a fixed-format handshake out of the stream. It must only be called while
// OnData is nil (i.e. right after disabling delivery with OnData(nil));
// the bytes are then delivered the next time OnData is registered, exactly
// like any other backlog.
func (t *Transport) Unread(p []byte) {
	if len(p) == 0 {
		return
	}
	t.mu.Lock()
	t.recvBacklog.Write(p)
	t.mu.Unlock()
}

// RecordReceivedData enables accumulation of every byte delivered via
// OnData into an internal buffer retrievable with [Transport.ReceivedData].
func (t *Transport) RecordReceivedData() {
	t.mu.Lock()
	t.recordRecv = true
	t.mu.Unlock()
}

// DontRecordReceivedData disables and clears received-data recording.
func (t *Transport) DontRecordReceivedData() {
	t.mu.Lock()
	t.recordRecv = false
	t.recvRecord.Discard(t.recvRecord.Len())
	t.mu.Unlock()
}

// ReceivedData returns a copy of the bytes recorded since the last
// [Transport.RecordReceivedData] call.
func (t *Transport) ReceivedData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.recvRecord.Bytes()...)
}

// RecordSentData enables accumulation of every byte passed to
// [Transport.Write] into an internal buffer retrievable with
// [Transport.SentData].
func (t *Transport) RecordSentData() {
	t.mu.Lock()
	t.recordSent = true
	t.mu.Unlock()
}

// DontRecordSentData disables and clears sent-data recording.
func (t *Transport) DontRecordSentData() {
	t.mu.Lock()
	t.recordSent = false
	t.sentRecord.Discard(t.sentRecord.Len())
	t.mu.Unlock()
}

// SentData returns a copy of the bytes recorded since the last
// [Transport.RecordSentData] call.
func (t *Transport) SentData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.sentRecord.Bytes()...)
}

// SetSocks5Address records the SOCKS5 proxy address used to establish this
// transport, for diagnostic logging. It does not affect I/O.
func (t *Transport) SetSocks5Address(host string, port int) {
	t.mu.Lock()
	t.socks5Host = host
	t.socks5Port = port
	t.mu.Unlock()
}

// Socks5Address returns the proxy host set via [Transport.SetSocks5Address],
// or "" if none was set.
func (t *Transport) Socks5Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socks5Host
}

// Socks5Port returns the proxy port set via [Transport.SetSocks5Address].
func (t *Transport) Socks5Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.socks5Port
}

// Close tears down the transport: it cancels any armed timeout, closes the
// underlying connection, and schedules cb (if non-nil) through the reactor.
// Close is idempotent and safe to call from within any of the transport's
// own callbacks.
func (t *Transport) Close(cb func()) {
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		if cb != nil {
			t.reactor.ScheduleNow(cb)
		}
		return
	}
	t.state = Closing
	t.mu.Unlock()

	t.closeOnce.Do(func() {
		t.conn.Close()
	})

	t.mu.Lock()
	t.state = Closed
	t.mu.Unlock()

	if cb != nil {
		t.reactor.ScheduleNow(cb)
	}
}

// readLoop is the background read pump: it blocks on conn.Read and, on each
// successful read, hands the bytes to the reactor goroutine via
// ScheduleNow so OnData always runs there. It exits on the first error.
func (t *Transport) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			t.reactor.ScheduleNow(func() {
				t.handleData(chunk)
			})
		}
		if err != nil {
			t.reactor.ScheduleNow(func() {
				t.fail(classifyIOError(err))
			})
			return
		}
	}
}

// handleData delivers chunk to the registered OnData handler, or buffers it
// in the backlog if no handler is currently registered.
func (t *Transport) handleData(chunk []byte) {
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return
	}
	if t.recordRecv {
		t.recvRecord.Write(chunk)
	}
	onData := t.onData
	if onData == nil {
		t.recvBacklog.Write(chunk)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	onData(chunk)
}

// fail delivers err to OnError exactly once and tears the transport down.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	if t.state == Closed || t.state == Closing {
		t.mu.Unlock()
		return
	}
	onError := t.onError
	t.mu.Unlock()

	if onError != nil {
		onError(err)
	}
	t.Close(nil)
}

// classifyIOError maps a raw I/O error to one of this package's sentinel
// errors, preserving the original error via %w-style wrapping semantics
// through [errors.Join] so [errors.Is] still finds the underlying cause.
func classifyIOError(err error) error {
	if errors.Is(err, io.EOF) {
		return errors.Join(ErrEOF, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}
	return errors.Join(ErrSocket, err)
}
