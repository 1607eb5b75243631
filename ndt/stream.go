// SPDX-License-Identifier: GPL-3.0-or-later

package ndt

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/measurement-kit/netcore/buffer"
	"github.com/measurement-kit/netcore/transport"
)

// ErrTimeout is returned by a [*Stream] read when ctx expires before enough
// bytes arrive.
var ErrTimeout = errors.New("ndt: read timed out")

// Stream adapts a callback-driven [*transport.Transport] into the
// synchronous read/write style the phase pipeline is written against: each
// phase function blocks (from the point of view of the goroutine running
// the pipeline, not the reactor) until its expected bytes arrive or the
// context expires.
//
// This is the same bridging technique socks5 uses for its handshake,
// generalized into a reusable reader so every NDT phase does not have to
// reimplement it.
type Stream struct {
	tr     *transport.Transport
	buf    buffer.Buffer
	dataCh chan []byte
	errCh  chan error
}

// NewStream wraps tr. It takes over tr's OnData/OnError registrations;
// callers must not register their own afterward.
func NewStream(tr *transport.Transport) *Stream {
	s := &Stream{
		tr:     tr,
		dataCh: make(chan []byte, 16),
		errCh:  make(chan error, 1),
	}
	tr.OnData(func(p []byte) {
		s.dataCh <- append([]byte(nil), p...)
	})
	tr.OnError(func(err error) {
		select {
		case s.errCh <- err:
		default:
		}
	})
	return s
}

// Transport returns the underlying [*transport.Transport].
func (s *Stream) Transport() *transport.Transport {
	return s.tr
}

// fill blocks until at least n bytes are buffered, or returns an error.
func (s *Stream) fill(ctx context.Context, n int) error {
	for s.buf.Len() < n {
		select {
		case p := <-s.dataCh:
			s.buf.Write(p)
		case err := <-s.errCh:
			for drained := false; !drained; {
				select {
				case p := <-s.dataCh:
					s.buf.Write(p)
				default:
					drained = true
				}
			}
			if s.buf.Len() >= n {
				select {
				case s.errCh <- err:
				default:
				}
				return nil
			}
			return err
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrTimeout
			}
			return ctx.Err()
		}
	}
	return nil
}

// ReadN blocks until n bytes are available and returns them, consuming them
// from the stream.
func (s *Stream) ReadN(ctx context.Context, n int) ([]byte, error) {
	if err := s.fill(ctx, n); err != nil {
		return nil, err
	}
	return s.buf.ReadN(n)
}

// ReadFrame reads one length-prefixed NDT message.
func (s *Stream) ReadFrame(ctx context.Context) (*Message, error) {
	header, err := s.ReadN(ctx, 3)
	if err != nil {
		return nil, err
	}
	typ := MessageType(header[0])
	length := int(binary.BigEndian.Uint16(header[1:3]))
	payload, err := s.ReadN(ctx, length)
	if err != nil {
		return nil, err
	}
	return &Message{Type: typ, Payload: payload}, nil
}

// Write sends p, blocking (from the pipeline goroutine's perspective) until
// the underlying Transport has accepted it for writing.
func (s *Stream) Write(p []byte) error {
	return s.tr.Write(p)
}

// WriteMessage encodes and writes a single NDT frame.
func (s *Stream) WriteMessage(typ MessageType, payload []byte) error {
	encoded, err := EncodeMessage(typ, payload)
	if err != nil {
		return err
	}
	return s.Write(encoded)
}

// WriteJSONMessage encodes and writes a `{"msg": body}` NDT frame.
func (s *Stream) WriteJSONMessage(typ MessageType, msg string) error {
	encoded, err := EncodeJSONMessage(typ, msg)
	if err != nil {
		return err
	}
	return s.Write(encoded)
}
