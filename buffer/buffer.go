// SPDX-License-Identifier: GPL-3.0-or-later

// Package buffer implements a growable byte buffer with the framing helpers
// the transport and protocol layers need: length-prefixed reads, CRLF line
// reads, big-endian integer framing, and random-printable payload filling.
package buffer

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
)

// ErrLineTooLong is returned by [Buffer.ReadLine] when no CRLF is found
// within the first max bytes.
var ErrLineTooLong = errors.New("buffer: line exceeds maximum length")

// ErrEOLNotFound is returned by [Buffer.ReadLine] when the buffer contains
// fewer than max bytes and none of them form a complete CRLF-terminated line.
var ErrEOLNotFound = errors.New("buffer: no complete line buffered yet")

// ErrShortBuffer is returned by [Buffer.ReadN] and [Buffer.PeekN] when fewer
// than n bytes are available.
var ErrShortBuffer = errors.New("buffer: fewer bytes available than requested")

// Buffer is a growable, append-only-at-the-tail byte buffer with a read
// cursor at the head. It is not safe for concurrent use.
//
// The zero value is an empty, ready-to-use [Buffer].
type Buffer struct {
	data []byte
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the unread bytes. The returned slice aliases the buffer's
// internal storage and is invalidated by the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Write appends p to the buffer. It always returns len(p), nil.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteString appends s to the buffer.
func (b *Buffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// PeekN returns the first n unread bytes without consuming them. It returns
// [ErrShortBuffer] if fewer than n bytes are available.
func (b *Buffer) PeekN(n int) ([]byte, error) {
	if n > len(b.data) {
		return nil, ErrShortBuffer
	}
	return b.data[:n], nil
}

// ReadN consumes and returns the first n unread bytes. It returns
// [ErrShortBuffer] if fewer than n bytes are available, in which case no
// bytes are consumed.
func (b *Buffer) ReadN(n int) ([]byte, error) {
	out, err := b.PeekN(n)
	if err != nil {
		return nil, err
	}
	result := make([]byte, n)
	copy(result, out)
	b.Discard(n)
	return result, nil
}

// Discard consumes n unread bytes without returning them. It is safe to call
// with n larger than [Buffer.Len]: the buffer is simply emptied.
func (b *Buffer) Discard(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	b.data = b.data[n:]
}

// ReadLine consumes and returns a CRLF-terminated line (without the
// trailing CRLF) from the front of the buffer. It returns [ErrLineTooLong]
// if no CRLF is found within the first max bytes, or [ErrEOLNotFound] if
// fewer than max bytes are buffered and none of them complete a line yet
// (the caller should wait for more data and retry).
func (b *Buffer) ReadLine(max int) ([]byte, error) {
	limit := len(b.data)
	truncated := false
	if limit >= max {
		limit = max
		truncated = true
	}
	for i := 1; i < limit; i++ {
		if b.data[i-1] == '\r' && b.data[i] == '\n' {
			line := make([]byte, i-1)
			copy(line, b.data[:i-1])
			b.Discard(i + 1)
			return line, nil
		}
	}
	if truncated {
		return nil, ErrLineTooLong
	}
	return nil, ErrEOLNotFound
}

// Extent is a contiguous run of unread bytes returned by [Buffer.Extents].
// Because [Buffer] is backed by a single contiguous slice, Extents always
// yields at most one Extent; it exists so callers written against a
// chunked/ring representation do not need to special-case this buffer.
type Extent struct {
	Offset int
	Length int
}

// Extents returns the list of contiguous unread regions.
func (b *Buffer) Extents() []Extent {
	if len(b.data) == 0 {
		return nil
	}
	return []Extent{{Offset: 0, Length: len(b.data)}}
}

// WriteUint8BE appends v as a single byte.
func (b *Buffer) WriteUint8BE(v uint8) {
	b.data = append(b.data, v)
}

// WriteUint16BE appends v as two big-endian bytes.
func (b *Buffer) WriteUint16BE(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

// WriteUint32BE appends v as four big-endian bytes.
func (b *Buffer) WriteUint32BE(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

// WriteUint64BE appends v as eight big-endian bytes.
func (b *Buffer) WriteUint64BE(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

// printableLo and printableHi bound the inclusive range of US-ASCII printable characters
// (excluding space, to match the NDT client's `makeBuffer` behavior of
// emitting visibly non-repeating content).
const (
	printableLo = '!'
	printableHi = '~'
)

// WriteRandomPrintable appends n random US-ASCII printable characters,
// avoiding repeated content so the bytes are not trivially compressible.
// This mirrors the NDT C2S/S2C throughput tests, which fill their transmit
// buffer once with random printable data and then reuse it unmodified for
// every write of the test's duration.
func (b *Buffer) WriteRandomPrintable(n int) error {
	span := int64(printableHi-printableLo) + 1
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	out := make([]byte, n)
	for i, v := range raw {
		out[i] = printableLo + byte(int64(v)%span)
	}
	b.data = append(b.data, out...)
	return nil
}
