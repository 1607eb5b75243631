// SPDX-License-Identifier: GPL-3.0-or-later

// Package socks5 implements a minimal RFC 1928 client: the no-authentication
// subset needed to CONNECT through a SOCKS5 proxy.
package socks5

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/measurement-kit/netcore/buffer"
	"github.com/measurement-kit/netcore/connector"
	"github.com/measurement-kit/netcore/reactor"
	"github.com/measurement-kit/netcore/transport"
)

// Kind values identify the errors this package raises.
const (
	KindBadVersion        = "socks5: unexpected protocol version"
	KindNoAcceptableAuth  = "socks5: no acceptable authentication method"
	KindAddressTooLong    = "socks5: domain name too long to encode"
	KindInvalidPort       = "socks5: port out of range"
	KindBadReply          = "socks5: malformed CONNECT reply"
	KindBadReservedField  = "socks5: non-zero reserved field in reply"
	KindBadAtype          = "socks5: unsupported address type in reply"
)

var (
	// ErrBadVersion means the proxy's greeting reply did not start with
	// protocol version 5.
	ErrBadVersion = errors.New(KindBadVersion)

	// ErrNoAcceptableAuth means the proxy rejected the no-authentication
	// method this client offers.
	ErrNoAcceptableAuth = errors.New(KindNoAcceptableAuth)

	// ErrAddressTooLong means the target hostname is too long to encode
	// as a SOCKS5 domain-name address (max 255 bytes).
	ErrAddressTooLong = errors.New(KindAddressTooLong)

	// ErrInvalidPort means the target port does not fit in 16 bits.
	ErrInvalidPort = errors.New(KindInvalidPort)

	// ErrBadReply means the CONNECT reply's REP field was not 0x00
	// (succeeded).
	ErrBadReply = errors.New(KindBadReply)

	// ErrBadReservedField means the CONNECT reply's RSV field was
	// non-zero.
	ErrBadReservedField = errors.New(KindBadReservedField)

	// ErrBadAtype means the CONNECT reply's ATYP field was not one of
	// IPv4, domain name, or IPv6.
	ErrBadAtype = errors.New(KindBadAtype)
)

const (
	version5        = 0x05
	methodNoAuth    = 0x00
	methodNoneAccpt = 0xFF
	cmdConnect      = 0x01
	rsvZero         = 0x00
	atypIPv4        = 0x01
	atypDomain      = 0x03
	atypIPv6        = 0x04
	replySucceeded  = 0x00
)

// Options configures [Connect].
type Options struct {
	// ProxyAddr is the SOCKS5 proxy's "host:port".
	ProxyAddr string

	// ConnectTimeout bounds the TCP connection to the proxy itself
	// (forwarded to [connector.Options.NetTimeout]).
	ConnectTimeout time.Duration

	// HandshakeTimeout bounds the SOCKS5 greeting+CONNECT exchange.
	// Zero means 10 seconds.
	HandshakeTimeout time.Duration
}

func (o Options) handshakeTimeout() time.Duration {
	if o.HandshakeTimeout <= 0 {
		return 10 * time.Second
	}
	return o.HandshakeTimeout
}

// Connect dials opts.ProxyAddr through dialer/resolver (via
// [connector.Connect]), then issues a SOCKS5 no-auth CONNECT request for
// targetHost:targetPort. On success it returns the same
// [*transport.Transport] used to reach the proxy: its
// [transport.Transport.Socks5Address]/[transport.Transport.Socks5Port]
// report the proxy endpoint, and any bytes the proxy piggybacked after the
// CONNECT reply are delivered once the caller registers OnData.
func Connect(ctx context.Context, dialer connector.Dialer, resolver connector.Resolver, r *reactor.Reactor,
	opts Options, targetHost string, targetPort int) (*transport.Transport, error) {
	proxyHost, proxyPortStr, err := net.SplitHostPort(opts.ProxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5: invalid ProxyAddr %q: %w", opts.ProxyAddr, err)
	}
	proxyPort, err := strconv.Atoi(proxyPortStr)
	if err != nil {
		return nil, fmt.Errorf("socks5: invalid ProxyAddr port %q: %w", proxyPortStr, err)
	}

	tr, err := connector.Connect(ctx, dialer, resolver, r, proxyHost, proxyPort, connector.Options{NetTimeout: opts.ConnectTimeout})
	if err != nil {
		return nil, err
	}
	tr.SetSocks5Address(proxyHost, proxyPort)

	request, err := buildConnectRequest(targetHost, targetPort)
	if err != nil {
		tr.Close(nil)
		return nil, err
	}

	if err := runHandshake(tr, request, opts.handshakeTimeout()); err != nil {
		tr.Close(nil)
		return nil, err
	}
	return tr, nil
}

// buildConnectRequest encodes the RFC 1928 CONNECT request for host:port.
func buildConnectRequest(host string, port int) ([]byte, error) {
	if port < 0 || port > 0xFFFF {
		return nil, ErrInvalidPort
	}

	var buf buffer.Buffer
	buf.WriteUint8BE(version5)
	buf.WriteUint8BE(cmdConnect)
	buf.WriteUint8BE(rsvZero)

	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			buf.WriteUint8BE(atypIPv4)
			buf.Write(ip4)
		} else {
			buf.WriteUint8BE(atypIPv6)
			buf.Write(ip.To16())
		}
	} else {
		if len(host) > 255 {
			return nil, ErrAddressTooLong
		}
		buf.WriteUint8BE(atypDomain)
		buf.WriteUint8BE(uint8(len(host)))
		buf.WriteString(host)
	}

	buf.WriteUint16BE(uint16(port))
	return buf.Bytes(), nil
}

// runHandshake drives the greeting and CONNECT exchange synchronously from
// the caller's perspective, even though the underlying I/O is dispatched
// through the reactor's OnData/OnError callbacks.
func runHandshake(tr *transport.Transport, connectRequest []byte, timeout time.Duration) error {
	type outcome struct {
		err     error
		pending []byte // leftover bytes buffered beyond the reply
	}
	resultCh := make(chan outcome, 1)

	var in buffer.Buffer
	phase := phaseGreeting

	tr.OnError(func(err error) {
		resultCh <- outcome{err: err}
	})

	if err := tr.Write([]byte{version5, 0x01, methodNoAuth}); err != nil {
		return err
	}

	tr.OnData(func(p []byte) {
		in.Write(p)
		for {
			switch phase {
			case phaseGreeting:
				reply, err := in.PeekN(2)
				if err != nil {
					return // need more data
				}
				in.Discard(2)
				if reply[0] != version5 {
					resultCh <- outcome{err: ErrBadVersion}
					return
				}
				if reply[1] != methodNoAuth {
					resultCh <- outcome{err: ErrNoAcceptableAuth}
					return
				}
				if err := tr.Write(connectRequest); err != nil {
					resultCh <- outcome{err: err}
					return
				}
				phase = phaseConnectReply

			case phaseConnectReply:
				header, err := in.PeekN(4)
				if err != nil {
					return // need more data
				}
				addrLen, ok := replyAddrLen(header[3])
				if header[3] == atypDomain {
					withLen, err := in.PeekN(5)
					if err != nil {
						return // need more data
					}
					addrLen, ok = 1+int(withLen[4]), true
				}
				if !ok {
					resultCh <- outcome{err: ErrBadAtype}
					return
				}
				total := 4 + addrLen + 2
				full, err := in.PeekN(total)
				if err != nil {
					return // need more data
				}
				if full[1] != replySucceeded {
					resultCh <- outcome{err: ErrBadReply}
					return
				}
				if full[2] != rsvZero {
					resultCh <- outcome{err: ErrBadReservedField}
					return
				}
				in.Discard(total)
				resultCh <- outcome{pending: append([]byte(nil), in.Bytes()...)}
				return
			}
		}
	})

	select {
	case res := <-resultCh:
		tr.OnData(nil)
		tr.Unread(res.pending)
		return res.err
	case <-time.After(timeout):
		return fmt.Errorf("socks5: handshake timed out after %s", timeout)
	}
}

type handshakePhase int

const (
	phaseGreeting handshakePhase = iota
	phaseConnectReply
)

// replyAddrLen returns the number of address bytes (excluding the 4-byte
// header and 2-byte port) that follow for the given ATYP value.
func replyAddrLen(atyp byte) (int, bool) {
	switch atyp {
	case atypIPv4:
		return 4, true
	case atypIPv6:
		return 16, true
	case atypDomain:
		return -1, false // length-prefixed: the caller reads the length byte
	default:
		return 0, false
	}
}
