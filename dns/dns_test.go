// SPDX-License-Identifier: GPL-3.0-or-later

package dns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchanger is a mock [exchanger] so tests never touch the network,
// mirroring trustydns's DNSClientExchanger mock strategy.
type fakeExchanger struct {
	ExchangeFunc func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

func (f *fakeExchanger) Exchange(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
	return f.ExchangeFunc(m, address)
}

func newResolverWithExchanger(fn func(net string) exchanger) *Resolver {
	r := New()
	r.newExchanger = fn
	return r
}

func successReply(msg *dns.Msg, answers ...dns.RR) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(msg)
	reply.Answer = answers
	return reply
}

// Query rejects any class other than IN before touching the network.
func TestQueryUnsupportedClass(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		t.Fatal("must not exchange")
		return nil
	})
	_, err := r.Query(context.Background(), Class(99), A, "example.com", Settings{})
	var unsupported *UnsupportedClass
	require.ErrorAs(t, err, &unsupported)
}

// A successful A query flattens the answer section into Records.
func TestQueryASuccess(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		return &fakeExchanger{ExchangeFunc: func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
			a := &dns.A{
				Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeA, Ttl: 300},
				A:   []byte{93, 184, 216, 34},
			}
			return successReply(m, a), 10 * time.Millisecond, nil
		}}
	})

	resp, err := r.Query(context.Background(), ClassIN, A, "example.com", Settings{Nameserver: "127.0.0.1:53"})
	require.NoError(t, err)
	assert.Equal(t, NoError, resp.Status)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "93.184.216.34", resp.Answers[0].Data)
	assert.Equal(t, uint32(300), resp.Answers[0].TTL)
}

// An NXDOMAIN reply is reported as NxDomain with no answers, not an error.
func TestQueryNxDomain(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		return &fakeExchanger{ExchangeFunc: func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
			reply := new(dns.Msg)
			reply.SetReply(m)
			reply.Rcode = dns.RcodeNameError
			return reply, time.Millisecond, nil
		}}
	})

	resp, err := r.Query(context.Background(), ClassIN, A, "nxdomain.example", Settings{Nameserver: "127.0.0.1:53"})
	require.NoError(t, err)
	assert.Equal(t, NxDomain, resp.Status)
	assert.Empty(t, resp.Answers)
}

// ServerFailed retries against the same server before giving up.
func TestQueryServerFailedRetries(t *testing.T) {
	var attempts int
	r := newResolverWithExchanger(func(net string) exchanger {
		return &fakeExchanger{ExchangeFunc: func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
			attempts++
			reply := new(dns.Msg)
			reply.SetReply(m)
			reply.Rcode = dns.RcodeServerFailure
			return reply, time.Millisecond, nil
		}}
	})

	resp, err := r.Query(context.Background(), ClassIN, A, "example.com", Settings{Nameserver: "127.0.0.1:53", Attempts: 3})
	require.NoError(t, err)
	assert.Equal(t, Timeout, resp.Status)
	assert.Equal(t, 3, attempts)
}

// A truncated UDP reply triggers a TCP fallback exchange.
func TestQueryTruncatedFallsBackToTCP(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		if net == "tcp" {
			return &fakeExchanger{ExchangeFunc: func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
				aaaa := &dns.AAAA{
					Hdr:  dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeAAAA, Ttl: 60},
					AAAA: []byte{0x20, 1, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1},
				}
				return successReply(m, aaaa), 5 * time.Millisecond, nil
			}}
		}
		return &fakeExchanger{ExchangeFunc: func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
			reply := successReply(m)
			reply.Truncated = true
			return reply, time.Millisecond, nil
		}}
	})

	resp, err := r.Query(context.Background(), ClassIN, AAAA, "example.com", Settings{Nameserver: "127.0.0.1:53"})
	require.NoError(t, err)
	assert.Equal(t, NoError, resp.Status)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "2001:db8::1", resp.Answers[0].Data)
}

// A network error on every attempt is reported as Timeout, not as a Go error.
func TestQueryExchangeErrorIsTimeout(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		return &fakeExchanger{ExchangeFunc: func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
			return nil, 0, errors.New("connection refused")
		}}
	})

	resp, err := r.Query(context.Background(), ClassIN, A, "example.com", Settings{Nameserver: "127.0.0.1:53", Attempts: 1})
	require.NoError(t, err)
	assert.Equal(t, Timeout, resp.Status)
}

// ReverseA synthesizes the in-addr.arpa name and issues a PTR query.
func TestQueryReverseA(t *testing.T) {
	var queried string
	r := newResolverWithExchanger(func(net string) exchanger {
		return &fakeExchanger{ExchangeFunc: func(m *dns.Msg, address string) (*dns.Msg, time.Duration, error) {
			queried = m.Question[0].Name
			ptr := &dns.PTR{
				Hdr: dns.RR_Header{Name: queried, Rrtype: dns.TypePTR, Ttl: 3600},
				Ptr: "example.com.",
			}
			return successReply(m, ptr), time.Millisecond, nil
		}}
	})

	resp, err := r.Query(context.Background(), ClassIN, ReverseA, "93.184.216.34", Settings{Nameserver: "127.0.0.1:53"})
	require.NoError(t, err)
	assert.Equal(t, "34.216.184.93.in-addr.arpa.", queried)
	require.Len(t, resp.Answers, 1)
	assert.Equal(t, "example.com.", resp.Answers[0].Data)
}

// An invalid reverse address is rejected before any exchange is attempted.
func TestQueryReverseInvalidAddress(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		t.Fatal("must not exchange")
		return nil
	})
	_, err := r.Query(context.Background(), ClassIN, ReverseA, "not-an-ip", Settings{})
	var invalid *InvalidReverseAddress
	require.ErrorAs(t, err, &invalid)
}

// Close marks the resolver as shut down: queries issued afterward return Shutdown.
func TestQueryShutdown(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		t.Fatal("must not exchange once closed")
		return nil
	})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close()) // idempotent

	resp, err := r.Query(context.Background(), ClassIN, A, "example.com", Settings{})
	require.NoError(t, err)
	assert.Equal(t, Shutdown, resp.Status)
}

// A cancelled context is observed as Shutdown rather than returned as a Go error.
func TestQueryContextCancelled(t *testing.T) {
	r := newResolverWithExchanger(func(net string) exchanger {
		t.Fatal("must not exchange once cancelled")
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := r.Query(ctx, ClassIN, A, "example.com", Settings{})
	require.NoError(t, err)
	assert.Equal(t, Shutdown, resp.Status)
}

// Settings defaults are applied when unset.
func TestSettingsWithDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, 3, s.Attempts)
	assert.Equal(t, 5*time.Second, s.Timeout)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "NxDomain", NxDomain.String())
	assert.Equal(t, "Unknown", Status(999).String())
}
