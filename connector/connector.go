// SPDX-License-Identifier: GPL-3.0-or-later

// Package connector resolves a hostname and connects to the first endpoint
// that accepts a TCP connection, wrapping the result in a
// [*transport.Transport].
package connector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/measurement-kit/netcore/dns"
	"github.com/measurement-kit/netcore/reactor"
	"github.com/measurement-kit/netcore/transport"
)

// Kind values identify the errors this package raises.
const (
	KindDnsGenericError    = "connector: dns lookup failed"
	KindConnectFailedError = "connector: all connection attempts failed"
)

// DefaultNetTimeout is the dial timeout applied to a single connection
// attempt when Options.NetTimeout is zero.
const DefaultNetTimeout = 30 * time.Second

// Options configures [Connect].
type Options struct {
	// NetTimeout bounds each individual dial attempt. Zero means
	// [DefaultNetTimeout].
	NetTimeout time.Duration

	// Resolver settings forwarded to every DNS query issued by Connect.
	DNS dns.Settings
}

func (o Options) withDefaults() Options {
	if o.NetTimeout <= 0 {
		o.NetTimeout = DefaultNetTimeout
	}
	return o
}

// Attempt records the outcome of a single dial attempt, in the order tried.
type Attempt struct {
	Address string
	Err     error
}

// DnsGenericError is returned by [Connect] when both the A and AAAA lookups
// fail (or the hostname is unresolvable for any other reason).
type DnsGenericError struct {
	Hostname string
	Cause    error
}

func (e *DnsGenericError) Error() string {
	return fmt.Sprintf("%s: %s: %s", KindDnsGenericError, e.Hostname, e.Cause)
}

func (e *DnsGenericError) Unwrap() error { return e.Cause }

// ConnectFailedError is returned by [Connect] when every resolved address
// was tried and none accepted a connection.
type ConnectFailedError struct {
	Hostname string
	Attempts []Attempt
}

func (e *ConnectFailedError) Error() string {
	return fmt.Sprintf("%s: %s (%d attempts)", KindConnectFailedError, e.Hostname, len(e.Attempts))
}

// Dialer abstracts [net.Dialer.DialContext] for testability.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver is the subset of [*dns.Resolver] this package depends on.
type Resolver interface {
	Query(ctx context.Context, class dns.Class, qtype dns.Type, name string, settings dns.Settings) (*dns.Response, error)
}

// Connect resolves hostname (skipping resolution entirely if it is already
// an IP literal), then dials port on each resulting address in turn until
// one succeeds, returning a [*transport.Transport] bound to r.
//
// Connect never recurses to try the next address: each retry is scheduled
// via [reactor.Reactor.ScheduleNow] so a long address list cannot grow the
// goroutine's call stack.
func Connect(ctx context.Context, dialer Dialer, resolver Resolver, r *reactor.Reactor,
	hostname string, port int, opts Options) (*transport.Transport, error) {
	opts = opts.withDefaults()

	addrs, err := addressesFor(ctx, resolver, hostname, opts)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan connectResult, 1)
	tryNext(ctx, dialer, r, addrs, 0, port, opts, hostname, nil, resultCh)

	res := <-resultCh
	return res.transport, res.err
}

type connectResult struct {
	transport *transport.Transport
	err       error
}

// tryNext dials addrs[i] and, on failure, schedules an attempt at
// addrs[i+1] through the reactor rather than recursing directly.
func tryNext(ctx context.Context, dialer Dialer, r *reactor.Reactor, addrs []string, i int,
	port int, opts Options, hostname string, trace []Attempt, resultCh chan connectResult) {
	if i >= len(addrs) {
		resultCh <- connectResult{err: &ConnectFailedError{Hostname: hostname, Attempts: trace}}
		return
	}

	address := net.JoinHostPort(addrs[i], strconv.Itoa(port))
	dialCtx, cancel := context.WithTimeout(ctx, opts.NetTimeout)
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	cancel()

	if err != nil {
		trace = append(trace, Attempt{Address: address, Err: err})
		r.ScheduleNow(func() {
			tryNext(ctx, dialer, r, addrs, i+1, port, opts, hostname, trace, resultCh)
		})
		return
	}

	resultCh <- connectResult{transport: transport.New(conn, r)}
}

// addressesFor returns the list of addresses to try: just hostname if it is
// already an IP literal, otherwise the union of its A and AAAA records (A
// first), both queried regardless of whether the other succeeds.
func addressesFor(ctx context.Context, resolver Resolver, hostname string, opts Options) ([]string, error) {
	if net.ParseIP(hostname) != nil {
		return []string{hostname}, nil
	}

	aResp, aErr := resolver.Query(ctx, dns.ClassIN, dns.A, hostname, opts.DNS)
	aaaaResp, aaaaErr := resolver.Query(ctx, dns.ClassIN, dns.AAAA, hostname, opts.DNS)

	var addrs []string
	if aErr == nil && aResp.Status == dns.NoError {
		addrs = append(addrs, recordData(aResp.Answers)...)
	}
	if aaaaErr == nil && aaaaResp.Status == dns.NoError {
		addrs = append(addrs, recordData(aaaaResp.Answers)...)
	}

	if len(addrs) > 0 {
		return addrs, nil
	}

	cause := firstNonNil(aErr, aaaaErr)
	if cause == nil {
		cause = fmt.Errorf("no address records (A status=%s, AAAA status=%s)", aResp.Status, aaaaResp.Status)
	}
	return nil, &DnsGenericError{Hostname: hostname, Cause: cause}
}

func recordData(records []dns.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Data)
	}
	return out
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
