// SPDX-License-Identifier: GPL-3.0-or-later

// Package dns implements a minimal DNS resolver on top of [github.com/miekg/dns],
// exposing a small, closed vocabulary of query types and a status enum instead
// of raw RCODEs.
//
// The resolver owns its own retry loop (modeled on res_send(3): try the
// configured server up to Settings.Attempts times, falling back to TCP on a
// truncated UDP reply) rather than delegating it to [dns.Client], so callers
// get a single uniform [Response] regardless of which transport eventually
// answered.
package dns

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"time"

	"github.com/miekg/dns"
)

// Class restricts queries to the classes this resolver understands.
type Class int

// The only supported class is IN; anything else yields [UnsupportedClass].
const (
	ClassIN Class = iota
)

// Type is the closed set of query types this resolver issues.
type Type int

const (
	// A queries for IPv4 addresses.
	A Type = iota

	// AAAA queries for IPv6 addresses.
	AAAA

	// PTR queries for a reverse-DNS name directly (name must already be
	// in in-addr.arpa/ip6.arpa form).
	PTR

	// ReverseA synthesizes the in-addr.arpa name for an IPv4 literal and
	// issues a PTR query for it.
	ReverseA

	// ReverseAAAA synthesizes the ip6.arpa name for an IPv6 literal and
	// issues a PTR query for it.
	ReverseAAAA
)

// Status is the closed vocabulary of outcomes a [Response] can carry. It
// exists so callers never have to match on raw RCODEs or on transport-level
// errors: every code path ends in exactly one of these.
type Status int

const (
	NoError Status = iota
	FormatError
	ServerFailed
	NxDomain
	NotImplemented
	Refused
	Truncated
	NoData
	Timeout
	Shutdown
	Unknown
)

func (s Status) String() string {
	switch s {
	case NoError:
		return "NoError"
	case FormatError:
		return "FormatError"
	case ServerFailed:
		return "ServerFailed"
	case NxDomain:
		return "NxDomain"
	case NotImplemented:
		return "NotImplemented"
	case Refused:
		return "Refused"
	case Truncated:
		return "Truncated"
	case NoData:
		return "NoData"
	case Timeout:
		return "Timeout"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Kind values prefix the messages of the errors this package returns
// ([UnsupportedClass] and [InvalidReverseAddress]).
const (
	// KindUnsupportedClass means a query was issued with a [Class] other
	// than [ClassIN].
	KindUnsupportedClass = "dns: unsupported class"

	// KindInvalidReverseAddress means [ReverseA]/[ReverseAAAA] was
	// issued with a name that does not parse as an IP literal.
	KindInvalidReverseAddress = "dns: invalid reverse address"
)

// UnsupportedClass is returned by [Resolver.Query] when class is not
// [ClassIN].
type UnsupportedClass struct {
	Class Class
}

func (e *UnsupportedClass) Error() string {
	return fmt.Sprintf("%s: %d", KindUnsupportedClass, e.Class)
}

// InvalidReverseAddress is returned by [Resolver.Query] when [ReverseA] or
// [ReverseAAAA] is issued with a name that does not parse as an IP literal.
type InvalidReverseAddress struct {
	Name string
}

func (e *InvalidReverseAddress) Error() string {
	return fmt.Sprintf("%s: %q", KindInvalidReverseAddress, e.Name)
}

// Settings configures a single [Resolver.Query] call. The zero value is
// usable: [Resolver.Query] applies the documented defaults.
type Settings struct {
	// Nameserver is "host" or "host:port" to query. Empty means: load the
	// system's /etc/resolv.conf (via [dns.ClientConfigFromFile]) and use
	// its first configured server.
	Nameserver string

	// Attempts is how many times in total to try the query against the
	// same server before giving up. Zero means 3.
	Attempts int

	// Timeout bounds the overall time spent across all attempts. Zero
	// means 5 seconds.
	Timeout time.Duration

	// RandomizeCase enables 0x20 query-name case randomization as a
	// lightweight defense against off-path cache poisoning.
	RandomizeCase bool
}

func (s Settings) withDefaults() Settings {
	if s.Attempts <= 0 {
		s.Attempts = 3
	}
	if s.Timeout <= 0 {
		s.Timeout = 5 * time.Second
	}
	return s
}

// Record is a single answer resource record, flattened to the fields callers
// of this package actually need.
type Record struct {
	// Name is the owner name of the record.
	Name string

	// Data is the record's string-form RDATA: the IP address for A/AAAA,
	// the target hostname for PTR.
	Data string

	// TTL is the record's time-to-live in seconds.
	TTL uint32
}

// Response is the outcome of a single [Resolver.Query] call.
type Response struct {
	// Status is the closed-vocabulary outcome.
	Status Status

	// Answers holds the flattened records of interest, empty unless
	// Status is [NoError].
	Answers []Record

	// RTT is how long the winning exchange took. Zero if no server ever
	// replied.
	RTT time.Duration

	// Server is the nameserver that produced the response ("" if none
	// replied).
	Server string
}

// exchanger is the subset of [*dns.Client] this package depends on. Tests
// substitute a fake to avoid real network I/O, mirroring how trustydns
// mocks dns.Client.Exchange.
type exchanger interface {
	Exchange(m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// newExchangerFunc constructs an [exchanger] for the given transport
// ("" for UDP, "tcp" for TCP fallback).
type newExchangerFunc func(net string) exchanger

func defaultNewExchanger(net string) exchanger {
	return &dns.Client{Net: net, Timeout: 2 * time.Second}
}

// Resolver issues DNS queries against a configured (or system-default)
// nameserver.
//
// The zero value is not usable; construct one with [New].
type Resolver struct {
	newExchanger newExchangerFunc
	closed       chan struct{}
}

// New returns a ready-to-use [*Resolver].
func New() *Resolver {
	return &Resolver{
		newExchanger: defaultNewExchanger,
		closed:       make(chan struct{}),
	}
}

// Close marks the resolver as shut down: any query still in flight observes
// [Shutdown] the next time it checks for cancellation, and any query issued
// afterward returns [Shutdown] immediately. Close is idempotent.
func (r *Resolver) Close() error {
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
	return nil
}

// systemNameserver loads the first nameserver from /etc/resolv.conf, falling
// back to "127.0.0.1:53" if the file cannot be read (matching
// [dns.ClientConfigFromFile]'s own fallback behavior).
func systemNameserver() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return "127.0.0.1:53"
	}
	port := cfg.Port
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(cfg.Servers[0], port)
}

// resolveNameserver fills in Settings.Nameserver if empty and ensures it
// carries an explicit port.
func resolveNameserver(s Settings) string {
	ns := s.Nameserver
	if ns == "" {
		ns = systemNameserver()
	}
	if _, _, err := net.SplitHostPort(ns); err != nil {
		ns = net.JoinHostPort(ns, "53")
	}
	return ns
}

// Query resolves name for the given class and qtype using settings.
//
// REVERSE_A and REVERSE_AAAA expect name to be an IP literal: this package
// synthesizes the in-addr.arpa/ip6.arpa name via [dns.ReverseAddr] and issues
// a PTR query for it. Class must be [ClassIN]; any other value returns
// [UnsupportedClass] wrapped as an error, without touching the network.
func (r *Resolver) Query(ctx context.Context, class Class, qtype Type, name string, settings Settings) (*Response, error) {
	if class != ClassIN {
		return nil, &UnsupportedClass{Class: class}
	}

	settings = settings.withDefaults()

	qname := name
	dnsType := dns.TypeA
	switch qtype {
	case A:
		dnsType = dns.TypeA
	case AAAA:
		dnsType = dns.TypeAAAA
	case PTR:
		dnsType = dns.TypePTR
	case ReverseA, ReverseAAAA:
		arpa, err := dns.ReverseAddr(name)
		if err != nil {
			return nil, &InvalidReverseAddress{Name: name}
		}
		qname = arpa
		dnsType = dns.TypePTR
	}

	if settings.RandomizeCase {
		qname = randomizeCase(qname)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(qname), dnsType)

	server := resolveNameserver(settings)

	return r.resolve(ctx, msg, server, settings)
}

// resolve runs the res_send(3)-style retry loop: attempt the query against
// server up to settings.Attempts times within settings.Timeout, falling back
// to TCP whenever UDP reports truncation.
func (r *Resolver) resolve(ctx context.Context, msg *dns.Msg, server string, settings Settings) (*Response, error) {
	deadline := time.Now().Add(settings.Timeout)

	var lastServer string
	for attempt := 0; attempt < settings.Attempts; attempt++ {
		select {
		case <-r.closed:
			return &Response{Status: Shutdown}, nil
		case <-ctx.Done():
			return &Response{Status: Shutdown}, nil
		default:
		}
		if time.Now().After(deadline) {
			return &Response{Status: Timeout}, nil
		}

		reply, rtt, err := r.newExchanger("").Exchange(msg, server)
		if err == nil && reply.Rcode == dns.RcodeSuccess && reply.Truncated {
			if tcpReply, tcpRTT, tcpErr := r.newExchanger("tcp").Exchange(msg, server); tcpErr == nil {
				reply, rtt = tcpReply, rtt+tcpRTT
				err = nil
			}
		}

		if err != nil {
			continue
		}

		lastServer = server
		resp := toResponse(reply, rtt, lastServer)
		if resp.Status == ServerFailed || resp.Status == Refused {
			continue
		}
		return resp, nil
	}

	return &Response{Status: Timeout, Server: lastServer}, nil
}

// rrSizeBound is the largest sane record count before iteration is assumed
// to be walking a corrupt/adversarial message rather than a real answer
// section; matches the overflow-safe bound documented for RR iteration.
const rrSizeBound = math.MaxInt32/64 + 1

// toResponse maps a successfully exchanged [*dns.Msg] to the closed [Status]
// vocabulary and flattens its answer section.
func toResponse(reply *dns.Msg, rtt time.Duration, server string) *Response {
	switch reply.Rcode {
	case dns.RcodeSuccess:
		// fallthrough to answer extraction below
	case dns.RcodeFormatError:
		return &Response{Status: FormatError, RTT: rtt, Server: server}
	case dns.RcodeServerFailure:
		return &Response{Status: ServerFailed, RTT: rtt, Server: server}
	case dns.RcodeNameError:
		return &Response{Status: NxDomain, RTT: rtt, Server: server}
	case dns.RcodeNotImplemented:
		return &Response{Status: NotImplemented, RTT: rtt, Server: server}
	case dns.RcodeRefused:
		return &Response{Status: Refused, RTT: rtt, Server: server}
	default:
		return &Response{Status: Unknown, RTT: rtt, Server: server}
	}

	if len(reply.Answer) > rrSizeBound {
		return &Response{Status: Unknown, RTT: rtt, Server: server}
	}

	if reply.Truncated {
		return &Response{Status: Truncated, RTT: rtt, Server: server}
	}

	answers := make([]Record, 0, len(reply.Answer))
	for _, rr := range reply.Answer {
		rec, ok := flattenRR(rr)
		if ok {
			answers = append(answers, rec)
		}
	}

	status := NoError
	if len(answers) == 0 {
		status = NoData
	}

	return &Response{Status: status, Answers: answers, RTT: rtt, Server: server}
}

func flattenRR(rr dns.RR) (Record, bool) {
	hdr := rr.Header()
	switch v := rr.(type) {
	case *dns.A:
		return Record{Name: hdr.Name, Data: v.A.String(), TTL: hdr.Ttl}, true
	case *dns.AAAA:
		return Record{Name: hdr.Name, Data: v.AAAA.String(), TTL: hdr.Ttl}, true
	case *dns.PTR:
		return Record{Name: hdr.Name, Data: v.Ptr, TTL: hdr.Ttl}, true
	default:
		return Record{}, false
	}
}

// randomizeCase applies 0x20 encoding: each alphabetic character's case is
// flipped with even odds.
func randomizeCase(name string) string {
	out := []byte(name)
	for i, c := range out {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			if rand.IntN(2) == 0 {
				out[i] = c ^ 0x20
			}
		}
	}
	return string(out)
}
