// SPDX-License-Identifier: GPL-3.0-or-later

package ndt

import (
	"time"

	"github.com/measurement-kit/netcore"
	"github.com/measurement-kit/netcore/connector"
	"github.com/measurement-kit/netcore/reactor"
)

// Test bitmap values, OR'd together in the extended-login payload.
const (
	TestNone   = 0
	TestMid    = 1
	TestC2S    = 2
	TestS2C    = 4
	TestSFW    = 8
	TestStatus = 16
	TestMeta   = 32
)

// DefaultTests is the minimum advertised test suite: status, meta, and both
// throughput directions.
const DefaultTests = TestStatus | TestMeta | TestC2S | TestS2C

// DefaultRuntime is the default duration of each throughput sub-test.
const DefaultRuntime = 10 * time.Second

// DefaultTimeout is the default control-connection read/write deadline.
const DefaultTimeout = 10 * time.Second

// maxResultsMessages bounds recv_results_and_logout: the spec's source
// comments that the loop could run forever, so this caps how many
// MSG_RESULTS frames a single run will read before giving up.
const maxResultsMessages = 1024

// Options configures a [RunWithSpecificServer] invocation.
type Options struct {
	// Tests is the OR of TestXxx bits to request. Zero means
	// [DefaultTests].
	Tests int

	// Runtime bounds each throughput sub-test. Zero means
	// [DefaultRuntime].
	Runtime time.Duration

	// Timeout bounds control-connection I/O. Zero means [DefaultTimeout].
	Timeout time.Duration

	// ClientVersion is reported in the META sub-test (the extended login
	// always announces "v3.7.0 (netcore)"). Empty means "netcore-ndt/0.1".
	ClientVersion string

	// ClientApplication is reported in the META sub-test. Empty means
	// "netcore-ndt".
	ClientApplication string

	Dialer   connector.Dialer
	Resolver connector.Resolver
}

func (o Options) withDefaults() Options {
	if o.Tests == 0 {
		o.Tests = DefaultTests
	}
	if o.Runtime <= 0 {
		o.Runtime = DefaultRuntime
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "netcore-ndt/0.1"
	}
	if o.ClientApplication == "" {
		o.ClientApplication = "netcore-ndt"
	}
	return o
}

// SubTestResult carries the outcome of a single sub-test.
type SubTestResult struct {
	// TestID is one of TestC2S, TestS2C, TestMeta.
	TestID int

	// ThroughputKbps is the measured throughput, populated only for
	// TestC2S/TestS2C.
	ThroughputKbps float64
}

// Result is the outcome of a full NDT run.
type Result struct {
	// ServerVersion is the version string read in recv_version.
	ServerVersion string

	// GrantedSuite is the OR of test IDs the server granted in
	// recv_tests_id.
	GrantedSuite int

	// SubTests holds one entry per sub-test actually executed.
	SubTests []SubTestResult

	// ResultsLines accumulates every MSG_RESULTS line, in server order.
	ResultsLines []string
}

// Context is the per-run scratch state threaded through the phase
// pipeline. It is not safe for concurrent use: exactly one phase runs at a
// time, by construction of [Compose2]..[Compose8].
type Context struct {
	Address string
	Port    int
	Options Options
	Logger  netcore.SLogger
	Reactor *reactor.Reactor

	Stream *Stream

	GrantedSuite int
	Result       *Result
}

// NewContext returns a ready-to-run [*Context] for address:port.
func NewContext(address string, port int, opts Options, logger netcore.SLogger, r *reactor.Reactor) *Context {
	if logger == nil {
		logger = netcore.DefaultSLogger()
	}
	return &Context{
		Address: address,
		Port:    port,
		Options: opts.withDefaults(),
		Logger:  logger,
		Reactor: r,
		Result:  &Result{},
	}
}
