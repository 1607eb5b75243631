// SPDX-License-Identifier: GPL-3.0-or-later

// Package netcore provides composable primitives for network measurement
// pipelines, plus a set of higher-level packages built on top of them for
// DNS resolution, endpoint connection, TLS, SOCKS5, and NDT speed testing.
//
// # Core Abstraction
//
// The root package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic network operation with exactly one success
// mode and one failure mode. This design enables type-safe composition via
// [Compose2], [Compose3], etc., where the compiler verifies that outputs
// match inputs across pipeline stages. The [ndt] package reuses the same
// Func/Compose pattern for its fixed phase sequence; the [dns], [connector],
// [tlsdial], and [socks5] packages expose plain functions and methods.
//
// # Available Primitives
//
// Connection establishment:
//   - [ConnectFunc]: dials TCP or UDP endpoints
//   - [TLSHandshakeFunc]: performs a TLS handshake over an existing connection
//   - [ObserveConnFunc]: observes connections for logging I/O operations
//   - [CancelWatchFunc]: closes connection on context cancellation (for responsive ^C handling)
//
// HTTP:
//   - [HTTPConn]: wraps a connection with an HTTP transport, performs round trips
//     with structured logging and transparent body observation (created via
//     [NewHTTPConnFuncPlain] or [NewHTTPConnFuncTLS])
//
// Composition utilities:
//   - [Compose2] through [Compose8]: chain Funcs into pipelines
//   - [FuncAdapter]: wrap a function as a Func for ad-hoc custom behavior
//   - [Apply]: bind a fixed input to a Func
//   - [ConstFunc]: lift a pure value into a Func
//   - [NewEndpointFunc]: convenience wrapper for ConstFunc with endpoints
//
// # Higher-level packages
//
//   - [github.com/measurement-kit/netcore/reactor]: single-goroutine event
//     loop used by [github.com/measurement-kit/netcore/transport] to
//     dispatch callbacks and timers
//   - [github.com/measurement-kit/netcore/buffer]: growable byte buffer with
//     framing helpers used by the transport and protocol layers
//   - [github.com/measurement-kit/netcore/transport]: callback-driven
//     connection wrapper bound to a reactor, with optional traffic recording
//   - [github.com/measurement-kit/netcore/dns]: DNS resolver with retry,
//     timeout, and case-randomization policy on top of miekg/dns
//   - [github.com/measurement-kit/netcore/connector]: sequential TCP connect
//     over a list of resolved addresses
//   - [github.com/measurement-kit/netcore/tlsdial]: TLS handshake over a
//     [github.com/measurement-kit/netcore/transport.Transport]
//   - [github.com/measurement-kit/netcore/socks5]: minimal RFC 1928 client
//   - [github.com/measurement-kit/netcore/ndt]: NDT v3.7.0 protocol runner
//   - [github.com/measurement-kit/netcore/report]: thin result-sink contract
//
// # Connection Lifecycle
//
// This package uses two ownership patterns for connection management:
//
// Dial operations ([ConnectFunc], [TLSHandshakeFunc]) create connections and
// transfer ownership to the next stage on success. On error, they close the connection.
//
// Wrapper types ([HTTPConn]) OWN their underlying connection. The caller must
// call Close() when done, which closes the underlying connection. These can
// be composed into pipelines via their corresponding Func types.
//
// See [github.com/measurement-kit/netcore/ndt.LookupServer] for a complete
// pipeline built from these primitives: it resolves a hostname, then, in a
// pipeline composed with [Compose6], dials, observes I/O, binds the
// connection to the context via [CancelWatchFunc], performs a TLS
// handshake, and wraps the connection for an HTTP round trip.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with [log/slog]).
//
// By default, logging is disabled. Set the Logger field to a custom [*slog.Logger]
// to enable logging. Error classification is configurable via [ErrClassifier]; by
// default, [DefaultErrClassifier] maps errors to short labels via the errclass package.
//
// Primitives emit two kinds of structured log events:
//
//   - Span events (*Start/*Done pairs): Record operation lifecycle including
//     timing and success/failure. Used for latency analysis and error tracking.
//
//   - I/O events (e.g., readStart/readDone, setDeadline): Record individual
//     reads, writes, and deadline changes on a connection wrapped by
//     [ObserveConnFunc].
//
// The [SLogger] interface accepts any slog-compatible handler, enabling flexible
// post-processing. Handlers can filter, transform, or route events as needed.
//
// All events share a common set of fields: localAddr, remoteAddr, protocol,
// and t (timestamp). Completion events (*Done) additionally include t0 (start
// time), err, and errClass. I/O-level events (read, write, deadline changes)
// are emitted at [slog.LevelDebug]; all other events use [slog.LevelInfo].
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7) for each
// operation, then attach it to the logger with [*slog.Logger.With]. All log entries
// from that operation will share the same spanID, enabling correlation across
// pipeline stages and simplifying log analysis.
//
// # Timeout and Context Philosophy
//
// This package is context-transparent: operations never modify the context they receive.
// The caller controls timeouts externally via [context.WithTimeout], [context.WithDeadline],
// or [signal.NotifyContext]. When the context is done (timeout, cancel, or signal),
// operations fail and the pipeline is interrupted. The [reactor] and [transport]
// packages carry the same rule forward for the callback-driven components: the
// reactor never imposes its own deadline, it only reacts to timers and watches
// that the caller registers.
//
// Connection lifecycle requires [CancelWatchFunc] to bind the context lifecycle to
// the connection: when the context is done, the connection is closed immediately,
// causing any in-progress I/O to fail. This enables responsive ^C handling via
// [signal.NotifyContext] and ensures that blocking I/O respects the context deadline.
//
// IMPORTANT: Without [CancelWatchFunc] in your pipeline, I/O operations may block
// indefinitely even after the context is done. Always include [CancelWatchFunc]
// when composing connection pipelines to ensure proper timeout behavior.
//
// # Design Boundaries
//
// The root package intentionally provides only primitives. The following are
// out of scope for it and are instead implemented by the higher-level
// packages listed above, or left to the caller:
//
//   - Parallel execution (fan-out, racing)
//   - Retry and backoff logic beyond what [dns.Resolver] owns for lookups
//   - Multi-step orchestration beyond what [ndt] owns for its fixed phase sequence
//   - A durable, schema-stable result-file writer (see [report] for the
//     minimal sink contract; persisting to a specific on-disk format is left
//     to the caller)
package netcore
