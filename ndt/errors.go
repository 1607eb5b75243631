// SPDX-License-Identifier: GPL-3.0-or-later

package ndt

import "fmt"

// Kind values identify the errors this package raises. Each NDT phase wraps
// its lower-level cause in the phase-specific kind below, per the
// error-wrapping contract: one kind per named phase plus a handful of
// protocol-level validation errors.
const (
	KindConnecting                  = "ndt: connecting"
	KindWritingExtendedLogin        = "ndt: writing extended login"
	KindReadingKickoffMessage       = "ndt: reading kickoff message"
	KindInvalidKickoffMessage       = "ndt: invalid kickoff message"
	KindWaitingInQueue              = "ndt: waiting in queue"
	KindUnhandledSrvQueueMessage    = "ndt: unhandled nonzero srv_queue wait"
	KindReadingVersion              = "ndt: reading server version"
	KindReadingTestsID              = "ndt: reading granted tests"
	KindRunningTests                = "ndt: running tests"
	KindUnknownTestID               = "ndt: unknown test id"
	KindReadingResultsAndLogout     = "ndt: reading results and logout"
	KindNotResultsOrLogout          = "ndt: message is neither results nor logout"
	KindTooManyResultsMessages      = "ndt: too many results messages"
	KindWaitingClose                = "ndt: waiting for server close"
	KindDataAfterLogout             = "ndt: data received after logout"
	KindServerLookup                = "ndt: mlab-ns server lookup"
)

// PhaseError wraps the lower-level cause of a single named phase's failure.
type PhaseError struct {
	Kind  string
	Cause error
}

func (e *PhaseError) Error() string {
	if e.Cause == nil {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *PhaseError) Unwrap() error { return e.Cause }

func wrapPhaseError(kind string, cause error) error {
	if cause == nil {
		return nil
	}
	return &PhaseError{Kind: kind, Cause: cause}
}
