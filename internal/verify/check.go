// Package verify runs per-connection verification sessions.
//
// A session owns an ordered list of checks. Each check is a small state
// machine driven by inbound protocol events; the session reaches Passed only
// when every check has passed, and fails on the first check failure.
package verify

import "github.com/udisondev/mcguard/internal/protocol"

// Outcome is the verdict of a single check invocation.
type Outcome int

const (
	OutcomePending Outcome = iota // check wants more events
	OutcomePassed                 // terminal success
	OutcomeFailed                 // terminal failure
)

// Result is what a check returns for one event.
type Result struct {
	Outcome Outcome
	Reason  string // set only for OutcomeFailed
}

// Pending and Passed are the two reasonless results.
var (
	Pending = Result{Outcome: OutcomePending}
	Passed  = Result{Outcome: OutcomePassed}
)

// Fail builds a failing result with a stable reason key.
func Fail(reason string) Result {
	return Result{Outcome: OutcomeFailed, Reason: reason}
}

// Check is one verification probe. Implementations keep their state in the
// session scratchpad under their Name key and receive the session as a
// parameter on every call; they never retain it.
type Check interface {
	// Name is the stable identifier and the scratchpad key prefix.
	Name() string

	// Initialize pushes the check's opening packets through the session.
	Initialize(s *Session)

	// OnEvent advances the check with one inbound event. Events the check
	// does not care about must return Pending.
	OnEvent(s *Session, ev protocol.Event) Result

	// Reset releases the check's scratchpad keys. Called exactly once when
	// the session terminates.
	Reset(s *Session)
}

// Verifier is an optional extension for checks that hold a final assertion,
// run once every check has passed and the session is about to be admitted.
type Verifier interface {
	OnVerify(s *Session) Result
}

// Lifecycle reason keys.
const (
	ReasonTimeout      = "timeout"
	ReasonStale        = "stale"
	ReasonClientClosed = "client_closed"
	ReasonInternal     = "internal"
)
