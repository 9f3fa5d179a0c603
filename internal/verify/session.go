package verify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/mcguard/internal/protocol"
)

// State is the session state machine.
type State int

const (
	StateInit State = iota
	StateVerifying
	StatePassed
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateVerifying:
		return "VERIFYING"
	case StatePassed:
		return "PASSED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// PacketSender pushes outbound packets to the protocol layer.
type PacketSender interface {
	SendPacket(p protocol.Packet)
}

type checkSlot struct {
	check  Check
	passed bool
}

// Session is one connection under verification. Events for a session arrive
// from a single connection goroutine; the mutex covers the timeout sweep and
// external readers.
type Session struct {
	id        uuid.UUID
	username  string
	source    string
	createdAt time.Time
	deadline  time.Time

	sender PacketSender
	now    func() time.Time

	mu         sync.Mutex
	state      State
	checks     []checkSlot
	pad        map[string]any
	failReason string
	done       chan struct{}

	// onTerminal is set by the manager; runs outside check dispatch,
	// under the session mutex.
	onTerminal func(s *Session)
}

// ID returns the session's identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Username returns the client's claimed name.
func (s *Session) Username() string { return s.username }

// Source returns the connection's source address.
func (s *Session) Source() string { return s.source }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailReason returns the reason key of a failed session, empty otherwise.
func (s *Session) FailReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failReason
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// SendPacket forwards an outbound packet to the protocol layer.
func (s *Session) SendPacket(p protocol.Packet) {
	s.sender.SendPacket(p)
}

// Put stores a scratchpad value. Keys are namespaced by check name.
func (s *Session) Put(key string, v any) { s.pad[key] = v }

// Get reads a scratchpad value.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.pad[key]
	return v, ok
}

// Delete removes a scratchpad value.
func (s *Session) Delete(key string) { delete(s.pad, key) }

// start runs Initialize on every check in configured order and enters
// VERIFYING. Called by the manager with the session not yet published.
func (s *Session) start() {
	for _, slot := range s.checks {
		slot.check.Initialize(s)
	}
	s.mu.Lock()
	s.state = StateVerifying
	s.mu.Unlock()
}

// OnEvent dispatches one inbound event to every check. Passed checks keep
// receiving events so their final assertions see current state; the first
// failure is terminal.
func (s *Session) OnEvent(ev protocol.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateVerifying {
		return
	}

	if s.now().After(s.deadline) {
		s.terminate(StateFailed, ReasonTimeout)
		return
	}

	allPassed := true
	for i := range s.checks {
		slot := &s.checks[i]
		if slot.passed {
			// Passed checks stop receiving events unless they hold a
			// final assertion that needs current state.
			if _, final := slot.check.(Verifier); !final {
				continue
			}
		}
		res := s.dispatch(slot.check, ev)
		switch res.Outcome {
		case OutcomeFailed:
			s.terminate(StateFailed, res.Reason)
			return
		case OutcomePassed:
			slot.passed = true
		}
		if !slot.passed {
			allPassed = false
		}
	}

	if !allPassed {
		return
	}

	for i := range s.checks {
		v, ok := s.checks[i].check.(Verifier)
		if !ok {
			continue
		}
		if res := v.OnVerify(s); res.Outcome == OutcomeFailed {
			s.terminate(StateFailed, res.Reason)
			return
		}
	}
	s.terminate(StatePassed, "")
}

// dispatch shields the session from a panicking check: a broken check fails
// the session, never the controller.
func (s *Session) dispatch(c Check, ev protocol.Event) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("check panicked",
				"check", c.Name(),
				"session", s.id,
				"panic", r)
			res = Fail(ReasonInternal)
		}
	}()
	return c.OnEvent(s, ev)
}

// failLocked forces the session into FAILED with the given reason.
// Caller holds the mutex.
func (s *Session) failLocked(reason string) {
	if s.state != StateVerifying && s.state != StateInit {
		return
	}
	s.terminate(StateFailed, reason)
}

// terminate runs cleanup exactly once. Caller holds the mutex.
func (s *Session) terminate(state State, reason string) {
	s.state = state
	s.failReason = reason
	for i := range s.checks {
		s.checks[i].check.Reset(s)
	}
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
	close(s.done)
}
