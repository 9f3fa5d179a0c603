package verify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/mcguard/internal/protocol"
	"github.com/udisondev/mcguard/internal/telemetry"
)

// Manager owns all live verification sessions.
type Manager struct {
	deadline     time.Duration
	rememberTime time.Duration
	now          func() time.Time

	// onFailed receives every failure that should count against the
	// source's reputation. Peer-initiated closes do not count.
	onFailed func(source, reason string)

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a session manager. onFailed may be nil.
func NewManager(deadline, rememberTime time.Duration, onFailed func(source, reason string)) *Manager {
	return &Manager{
		deadline:     deadline,
		rememberTime: rememberTime,
		now:          time.Now,
		onFailed:     onFailed,
		sessions:     make(map[uuid.UUID]*Session),
	}
}

// Create builds a session, initializes its checks in order, and publishes it.
func (m *Manager) Create(username, source string, sender PacketSender, checks []Check) *Session {
	now := m.now()
	s := &Session{
		id:        uuid.New(),
		username:  username,
		source:    source,
		createdAt: now,
		deadline:  now.Add(m.deadline),
		sender:    sender,
		now:       m.now,
		state:     StateInit,
		checks:    make([]checkSlot, len(checks)),
		pad:       make(map[string]any),
		done:      make(chan struct{}),
	}
	for i, c := range checks {
		s.checks[i] = checkSlot{check: c}
	}
	s.onTerminal = m.sessionTerminated

	s.start()

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	telemetry.LiveSessions.Inc()

	slog.Debug("verification session started",
		"session", s.id,
		"user", username,
		"source", source,
		"checks", len(checks))
	return s
}

// Get returns a live session by ID.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Dispatch forwards one inbound event to a session, if it is still live.
func (m *Manager) Dispatch(id uuid.UUID, ev protocol.Event) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		s.OnEvent(ev)
	}
}

// CloseSession handles a peer-initiated close: the session fails with
// client_closed, which carries no reputation penalty.
func (m *Manager) CloseSession(id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.failLocked(ReasonClientClosed)
	s.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep fails sessions that outlived rememberTime. Runs every 30s from the
// controller's slow tick.
func (m *Manager) Sweep() {
	now := m.now()

	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if now.Sub(s.createdAt) > m.rememberTime {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.mu.Lock()
		s.failLocked(ReasonStale)
		s.mu.Unlock()
	}

	if len(stale) > 0 {
		slog.Warn("swept stale verification sessions", "count", len(stale))
	}
}

// sessionTerminated is the session's onTerminal hook. Runs under the session
// mutex; only touches the manager index and counters.
func (m *Manager) sessionTerminated(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	telemetry.LiveSessions.Dec()

	switch s.state {
	case StatePassed:
		telemetry.VerificationResults.WithLabelValues("passed", "").Inc()
		slog.Info("verification passed", "session", s.id, "user", s.username, "source", s.source)
	default:
		telemetry.VerificationResults.WithLabelValues("failed", s.failReason).Inc()
		slog.Info("verification failed",
			"session", s.id,
			"user", s.username,
			"source", s.source,
			"reason", s.failReason)
		if s.failReason != ReasonClientClosed && m.onFailed != nil {
			m.onFailed(s.source, s.failReason)
		}
	}
}
