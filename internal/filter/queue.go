package filter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/mcguard/internal/protocol"
	"github.com/udisondev/mcguard/internal/telemetry"
)

type queueEntry struct {
	hs         protocol.Handshake
	ctx        context.Context // connection lifetime; cancelled entries are discarded
	resumed    chan struct{}
	enqueuedAt time.Time
}

// AdmissionQueue suspends handshakes during an attack and drains them at a
// bounded rate. FIFO across sources; a per-source throttle rejects rapid
// re-queue attempts.
type AdmissionQueue struct {
	capacity    int
	maxPolls    int
	rejoinDelay time.Duration
	now         func() time.Time

	mu          sync.Mutex
	entries     []queueEntry
	lastAttempt map[string]time.Time
}

// NewAdmissionQueue creates an empty queue.
func NewAdmissionQueue(capacity, maxPolls int, rejoinDelay time.Duration) *AdmissionQueue {
	return &AdmissionQueue{
		capacity:    capacity,
		maxPolls:    maxPolls,
		rejoinDelay: rejoinDelay,
		now:         time.Now,
		lastAttempt: make(map[string]time.Time),
	}
}

// TryEnqueue suspends a handshake. Returns the drain signal, or false when
// the source is throttled or the queue is full; the caller soft-denies.
func (q *AdmissionQueue) TryEnqueue(ctx context.Context, hs protocol.Handshake) (<-chan struct{}, bool) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	if last, ok := q.lastAttempt[hs.Source]; ok && now.Sub(last) < q.rejoinDelay {
		return nil, false
	}
	if len(q.entries) >= q.capacity {
		return nil, false
	}

	q.lastAttempt[hs.Source] = now
	entry := queueEntry{
		hs:         hs,
		ctx:        ctx,
		resumed:    make(chan struct{}),
		enqueuedAt: now,
	}
	q.entries = append(q.entries, entry)
	telemetry.QueueDepth.Set(float64(len(q.entries)))

	slog.Debug("handshake queued", "user", hs.Username, "source", hs.Source, "depth", len(q.entries))
	return entry.resumed, true
}

// Drain resumes up to maxPolls suspended handshakes in FIFO order. Entries
// whose connection has already gone away are discarded without counting
// against the poll budget. Called once per second.
func (q *AdmissionQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	resumed := 0
	for resumed < q.maxPolls && len(q.entries) > 0 {
		entry := q.entries[0]
		q.entries = q.entries[1:]

		if entry.ctx.Err() != nil {
			continue
		}
		close(entry.resumed)
		resumed++
	}

	telemetry.QueueDepth.Set(float64(len(q.entries)))
	return resumed
}

// Depth returns the number of suspended handshakes.
func (q *AdmissionQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SweepThrottle drops per-source throttle records older than the delay.
// Called from the slow tick so the map cannot grow with spoofed sources.
func (q *AdmissionQueue) SweepThrottle() {
	now := q.now()
	q.mu.Lock()
	defer q.mu.Unlock()
	for src, last := range q.lastAttempt {
		if now.Sub(last) >= q.rejoinDelay {
			delete(q.lastAttempt, src)
		}
	}
}
