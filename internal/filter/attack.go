package filter

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/mcguard/internal/telemetry"
)

// AttackDetector counts admission attempts per second and flips into
// UNDER_ATTACK when a single second exceeds the threshold. Leaving requires
// both a calm second and a minimum dwell time (hysteresis, so a pulsing
// flood cannot flap the queue on and off).
type AttackDetector struct {
	minPlayers  int64
	minDuration time.Duration
	now         func() time.Time

	count       atomic.Int64
	underAttack atomic.Bool

	mu        sync.Mutex
	enteredAt time.Time
}

// NewAttackDetector creates a detector in NORMAL mode.
func NewAttackDetector(minPlayersForAttack int, minAttackDuration time.Duration) *AttackDetector {
	return &AttackDetector{
		minPlayers:  int64(minPlayersForAttack),
		minDuration: minAttackDuration,
		now:         time.Now,
	}
}

// Register counts one admission attempt and reports whether the detector was
// already engaged before this attempt. The attempt that crosses the
// threshold engages the detector but is itself still admitted.
func (d *AttackDetector) Register() bool {
	active := d.underAttack.Load()
	if d.count.Add(1) >= d.minPlayers {
		d.engage()
	}
	return active
}

// UnderAttack reports the current mode.
func (d *AttackDetector) UnderAttack() bool {
	return d.underAttack.Load()
}

// Rotate samples and resets the per-second counter. Called once per second.
func (d *AttackDetector) Rotate() {
	sampled := d.count.Swap(0)

	if sampled >= d.minPlayers {
		d.engage()
		return
	}

	if !d.underAttack.Load() {
		return
	}

	d.mu.Lock()
	dwell := d.now().Sub(d.enteredAt)
	d.mu.Unlock()

	if dwell >= d.minDuration {
		d.underAttack.Store(false)
		telemetry.UnderAttack.Set(0)
		slog.Info("attack over, admission queue disengaged", "dwell", dwell.Round(time.Second))
	}
}

func (d *AttackDetector) engage() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.underAttack.Load() {
		return
	}
	d.underAttack.Store(true)
	d.enteredAt = d.now()
	telemetry.UnderAttack.Set(1)
	slog.Warn("attack detected, admission queue engaged",
		"threshold", d.minPlayers,
		"min_duration", d.minDuration)
}
