package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock advances manually; components read it through their now func.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAttackDetector_ThresholdEntry(t *testing.T) {
	clock := newFakeClock()
	d := NewAttackDetector(100, time.Minute)
	d.now = clock.Now

	// The first 99 attempts stay in NORMAL mode.
	for i := 0; i < 99; i++ {
		require.False(t, d.Register(), "attempt %d should not see attack mode", i+1)
	}
	require.False(t, d.UnderAttack())

	// The 100th attempt crosses the threshold: it engages the detector but
	// is itself still admitted.
	require.False(t, d.Register())
	require.True(t, d.UnderAttack())

	// Everything after it is gated.
	require.True(t, d.Register())
}

func TestAttackDetector_ExactThreshold(t *testing.T) {
	d := NewAttackDetector(5, time.Minute)

	for i := 0; i < 5; i++ {
		d.Register()
	}
	if !d.UnderAttack() {
		t.Fatalf("exactly minPlayersForAttack counts must enter UNDER_ATTACK")
	}
}

func TestAttackDetector_Hysteresis(t *testing.T) {
	clock := newFakeClock()
	d := NewAttackDetector(10, time.Minute)
	d.now = clock.Now

	for i := 0; i < 10; i++ {
		d.Register()
	}
	require.True(t, d.UnderAttack())

	// Calm seconds before minAttackDuration must not disengage.
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		d.Rotate()
		require.True(t, d.UnderAttack(), "left attack mode after only %ds", i+1)
	}

	// A calm second after the dwell time disengages.
	clock.Advance(time.Minute)
	d.Rotate()
	require.False(t, d.UnderAttack())
}

func TestAttackDetector_BusySecondExtendsAttack(t *testing.T) {
	clock := newFakeClock()
	d := NewAttackDetector(10, time.Minute)
	d.now = clock.Now

	for i := 0; i < 10; i++ {
		d.Register()
	}
	clock.Advance(2 * time.Minute)

	// The dwell time has passed, but the sampled second is still hot.
	for i := 0; i < 10; i++ {
		d.Register()
	}
	d.Rotate()
	require.True(t, d.UnderAttack())

	// Next calm rotation leaves.
	clock.Advance(time.Second)
	d.Rotate()
	require.False(t, d.UnderAttack())
}

func TestAttackDetector_RotateResetsCounter(t *testing.T) {
	d := NewAttackDetector(10, time.Minute)

	for i := 0; i < 9; i++ {
		d.Register()
	}
	d.Rotate()

	// Counter reset: 9 more in the next second stay below threshold.
	for i := 0; i < 9; i++ {
		d.Register()
	}
	require.False(t, d.UnderAttack())
}
