package filter

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/mcguard/internal/config"
	"github.com/udisondev/mcguard/internal/protocol"
	"github.com/udisondev/mcguard/internal/verify"
)

type nopSender struct{}

func (nopSender) SendPacket(protocol.Packet) {}

// testFilterConfig keeps only the gravity check so sessions can be driven to
// a verdict with position packets alone.
func testFilterConfig() config.Filter {
	cfg := config.DefaultFilter()
	cfg.MapCaptcha.Enabled = false
	cfg.Collision.Enabled = false
	cfg.Vehicle.Enabled = false
	cfg.ClientBrand.Enabled = false
	return cfg
}

func newTestController(t *testing.T, cfg config.Filter) *Controller {
	t.Helper()
	c, err := NewController(cfg)
	require.NoError(t, err)
	return c
}

// failSession drives a gravity-only session to a quick failure: the first
// position packet acknowledges the teleport, the second claims an impossible
// landing height.
func failSession(t *testing.T, s *verify.Session) {
	t.Helper()
	s.OnEvent(protocol.PlayerPosition{Y: 74, OnGround: false})
	s.OnEvent(protocol.PlayerPosition{Y: 40, OnGround: true})
	require.Equal(t, verify.StateFailed, s.State())
}

func TestController_InvalidName(t *testing.T) {
	c := newTestController(t, testFilterConfig())

	d := c.Decide(context.Background(), testHandshake("b o b", "1.2.3.4"), nopSender{})
	require.Equal(t, KindHardDeny, d.Kind)
	require.Equal(t, ReasonInvalidName, d.Reason)

	// No side effects on any cache.
	st := c.Stats()
	require.Zero(t, st.LiveSessions)
	require.Zero(t, st.TrackedIPs)
	require.Zero(t, st.RejoinPending)
	require.Zero(t, c.reputation.Len())
}

func TestController_VerifyPath(t *testing.T) {
	c := newTestController(t, testFilterConfig())

	d := c.Decide(context.Background(), testHandshake("alice", "1.2.3.4"), nopSender{})
	require.Equal(t, KindVerify, d.Kind)
	require.NotNil(t, d.Session)
	require.Equal(t, verify.StateVerifying, d.Session.State())
	require.Equal(t, 1, c.liveCount("1.2.3.4"))
}

func TestController_NoChecksAdmitsOutright(t *testing.T) {
	cfg := testFilterConfig()
	cfg.Gravity.Enabled = false
	c := newTestController(t, cfg)

	d := c.Decide(context.Background(), testHandshake("alice", "1.2.3.4"), nopSender{})
	require.Equal(t, KindAdmit, d.Kind)
	require.Zero(t, c.liveCount("1.2.3.4"))
}

func TestController_IPLimit(t *testing.T) {
	cfg := testFilterConfig()
	cfg.MaxOnlinePerIP = 2
	c := newTestController(t, cfg)

	for i := 0; i < 2; i++ {
		d := c.Decide(context.Background(), testHandshake(fmt.Sprintf("user%d", i), "1.2.3.4"), nopSender{})
		require.Equal(t, KindVerify, d.Kind)
	}

	d := c.Decide(context.Background(), testHandshake("user2", "1.2.3.4"), nopSender{})
	require.Equal(t, KindHardDeny, d.Kind)
	require.Equal(t, ReasonIPLimit, d.Reason)

	// Releasing a slot admits the next handshake from that source.
	c.Release("1.2.3.4")
	d = c.Decide(context.Background(), testHandshake("user2", "1.2.3.4"), nopSender{})
	require.Equal(t, KindVerify, d.Kind)
}

func TestController_ForceRejoinRoundTrip(t *testing.T) {
	cfg := testFilterConfig()
	cfg.ForceRejoin = true
	c := newTestController(t, cfg)

	hs := testHandshake("alice", "1.2.3.4")

	d := c.Decide(context.Background(), hs, nopSender{})
	require.Equal(t, KindSoftDeny, d.Kind)
	require.Equal(t, ReasonPleaseReconnect, d.Reason)
	require.True(t, d.AllowRejoin)
	require.Equal(t, 1, c.rejoin.Len(), "soft denial must leave a rejoin nonce")

	// The second leg consumes the nonce and goes straight to verification.
	d = c.Decide(context.Background(), hs, nopSender{})
	require.Equal(t, KindVerify, d.Kind)
	require.Zero(t, c.rejoin.Len())

	// A third connect starts the sequence over.
	d = c.Decide(context.Background(), hs, nopSender{})
	require.Equal(t, KindSoftDeny, d.Kind)
}

func TestController_BlacklistAfterRepeatedFailures(t *testing.T) {
	cfg := testFilterConfig()
	cfg.BlacklistThreshold = 3
	c := newTestController(t, cfg)

	for i := 0; i < 3; i++ {
		d := c.Decide(context.Background(), testHandshake("bot", "6.6.6.6"), nopSender{})
		require.Equal(t, KindVerify, d.Kind)
		failSession(t, d.Session)

		done := c.Complete(d.Session)
		require.Equal(t, KindHardDeny, done.Kind)
		require.Equal(t, verify.ReasonWrongLandingHeight, done.Reason)
		c.Release("6.6.6.6")
	}

	// The 4th handshake is rejected before any session is created.
	d := c.Decide(context.Background(), testHandshake("bot", "6.6.6.6"), nopSender{})
	require.Equal(t, KindHardDeny, d.Kind)
	require.Equal(t, ReasonBlacklisted, d.Reason)
	require.Zero(t, c.Stats().LiveSessions)
}

func TestController_RepeatedDecideSameVerdict(t *testing.T) {
	cfg := testFilterConfig()
	cfg.BlacklistThreshold = 1
	c := newTestController(t, cfg)

	d := c.Decide(context.Background(), testHandshake("bot", "6.6.6.6"), nopSender{})
	failSession(t, d.Session)
	c.Complete(d.Session)
	c.Release("6.6.6.6")

	first := c.Decide(context.Background(), testHandshake("bot", "6.6.6.6"), nopSender{})
	second := c.Decide(context.Background(), testHandshake("bot", "6.6.6.6"), nopSender{})
	require.Equal(t, first, second, "closed handshake must be denied identically")
	require.Equal(t, ReasonBlacklisted, first.Reason)
}

func TestController_AttackModeQueues(t *testing.T) {
	cfg := testFilterConfig()
	cfg.MinPlayersForAttack = 3
	c := newTestController(t, cfg)

	// The first three admissions cross the threshold.
	for i := 0; i < 3; i++ {
		d := c.Decide(context.Background(), testHandshake("user", fmt.Sprintf("10.0.0.%d", i)), nopSender{})
		require.Equal(t, KindVerify, d.Kind, "handshake %d", i)
	}
	require.True(t, c.detector.UnderAttack())

	// Everything after is queued.
	d := c.Decide(context.Background(), testHandshake("late", "10.0.1.1"), nopSender{})
	require.Equal(t, KindQueue, d.Kind)
	require.NotNil(t, d.Resumed)
	require.Equal(t, 1, c.Stats().QueueDepth)

	// Same source cannot re-queue inside rejoinDelay.
	d2 := c.Decide(context.Background(), testHandshake("late", "10.0.1.1"), nopSender{})
	require.Equal(t, KindSoftDeny, d2.Kind)
	require.Equal(t, ReasonWaitBeforeReconnect, d2.Reason)

	// Drain resumes the suspended handshake; Resume re-enters at the
	// force-rejoin step and lands in verification.
	require.Equal(t, 1, c.queue.Drain())
	<-d.Resumed
	resumed := c.Resume(testHandshake("late", "10.0.1.1"), nopSender{})
	require.Equal(t, KindVerify, resumed.Kind)
}

func TestController_ClientCloseNoReputationHit(t *testing.T) {
	c := newTestController(t, testFilterConfig())

	d := c.Decide(context.Background(), testHandshake("alice", "1.2.3.4"), nopSender{})
	require.Equal(t, KindVerify, d.Kind)

	c.CloseSession(d.Session)
	require.Equal(t, verify.StateFailed, d.Session.State())
	require.Equal(t, verify.ReasonClientClosed, d.Session.FailReason())
	require.Zero(t, c.reputation.Failures("1.2.3.4"), "peer close must not count against reputation")
}
