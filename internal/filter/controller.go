package filter

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/udisondev/mcguard/internal/captcha"
	"github.com/udisondev/mcguard/internal/config"
	"github.com/udisondev/mcguard/internal/protocol"
	"github.com/udisondev/mcguard/internal/telemetry"
	"github.com/udisondev/mcguard/internal/verify"
)

const sweepInterval = 30 * time.Second

// Controller is the composition root of the admission pipeline. It owns the
// attack detector, the queue, the reputation and rejoin caches, the session
// manager, and the CAPTCHA generator.
type Controller struct {
	cfg config.Filter

	nameRe   *regexp.Regexp
	brandRe  *regexp.Regexp
	localeRe *regexp.Regexp

	detector   *AttackDetector
	queue      *AdmissionQueue
	reputation *ReputationCache
	rejoin     *RejoinCache
	sessions   *verify.Manager
	generator  *captcha.Generator // nil when the CAPTCHA check is disabled

	mu     sync.Mutex
	online map[string]int // source -> live admitted-and-verifying connections

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController builds a controller from config. Regexes are compiled and the
// CAPTCHA pool is constructed eagerly; both fail at startup, not mid-flood.
func NewController(cfg config.Filter) (*Controller, error) {
	nameRe, err := regexp.Compile(cfg.ValidNameRegex)
	if err != nil {
		return nil, fmt.Errorf("compiling name regex: %w", err)
	}
	brandRe, err := regexp.Compile(cfg.ValidBrandRegex)
	if err != nil {
		return nil, fmt.Errorf("compiling brand regex: %w", err)
	}
	var localeRe *regexp.Regexp
	if cfg.ValidLocaleRegex != "" {
		localeRe, err = regexp.Compile(cfg.ValidLocaleRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling locale regex: %w", err)
		}
	}

	c := &Controller{
		cfg:      cfg,
		nameRe:   nameRe,
		brandRe:  brandRe,
		localeRe: localeRe,
		detector: NewAttackDetector(cfg.MinPlayersForAttack, seconds(cfg.MinAttackDuration)),
		queue:    NewAdmissionQueue(cfg.Queue.Capacity, cfg.Queue.MaxPolls, seconds(cfg.RejoinDelay)),
		reputation: NewReputationCache(
			cfg.BlacklistThreshold,
			seconds(cfg.BlacklistTime),
			seconds(cfg.RememberTime),
		),
		rejoin: NewRejoinCache(seconds(cfg.RejoinValidTime)),
		online: make(map[string]int),
	}
	c.sessions = verify.NewManager(
		seconds(cfg.VerificationDeadline),
		seconds(cfg.RememberTime),
		c.verificationFailed,
	)

	if cfg.MapCaptcha.Enabled {
		c.generator, err = captcha.NewGenerator(captcha.Config{
			Alphabet:       cfg.MapCaptcha.Alphabet,
			CodeLength:     cfg.MapCaptcha.CodeLength,
			BackgroundPath: cfg.MapCaptcha.BackgroundPath,
		})
		if err != nil {
			return nil, fmt.Errorf("creating captcha generator: %w", err)
		}
	}

	return c, nil
}

// Enable primes the CAPTCHA pool and starts the periodic workers: the
// one-second tick (detector rotation, queue drain) and the thirty-second
// sweep (caches, stale sessions).
func (c *Controller) Enable(ctx context.Context) error {
	if c.generator != nil {
		if err := c.generator.Prime(ctx, c.cfg.MapCaptcha.Precompute); err != nil {
			return fmt.Errorf("priming captcha pool: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx)

	slog.Info("admission filter enabled",
		"attack_threshold", c.cfg.MinPlayersForAttack,
		"max_online_per_ip", c.cfg.MaxOnlinePerIP,
		"force_rejoin", c.cfg.ForceRejoin)
	return nil
}

// Disable stops the periodic workers.
func (c *Controller) Disable() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	slog.Info("admission filter disabled")
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	fast := time.NewTicker(time.Second)
	defer fast.Stop()
	slow := time.NewTicker(sweepInterval)
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fast.C:
			c.detector.Rotate()
			if n := c.queue.Drain(); n > 0 {
				slog.Debug("drained admission queue", "resumed", n, "depth", c.queue.Depth())
			}
		case <-slow.C:
			c.reputation.Sweep()
			c.rejoin.Sweep()
			c.queue.SweepThrottle()
			c.sessions.Sweep()
		}
	}
}

// Decide runs the admission predicate chain for one handshake. First match
// wins; the order is load-bearing (cheap rejections before any state is
// touched, the rejoin fast path before the attack gate).
func (c *Controller) Decide(ctx context.Context, hs protocol.Handshake, sender verify.PacketSender) Decision {
	if !c.nameRe.MatchString(hs.Username) {
		return c.counted(HardDeny(ReasonInvalidName))
	}

	if c.reputation.IsBlacklisted(hs.Source) {
		return c.counted(HardDeny(ReasonBlacklisted))
	}

	if c.liveCount(hs.Source) >= c.cfg.MaxOnlinePerIP {
		return c.counted(HardDeny(ReasonIPLimit))
	}

	// A valid rejoin nonce proves this is the second leg of a forced-rejoin
	// sequence; it bypasses the attack gate it already went through once.
	if c.rejoin.Consume(hs.Username, hs.Source) {
		return c.counted(c.beginVerification(hs, sender))
	}

	if c.detector.Register() {
		resumed, ok := c.queue.TryEnqueue(ctx, hs)
		if !ok {
			return c.counted(SoftDeny(ReasonWaitBeforeReconnect, false))
		}
		return c.counted(Queued(resumed))
	}

	return c.counted(c.admitStage(hs, sender))
}

// Resume re-enters the chain after a queue drain. The queued turn counts as
// that second's admission; the attack gate itself is not re-run.
func (c *Controller) Resume(hs protocol.Handshake, sender verify.PacketSender) Decision {
	c.detector.Register()
	return c.counted(c.admitStage(hs, sender))
}

// Complete maps a terminal session onto the final decision.
func (c *Controller) Complete(s *verify.Session) Decision {
	if s.State() == verify.StatePassed {
		return c.counted(Admit())
	}
	return c.counted(HardDeny(s.FailReason()))
}

// admitStage is steps 6-7 of the chain: forced rejoin, then verification.
func (c *Controller) admitStage(hs protocol.Handshake, sender verify.PacketSender) Decision {
	if c.cfg.ForceRejoin {
		c.rejoin.Issue(hs.Username, hs.Source)
		return SoftDeny(ReasonPleaseReconnect, true)
	}
	return c.beginVerification(hs, sender)
}

func (c *Controller) beginVerification(hs protocol.Handshake, sender verify.PacketSender) Decision {
	checks := c.buildChecks()
	if len(checks) == 0 {
		// Nothing to verify; admit outright.
		return Admit()
	}

	c.acquire(hs.Source)
	s := c.sessions.Create(hs.Username, hs.Source, sender, checks)
	return Verify(s)
}

// buildChecks instantiates the enabled checks in pipeline order.
func (c *Controller) buildChecks() []verify.Check {
	var checks []verify.Check

	if c.cfg.Gravity.Enabled {
		checks = append(checks, verify.NewGravityCheck(c.cfg.Gravity.MaxMovementTicks))
	}
	if c.cfg.Collision.Enabled {
		checks = append(checks, verify.NewCollisionCheck())
	}
	if c.cfg.Vehicle.Enabled {
		checks = append(checks, verify.NewVehicleCheck())
	}
	if c.cfg.MapCaptcha.Enabled && c.generator != nil {
		if artifact := c.generator.Take(); artifact != nil {
			checks = append(checks, verify.NewCaptchaCheck(
				artifact,
				c.cfg.MapCaptcha.MaxTries,
				seconds(c.cfg.MapCaptcha.MaxDuration),
			))
		} else {
			// Starved pool punishes operators, not players: skip the check.
			slog.Warn("captcha pool empty, skipping captcha check")
		}
	}
	if c.cfg.ClientBrand.Enabled {
		checks = append(checks, verify.NewBrandCheck(c.brandRe, c.localeRe))
	}

	return checks
}

// CloseSession handles a peer-initiated close during verification.
func (c *Controller) CloseSession(s *verify.Session) {
	c.sessions.CloseSession(s.ID())
}

// Release decrements the per-source live counter. The protocol layer calls
// it exactly once per connection that entered verification.
func (c *Controller) Release(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.online[source]; n > 1 {
		c.online[source] = n - 1
	} else {
		delete(c.online, source)
	}
}

func (c *Controller) acquire(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[source]++
}

func (c *Controller) liveCount(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[source]
}

// verificationFailed is the session manager's failure hook.
func (c *Controller) verificationFailed(source, reason string) {
	c.reputation.RecordFailure(source)
}

// counted records the decision metric and passes the decision through.
func (c *Controller) counted(d Decision) Decision {
	telemetry.AdmissionDecisions.WithLabelValues(d.Kind.String(), d.Reason).Inc()
	return d
}

// Stats is a point-in-time snapshot for logging and diagnostics.
type Stats struct {
	UnderAttack   bool
	QueueDepth    int
	LiveSessions  int
	TrackedIPs    int
	CaptchaPool   int
	RejoinPending int
}

// Stats returns a snapshot of the filter's shared state.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	tracked := len(c.online)
	c.mu.Unlock()

	pool := 0
	if c.generator != nil {
		pool = c.generator.Len()
	}

	return Stats{
		UnderAttack:   c.detector.UnderAttack(),
		QueueDepth:    c.queue.Depth(),
		LiveSessions:  c.sessions.Count(),
		TrackedIPs:    tracked,
		CaptchaPool:   pool,
		RejoinPending: c.rejoin.Len(),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
