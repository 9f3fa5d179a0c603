package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AdmissionDecisions counts controller verdicts by kind and reason.
	AdmissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcguard",
			Name:      "admission_decisions_total",
			Help:      "Total admission decisions produced by the controller",
		},
		[]string{"kind", "reason"},
	)

	// VerificationResults counts terminated sessions by outcome and reason.
	VerificationResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcguard",
			Name:      "verification_results_total",
			Help:      "Total verification sessions reaching a terminal state",
		},
		[]string{"result", "reason"},
	)

	// UnderAttack is 1 while the attack detector is engaged.
	UnderAttack = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcguard",
			Name:      "under_attack",
			Help:      "Whether the attack detector is in UNDER_ATTACK mode",
		},
	)

	// QueueDepth is the current number of suspended handshakes.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcguard",
			Name:      "queue_depth",
			Help:      "Suspended handshakes waiting in the admission queue",
		},
	)

	// LiveSessions is the current number of sessions under verification.
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcguard",
			Name:      "live_sessions",
			Help:      "Verification sessions currently in progress",
		},
	)

	// CaptchaPoolSize is the number of pre-rendered CAPTCHA artifacts left.
	CaptchaPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mcguard",
			Name:      "captcha_pool_size",
			Help:      "Pre-rendered CAPTCHA artifacts remaining in the pool",
		},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the default Prometheus registry.
// Idempotent; safe to call from multiple composition roots.
func InitMetrics() {
	once.Do(func() {
		prometheus.MustRegister(
			AdmissionDecisions,
			VerificationResults,
			UnderAttack,
			QueueDepth,
			LiveSessions,
			CaptchaPoolSize,
		)
	})
}
