// Package filter decides, for every arriving handshake, whether the client
// may proceed: immediately, after queueing, after a forced rejoin, or never.
package filter

import "github.com/udisondev/mcguard/internal/verify"

// Admission-phase reason keys. Verification-phase and lifecycle keys live in
// the verify package next to the checks that produce them.
const (
	ReasonInvalidName         = "invalid_name"
	ReasonIPLimit             = "ip_limit"
	ReasonBlacklisted         = "blacklisted"
	ReasonWaitBeforeReconnect = "wait_before_reconnecting"
	ReasonPleaseReconnect     = "please_reconnect"
)

// Kind is the decision discriminator.
type Kind int

const (
	// KindAdmit lets the connection proceed downstream.
	KindAdmit Kind = iota
	// KindQueue suspends the handshake; the connection stays open.
	KindQueue
	// KindSoftDeny disconnects with a reason the client may act on.
	KindSoftDeny
	// KindHardDeny disconnects terminally.
	KindHardDeny
	// KindVerify hands the connection to a verification session. The
	// protocol layer pumps events until the session terminates, then calls
	// Controller.Complete for the final Admit/HardDeny.
	KindVerify
)

func (k Kind) String() string {
	switch k {
	case KindAdmit:
		return "admit"
	case KindQueue:
		return "queue"
	case KindSoftDeny:
		return "soft_deny"
	case KindHardDeny:
		return "hard_deny"
	case KindVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Decision is the controller's verdict for one handshake.
type Decision struct {
	Kind        Kind
	Reason      string
	AllowRejoin bool

	// Session is set for KindVerify.
	Session *verify.Session
	// Resumed is closed when a KindQueue handshake is drained.
	Resumed <-chan struct{}
}

// Admit builds an admit decision.
func Admit() Decision {
	return Decision{Kind: KindAdmit}
}

// Queued builds a queue decision around the drain signal.
func Queued(resumed <-chan struct{}) Decision {
	return Decision{Kind: KindQueue, Resumed: resumed}
}

// SoftDeny builds a recoverable denial.
func SoftDeny(reason string, allowRejoin bool) Decision {
	return Decision{Kind: KindSoftDeny, Reason: reason, AllowRejoin: allowRejoin}
}

// HardDeny builds a terminal denial.
func HardDeny(reason string) Decision {
	return Decision{Kind: KindHardDeny, Reason: reason}
}

// Verify builds a decision carrying a live verification session.
func Verify(s *verify.Session) Decision {
	return Decision{Kind: KindVerify, Session: s}
}
