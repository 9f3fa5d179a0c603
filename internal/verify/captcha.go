package verify

import (
	"strings"
	"time"

	"github.com/udisondev/mcguard/internal/captcha"
	"github.com/udisondev/mcguard/internal/protocol"
)

// CAPTCHA check reason keys.
const (
	ReasonCaptchaTimeout = "captcha_timeout"
	ReasonCaptchaNoTries = "captcha_no_tries"
	ReasonCaptchaFailed  = "captcha_failed"
)

type captchaState struct {
	answer         string
	remainingTries int
	startedAt      time.Time
}

// CaptchaCheck shows a pre-rendered map CAPTCHA and matches chat input
// against the answer. The artifact is consumed at construction time; the
// controller skips the check entirely when the pool is drained.
type CaptchaCheck struct {
	artifact    *captcha.Artifact
	maxTries    int
	maxDuration time.Duration
	now         func() time.Time
}

// NewCaptchaCheck builds the CAPTCHA check around one consumed artifact.
func NewCaptchaCheck(artifact *captcha.Artifact, maxTries int, maxDuration time.Duration) *CaptchaCheck {
	return &CaptchaCheck{
		artifact:    artifact,
		maxTries:    maxTries,
		maxDuration: maxDuration,
		now:         time.Now,
	}
}

func (c *CaptchaCheck) Name() string { return "captcha" }

func (c *CaptchaCheck) Initialize(s *Session) {
	s.Put(c.Name(), &captchaState{
		answer:         c.artifact.Answer,
		remainingTries: c.maxTries,
		startedAt:      c.now(),
	})
	s.SendPacket(protocol.MapImage{MapID: c.artifact.ID, Data: c.artifact.Image})
}

func (c *CaptchaCheck) OnEvent(s *Session, ev protocol.Event) Result {
	msg, ok := ev.(protocol.ChatLine)
	if !ok {
		return Pending
	}

	st, ok := c.state(s)
	if !ok {
		return Fail(ReasonInternal)
	}

	if c.now().Sub(st.startedAt) > c.maxDuration {
		return Fail(ReasonCaptchaTimeout)
	}
	if st.remainingTries == 0 {
		return Fail(ReasonCaptchaNoTries)
	}

	if strings.EqualFold(strings.TrimSpace(msg.Text), st.answer) {
		return Passed
	}

	st.remainingTries--
	if st.remainingTries == 0 {
		return Fail(ReasonCaptchaFailed)
	}
	return Pending
}

func (c *CaptchaCheck) Reset(s *Session) {
	s.Delete(c.Name())
}

func (c *CaptchaCheck) state(s *Session) (*captchaState, bool) {
	v, ok := s.Get(c.Name())
	if !ok {
		return nil, false
	}
	st, ok := v.(*captchaState)
	return st, ok
}
