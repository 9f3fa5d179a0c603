package verify

import (
	"regexp"

	"github.com/udisondev/mcguard/internal/protocol"
)

// Brand check reason keys.
const (
	ReasonInvalidBrand  = "invalid_brand"
	ReasonInvalidLocale = "invalid_locale"
)

type brandState struct {
	brandSeen bool
}

// BrandCheck validates the client brand announced on the brand plugin
// channel, and the locale if client settings arrive during the session.
// A client that never announces a brand is caught by the session deadline,
// not by this check.
type BrandCheck struct {
	brandRe  *regexp.Regexp
	localeRe *regexp.Regexp // nil disables locale validation
}

// NewBrandCheck builds the brand check.
func NewBrandCheck(brandRe, localeRe *regexp.Regexp) *BrandCheck {
	return &BrandCheck{brandRe: brandRe, localeRe: localeRe}
}

func (c *BrandCheck) Name() string { return "client_brand" }

func (c *BrandCheck) Initialize(s *Session) {
	s.Put(c.Name(), &brandState{})
}

func (c *BrandCheck) OnEvent(s *Session, ev protocol.Event) Result {
	st, ok := c.state(s)
	if !ok {
		return Fail(ReasonInternal)
	}

	switch msg := ev.(type) {
	case protocol.PluginMessageBrand:
		if st.brandSeen {
			return Pending
		}
		st.brandSeen = true
		if !c.brandRe.MatchString(msg.Brand) {
			return Fail(ReasonInvalidBrand)
		}
		return Passed

	case protocol.ClientSettings:
		if c.localeRe != nil && !c.localeRe.MatchString(msg.Locale) {
			return Fail(ReasonInvalidLocale)
		}
		return Pending

	default:
		return Pending
	}
}

func (c *BrandCheck) Reset(s *Session) {
	s.Delete(c.Name())
}

func (c *BrandCheck) state(s *Session) (*brandState, bool) {
	v, ok := s.Get(c.Name())
	if !ok {
		return nil, false
	}
	st, ok := v.(*brandState)
	return st, ok
}
