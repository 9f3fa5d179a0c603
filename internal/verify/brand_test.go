package verify

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/mcguard/internal/protocol"
)

var (
	testBrandRe  = regexp.MustCompile(`^(vanilla|fabric)$`)
	testLocaleRe = regexp.MustCompile(`^[a-z]{2}_[A-Z]{2}$`)
)

func TestBrandCheck_ValidBrandPasses(t *testing.T) {
	s, _ := newTestSession(t, NewBrandCheck(testBrandRe, testLocaleRe))

	s.OnEvent(protocol.PluginMessageBrand{Brand: "vanilla"})
	require.Equal(t, StatePassed, s.State())
}

func TestBrandCheck_InvalidBrandFails(t *testing.T) {
	s, _ := newTestSession(t, NewBrandCheck(testBrandRe, testLocaleRe))

	s.OnEvent(protocol.PluginMessageBrand{Brand: "evilbot"})
	require.Equal(t, StateFailed, s.State())
	require.Equal(t, ReasonInvalidBrand, s.FailReason())
}

func TestBrandCheck_OnlyFirstBrandCounts(t *testing.T) {
	// Pair with a pending check so the session stays open after the brand
	// passes; a second announcement must be ignored, not re-validated.
	s, _ := newTestSession(t, NewBrandCheck(testBrandRe, testLocaleRe), NewVehicleCheck())

	s.OnEvent(protocol.PluginMessageBrand{Brand: "vanilla"})
	require.Equal(t, StateVerifying, s.State())

	s.OnEvent(protocol.PluginMessageBrand{Brand: "evilbot"})
	require.Equal(t, StateVerifying, s.State())
}

func TestBrandCheck_InvalidLocaleFails(t *testing.T) {
	s, _ := newTestSession(t, NewBrandCheck(testBrandRe, testLocaleRe))

	s.OnEvent(protocol.ClientSettings{Locale: "botspeak"})
	require.Equal(t, StateFailed, s.State())
	require.Equal(t, ReasonInvalidLocale, s.FailReason())
}

func TestBrandCheck_ValidLocaleStaysPending(t *testing.T) {
	s, _ := newTestSession(t, NewBrandCheck(testBrandRe, testLocaleRe))

	s.OnEvent(protocol.ClientSettings{Locale: "en_US"})
	require.Equal(t, StateVerifying, s.State())

	s.OnEvent(protocol.PluginMessageBrand{Brand: "fabric"})
	require.Equal(t, StatePassed, s.State())
}

func TestBrandCheck_NilLocaleRegexSkipsLocale(t *testing.T) {
	s, _ := newTestSession(t, NewBrandCheck(testBrandRe, nil))

	s.OnEvent(protocol.ClientSettings{Locale: "anything at all"})
	require.Equal(t, StateVerifying, s.State())
}
