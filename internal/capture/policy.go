// Package capture owns the listening-session state machine and the platform
// stability heuristics that protect it from unreliable on-device speech
// recognizers.
//
// The state machine itself is a value plus a pure reducer ([Reduce]) so that
// every transition is unit-testable without real timers. The [Controller]
// wraps the reducer with timer scheduling, engine calls, and callback
// delivery; timers come from an injectable [Scheduler] so tests can drive a
// virtual clock.
package capture

import "time"

// OS classifies the operating-system family of a platform fingerprint.
type OS string

const (
	OSiOS     OS = "ios"
	OSAndroid OS = "android"
	OSOther   OS = "other"
)

// BrowserFamily classifies the browser engine of a platform fingerprint.
type BrowserFamily string

const (
	BrowserSafari  BrowserFamily = "safari"
	BrowserChrome  BrowserFamily = "chrome"
	BrowserFirefox BrowserFamily = "firefox"
	BrowserOther   BrowserFamily = "other"
)

// Fingerprint is the capability summary of the embedding platform. It is
// supplied by the embedding application; the core never inspects user-agent
// strings itself.
type Fingerprint struct {
	OS            OS
	BrowserFamily BrowserFamily

	// Standalone reports whether the application runs as an installed
	// (home-screen) app rather than inside a browser tab.
	Standalone bool
}

// Mode is the capture interaction mode recommended for a platform.
type Mode string

const (
	// ModeStandard is continuous listening with silence-based pausing.
	ModeStandard Mode = "standard"

	// ModeHoldToTalk records only while the user holds the capture control,
	// sidestepping engine auto-termination entirely.
	ModeHoldToTalk Mode = "hold-to-talk"

	// ModeDictationOnly disables the in-app recognizer and relies on the
	// platform keyboard's dictation as transcript source.
	ModeDictationOnly Mode = "dictation-only"
)

// IsKnownUnstable reports whether the platform is known to terminate or
// restart speech-recognition sessions unreliably.
//
// All iOS browsers share the WebKit recognizer and its abrupt session
// termination behaviour. On Android, Chrome in standalone (installed) mode
// is known to silently drop sessions.
func IsKnownUnstable(fp Fingerprint) bool {
	if fp.OS == OSiOS {
		return true
	}
	if fp.OS == OSAndroid && fp.BrowserFamily == BrowserChrome && fp.Standalone {
		return true
	}
	return false
}

// RecommendedMode returns the capture mode best suited to the platform.
// Installed iOS apps get dictation-only (the recognizer dies within seconds
// there); other unstable platforms get hold-to-talk; everything else runs
// the standard continuous mode.
func RecommendedMode(fp Fingerprint) Mode {
	if fp.OS == OSiOS && fp.Standalone {
		return ModeDictationOnly
	}
	if IsKnownUnstable(fp) {
		return ModeHoldToTalk
	}
	return ModeStandard
}

// Policy bundles the restart-budget and silence-detection constants the
// [Controller] consumes. It is a plain value so tests can override any field
// without touching controller logic.
type Policy struct {
	// MaxRestarts is the maximum number of automatic engine restarts allowed
	// within RestartWindow before the session is declared failed.
	MaxRestarts int

	// RestartWindow is the rolling window over which restarts are counted.
	RestartWindow time.Duration

	// RestartDelay is the pause before each scheduled restart.
	RestartDelay time.Duration

	// SilenceThreshold is the quiet period after which a listening session
	// is paused.
	SilenceThreshold time.Duration

	// SilenceCheckInterval is how often the silence threshold is evaluated.
	SilenceCheckInterval time.Duration
}

// DefaultPolicy returns the conservative policy applied to platforms with
// known-unstable recognizers.
func DefaultPolicy() Policy {
	return Policy{
		MaxRestarts:          3,
		RestartWindow:        20 * time.Second,
		RestartDelay:         400 * time.Millisecond,
		SilenceThreshold:     1500 * time.Millisecond,
		SilenceCheckInterval: 500 * time.Millisecond,
	}
}

// PolicyFor returns the stability policy appropriate for the platform:
// the conservative [DefaultPolicy] for known-unstable platforms and a more
// permissive budget elsewhere.
func PolicyFor(fp Fingerprint) Policy {
	if IsKnownUnstable(fp) {
		return DefaultPolicy()
	}
	p := DefaultPolicy()
	p.MaxRestarts = 5
	p.RestartWindow = 30 * time.Second
	return p
}
