// Package transcribe normalizes heterogeneous speech-to-text backends into a
// single response shape.
//
// The adapter distinguishes two failure classes: "no provider configured" is
// an expected path that deterministically falls back to an already-available
// on-device transcript, while a configured provider that cannot deliver is a
// hard failure surfaced as [ErrProviderUnavailable]. Providers form a closed
// enumeration ([ProviderKind]); new backends are added by extending the
// switch in [Adapter.Transcribe], keeping exhaustiveness checks meaningful.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jhaensel/migralog/internal/resilience"
)

// ErrProviderUnavailable marks a configured transcription provider that
// failed or is not implemented. It propagates to the caller; it is never
// silently swallowed.
var ErrProviderUnavailable = errors.New("transcribe: provider unavailable")

// fallbackConfidence is assigned to on-device fallback transcripts. The
// on-device recognizer already committed to this text, but without provider
// scoring it is not treated as fully trusted.
const fallbackConfidence = 0.7

// ProviderKind selects a transcription backend. The set is closed; values
// outside it fail configuration validation.
type ProviderKind string

const (
	// ProviderNone disables external transcription; the adapter returns the
	// fallback transcript.
	ProviderNone ProviderKind = "none"

	// ProviderWhisper transcribes via the hosted OpenAI Whisper API.
	ProviderWhisper ProviderKind = "whisper"

	// ProviderDeepgram is enumerated for forward compatibility and currently
	// reports [ErrProviderUnavailable].
	ProviderDeepgram ProviderKind = "deepgram"
)

// IsValid reports whether k is a recognised provider kind. The empty string
// is valid and equivalent to [ProviderNone].
func (k ProviderKind) IsValid() bool {
	switch k {
	case "", ProviderNone, ProviderWhisper, ProviderDeepgram:
		return true
	}
	return false
}

// Config selects and parameterises the transcription backend.
type Config struct {
	// Provider selects the backend. Empty means none.
	Provider ProviderKind `yaml:"provider"`

	// APIKey authenticates against the provider. A configured provider
	// without an API key falls back like an unconfigured one.
	APIKey string `yaml:"api_key"`

	// Language is the BCP-47 recognition language. Default: "de-DE".
	Language string `yaml:"language"`

	// BaseURL overrides the provider's default API endpoint. Used in tests.
	BaseURL string `yaml:"base_url"`
}

// Result is the normalized transcription response.
type Result struct {
	// Transcript is the recognized text. May be empty.
	Transcript string `json:"transcript"`

	// Confidence is the overall recognition confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// Adapter dispatches transcription requests to the configured backend.
// Outbound provider calls run behind a circuit breaker so a degraded
// provider fails fast instead of stalling every pipeline run.
type Adapter struct {
	cfg     Config
	whisper *whisperClient
	breaker *resilience.CircuitBreaker
}

// New creates an [Adapter] for cfg. Construction never fails for missing
// provider configuration — that is handled per-call via the fallback path.
func New(cfg Config) (*Adapter, error) {
	if !cfg.Provider.IsValid() {
		return nil, fmt.Errorf("transcribe: unknown provider %q", cfg.Provider)
	}
	if cfg.Language == "" {
		cfg.Language = "de-DE"
	}

	a := &Adapter{cfg: cfg}
	if cfg.Provider == ProviderWhisper && cfg.APIKey != "" {
		a.whisper = newWhisperClient(cfg.APIKey, cfg.BaseURL, cfg.Language)
		a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: string(ProviderWhisper),
		})
	}
	return a, nil
}

// Transcribe converts captured audio into a [Result].
//
// When no provider is configured (or the configured provider lacks an API
// key), the fallbackTranscript — typically text an on-device recognizer
// already produced — is returned at confidence 0.7, or an empty result at
// confidence 0 when there is no fallback text either. This path never
// returns an error. A configured provider that fails returns
// [ErrProviderUnavailable].
func (a *Adapter) Transcribe(ctx context.Context, audio io.Reader, fallbackTranscript string) (Result, error) {
	switch a.cfg.Provider {
	case "", ProviderNone:
		return fallbackResult(fallbackTranscript), nil

	case ProviderWhisper:
		if a.whisper == nil {
			// Configured but without credentials: expected path, fall back.
			return fallbackResult(fallbackTranscript), nil
		}
		var res Result
		err := a.breaker.Execute(func() error {
			var callErr error
			res, callErr = a.whisper.transcribe(ctx, audio)
			return callErr
		})
		if err != nil {
			// An open breaker surfaces the same way as a failed call: the
			// provider is unavailable either way.
			return Result{}, fmt.Errorf("%w: whisper: %v", ErrProviderUnavailable, err)
		}
		return res, nil

	case ProviderDeepgram:
		return Result{}, fmt.Errorf("%w: deepgram support is not implemented", ErrProviderUnavailable)

	default:
		return Result{}, fmt.Errorf("transcribe: unknown provider %q", a.cfg.Provider)
	}
}

// fallbackResult builds the deterministic no-provider response.
func fallbackResult(fallbackTranscript string) Result {
	text := strings.TrimSpace(fallbackTranscript)
	if text == "" {
		return Result{}
	}
	return Result{Transcript: text, Confidence: fallbackConfidence}
}
