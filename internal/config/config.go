// Package config provides the configuration schema, loader, and file watcher
// for the MigraLog dictation service.
package config

import (
	"time"

	"github.com/jhaensel/migralog/internal/capture"
	"github.com/jhaensel/migralog/internal/parse"
	"github.com/jhaensel/migralog/internal/transcribe"
)

// LogLevel controls log verbosity for the MigraLog server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for MigraLog.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Transcription transcribe.Config  `yaml:"transcription"`
	Capture       CaptureConfig      `yaml:"capture"`
	Parser        ParserConfig       `yaml:"parser"`
	Review        parse.ReviewPolicy `yaml:"review"`
}

// ServerConfig holds network and logging settings for the MigraLog server.
type ServerConfig struct {
	// ListenAddr is the TCP address the debug/metrics server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig overrides the capture controller's stability policy. Zero
// values fall back to the built-in defaults, so a config file only needs to
// name the knobs it wants to change.
type CaptureConfig struct {
	// MaxRestarts caps engine restarts within RestartWindow.
	MaxRestarts int `yaml:"max_restarts"`

	// RestartWindow is the rolling window the restart budget applies to.
	RestartWindow time.Duration `yaml:"restart_window"`

	// RestartDelay is the pause before a restart is issued.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// SilenceThreshold is how long without sound counts as a pause.
	SilenceThreshold time.Duration `yaml:"silence_threshold"`

	// SilenceCheckInterval is how often silence is evaluated.
	SilenceCheckInterval time.Duration `yaml:"silence_check_interval"`
}

// Policy merges the configured overrides onto [capture.DefaultPolicy].
func (c CaptureConfig) Policy() capture.Policy {
	p := capture.DefaultPolicy()
	if c.MaxRestarts > 0 {
		p.MaxRestarts = c.MaxRestarts
	}
	if c.RestartWindow > 0 {
		p.RestartWindow = c.RestartWindow
	}
	if c.RestartDelay > 0 {
		p.RestartDelay = c.RestartDelay
	}
	if c.SilenceThreshold > 0 {
		p.SilenceThreshold = c.SilenceThreshold
	}
	if c.SilenceCheckInterval > 0 {
		p.SilenceCheckInterval = c.SilenceCheckInterval
	}
	return p
}

// ParserConfig holds the extraction engine's tunables and the user's known
// medication list.
type ParserConfig struct {
	// DefaultPain is the intensity assumed when the transcript contains no
	// pain mention. Range [0, 10]; zero means "use the built-in default".
	DefaultPain int `yaml:"default_pain"`

	// FuzzyThreshold is the JaroWinkler score a medication-name match must
	// clear. Range (0, 1]; zero means "use the built-in default".
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// Medications is the user's known-medication list.
	Medications []MedicationConfig `yaml:"medications"`
}

// MedicationConfig is one known-medication entry.
type MedicationConfig struct {
	// ID is the stable identifier drafts link back to.
	ID string `yaml:"id"`

	// Name is the canonical medication name spoken names are matched
	// against.
	Name string `yaml:"name"`
}

// KnownMedications converts the configured list into the parser's type.
func (c ParserConfig) KnownMedications() []parse.KnownMedication {
	if len(c.Medications) == 0 {
		return nil
	}
	out := make([]parse.KnownMedication, len(c.Medications))
	for i, m := range c.Medications {
		out[i] = parse.KnownMedication{ID: m.ID, Name: m.Name}
	}
	return out
}

// ParserOptions builds the [parse.Parser] options this config describes.
func (cfg *Config) ParserOptions() []parse.Option {
	opts := []parse.Option{
		parse.WithKnownMedications(cfg.Parser.KnownMedications()),
	}
	if cfg.Parser.DefaultPain > 0 {
		opts = append(opts, parse.WithDefaultPain(cfg.Parser.DefaultPain))
	}
	if cfg.Parser.FuzzyThreshold > 0 {
		opts = append(opts, parse.WithFuzzyThreshold(cfg.Parser.FuzzyThreshold))
	}
	if cfg.Review != (parse.ReviewPolicy{}) {
		opts = append(opts, parse.WithReviewPolicy(cfg.Review))
	}
	return opts
}
