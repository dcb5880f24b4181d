package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transcription
	if !cfg.Transcription.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.provider %q is invalid; valid values: none, whisper, deepgram", cfg.Transcription.Provider))
	}

	// Capture overrides
	if cfg.Capture.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("capture.max_restarts %d must not be negative", cfg.Capture.MaxRestarts))
	}
	for name, d := range map[string]int64{
		"capture.restart_window":         int64(cfg.Capture.RestartWindow),
		"capture.restart_delay":          int64(cfg.Capture.RestartDelay),
		"capture.silence_threshold":      int64(cfg.Capture.SilenceThreshold),
		"capture.silence_check_interval": int64(cfg.Capture.SilenceCheckInterval),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	// Parser
	if cfg.Parser.DefaultPain < 0 || cfg.Parser.DefaultPain > 10 {
		errs = append(errs, fmt.Errorf("parser.default_pain %d is out of range [0, 10]", cfg.Parser.DefaultPain))
	}
	if cfg.Parser.FuzzyThreshold < 0 || cfg.Parser.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("parser.fuzzy_threshold %.2f is out of range [0, 1]", cfg.Parser.FuzzyThreshold))
	}

	// Medications: names are required and must be unique (case-sensitively;
	// the parser folds case itself).
	namesSeen := make(map[string]int, len(cfg.Parser.Medications))
	for i, med := range cfg.Parser.Medications {
		prefix := fmt.Sprintf("parser.medications[%d]", i)
		if med.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := namesSeen[med.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of parser.medications[%d]", prefix, med.Name, prev))
		}
		namesSeen[med.Name] = i
	}

	// Review thresholds
	if cfg.Review.MinFieldConfidence < 0 || cfg.Review.MinFieldConfidence > 1 {
		errs = append(errs, fmt.Errorf("review.min_field_confidence %.2f is out of range [0, 1]", cfg.Review.MinFieldConfidence))
	}
	if cfg.Review.MinOverallConfidence < 0 || cfg.Review.MinOverallConfidence > 1 {
		errs = append(errs, fmt.Errorf("review.min_overall_confidence %.2f is out of range [0, 1]", cfg.Review.MinOverallConfidence))
	}

	return errors.Join(errs...)
}
