package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Validate] when fields are left empty.
const (
	DefaultModel        = "gemini-2.0-flash-live-001"
	DefaultVoice        = "Kore"
	DefaultInputRate    = 16000
	DefaultOutputRate   = 24000
	DefaultFrameSamples = 1024
)

// KnownVoices lists the prebuilt voice names the live API currently offers.
// Used by [Validate] to warn about likely typos.
var KnownVoices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// Validate checks that cfg contains a coherent set of values, applying
// defaults for optional fields. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Session
	if cfg.Session.APIKey == "" {
		cfg.Session.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Session.APIKey == "" {
		errs = append(errs, errors.New("session.api_key is required (or set GEMINI_API_KEY)"))
	}
	if cfg.Session.Model == "" {
		cfg.Session.Model = DefaultModel
	}
	if cfg.Session.Voice == "" {
		cfg.Session.Voice = DefaultVoice
	} else if !slices.Contains(KnownVoices, cfg.Session.Voice) {
		slog.Warn("unknown voice name, may be a typo or a newly added voice",
			"voice", cfg.Session.Voice,
			"known", KnownVoices,
		)
	}

	// Audio
	if cfg.Audio.InputRate == 0 {
		cfg.Audio.InputRate = DefaultInputRate
	} else if cfg.Audio.InputRate < 8000 || cfg.Audio.InputRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.input_rate %d is out of range [8000, 48000]", cfg.Audio.InputRate))
	}
	if cfg.Audio.OutputRate == 0 {
		cfg.Audio.OutputRate = DefaultOutputRate
	} else if cfg.Audio.OutputRate < 8000 || cfg.Audio.OutputRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.output_rate %d is out of range [8000, 48000]", cfg.Audio.OutputRate))
	}
	if cfg.Audio.FrameSamples == 0 {
		cfg.Audio.FrameSamples = DefaultFrameSamples
	} else if cfg.Audio.FrameSamples < 64 || cfg.Audio.FrameSamples > 16384 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d is out of range [64, 16384]", cfg.Audio.FrameSamples))
	}

	return errors.Join(errs...)
}
