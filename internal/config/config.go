// Package config provides the configuration schema and loader for the
// realtime tutor client.
package config

// LogLevel controls log verbosity for the client.
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

// Config is the root configuration structure for the tutor client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds logging and metrics settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus metrics endpoint listens
	// on (e.g., ":9091"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// SessionConfig describes the live conversation endpoint and persona.
type SessionConfig struct {
	// APIKey is the authentication key for the live API. When empty the
	// GEMINI_API_KEY environment variable is consulted at load time.
	APIKey string `yaml:"api_key"`

	// Model selects the realtime model (e.g., "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`

	// BaseURL overrides the default websocket endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Voice is the prebuilt voice name used for model speech.
	Voice string `yaml:"voice"`

	// Instructions is the persona text injected as the system instruction.
	Instructions string `yaml:"instructions"`
}

// AudioConfig holds the PCM formats on both sides of the conversation.
type AudioConfig struct {
	// InputRate is the microphone capture sample rate in Hz.
	InputRate int `yaml:"input_rate"`

	// OutputRate is the playback sample rate in Hz. Model audio arriving at
	// a different rate is resampled to this.
	OutputRate int `yaml:"output_rate"`

	// FrameSamples is the number of samples per captured microphone frame.
	FrameSamples int `yaml:"frame_samples"`
}
