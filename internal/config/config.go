// Package config provides the configuration schema, loader, and provider
// registry for the loqua server.
package config

import "time"

// LogLevel controls log verbosity for the server.
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

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader]; zero-valued fields receive
// defaults during loading.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	VAD         VADConfig         `yaml:"vad"`
	Pause       PauseConfig       `yaml:"pause"`
	BargeIn     BargeInConfig     `yaml:"barge_in"`
	Session     SessionConfig     `yaml:"session"`
	EventBus    EventBusConfig    `yaml:"event_bus"`
	AudioIngest AudioIngestConfig `yaml:"audio_ingest"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Audio       AudioConfig       `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// VADConfig tunes the energy voice activity detector. Thresholds are
// RMS values normalized to [0, 1].
type VADConfig struct {
	EnterThreshold float64 `yaml:"enter_threshold"`
	ExitThreshold  float64 `yaml:"exit_threshold"`
	MinSpeechMs    int     `yaml:"min_speech_ms"`
	HangoverMs     int     `yaml:"hangover_ms"`
}

// PauseConfig holds the silence classification boundaries.
type PauseConfig struct {
	// NaturalGapMs is the silence below which a gap is treated as part of an
	// ongoing utterance.
	NaturalGapMs int `yaml:"natural_gap_ms"`

	// EndOfThoughtMs is the silence at or above which the speaker is
	// considered done regardless of sentence structure.
	EndOfThoughtMs int `yaml:"end_of_thought_ms"`
}

// NaturalGap returns the natural gap boundary as a duration.
func (p PauseConfig) NaturalGap() time.Duration {
	return time.Duration(p.NaturalGapMs) * time.Millisecond
}

// EndOfThought returns the long pause boundary as a duration.
func (p PauseConfig) EndOfThought() time.Duration {
	return time.Duration(p.EndOfThoughtMs) * time.Millisecond
}

// BargeInConfig tunes response interruption.
type BargeInConfig struct {
	// CancelBudgetMs is the time the session waits for an interrupted
	// generation stream to terminate before force-detaching from it.
	CancelBudgetMs int `yaml:"cancel_budget_ms"`
}

// CancelBudget returns the cancellation budget as a duration.
func (b BargeInConfig) CancelBudget() time.Duration {
	return time.Duration(b.CancelBudgetMs) * time.Millisecond
}

// SessionConfig governs session lifecycle limits.
type SessionConfig struct {
	// IdleTTLMs is the inactivity timeout after which a session is expired by
	// the sweeper.
	IdleTTLMs int `yaml:"idle_ttl_ms"`

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	// SweepIntervalMs is how often the supervisor scans for idle sessions.
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
}

// IdleTTL returns the inactivity timeout as a duration.
func (s SessionConfig) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLMs) * time.Millisecond
}

// SweepInterval returns the sweep interval as a duration.
func (s SessionConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalMs) * time.Millisecond
}

// EventBusConfig sizes the per-session outbound event queue.
type EventBusConfig struct {
	Capacity int `yaml:"capacity"`
}

// AudioIngestConfig sizes the per-session inbound audio queue.
type AudioIngestConfig struct {
	Capacity int `yaml:"capacity"`

	// OverrunTimeoutMs is how long an inbound frame may wait for queue space
	// before the session declares an ingest overrun and closes.
	OverrunTimeoutMs int `yaml:"overrun_timeout_ms"`
}

// OverrunTimeout returns the overrun timeout as a duration.
func (a AudioIngestConfig) OverrunTimeout() time.Duration {
	return time.Duration(a.OverrunTimeoutMs) * time.Millisecond
}

// TranscriberConfig governs STT stream retry behaviour.
type TranscriberConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	BackoffInitialMs int `yaml:"backoff_initial_ms"`
}

// BackoffInitial returns the initial retry backoff as a duration.
func (t TranscriberConfig) BackoffInitial() time.Duration {
	return time.Duration(t.BackoffInitialMs) * time.Millisecond
}

// AudioConfig describes the expected inbound audio format.
type AudioConfig struct {
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// MaxFrameBytes is the largest accepted binary audio frame.
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	// MinFrameMs is the shortest accepted audio frame.
	MinFrameMs int `yaml:"min_frame_ms"`
}

// Default returns a Config populated with every default value.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued fields after decoding.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.VAD.EnterThreshold == 0 {
		cfg.VAD.EnterThreshold = 0.01
	}
	if cfg.VAD.ExitThreshold == 0 {
		cfg.VAD.ExitThreshold = 0.005
	}
	if cfg.VAD.MinSpeechMs == 0 {
		cfg.VAD.MinSpeechMs = 100
	}
	if cfg.VAD.HangoverMs == 0 {
		cfg.VAD.HangoverMs = 200
	}
	if cfg.Pause.NaturalGapMs == 0 {
		cfg.Pause.NaturalGapMs = 1000
	}
	if cfg.Pause.EndOfThoughtMs == 0 {
		cfg.Pause.EndOfThoughtMs = 3000
	}
	if cfg.BargeIn.CancelBudgetMs == 0 {
		cfg.BargeIn.CancelBudgetMs = 200
	}
	if cfg.Session.IdleTTLMs == 0 {
		cfg.Session.IdleTTLMs = 1_800_000
	}
	if cfg.Session.SweepIntervalMs == 0 {
		cfg.Session.SweepIntervalMs = 60_000
	}
	if cfg.EventBus.Capacity == 0 {
		cfg.EventBus.Capacity = 256
	}
	if cfg.AudioIngest.Capacity == 0 {
		cfg.AudioIngest.Capacity = 64
	}
	if cfg.AudioIngest.OverrunTimeoutMs == 0 {
		cfg.AudioIngest.OverrunTimeoutMs = 500
	}
	if cfg.Transcriber.MaxRetries == 0 {
		cfg.Transcriber.MaxRetries = 2
	}
	if cfg.Transcriber.BackoffInitialMs == 0 {
		cfg.Transcriber.BackoffInitialMs = 250
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = 16_000
	}
	if cfg.Audio.MaxFrameBytes == 0 {
		cfg.Audio.MaxFrameBytes = 64 * 1024
	}
	if cfg.Audio.MinFrameMs == 0 {
		cfg.Audio.MinFrameMs = 10
	}
}
