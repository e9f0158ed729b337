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

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.STT.Name == "" {
		slog.Warn("no STT provider configured; sessions will not produce transcripts")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; sessions will not generate responses")
	}

	if cfg.VAD.EnterThreshold <= cfg.VAD.ExitThreshold {
		errs = append(errs, fmt.Errorf("vad.enter_threshold %.4f must be greater than vad.exit_threshold %.4f", cfg.VAD.EnterThreshold, cfg.VAD.ExitThreshold))
	}
	if cfg.VAD.EnterThreshold < 0 || cfg.VAD.EnterThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.enter_threshold %.4f is out of range [0, 1]", cfg.VAD.EnterThreshold))
	}
	if cfg.VAD.ExitThreshold < 0 || cfg.VAD.ExitThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad.exit_threshold %.4f is out of range [0, 1]", cfg.VAD.ExitThreshold))
	}
	if cfg.VAD.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms must not be negative, got %d", cfg.VAD.MinSpeechMs))
	}

	if cfg.Pause.NaturalGapMs <= 0 {
		errs = append(errs, fmt.Errorf("pause.natural_gap_ms must be positive, got %d", cfg.Pause.NaturalGapMs))
	}
	if cfg.Pause.EndOfThoughtMs <= cfg.Pause.NaturalGapMs {
		errs = append(errs, fmt.Errorf("pause.end_of_thought_ms %d must be greater than pause.natural_gap_ms %d", cfg.Pause.EndOfThoughtMs, cfg.Pause.NaturalGapMs))
	}

	if cfg.BargeIn.CancelBudgetMs <= 0 {
		errs = append(errs, fmt.Errorf("barge_in.cancel_budget_ms must be positive, got %d", cfg.BargeIn.CancelBudgetMs))
	}

	if cfg.Session.IdleTTLMs <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_ttl_ms must be positive, got %d", cfg.Session.IdleTTLMs))
	}
	if cfg.Session.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("session.max_sessions must not be negative, got %d", cfg.Session.MaxSessions))
	}

	if cfg.EventBus.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("event_bus.capacity must be positive, got %d", cfg.EventBus.Capacity))
	}
	if cfg.AudioIngest.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("audio_ingest.capacity must be positive, got %d", cfg.AudioIngest.Capacity))
	}

	if cfg.Transcriber.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("transcriber.max_retries must not be negative, got %d", cfg.Transcriber.MaxRetries))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("audio.max_frame_bytes must be positive, got %d", cfg.Audio.MaxFrameBytes))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
