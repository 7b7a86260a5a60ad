package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv is the one environment variable the bridge consumes: the cloud
// speech API key, used when a provider entry leaves api_key empty.
const APIKeyEnv = "VOICELINK_API_KEY"

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

// LoadFromReader decodes a YAML config from r, applies defaults, resolves the
// API-key environment fallback, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	applyAPIKeyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyAPIKeyEnv fills empty provider api_key fields from [APIKeyEnv].
func applyAPIKeyEnv(cfg *Config) {
	key := os.Getenv(APIKeyEnv)
	if key == "" {
		return
	}
	for _, e := range []*ProviderEntry{
		&cfg.Providers.STT, &cfg.Providers.TTS,
		&cfg.Providers.Agent, &cfg.Providers.Realtime,
	} {
		if e.APIKey == "" {
			e.APIKey = key
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if len(cfg.Bridge.Secret) < MinSecretLen {
		errs = append(errs, fmt.Errorf("bridge.secret must be at least %d characters", MinSecretLen))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Serve.Port < 1 || cfg.Serve.Port > 65535 {
		errs = append(errs, fmt.Errorf("serve.port %d is out of range [1, 65535]", cfg.Serve.Port))
	}

	if cfg.TTS.Speed != 0 && (cfg.TTS.Speed < 0.25 || cfg.TTS.Speed > 4.0) {
		errs = append(errs, fmt.Errorf("tts.speed %.2f is out of range [0.25, 4.0]", cfg.TTS.Speed))
	}

	s := &cfg.Streaming
	if s.SilenceDurationMs != 0 && (s.SilenceDurationMs < 100 || s.SilenceDurationMs > 5000) {
		errs = append(errs, fmt.Errorf("streaming.silence_duration_ms %d is out of range [100, 5000]", s.SilenceDurationMs))
	}
	if s.VADThreshold < 0 || s.VADThreshold > 1 {
		errs = append(errs, fmt.Errorf("streaming.vad_threshold %.2f is out of range [0, 1]", s.VADThreshold))
	}
	if s.SentenceMinChars < 10 || s.SentenceMinChars > 200 {
		errs = append(errs, fmt.Errorf("streaming.sentence_min_chars %d is out of range [10, 200]", s.SentenceMinChars))
	}
	if s.SentenceMaxChars < 50 || s.SentenceMaxChars > 500 {
		errs = append(errs, fmt.Errorf("streaming.sentence_max_chars %d is out of range [50, 500]", s.SentenceMaxChars))
	}
	if s.SentenceMinChars >= s.SentenceMaxChars {
		errs = append(errs, fmt.Errorf("streaming.sentence_min_chars %d must be below sentence_max_chars %d", s.SentenceMinChars, s.SentenceMaxChars))
	}
	if s.MaxParallelTTS < 1 || s.MaxParallelTTS > 5 {
		errs = append(errs, fmt.Errorf("streaming.max_parallel_tts %d is out of range [1, 5]", s.MaxParallelTTS))
	}
	if s.JitterBufferFrames < 10 || s.JitterBufferFrames > 100 {
		errs = append(errs, fmt.Errorf("streaming.jitter_buffer_frames %d is out of range [10, 100]", s.JitterBufferFrames))
	}
	if !s.TTSMode.IsValid() {
		errs = append(errs, fmt.Errorf("streaming.tts_mode %q is invalid; valid values: auto, realtime, chunked", s.TTSMode))
	}

	rt := &cfg.Realtime
	if rt.MaxSessionDurationMs > MaxSessionDurationCapMs {
		errs = append(errs, fmt.Errorf("realtime.max_session_duration_ms %d exceeds the hard cap %d", rt.MaxSessionDurationMs, MaxSessionDurationCapMs))
	}
	switch rt.TurnDetection.Type {
	case "", "server-vad", "none":
	default:
		errs = append(errs, fmt.Errorf("realtime.turn_detection.type %q is invalid; valid values: server-vad, none", rt.TurnDetection.Type))
	}

	if !cfg.Authorization.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("authorization.mode %q is invalid; valid values: disabled, open, allowlist, tenant-only", cfg.Authorization.Mode))
	}
	if !cfg.Outbound.DefaultMode.IsValid() {
		errs = append(errs, fmt.Errorf("outbound.default_mode %q is invalid; valid values: notify, conversation", cfg.Outbound.DefaultMode))
	}

	if cfg.MaxConcurrentCalls < 1 || cfg.MaxConcurrentCalls > 100 {
		errs = append(errs, fmt.Errorf("max_concurrent_calls %d is out of range [1, 100]", cfg.MaxConcurrentCalls))
	}
	if cfg.MaxDurationSeconds < 60 || cfg.MaxDurationSeconds > 86400 {
		errs = append(errs, fmt.Errorf("max_duration_seconds %d is out of range [60, 86400]", cfg.MaxDurationSeconds))
	}

	if cfg.EffectiveTTSMode() == TTSModeRealtime && cfg.Realtime.Model == "" && cfg.Streaming.RealtimeModel == "" {
		errs = append(errs, errors.New("tts_mode realtime requires realtime.model or streaming.realtime_model"))
	}

	return errors.Join(errs...)
}
