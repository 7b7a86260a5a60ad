// Package config provides the configuration schema, loader, and validation
// for the voicelink bridge.
package config

import "time"

// LogLevel controls log verbosity for the bridge.
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

// TTSMode selects how bot speech is produced.
type TTSMode string

const (
	// TTSModeAuto picks realtime when a realtime model is configured,
	// chunked otherwise.
	TTSModeAuto TTSMode = "auto"

	// TTSModeRealtime uses a single bidirectional realtime session for
	// STT, response generation, and speech.
	TTSModeRealtime TTSMode = "realtime"

	// TTSModeChunked composes separate STT, agent, and TTS services with
	// sentence-level parallel synthesis.
	TTSModeChunked TTSMode = "chunked"
)

// IsValid reports whether m is a recognised TTS mode.
func (m TTSMode) IsValid() bool {
	switch m {
	case TTSModeAuto, TTSModeRealtime, TTSModeChunked:
		return true
	}
	return false
}

// AuthMode selects the authorization policy for inbound auth_request messages.
type AuthMode string

const (
	AuthDisabled   AuthMode = "disabled"
	AuthOpen       AuthMode = "open"
	AuthAllowlist  AuthMode = "allowlist"
	AuthTenantOnly AuthMode = "tenant-only"
)

// IsValid reports whether m is a recognised authorization mode.
func (m AuthMode) IsValid() bool {
	switch m {
	case AuthDisabled, AuthOpen, AuthAllowlist, AuthTenantOnly:
		return true
	}
	return false
}

// OutboundMode is the default conversational behaviour of an outbound call.
type OutboundMode string

const (
	// OutboundNotify speaks the greeting and hangs up.
	OutboundNotify OutboundMode = "notify"

	// OutboundConversation speaks the greeting and then runs the normal
	// voice loop.
	OutboundConversation OutboundMode = "conversation"
)

// IsValid reports whether m is a recognised outbound mode.
func (m OutboundMode) IsValid() bool {
	return m == OutboundNotify || m == OutboundConversation
}

// Config is the root configuration structure for the bridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Bridge        BridgeConfig    `yaml:"bridge"`
	Serve         ServeConfig     `yaml:"serve"`
	Inbound       InboundConfig   `yaml:"inbound"`
	Outbound      OutboundConfig  `yaml:"outbound"`
	TTS           TTSConfig       `yaml:"tts"`
	Streaming     StreamingConfig `yaml:"streaming"`
	Realtime      RealtimeConfig  `yaml:"realtime"`
	Authorization AuthConfig      `yaml:"authorization"`
	Providers     ProvidersConfig `yaml:"providers"`
	Memory        MemoryConfig    `yaml:"memory"`

	// MaxConcurrentCalls caps simultaneous sessions (1–100, default 5).
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// MaxDurationSeconds caps a single call's lifetime (60–86400, default 3600).
	MaxDurationSeconds int `yaml:"max_duration_seconds"`

	// ResponseModel is the agent model used in chunked mode.
	ResponseModel string `yaml:"response_model"`

	// ResponseSystemPrompt is the agent system prompt.
	ResponseSystemPrompt string `yaml:"response_system_prompt"`

	// ResponseTimeoutMs bounds agent response generation (default 30000).
	ResponseTimeoutMs int `yaml:"response_timeout_ms"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BridgeConfig holds the shared-secret handshake settings.
type BridgeConfig struct {
	// Secret is presented by the gateway in the X-Bridge-Secret header on
	// upgrade. Required; must be at least [MinSecretLen] characters.
	Secret string `yaml:"secret"`
}

// ServeConfig holds the WebSocket listener settings.
type ServeConfig struct {
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"`
	Path string `yaml:"path"`
}

// InboundConfig controls inbound call handling.
type InboundConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Greeting string `yaml:"greeting"`
}

// OutboundConfig controls bridge-initiated calls.
type OutboundConfig struct {
	Enabled       bool         `yaml:"enabled"`
	RingTimeoutMs int          `yaml:"ring_timeout_ms"`
	DefaultMode   OutboundMode `yaml:"default_mode"`
}

// TTSConfig selects the speech synthesis model for chunked mode.
type TTSConfig struct {
	Model string `yaml:"model"`
	Voice string `yaml:"voice"`

	// Speed scales speaking rate in the range [0.25, 4.0]. 0 means default.
	Speed float64 `yaml:"speed"`

	// Instructions optionally steer delivery style.
	Instructions string `yaml:"instructions"`
}

// StreamingConfig tunes the chunked-mode pipeline.
type StreamingConfig struct {
	STTModel           string  `yaml:"stt_model"`
	SilenceDurationMs  int     `yaml:"silence_duration_ms"` // 100–5000
	VADThreshold       float64 `yaml:"vad_threshold"`       // 0–1
	SentenceMinChars   int     `yaml:"sentence_min_chars"`  // 10–200, default 20
	SentenceMaxChars   int     `yaml:"sentence_max_chars"`  // 50–500, default 200
	MaxParallelTTS     int     `yaml:"max_parallel_tts"`    // 1–5, default 3
	JitterBufferFrames int     `yaml:"jitter_buffer_frames"` // 10–100, default 25
	TTSMode            TTSMode `yaml:"tts_mode"`
	RealtimeModel      string  `yaml:"realtime_model"`
}

// TurnDetectionConfig configures server-side voice activity detection for the
// realtime session.
type TurnDetectionConfig struct {
	Type              string  `yaml:"type"` // "server-vad" or "none"
	Threshold         float64 `yaml:"threshold"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
}

// RealtimeToolsConfig filters the tools advertised to the realtime model.
// Allow replaces the built-in voice-safe allow set; Deny is unioned with the
// built-in deny set. Deny always wins.
type RealtimeToolsConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// RealtimeConfig configures the realtime voice agent.
type RealtimeConfig struct {
	Model         string              `yaml:"model"`
	Voice         string              `yaml:"voice"`
	TurnDetection TurnDetectionConfig `yaml:"turn_detection"`
	Tools         RealtimeToolsConfig `yaml:"tools"`

	// MaxSessionDurationMs ends the upstream session after this long.
	// Default 840000 (14 min); hard cap 900000 (15 min).
	MaxSessionDurationMs int `yaml:"max_session_duration_ms"`
}

// AuthConfig is the authorization policy for inbound calls.
type AuthConfig struct {
	Mode           AuthMode `yaml:"mode"`
	AllowFrom      []string `yaml:"allow_from"`
	AllowedTenants []string `yaml:"allowed_tenants"`
	AllowPSTN      bool     `yaml:"allow_pstn"`
}

// ProvidersConfig selects the upstream service implementations.
type ProvidersConfig struct {
	STT      ProviderEntry `yaml:"stt"`
	TTS      ProviderEntry `yaml:"tts"`
	Agent    ProviderEntry `yaml:"agent"`
	Realtime ProviderEntry `yaml:"realtime"`
}

// ProviderEntry is the common configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the implementation (e.g., "openai", "anyllm").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Falls back to the
	// VOICELINK_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint (tests, proxies).
	BaseURL string `yaml:"base_url"`

	// Backend names the any-llm-go backend for the "anyllm" agent provider
	// (e.g., "anthropic", "groq", "ollama").
	Backend string `yaml:"backend"`
}

// MemoryConfig holds settings for the external session store.
type MemoryConfig struct {
	// PostgresDSN is the connection string for the session record store.
	// Empty disables recording (records are dropped with a warning).
	PostgresDSN string `yaml:"postgres_dsn"`

	// StorePath namespaces records within the store.
	StorePath string `yaml:"store_path"`
}

// Hard limits and defaults.
const (
	MinSecretLen = 32

	DefaultSentenceMinChars   = 20
	DefaultSentenceMaxChars   = 200
	DefaultMaxParallelTTS     = 3
	DefaultJitterBufferFrames = 25
	DefaultMaxConcurrentCalls = 5
	DefaultMaxDurationSeconds = 3600
	DefaultRingTimeoutMs      = 30000
	DefaultResponseTimeoutMs  = 30000
	DefaultSessionDurationMs  = 840000
	MaxSessionDurationCapMs   = 900000
)

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Serve.Port == 0 {
		c.Serve.Port = 8080
	}
	if c.Serve.Path == "" {
		c.Serve.Path = "/ws"
	}
	if c.Streaming.SentenceMinChars == 0 {
		c.Streaming.SentenceMinChars = DefaultSentenceMinChars
	}
	if c.Streaming.SentenceMaxChars == 0 {
		c.Streaming.SentenceMaxChars = DefaultSentenceMaxChars
	}
	if c.Streaming.MaxParallelTTS == 0 {
		c.Streaming.MaxParallelTTS = DefaultMaxParallelTTS
	}
	if c.Streaming.JitterBufferFrames == 0 {
		c.Streaming.JitterBufferFrames = DefaultJitterBufferFrames
	}
	if c.Streaming.TTSMode == "" {
		c.Streaming.TTSMode = TTSModeAuto
	}
	if c.Realtime.MaxSessionDurationMs == 0 {
		c.Realtime.MaxSessionDurationMs = DefaultSessionDurationMs
	}
	if c.Outbound.RingTimeoutMs == 0 {
		c.Outbound.RingTimeoutMs = DefaultRingTimeoutMs
	}
	if c.Outbound.DefaultMode == "" {
		c.Outbound.DefaultMode = OutboundNotify
	}
	if c.MaxConcurrentCalls == 0 {
		c.MaxConcurrentCalls = DefaultMaxConcurrentCalls
	}
	if c.MaxDurationSeconds == 0 {
		c.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	if c.ResponseTimeoutMs == 0 {
		c.ResponseTimeoutMs = DefaultResponseTimeoutMs
	}
	if c.Authorization.Mode == "" {
		c.Authorization.Mode = AuthDisabled
	}
	if c.LogLevel == "" {
		c.LogLevel = LogInfo
	}
}

// EffectiveTTSMode resolves the "auto" mode: realtime when a realtime model is
// configured, chunked otherwise.
func (c *Config) EffectiveTTSMode() TTSMode {
	if c.Streaming.TTSMode != TTSModeAuto {
		return c.Streaming.TTSMode
	}
	if c.Streaming.RealtimeModel != "" || c.Realtime.Model != "" {
		return TTSModeRealtime
	}
	return TTSModeChunked
}

// MaxCallDuration returns the configured per-call lifetime cap.
func (c *Config) MaxCallDuration() time.Duration {
	return time.Duration(c.MaxDurationSeconds) * time.Second
}

// ResponseTimeout returns the agent response generation timeout.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMs) * time.Millisecond
}

// RingTimeout returns the outbound ring timeout.
func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.Outbound.RingTimeoutMs) * time.Millisecond
}

// SessionDuration returns the realtime session lifetime cap.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.Realtime.MaxSessionDurationMs) * time.Millisecond
}
