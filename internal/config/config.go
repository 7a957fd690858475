// Package config provides the configuration schema, loader, and provider
// registry for the audiohook bridge.
package config

import "github.com/coraltel/audiohookbridge/internal/mcp"

// Config is the root configuration structure for the bridge. It is
// typically loaded from a YAML file using [Load] or [LoadFromReader], with
// secrets overlaid from the environment afterward.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Carrier     CarrierConfig     `yaml:"carrier"`
	Provider    ProviderConfig    `yaml:"provider"`
	Pacer       PacerConfig       `yaml:"pacer"`
	Prompts     PromptsConfig     `yaml:"prompts"`
	DataActions DataActionsConfig `yaml:"data_actions"`
	MCP         MCPConfig         `yaml:"mcp"`
}

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ServerConfig holds network, logging, and telemetry settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// Debug enables verbose per-frame logging of carrier and provider traffic.
	Debug bool `yaml:"debug"`
}

// CarrierConfig holds the AudioHook server's own settings: the required
// handshake secret and the two outbound token buckets.
type CarrierConfig struct {
	// APIKey is the shared secret the carrier must present in the
	// x-api-key header on every handshake. Overridable via the
	// GENESYS_API_KEY environment variable; required.
	APIKey string `yaml:"api_key"`

	// Path is the WebSocket upgrade path. Defaults to "/audiohook".
	Path string `yaml:"path"`

	// MsgRateLimit/MsgBurstLimit bound the JSON control-message bucket in
	// messages per RateWindowSeconds / burst capacity.
	MsgRateLimit  float64 `yaml:"msg_rate_limit"`
	MsgBurstLimit float64 `yaml:"msg_burst_limit"`

	// BinaryRateLimit/BinaryBurstLimit bound the binary audio-frame bucket.
	BinaryRateLimit  float64 `yaml:"binary_rate_limit"`
	BinaryBurstLimit float64 `yaml:"binary_burst_limit"`

	// RateWindowSeconds is the window both buckets' rates are expressed
	// over, and the default Retry-After when the carrier signals 429
	// without one of its own.
	RateWindowSeconds float64 `yaml:"rate_window_seconds"`
}

// ProviderConfig holds the model-provider's connection defaults and
// rate-limit backoff schedule.
type ProviderConfig struct {
	// APIKey is the bearer token presented to the provider. Overridable via
	// the OPENAI_API_KEY environment variable; required.
	APIKey string `yaml:"api_key"`

	// Model is the provider's model identifier.
	Model string `yaml:"model"`

	// RealtimeURL overrides the provider's default WebSocket endpoint.
	// Leave empty to derive it from Model.
	RealtimeURL string `yaml:"realtime_url"`

	// DefaultAgentName/DefaultCompanyName substitute for the
	// "[AGENT_NAME]"/"[COMPANY_NAME]" placeholders when a carrier session
	// does not supply its own.
	DefaultAgentName   string `yaml:"default_agent_name"`
	DefaultCompanyName string `yaml:"default_company_name"`

	// DefaultTemperature is used when a session does not supply one. Legal
	// range is [0.6, 1.2]; out-of-range values are clamped at connect time.
	DefaultTemperature float64 `yaml:"default_temperature"`

	// MaxOutputTokens is either "inf" or a decimal integer in [1, 4096].
	MaxOutputTokens string `yaml:"max_output_tokens"`

	// MaxRetries bounds consecutive provider rate-limit responses before a
	// session fails.
	MaxRetries int `yaml:"max_retries"`

	// RateLimitPhases is the session-age-keyed backoff schedule. The last
	// entry's WindowSeconds must be 0 (unbounded).
	RateLimitPhases []RateLimitPhase `yaml:"rate_limit_phases"`

	// AudioFormat selects the wire format negotiated with the provider:
	// "pcmu" (default, no transcoding since the carrier leg is already
	// PCMU/8000) or "pcm16" (linear PCM, transcoded through pkg/audio at
	// PCM16UplinkRate/PCM16DownlinkRate).
	AudioFormat string `yaml:"audio_format"`

	// PCM16UplinkRate is the sample rate, in Hz, the carrier's 8kHz µ-law
	// audio is resampled to before reaching the provider. Only meaningful
	// when AudioFormat is "pcm16".
	PCM16UplinkRate int `yaml:"pcm16_uplink_rate"`

	// PCM16DownlinkRate is the sample rate, in Hz, the provider's linear PCM
	// audio is assumed to arrive at before being resampled back to the
	// carrier's 8kHz µ-law. Only meaningful when AudioFormat is "pcm16".
	PCM16DownlinkRate int `yaml:"pcm16_downlink_rate"`
}

// RateLimitPhase associates a session-age window (in seconds; 0 means
// unbounded) with the backoff delay (in seconds) applied within it.
type RateLimitPhase struct {
	WindowSeconds float64 `yaml:"window_seconds"`
	DelaySeconds  float64 `yaml:"delay_seconds"`
}

// PacerConfig tunes the downlink audio pacer.
type PacerConfig struct {
	// MaxBufferSize bounds the number of queued outbound frames.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// FrameSendIntervalSeconds is the minimum time between consecutive
	// frame emissions.
	FrameSendIntervalSeconds float64 `yaml:"frame_send_interval_seconds"`
}

// PromptsConfig holds the deployment-wide prompt text not supplied
// per-session by the carrier.
type PromptsConfig struct {
	// EndingAnalysis is the instruction sent when requesting the
	// end-of-call structured summary.
	EndingAnalysis string `yaml:"ending_analysis"`

	// EndingTemperature is the sampling temperature used for that request.
	EndingTemperature float64 `yaml:"ending_temperature"`

	// EscalationInstructions is the farewell instruction used after
	// escalate_to_human fires. Empty uses a built-in default.
	EscalationInstructions string `yaml:"escalation_instructions"`

	// SuccessInstructions is the farewell instruction used after
	// end_conversation_successfully fires. Empty uses a built-in default.
	SuccessInstructions string `yaml:"success_instructions"`
}

// DataActionsConfig bounds how externally registered tools may be invoked.
type DataActionsConfig struct {
	// Allowlist restricts which tool names a session may invoke. Empty means
	// no restriction beyond what the MCP host exposes.
	Allowlist []string `yaml:"allowlist"`

	// MaxInvocationsPerSession caps the total number of data-action calls a
	// single session may make. Zero means no cap.
	MaxInvocationsPerSession int `yaml:"max_invocations_per_session"`

	// MaxArgBytes caps the size of a single call's JSON-encoded arguments.
	// Zero means no cap.
	MaxArgBytes int `yaml:"max_arg_bytes"`

	// ToolChoice mirrors OpenAI-style tool_choice semantics for data-action
	// calls: "auto" (default, any declared tool may be called), "none" or
	// "disabled" (reject every data-action call), or the literal name of the
	// one function allowed to be called.
	ToolChoice string `yaml:"tool_choice"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to
// for data-action tools. Each entry is decoded directly into
// [mcp.ServerConfig] and passed to [mcp.Host.RegisterServer] unchanged.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}
