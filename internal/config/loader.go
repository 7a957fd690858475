package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/coraltel/audiohookbridge/internal/ratelimit"
)

// Environment variable names used to overlay secrets onto a loaded Config,
// so that API keys never need to live in a committed YAML file.
const (
	envCarrierAPIKey  = "GENESYS_API_KEY"
	envProviderAPIKey = "OPENAI_API_KEY"
)

// Load reads, decodes, overlays environment secrets onto, and validates the
// configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a Config from r using strict (unknown-field-
// rejecting) YAML decoding, applies defaults, overlays environment secrets,
// and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	applyDefaults(&cfg)
	overlayEnv(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in zero-valued fields with the bridge's standard
// defaults, matching the Genesys AudioHook and OpenAI Realtime reference
// parameters.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogLevelInfo
	}

	if cfg.Carrier.Path == "" {
		cfg.Carrier.Path = "/audiohook"
	}
	if cfg.Carrier.MsgRateLimit == 0 {
		cfg.Carrier.MsgRateLimit = 5
	}
	if cfg.Carrier.MsgBurstLimit == 0 {
		cfg.Carrier.MsgBurstLimit = 25
	}
	if cfg.Carrier.BinaryRateLimit == 0 {
		cfg.Carrier.BinaryRateLimit = 5
	}
	if cfg.Carrier.BinaryBurstLimit == 0 {
		cfg.Carrier.BinaryBurstLimit = 25
	}
	if cfg.Carrier.RateWindowSeconds == 0 {
		cfg.Carrier.RateWindowSeconds = 1.0
	}

	if cfg.Provider.Model == "" {
		cfg.Provider.Model = "gpt-realtime"
	}
	if cfg.Provider.DefaultAgentName == "" {
		cfg.Provider.DefaultAgentName = "the assistant"
	}
	if cfg.Provider.DefaultCompanyName == "" {
		cfg.Provider.DefaultCompanyName = "our company"
	}
	if cfg.Provider.DefaultTemperature == 0 {
		cfg.Provider.DefaultTemperature = 0.8
	}
	if cfg.Provider.MaxOutputTokens == "" {
		cfg.Provider.MaxOutputTokens = "inf"
	}
	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = ratelimit.DefaultMaxRetries
	}
	if len(cfg.Provider.RateLimitPhases) == 0 {
		for _, p := range ratelimit.DefaultPhases {
			cfg.Provider.RateLimitPhases = append(cfg.Provider.RateLimitPhases, RateLimitPhase{
				WindowSeconds: p.Window.Seconds(),
				DelaySeconds:  p.Delay.Seconds(),
			})
		}
	}
	if cfg.Provider.AudioFormat == "" {
		cfg.Provider.AudioFormat = "pcmu"
	}
	if cfg.Provider.PCM16UplinkRate == 0 {
		cfg.Provider.PCM16UplinkRate = 16000
	}
	if cfg.Provider.PCM16DownlinkRate == 0 {
		cfg.Provider.PCM16DownlinkRate = 24000
	}

	if cfg.Pacer.MaxBufferSize == 0 {
		cfg.Pacer.MaxBufferSize = 50
	}
	if cfg.Pacer.FrameSendIntervalSeconds == 0 {
		cfg.Pacer.FrameSendIntervalSeconds = 0.15
	}

	if cfg.Prompts.EndingTemperature == 0 {
		cfg.Prompts.EndingTemperature = 0.3
	}
}

// overlayEnv applies secret overrides from the environment, taking
// precedence over whatever a YAML file may have set.
func overlayEnv(cfg *Config) {
	if v := os.Getenv(envCarrierAPIKey); v != "" {
		cfg.Carrier.APIKey = v
	}
	if v := os.Getenv(envProviderAPIKey); v != "" {
		cfg.Provider.APIKey = v
	}
}

// Validate checks cfg for internal consistency, collecting every violation
// found rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: invalid value %q", cfg.Server.LogLevel))
	}

	if cfg.Carrier.APIKey == "" {
		errs = append(errs, errors.New("carrier.api_key is required (set directly or via "+envCarrierAPIKey+")"))
	}
	if cfg.Carrier.Path == "" || cfg.Carrier.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("carrier.path: must be a non-empty absolute path, got %q", cfg.Carrier.Path))
	}
	errs = append(errs, validatePositive("carrier.msg_rate_limit", cfg.Carrier.MsgRateLimit))
	errs = append(errs, validatePositive("carrier.msg_burst_limit", cfg.Carrier.MsgBurstLimit))
	errs = append(errs, validatePositive("carrier.binary_rate_limit", cfg.Carrier.BinaryRateLimit))
	errs = append(errs, validatePositive("carrier.binary_burst_limit", cfg.Carrier.BinaryBurstLimit))
	errs = append(errs, validatePositive("carrier.rate_window_seconds", cfg.Carrier.RateWindowSeconds))

	if cfg.Provider.APIKey == "" {
		errs = append(errs, errors.New("provider.api_key is required (set directly or via "+envProviderAPIKey+")"))
	}
	if cfg.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model is required"))
	}
	if cfg.Provider.DefaultTemperature < 0.6 || cfg.Provider.DefaultTemperature > 1.2 {
		errs = append(errs, fmt.Errorf("provider.default_temperature: %v is outside the supported range [0.6, 1.2]", cfg.Provider.DefaultTemperature))
	}
	if cfg.Provider.MaxOutputTokens != "inf" {
		n, err := strconv.Atoi(cfg.Provider.MaxOutputTokens)
		if err != nil || n < 1 || n > 4096 {
			errs = append(errs, fmt.Errorf("provider.max_output_tokens: %q must be \"inf\" or an integer in [1, 4096]", cfg.Provider.MaxOutputTokens))
		}
	}
	if cfg.Provider.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("provider.max_retries: must be >= 1, got %d", cfg.Provider.MaxRetries))
	}
	if err := validatePhases(cfg.Provider.RateLimitPhases); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Provider.AudioFormat {
	case "", "pcmu", "pcm16":
	default:
		errs = append(errs, fmt.Errorf("provider.audio_format: must be \"pcmu\" or \"pcm16\", got %q", cfg.Provider.AudioFormat))
	}
	if cfg.Provider.AudioFormat == "pcm16" {
		errs = append(errs, validatePositiveInt("provider.pcm16_uplink_rate", cfg.Provider.PCM16UplinkRate))
		errs = append(errs, validatePositiveInt("provider.pcm16_downlink_rate", cfg.Provider.PCM16DownlinkRate))
	}

	errs = append(errs, validatePositiveInt("pacer.max_buffer_size", cfg.Pacer.MaxBufferSize))
	errs = append(errs, validatePositive("pacer.frame_send_interval_seconds", cfg.Pacer.FrameSendIntervalSeconds))

	for i, s := range cfg.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
		}
		if !s.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): invalid transport %q", i, s.Name, s.Transport))
			continue
		}
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): command is required for stdio transport", i, s.Name))
			}
		case "streamable-http":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): url is required for streamable-http transport", i, s.Name))
			}
		}
	}

	return errors.Join(filterNil(errs)...)
}

func validatePositive(field string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%s: must be > 0, got %v", field, v)
	}
	return nil
}

func validatePositiveInt(field string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%s: must be > 0, got %d", field, v)
	}
	return nil
}

// validatePhases checks that a rate-limit phase table is ordered by
// ascending window and ends with an unbounded (zero-window) phase.
func validatePhases(phases []RateLimitPhase) error {
	if len(phases) == 0 {
		return errors.New("provider.rate_limit_phases: must not be empty")
	}
	for i, p := range phases {
		if p.DelaySeconds < 0 {
			return fmt.Errorf("provider.rate_limit_phases[%d]: delay_seconds must be >= 0", i)
		}
		isLast := i == len(phases)-1
		if isLast && p.WindowSeconds != 0 {
			return fmt.Errorf("provider.rate_limit_phases[%d]: the final phase must have window_seconds 0 (unbounded)", i)
		}
		if !isLast && p.WindowSeconds <= 0 {
			return fmt.Errorf("provider.rate_limit_phases[%d]: window_seconds must be > 0 for all but the final phase", i)
		}
		if !isLast && p.WindowSeconds >= phases[i+1].WindowSeconds && phases[i+1].WindowSeconds != 0 {
			return fmt.Errorf("provider.rate_limit_phases[%d]: windows must be strictly ascending", i)
		}
	}
	return nil
}

func filterNil(errs []error) []error {
	out := errs[:0]
	for _, e := range errs {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
