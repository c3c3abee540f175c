package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"pomconv/internal/model"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"

	envPrefix     = "POMCONV"
	openAIBaseURL = "https://api.openai.com"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Output   OutputConfig   `mapstructure:"output"`
	Batch    BatchConfig    `mapstructure:"batch"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	// ConvertTimeout bounds one conversion request end to end.
	ConvertTimeout time.Duration `mapstructure:"convert_timeout"`
}

type BackendConfig struct {
	Provider           string        `mapstructure:"provider"`
	BaseURL            string        `mapstructure:"base_url"`
	AlternateHosts     []string      `mapstructure:"alternate_hosts"`
	Scheme             string        `mapstructure:"scheme"`
	DefaultPort        int           `mapstructure:"default_port"`
	DiscoverOutboundIP bool          `mapstructure:"discover_outbound_ip"`
	APIKey             string        `mapstructure:"api_key"`
	Timeout            time.Duration `mapstructure:"timeout"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	DebugRequests      bool          `mapstructure:"debug_requests"`
}

// Remote reports whether the backend is a hosted API that needs a credential.
func (b BackendConfig) Remote() bool {
	return b.Provider == ProviderOpenAI
}

type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	RateLimitDelay    time.Duration `mapstructure:"rate_limit_delay"`
	RateLimitFactor   float64       `mapstructure:"rate_limit_factor"`
	RateLimitMaxDelay time.Duration `mapstructure:"rate_limit_max_delay"`
	RateLimitMaxWait  time.Duration `mapstructure:"rate_limit_max_wait"`
}

type PipelineConfig struct {
	AnalyzeModel       string  `mapstructure:"analyze_model"`
	BuildModel         string  `mapstructure:"build_model"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	AnalyzeTemperature float32 `mapstructure:"analyze_temperature"`
	BuildTemperature   float32 `mapstructure:"build_temperature"`
	TopP               float32 `mapstructure:"top_p"`
	AnalyzePrompt      string  `mapstructure:"analyze_prompt"`
	BuildPrompt        string  `mapstructure:"build_prompt"`
	RebuildPrompt      string  `mapstructure:"rebuild_prompt"`
	JSONReminder       string  `mapstructure:"json_reminder"`
	ValidateSyntax     bool    `mapstructure:"validate_syntax"`
	LogPayloadChars    int     `mapstructure:"log_payload_chars"`
}

type OutputConfig struct {
	Dir             string   `mapstructure:"dir"`
	Extension       string   `mapstructure:"extension"`
	AllowedPrefixes []string `mapstructure:"allowed_prefixes"`
	AllowedNames    []string `mapstructure:"allowed_names"`
}

type BatchConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	SourceExt     string        `mapstructure:"source_ext"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// flagKeys maps CLI flag names onto config keys for BindPFlag.
var flagKeys = map[string]string{
	"base-url":      "backend.base_url",
	"alt-host":      "backend.alternate_hosts",
	"provider":      "backend.provider",
	"analyze-model": "pipeline.analyze_model",
	"build-model":   "pipeline.build_model",
	"out":           "output.dir",
	"concurrency":   "batch.concurrency",
	"log-level":     "log.level",
}

// Load reads configPath (optional), POMCONV_* environment variables and any
// changed flags in flags (optional), then validates the result.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, &model.Error{Kind: model.KindConfiguration, Op: "read config", Err: err}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, &model.Error{Kind: model.KindConfiguration, Op: "bind flag " + name, Err: err}
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &model.Error{Kind: model.KindConfiguration, Op: "decode config", Err: err}
	}

	// The credential falls back to the conventional OpenAI variable.
	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Backend.Remote() && cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = openAIBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	var problems []string
	switch c.Backend.Provider {
	case ProviderLocal:
	case ProviderOpenAI:
		if c.Backend.APIKey == "" {
			problems = append(problems, "backend.api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	default:
		problems = append(problems, fmt.Sprintf("backend.provider %q is not one of local, openai", c.Backend.Provider))
	}
	if c.Backend.Timeout <= 0 {
		problems = append(problems, "backend.timeout must be positive")
	}
	if c.Backend.ProbeTimeout <= 0 || c.Backend.ProbeTimeout >= c.Backend.Timeout {
		problems = append(problems, "backend.probe_timeout must be positive and shorter than backend.timeout")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		problems = append(problems, "retry.base_delay must be non-negative and not above retry.max_delay")
	}
	if c.Retry.RateLimitFactor < 1 {
		problems = append(problems, "retry.rate_limit_factor must be at least 1")
	}
	if c.Pipeline.AnalyzeModel == "" || c.Pipeline.BuildModel == "" {
		problems = append(problems, "pipeline.analyze_model and pipeline.build_model are required")
	}
	if c.Pipeline.MaxTokens <= 0 {
		problems = append(problems, "pipeline.max_tokens must be positive")
	}
	if c.Batch.Concurrency < 1 {
		problems = append(problems, "batch.concurrency must be at least 1")
	}
	if len(problems) > 0 {
		return &model.Error{
			Kind: model.KindConfiguration,
			Op:   "validate",
			Err:  fmt.Errorf("%s", strings.Join(problems, "; ")),
		}
	}
	return nil
}
