package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Engine    EngineConfig    `yaml:"engine" mapstructure:"engine"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Pipelines PipelinesConfig `yaml:"pipelines" mapstructure:"pipelines"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	MaxTokens          int  `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxFailovers       int  `yaml:"max_failovers" mapstructure:"max_failovers"`
	CallTimeoutSecs    int  `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	LedgerRetries      int  `yaml:"ledger_retries" mapstructure:"ledger_retries"`
	RefundRetries      int  `yaml:"refund_retries" mapstructure:"refund_retries"`
	RefundIntervalSecs int  `yaml:"refund_interval_secs" mapstructure:"refund_interval_secs"`
	ProbeIntervalSecs  int  `yaml:"probe_interval_secs" mapstructure:"probe_interval_secs"`
	BreakerThreshold   int  `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int  `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	MetricsReport      bool `yaml:"metrics_report" mapstructure:"metrics_report"`
}

// AnthropicConfig holds Anthropic API settings. Models maps pipeline model
// classes to concrete model IDs.
type AnthropicConfig struct {
	Key     string            `yaml:"key" mapstructure:"key"`
	BaseURL string            `yaml:"base_url" mapstructure:"base_url"`
	Models  map[string]string `yaml:"models" mapstructure:"models"`
}

// OpenAIConfig holds OpenAI-compatible API settings.
type OpenAIConfig struct {
	Key     string            `yaml:"key" mapstructure:"key"`
	BaseURL string            `yaml:"base_url" mapstructure:"base_url"`
	Models  map[string]string `yaml:"models" mapstructure:"models"`
}

// PipelinesConfig points at the routing and technique tables. Empty paths
// fall back to the compiled-in defaults.
type PipelinesConfig struct {
	PipelineFile  string `yaml:"pipeline_file" mapstructure:"pipeline_file"`
	TechniqueFile string `yaml:"technique_file" mapstructure:"technique_file"`
}

// PricingConfig holds the credit pricing table.
type PricingConfig struct {
	PerTechnique    int64              `yaml:"per_technique" mapstructure:"per_technique"`
	PerInputChunk   int64              `yaml:"per_input_chunk" mapstructure:"per_input_chunk"`
	InputChunkSize  int                `yaml:"input_chunk_size" mapstructure:"input_chunk_size"`
	AdjustThreshold float64            `yaml:"adjust_threshold" mapstructure:"adjust_threshold"`
	ModeMultiplier  map[string]float64 `yaml:"mode_multiplier" mapstructure:"mode_multiplier"`
}

// RateLimitConfig configures the per-user limiter.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" mapstructure:"per_second"`
	Burst     int     `yaml:"burst" mapstructure:"burst"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "demon-engine.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.max_tokens", 2048)
	v.SetDefault("engine.max_failovers", 2)
	v.SetDefault("engine.call_timeout_secs", 30)
	v.SetDefault("engine.ledger_retries", 5)
	v.SetDefault("engine.refund_retries", 10)
	v.SetDefault("engine.refund_interval_secs", 15)
	v.SetDefault("engine.probe_interval_secs", 30)
	v.SetDefault("engine.breaker_threshold", 3)
	v.SetDefault("engine.breaker_reset_secs", 30)
	v.SetDefault("engine.metrics_report", true)
	v.SetDefault("anthropic.models", map[string]string{
		"fast":     "claude-haiku-4-5-20251001",
		"balanced": "claude-sonnet-4-5-20250929",
		"deep":     "claude-opus-4-6",
	})
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.models", map[string]string{
		"fast":     "gpt-4o-mini",
		"balanced": "gpt-4o",
	})
	v.SetDefault("pricing.per_technique", 1)
	v.SetDefault("pricing.per_input_chunk", 1)
	v.SetDefault("pricing.input_chunk_size", 2000)
	v.SetDefault("pricing.adjust_threshold", 0.20)
	v.SetDefault("pricing.mode_multiplier", map[string]float64{"free": 1.0, "pro": 1.5})
	v.SetDefault("ratelimit.per_second", 5)
	v.SetDefault("ratelimit.burst", 10)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
