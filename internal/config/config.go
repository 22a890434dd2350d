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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Dispatch   DispatchConfig   `yaml:"dispatch" mapstructure:"dispatch"`
	Fusion     FusionConfig     `yaml:"fusion" mapstructure:"fusion"`
	QA         QAConfig         `yaml:"qa" mapstructure:"qa"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the audit database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int     `yaml:"port" mapstructure:"port"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// RegistryConfig locates the backend roster file.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// DispatchConfig configures the verification fan-out.
type DispatchConfig struct {
	TimeoutMS      int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// FusionConfig holds the decision parameters.
type FusionConfig struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	Margin    float64 `yaml:"margin" mapstructure:"margin"`
}

// QAConfig configures the question-answering collaborator. Mode selects the
// implementation: "remote" for the retrieval service, "claude" for direct
// model calls, "off" to disable.
type QAConfig struct {
	Mode           string `yaml:"mode" mapstructure:"mode"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	Provider       string `yaml:"provider" mapstructure:"provider"`
	RetrievalCount int    `yaml:"retrieval_count" mapstructure:"retrieval_count"`
	AnthropicKey   string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicModel string `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	MaxTokens      int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// TelemetryConfig configures the async telemetry emitter.
type TelemetryConfig struct {
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours         int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	ErrorRateThreshold    float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
	TimeoutRateThreshold  float64 `yaml:"timeout_rate_threshold" mapstructure:"timeout_rate_threshold"`
	P95LatencyThresholdMS float64 `yaml:"p95_latency_threshold_ms" mapstructure:"p95_latency_threshold_ms"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IDFUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "idfuse.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 5*1024*1024)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("registry.path", "backends.yaml")
	v.SetDefault("dispatch.timeout_ms", 2000)
	v.SetDefault("dispatch.rate_limit_rps", 0)
	v.SetDefault("dispatch.rate_limit_burst", 1)
	v.SetDefault("fusion.threshold", 0.75)
	v.SetDefault("fusion.margin", 0.2)
	v.SetDefault("qa.mode", "off")
	v.SetDefault("qa.provider", "deepseek")
	v.SetDefault("qa.retrieval_count", 5)
	v.SetDefault("qa.anthropic_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("qa.max_tokens", 1024)
	v.SetDefault("telemetry.buffer_size", 256)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.error_rate_threshold", 0.1)
	v.SetDefault("monitoring.timeout_rate_threshold", 0.25)
	v.SetDefault("monitoring.p95_latency_threshold_ms", 5000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	if c.Fusion.Threshold < 0 || c.Fusion.Threshold > 1 {
		return eris.Errorf("config: fusion.threshold %v outside [0,1]", c.Fusion.Threshold)
	}
	if c.Fusion.Margin < 0 || c.Fusion.Margin > 1 {
		return eris.Errorf("config: fusion.margin %v outside [0,1]", c.Fusion.Margin)
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.QA.Mode {
	case "remote", "claude", "off":
	default:
		return eris.Errorf("config: unknown qa mode %q", c.QA.Mode)
	}
	if c.QA.Mode == "remote" && c.QA.BaseURL == "" {
		return eris.New("config: qa.base_url required in remote mode")
	}
	if c.QA.Mode == "claude" && c.QA.AnthropicKey == "" {
		return eris.New("config: qa.anthropic_key required in claude mode")
	}
	if c.Dispatch.TimeoutMS <= 0 {
		return eris.Errorf("config: dispatch.timeout_ms %d must be positive", c.Dispatch.TimeoutMS)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
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
