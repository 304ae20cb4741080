// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geocode-pipeline/internal/notify"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Geocoder GeocoderConfig `yaml:"geocoder" mapstructure:"geocoder"`
	Verify   VerifyConfig   `yaml:"verify" mapstructure:"verify"`
	Queue    QueueConfig    `yaml:"queue" mapstructure:"queue"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Ref      RefConfig      `yaml:"ref" mapstructure:"ref"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GeocoderConfig configures the geocoding orchestrator and provider.
type GeocoderConfig struct {
	Provider         string      `yaml:"provider" mapstructure:"provider"`
	GoogleAPIKey     string      `yaml:"google_api_key" mapstructure:"google_api_key"`
	RateLimit        float64     `yaml:"rate_limit" mapstructure:"rate_limit"`
	UserAgent        string      `yaml:"user_agent" mapstructure:"user_agent"`
	MaxDistanceMiles float64     `yaml:"max_distance_miles" mapstructure:"max_distance_miles"`
	ScoreKeepFirst   bool        `yaml:"score_keep_first" mapstructure:"score_keep_first"`
	Retry            RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures provider call retries. Backoff fields use
// time.Duration strings.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff string  `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     string  `yaml:"max_backoff" mapstructure:"max_backoff"`
	Multiplier     float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// VerifyConfig configures the verification batch.
type VerifyConfig struct {
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	EditURLBase string `yaml:"edit_url_base" mapstructure:"edit_url_base"`
}

// QueueConfig configures the geocode work queue.
type QueueConfig struct {
	BatchSize    int    `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts  int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// NotifyConfig configures mismatch digest delivery. Kind is one of
// "log", "smtp", or "webhook".
type NotifyConfig struct {
	Kind       string            `yaml:"kind" mapstructure:"kind"`
	SMTP       notify.SMTPConfig `yaml:"smtp" mapstructure:"smtp"`
	WebhookURL string            `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// RefConfig configures the GeoNames reference import.
type RefConfig struct {
	Country string `yaml:"country" mapstructure:"country"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("GEOCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("geocoder.provider", "nominatim")
	v.SetDefault("geocoder.rate_limit", 1)
	v.SetDefault("geocoder.user_agent", "geocode-pipeline/1.0")
	v.SetDefault("geocoder.max_distance_miles", 100)
	v.SetDefault("geocoder.retry.max_attempts", 3)
	v.SetDefault("geocoder.retry.initial_backoff", "0s")
	v.SetDefault("geocoder.retry.max_backoff", "30s")
	v.SetDefault("geocoder.retry.multiplier", 2)
	v.SetDefault("verify.batch_size", 10)
	v.SetDefault("queue.batch_size", 100)
	v.SetDefault("queue.concurrency", 1)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.poll_interval", "30s")
	v.SetDefault("notify.kind", "log")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("ref.country", "US")
	v.SetDefault("ref.temp_dir", "/tmp/geocode-ref")
	v.SetDefault("server.port", 8080)
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
