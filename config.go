package piper

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "PIPER"

// Config holds settings shared by the components of one process.
//
// Environment variables:
//   - PIPER_DIR, PIPER_CHUNK_SIZE, PIPER_MAX_MESSAGE_SIZE, PIPER_OPEN_RETRY_INTERVAL
//   - PIPER_LOG_LEVEL, PIPER_LOG_DEVELOPMENT
type Config struct {
	Dir               string        `default:"/tmp/piper"`
	ChunkSize         int           `split_words:"true" default:"65536"`
	MaxMessageSize    int           `split_words:"true" default:"0"`
	OpenRetryInterval time.Duration `split_words:"true" default:"5ms"`
	LogLevel          string        `split_words:"true" default:"info"`
	LogDevelopment    bool          `split_words:"true" default:"false"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("failed to load config: chunk size must be positive, got %d", cfg.ChunkSize)
	}
	return &cfg, nil
}

// LoadConfigOrDefault loads configuration from environment or returns default.
func LoadConfigOrDefault() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Dir:               "/tmp/piper",
		ChunkSize:         DefaultChunkSize,
		OpenRetryInterval: DefaultOpenRetryInterval,
		LogLevel:          "info",
	}
}

// LogConfig returns the logging section of the configuration.
func (c *Config) LogConfig() LogConfig {
	return LogConfig{Level: c.LogLevel, Development: c.LogDevelopment}
}

// Options translates the configuration into component options. The logger
// and metrics may be nil.
func (c *Config) Options(logger *zap.Logger, metrics *Metrics) []Option {
	opts := []Option{
		WithChunkSize(c.ChunkSize),
		WithMaxMessageSize(c.MaxMessageSize),
		WithOpenRetryInterval(c.OpenRetryInterval),
	}
	if logger != nil {
		opts = append(opts, WithLogger(logger))
	}
	if metrics != nil {
		opts = append(opts, WithMetrics(metrics))
	}
	return opts
}

// NewManager creates a Manager for the configured directory.
func (c *Config) NewManager(opts ...Option) (*Manager, error) {
	return NewManager(c.Dir, opts...)
}
