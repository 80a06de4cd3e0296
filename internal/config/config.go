// Package config provides agent configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all agent configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8754"`

	// Stable agent identity sent with every backend request and used to
	// scope postgres snapshots. Generated at startup when empty.
	AgentID string `env:"AGENT_ID" envDefault:""`

	// Backend delivery
	BackendURL      string `env:"BACKEND_URL,required"`
	BackendAPIKey   string `env:"BACKEND_API_KEY" envDefault:""`
	BackendRefresh  string `env:"BACKEND_REFRESH_TOKEN" envDefault:""`

	// Snapshot storage: "redis", "postgres" or "memory"
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"redis"`
	RedisURL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DatabaseURL   string `env:"DATABASE_URL" envDefault:""`

	// Queue tuning
	MaxQueueSize         int           `env:"MAX_QUEUE_SIZE" envDefault:"1000"`
	BatchSize            int           `env:"BATCH_SIZE" envDefault:"50"`
	BatchInterval        time.Duration `env:"BATCH_INTERVAL" envDefault:"30s"`
	RetryDelay           time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	HealthPollInterval   time.Duration `env:"HEALTH_POLL_INTERVAL" envDefault:"60s"`
	HealthMinInterval    time.Duration `env:"HEALTH_MIN_INTERVAL" envDefault:"30s"`
	OverflowTrimFraction float64       `env:"OVERFLOW_TRIM_FRACTION" envDefault:"0.2"`
	MaxFailures          int           `env:"MAX_FAILURES_BEFORE_DISABLE" envDefault:"5"`

	// Control API auth: argon2id hash of the local control token.
	// Empty disables auth (development only).
	ControlTokenHash string `env:"CONTROL_TOKEN_HASH" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis storage driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
		}
	case "memory":
		// No persistence; queue is lost on restart.
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	if c.OverflowTrimFraction <= 0 || c.OverflowTrimFraction >= 1 {
		return fmt.Errorf("OVERFLOW_TRIM_FRACTION must be in (0, 1), got %v", c.OverflowTrimFraction)
	}
	if c.BatchSize > c.MaxQueueSize {
		return fmt.Errorf("BATCH_SIZE (%d) must not exceed MAX_QUEUE_SIZE (%d)", c.BatchSize, c.MaxQueueSize)
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
