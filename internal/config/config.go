package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port                  int    `env:"PORT" envDefault:"8080"`
	DatabasePath          string `env:"DATABASE_PATH" envDefault:"data/wahub.db"`
	WAStorePath           string `env:"WA_STORE_PATH" envDefault:"data/wa"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	MaxSessionsPerUser    int    `env:"MAX_SESSIONS_PER_USER" envDefault:"5"`
	MaxSessionsGlobal     int    `env:"MAX_SESSIONS_GLOBAL" envDefault:"100"`
	IdleTimeoutMinutes    int    `env:"IDLE_TIMEOUT_MINUTES" envDefault:"30"`
	RetentionDays         int    `env:"RETENTION_DAYS" envDefault:"90"`
	CacheSize             int    `env:"CACHE_SIZE" envDefault:"1000"`
	WebhookTimeoutSeconds int    `env:"WEBHOOK_TIMEOUT_SECONDS" envDefault:"10"`
	MaxReconnectAttempts  int    `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMinutes) * time.Minute
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.MaxSessionsPerUser < 1 {
		return fmt.Errorf("MAX_SESSIONS_PER_USER must be at least 1")
	}
	if c.MaxSessionsGlobal < c.MaxSessionsPerUser {
		return fmt.Errorf("MAX_SESSIONS_GLOBAL must be >= MAX_SESSIONS_PER_USER")
	}
	if c.CacheSize < 1 {
		return fmt.Errorf("CACHE_SIZE must be at least 1")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
