// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"path"
	"time"

	"github.com/caarlos0/env/v11"
)

// Rollback policies for a submission whose dependent steps fail.
const (
	RollbackCompensate = "compensate"
	RollbackNone       = "none"
)

// Config holds every environment-driven setting.
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:canalworks.db?_pragma=foreign_keys(1)"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// RulesFile replaces the embedded CUE rule table when set.
	RulesFile      string `env:"RULES_FILE"`
	RollbackPolicy string `env:"ROLLBACK_POLICY" envDefault:"compensate"`

	GatewayURL     string        `env:"GATEWAY_URL" envDefault:"http://localhost:8080"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	Actor          string        `env:"ACTOR" envDefault:"cli"`

	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	SessionMaxAge      time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
	EventBuffer        int           `env:"EVENT_BUFFER" envDefault:"256"`
	SeedOnStart        bool          `env:"SEED_ON_START" envDefault:"true"`

	// AllowedOrigins lists host patterns browsers on other origins may open
	// form sessions from. Empty allows same-origin pages only.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS"`

	// The activity stream is kept in memory; these bound it.
	ActivityMaxEntries int           `env:"ACTIVITY_MAX_ENTRIES" envDefault:"50000"`
	ActivityRetention  time.Duration `env:"ACTIVITY_RETENTION" envDefault:"720h"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch c.RollbackPolicy {
	case RollbackCompensate, RollbackNone:
	default:
		return fmt.Errorf("ROLLBACK_POLICY must be %q or %q, got %q", RollbackCompensate, RollbackNone, c.RollbackPolicy)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.ActivityMaxEntries < 0 || c.ActivityRetention < 0 {
		return fmt.Errorf("ACTIVITY_MAX_ENTRIES and ACTIVITY_RETENTION must not be negative")
	}
	for _, o := range c.AllowedOrigins {
		if _, err := path.Match(o, ""); err != nil {
			return fmt.Errorf("ALLOWED_ORIGINS: bad pattern %q: %w", o, err)
		}
	}
	return nil
}
