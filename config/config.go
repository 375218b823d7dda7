// Package config loads client settings from FXA_* environment variables
// and builds the slog logger.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServerURL       string        `env:"FXA_SERVER_URL" envDefault:"https://api.accounts.firefox.com"`
	ConfigURL       string        `env:"FXA_CONFIG_URL"`
	DatabaseURI     string        `env:"FXA_DATABASE_URI" envDefault:"file:fxa-sync.db"`
	Timeout         time.Duration `env:"FXA_TIMEOUT" envDefault:"15s"`
	CleanupInterval time.Duration `env:"FXA_CLEANUP_INTERVAL" envDefault:"15m"`
	LogFormat       string        `env:"FXA_LOG_FORMAT" envDefault:"text"`
	LogLevel        string        `env:"FXA_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("error getting env configs: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("FXA_SERVER_URL must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("FXA_TIMEOUT must be positive, got %s", c.Timeout)
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("FXA_CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("FXA_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// NewLogger returns a logger writing to w in the configured format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("FXA_LOG_LEVEL: %w", err)
	}
	return level, nil
}
