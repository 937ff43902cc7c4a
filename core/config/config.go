// Package config loads synchronizer settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variables read by Load.
const (
	EnvDriver      = "ANANSI_DRIVER"
	EnvDSN         = "ANANSI_DSN"
	EnvSchema      = "ANANSI_SCHEMA"
	EnvTablePrefix = "ANANSI_TABLE_PREFIX"
	EnvConcurrency = "ANANSI_CONCURRENCY"
	EnvLogLevel    = "ANANSI_LOG_LEVEL"
)

// Config holds the settings of a synchronization run.
type Config struct {
	Driver      string `json:"driver"` // sqlite, postgres or mysql
	DSN         string `json:"dsn"`
	Schema      string `json:"schema,omitempty"`
	TablePrefix string `json:"tablePrefix,omitempty"`
	Concurrency int    `json:"concurrency"`
	LogLevel    string `json:"logLevel"`
}

// DefaultConfig returns the settings used for anything left unset.
func DefaultConfig() *Config {
	return &Config{
		Driver:      "sqlite",
		DSN:         "anansi.db",
		Concurrency: 1,
		LogLevel:    "info",
	}
}

// Load reads the given .env files, then the environment, and fills unset
// values from DefaultConfig. Without files, ./.env is read if it exists.
// Variables already set in the environment win over .env entries.
func Load(files ...string) (*Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return nil, fmt.Errorf("failed to load env files: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Driver:      strings.ToLower(os.Getenv(EnvDriver)),
		DSN:         os.Getenv(EnvDSN),
		Schema:      os.Getenv(EnvSchema),
		TablePrefix: os.Getenv(EnvTablePrefix),
		LogLevel:    strings.ToLower(os.Getenv(EnvLogLevel)),
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s %q: must be a positive integer", EnvConcurrency, v)
		}
		cfg.Concurrency = n
	}
	if err := cfg.Merge(DefaultConfig()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Merge fills the zero fields of c from defaults.
func (c *Config) Merge(defaults *Config) error {
	if err := mergo.Merge(c, defaults); err != nil {
		return fmt.Errorf("failed to merge config defaults: %w", err)
	}
	return nil
}

// Logger builds a zap logger for the configured level. The debug level uses
// the development encoder.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	cfg := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
