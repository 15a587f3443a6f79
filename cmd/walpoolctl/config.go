package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for walpoolctl, loaded from YAML with
// environment variable overrides.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	// Path is the filesystem path to the SQLite database file.
	Path string `yaml:"path"`

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxReaders is the reader pool capacity.
	MaxReaders int `yaml:"max_readers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" (colourised when attached to a terminal) or "json".
	Format string `yaml:"format"`
}

// loadConfig reads configuration from a YAML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern WALPOOL_SECTION_KEY, for example
// WALPOOL_DATABASE_PATH or WALPOOL_LOG_LEVEL.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/walpool.db",
			BusyTimeout: 5,
			MaxReaders:  5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WALPOOL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("WALPOOL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WALPOOL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, "database.busy_timeout must not be negative")
	}
	if c.Database.MaxReaders < 2 {
		errs = append(errs, "database.max_readers must be at least 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetBusyTimeout returns the busy timeout as a Duration.
func (c *Config) GetBusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeout) * time.Second
}
