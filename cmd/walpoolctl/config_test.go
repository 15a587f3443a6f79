package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes a config file to a temp dir and returns its path.
func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "walpool.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("file values override defaults", func(t *testing.T) {
		path := writeConfig(t, `
database:
  path: /var/lib/app/data.db
  busy_timeout: 10
  max_readers: 8
logging:
  level: debug
  format: json
`)
		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Database.Path != "/var/lib/app/data.db" {
			t.Errorf("Path = %q", cfg.Database.Path)
		}
		if cfg.GetBusyTimeout() != 10*time.Second {
			t.Errorf("GetBusyTimeout() = %v, want 10s", cfg.GetBusyTimeout())
		}
		if cfg.Database.MaxReaders != 8 {
			t.Errorf("MaxReaders = %d, want 8", cfg.Database.MaxReaders)
		}
		if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
			t.Errorf("Logging = %+v", cfg.Logging)
		}
	})

	t.Run("defaults fill unset fields", func(t *testing.T) {
		path := writeConfig(t, "database:\n  path: ./x.db\n")
		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Database.BusyTimeout != 5 || cfg.Database.MaxReaders != 5 {
			t.Errorf("defaults not applied: %+v", cfg.Database)
		}
		if cfg.Logging.Level != "info" {
			t.Errorf("Level = %q, want info", cfg.Logging.Level)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "database:\n  path: ./from-file.db\n")
		t.Setenv("WALPOOL_DATABASE_PATH", "/from/env.db")
		t.Setenv("WALPOOL_LOG_LEVEL", "warn")

		cfg, err := loadConfig(path)
		if err != nil {
			t.Fatalf("loadConfig() error = %v", err)
		}
		if cfg.Database.Path != "/from/env.db" {
			t.Errorf("Path = %q, want env override", cfg.Database.Path)
		}
		if cfg.Logging.Level != "warn" {
			t.Errorf("Level = %q, want warn", cfg.Logging.Level)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		if err == nil {
			t.Error("loadConfig(missing file) succeeded, want error")
		}
	})

	t.Run("validation rejects bad values", func(t *testing.T) {
		path := writeConfig(t, "database:\n  path: ./x.db\n  max_readers: 1\n")
		_, err := loadConfig(path)
		if err == nil {
			t.Error("loadConfig() with max_readers=1 succeeded, want error")
		}
	})
}

func TestParseCheckpointMode(t *testing.T) {
	for name, want := range map[string]string{
		"passive":  "PASSIVE",
		"FULL":     "FULL",
		"Restart":  "RESTART",
		"truncate": "TRUNCATE",
	} {
		mode, err := parseCheckpointMode(name)
		if err != nil {
			t.Errorf("parseCheckpointMode(%q) error = %v", name, err)
			continue
		}
		if mode.String() != want {
			t.Errorf("parseCheckpointMode(%q) = %v, want %s", name, mode, want)
		}
	}
	if _, err := parseCheckpointMode("bogus"); err == nil {
		t.Error("parseCheckpointMode(bogus) succeeded, want error")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
