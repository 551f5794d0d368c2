/*
Package config loads server configuration from a TOML file.

PURPOSE:
  One small struct for everything the server binary needs: listen port,
  database location, and the reconciliation schedule. Values omitted from
  the file keep their defaults; command-line flags may override the
  loaded values in main.

FILE FORMAT (TOML):
  port = 8080
  database_path = "./data/agency.db"

  [reconcile]
  enabled = true
  interval_minutes = 60

USAGE:
  cfg := config.Default()
  if err := cfg.LoadFile("agency.toml"); err != nil { ... }
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the server configuration.
type Config struct {
	Port         int    `toml:"port"`
	DatabasePath string `toml:"database_path"`

	Reconcile ReconcileConfig `toml:"reconcile"`
}

// ReconcileConfig controls the background reconciliation sweep.
type ReconcileConfig struct {
	Enabled         bool `toml:"enabled"`
	IntervalMinutes int  `toml:"interval_minutes"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Port:         8080,
		DatabasePath: "./data/agency.db",
		Reconcile: ReconcileConfig{
			Enabled:         true,
			IntervalMinutes: 60,
		},
	}
}

// LoadFile overlays values from a TOML file onto the receiver.
// A missing file is an error; a partial file keeps existing values for
// everything it omits.
func (c *Config) LoadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return c.Validate()
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.Reconcile.Enabled && c.Reconcile.IntervalMinutes <= 0 {
		return fmt.Errorf("reconcile.interval_minutes must be positive when enabled")
	}
	return nil
}

// ReconcileInterval returns the sweep interval as a duration.
func (c Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconcile.IntervalMinutes) * time.Minute
}
