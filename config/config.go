// Package config holds broker configuration, loaded from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the broker configuration.
type Config struct {
	// Listen is the host:port the broker serves on.
	Listen string `yaml:"listen"`

	// DataDir holds the pebble store.
	DataDir string `yaml:"data_dir"`

	// Slots is the number of concurrently running jobs.
	Slots int `yaml:"slots"`

	// BatchTimeout is the eventlog commit batching window (Go duration
	// string, e.g. "10ms").
	BatchTimeout string `yaml:"batch_timeout"`

	// Checkpoint is the checkpoint name written at shutdown and verified
	// at startup. Empty disables checkpointing.
	Checkpoint string `yaml:"checkpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:       "127.0.0.1:8555",
		DataDir:      "/var/lib/rmcore",
		Slots:        4,
		BatchTimeout: "10ms",
		Checkpoint:   "primary",
	}
}

// Load reads the YAML file at path (if non-empty) on top of the defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("RMCORE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("RMCORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RMCORE_SLOTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid RMCORE_SLOTS %q: %w", v, err)
		}
		cfg.Slots = n
	}
	return nil
}

// Validate checks the configuration for usability.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir required")
	}
	if c.Slots < 1 {
		return fmt.Errorf("config: slots must be >= 1, got %d", c.Slots)
	}
	if _, err := c.BatchTimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// BatchTimeoutDuration parses the batch timeout.
func (c Config) BatchTimeoutDuration() (time.Duration, error) {
	if c.BatchTimeout == "" {
		return 10 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(c.BatchTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: invalid batch_timeout %q: %w", c.BatchTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: batch_timeout must be positive")
	}
	return d, nil
}
