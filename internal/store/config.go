// Manages the library configuration stored in config.yaml.

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the per-library settings kept in <data-dir>/config.yaml.
// Loaded at startup, created with defaults when missing.
type Config struct {
	// SeedLocation is where the one-time default dataset comes from:
	// an http(s) URL or a filesystem path. Empty disables seeding.
	SeedLocation string `yaml:"seed_location"`

	// DefaultCategories populates the category registry on first run.
	DefaultCategories []string `yaml:"default_categories"`

	// DefaultTags populates the tag registry on first run.
	DefaultTags []string `yaml:"default_tags"`

	// RateLimits applies to the HTTP API.
	RateLimits RateLimits `yaml:"rate_limits"`
}

// RateLimits configures the HTTP API token buckets, in requests per minute.
// 0 means unlimited.
type RateLimits struct {
	ReadPerMin  int `yaml:"read_per_min"`
	WritePerMin int `yaml:"write_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.ReadPerMin < 0 {
		return errors.New("read_per_min must be non-negative")
	}
	if r.WritePerMin < 0 {
		return errors.New("write_per_min must be non-negative")
	}
	return nil
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		SeedLocation:      "default_songs.json",
		DefaultCategories: []string{"General", "Mass", "Rehearsal", "Worship"},
		DefaultTags:       []string{"closing", "communion", "intro", "offertory"},
		RateLimits: RateLimits{
			ReadPerMin:  6000,
			WritePerMin: 600,
		},
	}
}

const configFile = "config.yaml"

// LoadConfig reads dir/config.yaml, creating it with defaults if missing.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, configFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := DefaultConfig()
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal default config: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	if err := cfg.RateLimits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", configFile, err)
	}
	return cfg, nil
}
