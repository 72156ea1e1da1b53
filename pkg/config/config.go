// Package config loads the report-engine configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceConfig is the connection configuration for one registered source
// database. The map key in Config.Sources is the connection alias.
type SourceConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SyncConfig controls the periodic metadata sync.
type SyncConfig struct {
	// Schedule is a 5-field cron expression. Empty disables scheduling.
	Schedule string `yaml:"schedule"`
	// OnStart runs a full sync during startup.
	OnStart bool `yaml:"on_start"`
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	// APIKeys lists accepted keys for the X-API-Key header. Empty leaves
	// the API open.
	APIKeys []string `yaml:"api_keys"`
}

// Config is the top-level configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// MetadataDSN is the postgres connection for the local catalog and
	// report store.
	MetadataDSN string `yaml:"metadata_dsn"`
	// QueryTimeoutSeconds bounds one report execution against a source.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`

	Sources map[string]SourceConfig `yaml:"sources"`
	Sync    SyncConfig              `yaml:"sync"`
	Auth    AuthConfig              `yaml:"auth"`
}

// Load reads and validates a config file. DSN values are expanded against
// the environment so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.MetadataDSN = os.ExpandEnv(cfg.MetadataDSN)
	for alias, src := range cfg.Sources {
		src.DSN = os.ExpandEnv(src.DSN)
		cfg.Sources[alias] = src
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.MetadataDSN == "" {
		return fmt.Errorf("metadata_dsn is required")
	}
	if c.QueryTimeoutSeconds < 0 {
		return fmt.Errorf("query_timeout_seconds must not be negative")
	}
	for alias, src := range c.Sources {
		if src.Driver == "" {
			return fmt.Errorf("source %q: driver is required", alias)
		}
		if src.DSN == "" {
			return fmt.Errorf("source %q: dsn is required", alias)
		}
	}
	return nil
}
