// Package config defines the storage manager configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultEngineName is the embedded SQL engine used when none is configured.
const DefaultEngineName = "duckdb"

// Config selects and parameterizes the storage backend for a manager.
type Config struct {
	// InMemory stores time series arrays on the heap. In-memory state has
	// no durable representation; serialization downgrades to the columnar
	// format and deserialization back into memory is not supported.
	InMemory bool `yaml:"in_memory"`

	// ReadOnly rejects all mutating operations.
	ReadOnly bool `yaml:"read_only"`

	// Directory is the base directory for temporary storage media.
	// Empty means the system default temp directory.
	Directory string `yaml:"directory"`

	// UseEmbeddedSQL selects the embedded SQL backend instead of the
	// columnar file backend.
	UseEmbeddedSQL bool `yaml:"use_embedded_sql"`

	// EngineName is the embedded SQL engine tag. Defaults to "duckdb".
	EngineName string `yaml:"engine_name"`
}

// Default returns a Config with sensible defaults: a writable columnar
// file store under the system temp directory.
func Default() Config {
	return Config{
		EngineName: DefaultEngineName,
	}
}

// Load reads a Config from a YAML file, applying defaults for unset fields.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.EngineName == "" {
		c.EngineName = DefaultEngineName
	}
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	if c.InMemory && c.UseEmbeddedSQL {
		return fmt.Errorf("in_memory and use_embedded_sql are mutually exclusive")
	}
	return nil
}
