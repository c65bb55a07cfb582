// Package config loads the project configuration file consumed by the
// CLI: connection URLs, the migrations directory, the schema path,
// the tenant strategy and plugin toggles. ${VAR} references expand
// from the environment, seeded from an optional .env file next to the
// config.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lode-orm/lode/tenant"
)

// DefaultFile is the config file name looked up when none is given.
const DefaultFile = "lode.yaml"

// Plugins toggles optional generation surfaces.
type Plugins struct {
	Debug      bool `yaml:"debug"`
	JSONSchema bool `yaml:"json_schema"`
	GraphQL    bool `yaml:"graphql"`
}

// Config is the project configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	// ShadowDatabaseURL is the scratch database used for safe plan
	// verification. Optional.
	ShadowDatabaseURL string  `yaml:"shadow_database_url"`
	SchemaPath        string  `yaml:"schema"`
	MigrationsDir     string  `yaml:"migrations_dir"`
	TenantStrategy    string  `yaml:"tenant_strategy"`
	Plugins           Plugins `yaml:"plugins"`
}

// Load reads the config at path. A .env file in the same directory is
// loaded first (without overriding variables already set), then every
// ${VAR} in the config expands from the environment.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if env := filepath.Join(filepath.Dir(path), ".env"); fileExists(env) {
		if err := godotenv.Load(env); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", env, err)
		}
	}
	expanded := os.Expand(string(raw), os.Getenv)
	cfg := &Config{
		SchemaPath:    "schema.lode",
		MigrationsDir: "migrations",
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if _, _, err := cfg.Strategy(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Strategy maps the configured tenant strategy name to its value. The
// boolean is false when no tenancy is configured.
func (c *Config) Strategy() (tenant.Strategy, bool, error) {
	switch c.TenantStrategy {
	case "", "none":
		return 0, false, nil
	case "row_level":
		return tenant.RowLevel, true, nil
	case "schema_based":
		return tenant.SchemaBased, true, nil
	case "database_based":
		return tenant.DatabaseBased, true, nil
	}
	return 0, false, fmt.Errorf("config: unknown tenant_strategy %q", c.TenantStrategy)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
