// Package config loads and validates the agent configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML file,
// environment variables. The merged result is validated against an embedded
// JSON schema so a misconfigured agent fails at startup, not at first use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Banken/common/environment"
)

// Config is the full agent configuration.
type Config struct {
	// ListenAddr is the TCP address the agent's HTTP API listens on.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// DatabasePath is the SQLite file for the command-audit store.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	Core    CoreConfig    `yaml:"core" json:"core"`
	Auth    AuthConfig    `yaml:"auth" json:"auth"`
	Watcher WatcherConfig `yaml:"watcher" json:"watcher"`
}

// CoreConfig points the agent at its control plane.
type CoreConfig struct {
	// URL is the Core API base URL.
	URL string `yaml:"url" json:"url"`
	// Token is the bearer token the agent presents to Core.
	Token string `yaml:"token" json:"token"`
	// Timeout bounds each Core HTTP call. Env-only tuning knob
	// (BANKEN_CORE_TIMEOUT); the client default applies when zero.
	Timeout time.Duration `yaml:"-" json:"-"`
}

// AuthConfig guards the agent's own HTTP API.
type AuthConfig struct {
	// Token is the bearer token Core must present to the agent.
	Token string `yaml:"token" json:"token"`
	// HMACSecret enables payload-signature and replay checks when non-empty.
	HMACSecret string `yaml:"hmac_secret" json:"hmac_secret"`
}

// WatcherConfig tunes the event watcher.
type WatcherConfig struct {
	// Command is the event-source binary. Defaults to "docker".
	Command string `yaml:"command" json:"command"`
	// Args are the event-source arguments.
	Args []string `yaml:"args" json:"args"`
	// ExcludedActions overrides the default stop/kill suppression list.
	ExcludedActions []string `yaml:"excluded_actions" json:"excluded_actions"`
}

// Load builds the configuration from defaults, the optional YAML file at
// path (skipped when path is empty), and environment variables, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:   ":8642",
		DatabasePath: "./banken.db",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.ListenAddr = environment.StringOr("BANKEN_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabasePath = environment.StringOr("BANKEN_DATABASE_PATH", cfg.DatabasePath)
	cfg.Core.URL = environment.StringOr("BANKEN_CORE_URL", cfg.Core.URL)
	cfg.Core.Token = environment.StringOr("BANKEN_CORE_TOKEN", cfg.Core.Token)
	cfg.Core.Timeout = environment.DurationOr("BANKEN_CORE_TIMEOUT", cfg.Core.Timeout)
	cfg.Auth.Token = environment.StringOr("BANKEN_AUTH_TOKEN", cfg.Auth.Token)
	cfg.Auth.HMACSecret = environment.StringOr("BANKEN_HMAC_SECRET", cfg.Auth.HMACSecret)
	cfg.Watcher.Command = environment.StringOr("BANKEN_WATCHER_COMMAND", cfg.Watcher.Command)
	if args := environment.StringSliceOr("BANKEN_WATCHER_ARGS", nil); args != nil {
		cfg.Watcher.Args = args
	}
	if excl := environment.StringSliceOr("BANKEN_WATCHER_EXCLUDED_ACTIONS", nil); excl != nil {
		cfg.Watcher.ExcludedActions = excl
	}
}

// Validate checks cfg against the embedded JSON schema.
func (c *Config) Validate() error {
	// The schema validator consumes the encoding/json value tree.
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config for validation: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal config for validation: %w", err)
	}

	if err := configSchema.Validate(v); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

var configSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	return jsonschema.MustCompileString("banken-config.schema.json", schemaJSON)
}
