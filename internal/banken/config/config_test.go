package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bdobrica/Banken/internal/banken/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "banken.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
listen_addr: ":9000"
database_path: "/var/lib/banken/banken.db"
core:
  url: "https://core.example.com/api"
  token: "core-token"
auth:
  token: "agent-token"
  hmac_secret: "shhh"
watcher:
  excluded_actions: ["stop", "kill", "exec_start"]
`

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := config.Load(writeConfigFile(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Core.URL != "https://core.example.com/api" || cfg.Core.Token != "core-token" {
		t.Errorf("Core = %+v", cfg.Core)
	}
	if cfg.Auth.HMACSecret != "shhh" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if len(cfg.Watcher.ExcludedActions) != 3 {
		t.Errorf("ExcludedActions = %v", cfg.Watcher.ExcludedActions)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("BANKEN_CORE_TOKEN", "env-token")
	t.Setenv("BANKEN_LISTEN_ADDR", ":7777")

	cfg, err := config.Load(writeConfigFile(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.Token != "env-token" {
		t.Errorf("Core.Token = %q, want env override", cfg.Core.Token)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("ListenAddr = %q, want env override", cfg.ListenAddr)
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("BANKEN_CORE_URL", "http://core.internal:8080")
	t.Setenv("BANKEN_CORE_TOKEN", "ct")
	t.Setenv("BANKEN_AUTH_TOKEN", "at")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.URL != "http://core.internal:8080" {
		t.Errorf("Core.URL = %q", cfg.Core.URL)
	}
	// Defaults survive where env is silent.
	if cfg.ListenAddr != ":8642" {
		t.Errorf("ListenAddr = %q, want default", cfg.ListenAddr)
	}
	if cfg.DatabasePath != "./banken.db" {
		t.Errorf("DatabasePath = %q, want default", cfg.DatabasePath)
	}
}

func TestLoad_MissingCoreTokenRejected(t *testing.T) {
	const missingToken = `
listen_addr: ":9000"
core:
  url: "https://core.example.com"
auth:
  token: "agent-token"
`
	_, err := config.Load(writeConfigFile(t, missingToken))
	if err == nil {
		t.Fatal("expected schema validation error for missing core.token")
	}
}

func TestLoad_BadCoreURLRejected(t *testing.T) {
	const badURL = `
listen_addr: ":9000"
core:
  url: "not-a-url"
  token: "t"
auth:
  token: "agent-token"
`
	_, err := config.Load(writeConfigFile(t, badURL))
	if err == nil {
		t.Fatal("expected schema validation error for non-http core.url")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("err = %v, want schema validation error", err)
	}
}

func TestLoad_MalformedYAMLRejected(t *testing.T) {
	_, err := config.Load(writeConfigFile(t, "listen_addr: [unclosed"))
	if err == nil {
		t.Fatal("expected YAML parse error")
	}
}

func TestLoad_MissingFileRejected(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}
