package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clerk.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9999
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPPort != 9999 {
		t.Errorf("HTTPPort = %d, want 9999", cfg.Server.HTTPPort)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default", cfg.Server.Host)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Engine.MaxTurns != 10 {
		t.Errorf("Engine.MaxTurns = %d, want 10", cfg.Engine.MaxTurns)
	}
	if cfg.Scheduler.WaitingAge != 24*time.Hour {
		t.Errorf("Scheduler.WaitingAge = %v, want 24h", cfg.Scheduler.WaitingAge)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q, want anthropic", cfg.LLM.DefaultProvider)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CLERK_TEST_API_KEY", "sk-from-env")

	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${CLERK_TEST_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Provider("anthropic").APIKey; got != "sk-from-env" {
		t.Errorf("APIKey = %q, want expanded env value", got)
	}
}

func TestLoadRejectsBadDriver(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: cassandra
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown storage driver")
	}
}

func TestLoadRequiresPostgresURL(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: postgres
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for postgres without url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}

func TestProviderFallback(t *testing.T) {
	cfg := Default()
	if got := cfg.Provider("openai"); got != (LLMProviderConfig{}) {
		t.Errorf("Provider() = %+v, want zero value", got)
	}
}
