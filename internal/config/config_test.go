package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
backends:
  order: [anthropic]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backends.MaxAttemptsPerBackend != 3 {
		t.Errorf("MaxAttemptsPerBackend = %d, want 3", cfg.Backends.MaxAttemptsPerBackend)
	}
	if cfg.Memory.Alpha != 0.5 || cfg.Memory.K != 60 {
		t.Errorf("Memory = %+v, want RRF defaults alpha=0.5 k=60", cfg.Memory)
	}
	if cfg.Approval.Transport != "callback" {
		t.Errorf("Approval.Transport = %q, want callback", cfg.Approval.Transport)
	}
	if cfg.Orchestrator.MaxDepth != 3 || cfg.Orchestrator.MaxChildrenPerTask != 5 {
		t.Errorf("Orchestrator = %+v, want spawner defaults", cfg.Orchestrator)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_AGENTOR_API_KEY", "sk-secret-value")
	path := writeConfigFile(t, `
backends:
  anthropic:
    enabled: true
    api_key: ${TEST_AGENTOR_API_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backends.Anthropic.APIKey != "sk-secret-value" {
		t.Errorf("Anthropic.APIKey = %q, want expanded env value", cfg.Backends.Anthropic.APIKey)
	}
}

func TestLoad_CapabilityGrants(t *testing.T) {
	path := writeConfigFile(t, `
capability:
  file_read: ["/workspace/"]
  network_access: ["api.example.com"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Capability.FileRead) != 1 || cfg.Capability.FileRead[0] != "/workspace/" {
		t.Errorf("Capability.FileRead = %v", cfg.Capability.FileRead)
	}
}

func TestLoad_UnsupportedVersionRejected(t *testing.T) {
	path := writeConfigFile(t, `
version: 999
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want version mismatch error")
	}
}

func TestLoad_MigratesLegacyTopLevelKeys(t *testing.T) {
	path := writeConfigFile(t, `
backend_order: [anthropic, openai]
approval_transport: auto
max_attempts: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Backends.Order) != 2 || cfg.Backends.Order[0] != "anthropic" || cfg.Backends.Order[1] != "openai" {
		t.Errorf("Backends.Order = %v, want [anthropic openai]", cfg.Backends.Order)
	}
	if cfg.Approval.Transport != "auto" {
		t.Errorf("Approval.Transport = %q, want auto", cfg.Approval.Transport)
	}
	if cfg.Backends.MaxAttemptsPerBackend != 5 {
		t.Errorf("MaxAttemptsPerBackend = %d, want 5", cfg.Backends.MaxAttemptsPerBackend)
	}
}

func TestLoad_LegacyKeyNeverOverridesNestedValue(t *testing.T) {
	path := writeConfigFile(t, `
backend_order: [anthropic]
backends:
  order: [openai]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Backends.Order) != 1 || cfg.Backends.Order[0] != "openai" {
		t.Errorf("Backends.Order = %v, want [openai] (nested form wins)", cfg.Backends.Order)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() error = nil, want file-not-found error")
	}
}
