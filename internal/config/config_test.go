package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8900" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Orchestrator.MaxToolRounds != 12 {
		t.Errorf("MaxToolRounds = %d", cfg.Orchestrator.MaxToolRounds)
	}
	if cfg.Pager.ThresholdBytes != 16*1024 {
		t.Errorf("ThresholdBytes = %d", cfg.Pager.ThresholdBytes)
	}
}

func TestLoadJSONOverridesDefaults(t *testing.T) {
	path := writeFile(t, "tabclaw.json", `{
		"listen": "0.0.0.0:9000",
		"provider": {"type": "anthropic", "model": "claude-sonnet-4-20250514"},
		"orchestrator": {"maxToolRounds": 5}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Provider.Type != "anthropic" {
		t.Errorf("Provider.Type = %q", cfg.Provider.Type)
	}
	if cfg.Orchestrator.MaxToolRounds != 5 {
		t.Errorf("MaxToolRounds = %d", cfg.Orchestrator.MaxToolRounds)
	}
	// Unset values still come from defaults.
	if cfg.Orchestrator.LLMTimeoutSeconds != 120 {
		t.Errorf("LLMTimeoutSeconds = %d", cfg.Orchestrator.LLMTimeoutSeconds)
	}
	if cfg.Pager.PageSizeBytes != 8*1024 {
		t.Errorf("PageSizeBytes = %d", cfg.Pager.PageSizeBytes)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "tabclaw.toml", `
listen = "127.0.0.1:7777"

[provider]
type = "openai"
endpoint = "http://localhost:11434/v1"
model = "llama3"

[pager]
thresholdBytes = 4096
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:7777" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.Provider.Endpoint != "http://localhost:11434/v1" {
		t.Errorf("Endpoint = %q", cfg.Provider.Endpoint)
	}
	if cfg.Pager.ThresholdBytes != 4096 {
		t.Errorf("ThresholdBytes = %d", cfg.Pager.ThresholdBytes)
	}
	if cfg.Pager.RetentionMinutes != 10 {
		t.Errorf("RetentionMinutes = %d", cfg.Pager.RetentionMinutes)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeFile(t, "tabclaw.json", `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}
