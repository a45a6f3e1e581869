package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
agents:
  - id: main
    name: Main
    provider: anthropic
    model: claude-3-5-sonnet
    channel:
      type: telegram
      chat_id: "12345"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if len(cfg.Agents) != 1 {
		t.Fatalf("len(Agents) = %d, want 1", len(cfg.Agents))
	}
	a := cfg.Agents[0]
	if a.Options.MaxToolIterations != 12 {
		t.Errorf("MaxToolIterations = %d, want 12", a.Options.MaxToolIterations)
	}
	if a.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", a.Timezone)
	}
	if a.Approval.DefaultDecision != "pending" {
		t.Errorf("DefaultDecision = %q, want pending", a.Approval.DefaultDecision)
	}
}

func TestLoadRejectsMissingAgentID(t *testing.T) {
	path := writeTempConfig(t, `
agents:
  - name: Main
    provider: anthropic
    model: claude-3-5-sonnet
    channel:
      type: telegram
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing agent id")
	}
}

func TestLoadRejectsDuplicateAgentID(t *testing.T) {
	path := writeTempConfig(t, `
agents:
  - id: main
    provider: anthropic
    model: m
    channel: {type: telegram}
  - id: main
    provider: anthropic
    model: m
    channel: {type: telegram}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate agent id")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `
agents:
  - id: main
    provider: anthropic
    model: m
    channel: {type: telegram}
`)
	t.Setenv("CONDUIT_TELEGRAM_BOT_TOKEN", "secret-token")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.Telegram.BotToken != "secret-token" {
		t.Errorf("BotToken = %q, want secret-token", cfg.Channels.Telegram.BotToken)
	}
}
