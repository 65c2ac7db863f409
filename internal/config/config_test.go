package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadDefaultsWhenNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper returned error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PollInterval != defaultPollInterval {
		t.Fatalf("expected default poll interval, got %s", cfg.PollInterval)
	}
	if cfg.MaxTurns != defaultMaxTurns {
		t.Fatalf("expected default max turns, got %d", cfg.MaxTurns)
	}
	if !filepath.IsAbs(cfg.VaultPath) || filepath.Base(cfg.VaultPath) != defaultVault {
		t.Fatalf("expected absolute default vault path, got %s", cfg.VaultPath)
	}
	if cfg.SlackEnabled() {
		t.Fatalf("slack should be disabled without a channel")
	}
}

func TestLoadParsesYaml(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	configYAML := strings.TrimSpace(`
vault: vaults/peak
roles: defs
poll_interval: 30s
max_turns: 4
slack:
  channel: "#tpm-agent"
  inbound_interval: 2m
  read_limit: 50
`)
	if err := os.WriteFile(filepath.Join(dir, "tpm.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper returned error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !strings.HasSuffix(cfg.VaultPath, filepath.Join("vaults", "peak")) {
		t.Fatalf("unexpected vault path %s", cfg.VaultPath)
	}
	if cfg.PollInterval != 30*time.Second || cfg.MaxTurns != 4 {
		t.Fatalf("unexpected loop settings: %s / %d", cfg.PollInterval, cfg.MaxTurns)
	}
	if cfg.Slack.Channel != "#tpm-agent" || cfg.Slack.InboundInterval != 2*time.Minute || cfg.Slack.ReadLimit != 50 {
		t.Fatalf("unexpected slack settings: %+v", cfg.Slack)
	}
}

func TestLegacyEnvNamesOverride(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("VAULT_PATH", filepath.Join(dir, "elsewhere"))
	t.Setenv("SLACK_CHANNEL", "#ops")
	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper returned error: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.VaultPath != filepath.Join(dir, "elsewhere") {
		t.Fatalf("expected VAULT_PATH override, got %s", cfg.VaultPath)
	}
	if !cfg.SlackEnabled() || cfg.Slack.Channel != "#ops" {
		t.Fatalf("expected SLACK_CHANNEL override, got %q", cfg.Slack.Channel)
	}
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "tpm.yaml"), []byte("max_turns: -2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := NewViper("")
	if err != nil {
		t.Fatalf("NewViper returned error: %v", err)
	}
	if _, err := Load(v); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestLayoutAccessors(t *testing.T) {
	cfg := &Config{VaultPath: "/vault", StateDir: "/state"}
	if got := cfg.DraftsRel("comms"); got != "agent/outbox/comms/drafts" {
		t.Fatalf("DraftsRel = %s", got)
	}
	if got := cfg.AnsweredRel(); got != "agent/inbox/user/answered" {
		t.Fatalf("AnsweredRel = %s", got)
	}
	if got := cfg.SlackStatePath(); got != filepath.Join("/vault", "agent", "slack", "state.json") {
		t.Fatalf("SlackStatePath = %s", got)
	}
	if got := cfg.SessionsPath(); got != filepath.Join("/state", "sessions.json") {
		t.Fatalf("SessionsPath = %s", got)
	}
}
