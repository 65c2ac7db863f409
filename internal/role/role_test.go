package role

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kingrea/tpm-runner/internal/config"
)

const deliveryDefinition = `# Delivery Manager

## Model
opus

## Mission
Keep the delivery plan honest.
Flag slippage early.

## Goals
- Track milestones in ` + "`projects/`" + `
- Surface blockers

## Context Files
- projects/roadmap.md
- agent/memory/delivery.md

## Tools
- Read
- Write
- Glob

## Schedule
Every 15 minutes

## Inbox
agent/inbox/delivery

## User Preferences
Prefers short bullet summaries.

## Slack
- username: Delivery Manager
- emoji: :truck:
- mention: @delivery
`

func TestParseFullDefinition(t *testing.T) {
	r := Parse("delivery", []byte(deliveryDefinition))
	if r.Name != "delivery" || r.DisplayName != "Delivery Manager" {
		t.Fatalf("unexpected identity: %+v", r)
	}
	if r.Model != "opus" {
		t.Fatalf("expected model opus, got %q", r.Model)
	}
	if r.Mission != "Keep the delivery plan honest.\nFlag slippage early." {
		t.Fatalf("unexpected mission %q", r.Mission)
	}
	if len(r.Goals) != 2 || r.Goals[0] != "Track milestones in `projects/`" {
		t.Fatalf("unexpected goals %#v", r.Goals)
	}
	if len(r.ContextFiles) != 2 || r.ContextFiles[1] != "agent/memory/delivery.md" {
		t.Fatalf("unexpected context files %#v", r.ContextFiles)
	}
	if len(r.Tools) != 3 || r.Tools[2] != "Glob" {
		t.Fatalf("unexpected tools %#v", r.Tools)
	}
	if r.Schedule != "Every 15 minutes" {
		t.Fatalf("unexpected schedule %q", r.Schedule)
	}
	if r.Inbox != "agent/inbox/delivery" {
		t.Fatalf("unexpected inbox %q", r.Inbox)
	}
	if !r.HasPreferences() {
		t.Fatalf("expected preferences to be present")
	}
	want := Persona{Username: "Delivery Manager", Icon: ":truck:", Mention: "@delivery"}
	if r.Persona != want {
		t.Fatalf("persona = %+v, want %+v", r.Persona, want)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	r := Parse("risk", []byte("Some stray text\n\n## mission\nWatch risks.\n\n## User Preferences\n(No preferences recorded yet.)\n"))
	if r.Model != DefaultModel {
		t.Fatalf("expected default model, got %q", r.Model)
	}
	if r.Mission != "Watch risks." {
		t.Fatalf("section names should be case-insensitive, got %q", r.Mission)
	}
	if r.Goals == nil || len(r.Goals) != 0 {
		t.Fatalf("expected empty goals, got %#v", r.Goals)
	}
	if r.HasPreferences() {
		t.Fatalf("placeholder preferences should not count")
	}
	if r.Persona.Username != "risk" || r.Persona.Icon != DefaultIcon || r.Persona.Mention != "@risk" {
		t.Fatalf("unexpected default persona %+v", r.Persona)
	}
}

func TestRegistryListAndLoad(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"delivery.md": deliveryDefinition,
		"comms.md":    "# Comms Manager\n",
		"notes.txt":   "ignored",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := NewRegistry(dir)
	names, err := reg.ListRoles()
	if err != nil {
		t.Fatalf("ListRoles returned error: %v", err)
	}
	if len(names) != 2 || names[0] != "comms" || names[1] != "delivery" {
		t.Fatalf("unexpected roles %#v", names)
	}
	if !reg.Has("comms") || reg.Has("ghost") {
		t.Fatalf("Has reported wrong membership")
	}
	if _, err := reg.LoadRole("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	roles, err := reg.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if len(roles) != 2 || roles[0].Persona.Username != "Comms Manager" {
		t.Fatalf("unexpected roles %+v", roles)
	}
}

func TestRegistryMissingDirectory(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "absent"))
	names, err := reg.ListRoles()
	if err != nil || len(names) != 0 {
		t.Fatalf("expected empty list, got %#v / %v", names, err)
	}
}

func TestInboxDirAndRoster(t *testing.T) {
	cfg := &config.Config{VaultPath: "/vault"}
	custom := Role{Name: "delivery", Inbox: "agent/inbox/delivery/"}
	plain := Role{Name: "risk"}
	if got := custom.InboxDir(cfg); got != "agent/inbox/delivery" {
		t.Fatalf("custom inbox = %s", got)
	}
	if got := plain.InboxDir(cfg); got != "agent/inbox/risk" {
		t.Fatalf("default inbox = %s", got)
	}
	roster := Roster([]Role{custom, plain}, cfg)
	if owner, ok := roster.OwnerOf("agent/inbox/delivery"); !ok || owner != "delivery" {
		t.Fatalf("OwnerOf = %s, %v", owner, ok)
	}
	if !roster.Has("risk") || roster.Has("ghost") {
		t.Fatalf("roster membership wrong: %#v", roster)
	}
}
