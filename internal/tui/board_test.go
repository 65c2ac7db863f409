package tui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/logging"
	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/session"
	"github.com/kingrea/tpm-runner/internal/trigger"
	"github.com/kingrea/tpm-runner/internal/vault"
)

func newSources(t *testing.T, clk clock.Clock) Sources {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		VaultPath: filepath.Join(root, "vault"),
		RolesDir:  filepath.Join(root, "roles"),
		StateDir:  filepath.Join(root, "state"),
	}
	mustWrite(t, filepath.Join(cfg.RolesDir, "delivery.md"), "# Delivery Manager\n\n## Model\nopus\n\n## Schedule\n9am and 5pm\n")
	mustWrite(t, filepath.Join(cfg.RolesDir, "risk.md"), "# Risk Manager\n\n## Schedule\nevery 30 minutes\n")
	mustWrite(t, cfg.Abs("agent/inbox/risk/flag-1.md"), "---\nfrom: delivery\n---\n\nVendor late.\n")
	mustWrite(t, cfg.Abs("agent/inbox/risk/flag-2.md"), "---\nfrom: delivery\n---\n\nBudget risk.\n")
	mustWrite(t, cfg.Abs("agent/inbox/user/question.md"), "---\nfrom: risk\n---\n\nEscalate?\n")
	mustWrite(t, cfg.Abs("agent/logs/delivery/2026-02-21.md"), "# Delivery Manager — 2026-02-21\n\n## Run 09:00 (scheduled)\n\n### Reflection\nCalm day.\n")

	ledger := session.NewLedger(cfg.SessionsPath(), clk)
	if err := ledger.Put("delivery", "sess-123"); err != nil {
		t.Fatal(err)
	}
	engine := trigger.NewEngine()
	engine.Register("risk", trigger.Spec{Kind: trigger.KindInterval, Every: 30 * time.Minute}, clk.Now())
	return Sources{
		Config:   cfg,
		Registry: role.NewRegistry(cfg.RolesDir),
		Store:    vault.New(cfg, logging.Discard()),
		Ledger:   ledger,
		Engine:   engine,
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildSnapshot(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC))
	snap := BuildSnapshot(newSources(t, clk), clk.Now())

	if snap.Err != nil {
		t.Fatalf("unexpected snapshot error: %v", snap.Err)
	}
	if len(snap.Roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(snap.Roles))
	}
	delivery, risk := snap.Roles[0], snap.Roles[1]
	if delivery.Model != "opus" || delivery.Session != "active" || delivery.LastRun != "## Run 09:00 (scheduled)" {
		t.Fatalf("delivery status = %+v", delivery)
	}
	if delivery.Schedule != "daily at 09:00, 17:00" {
		t.Fatalf("delivery schedule = %q", delivery.Schedule)
	}
	if risk.Pending != 2 || risk.Session != "" || !risk.Next.Equal(clk.Now().Add(30*time.Minute)) {
		t.Fatalf("risk status = %+v", risk)
	}
	if snap.Questions != 1 || snap.SlackEnabled {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestSnapshotMarksStaleSessions(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC))
	src := newSources(t, clk)
	clk.Advance(24 * time.Hour)
	snap := BuildSnapshot(src, clk.Now())
	if snap.Roles[0].Session != "stale" {
		t.Fatalf("expected stale session after rollover, got %q", snap.Roles[0].Session)
	}
}

func TestBoardRendersSnapshot(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC))
	board := NewBoard(newSources(t, clk), clk)
	if !strings.Contains(board.View(), "Loading") {
		t.Fatalf("board should show loading state before the first snapshot")
	}

	msg := board.Init()()
	model, cmd := board.Update(msg)
	if cmd == nil {
		t.Fatalf("snapshot should schedule the next refresh")
	}
	view := model.View()
	for _, want := range []string{"Roles (2)", "Delivery Manager", "Risk Manager", "Questions waiting: 1", "Slack: disabled", "Calm day."} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}

	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatalf("r should load a fresh snapshot")
	}
	manual := cmd()
	if _, ok := manual.(manualSnapshotMsg); !ok {
		t.Fatalf("r produced %T, want manualSnapshotMsg", manual)
	}
	if _, cmd = model.Update(manual); cmd != nil {
		t.Fatalf("manual refresh must not start another refresh timer")
	}

	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("q should produce tea.QuitMsg")
	}
}

func TestNextLabel(t *testing.T) {
	now := time.Date(2026, 2, 21, 10, 0, 0, 0, time.UTC)
	cases := map[string]time.Time{
		"-":   {},
		"due": now.Add(-time.Second),
		"15m": now.Add(15 * time.Minute),
		"7h":  now.Add(7 * time.Hour),
	}
	for want, next := range cases {
		if got := nextLabel(next, now); got != want {
			t.Fatalf("nextLabel(%v) = %q, want %q", next, got, want)
		}
	}
}
