package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingrea/tpm-runner/internal/clock"
)

func TestGetReturnsTokenOnlySameDay(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 2, 21, 23, 50, 0, 0, time.UTC))
	ledger := NewLedger(filepath.Join(t.TempDir(), "sessions.json"), clk)

	if _, ok := ledger.Get("risk"); ok {
		t.Fatalf("empty ledger should not return a session")
	}
	if err := ledger.Put("risk", "sess-123"); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	got, ok := ledger.Get("risk")
	if !ok || got != "sess-123" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if _, ok := ledger.Get("delivery"); ok {
		t.Fatalf("other roles should not see the session")
	}

	clk.Advance(15 * time.Minute)
	if _, ok := ledger.Get("risk"); ok {
		t.Fatalf("session should expire after UTC date rollover")
	}
}

func TestPutOverwritesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sessions.json")
	clk := clock.NewFake(time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC))
	ledger := NewLedger(path, clk)
	if err := ledger.Put("comms", "first"); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Put("comms", "second"); err != nil {
		t.Fatal(err)
	}
	reopened := NewLedger(path, clk)
	if got, ok := reopened.Get("comms"); !ok || got != "second" {
		t.Fatalf("reopened ledger Get = %q, %v", got, ok)
	}
	entries, err := reopened.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if entries["comms"].Date != "2026-02-21" {
		t.Fatalf("unexpected stored date %q", entries["comms"].Date)
	}
}

func TestCorruptLedgerIsReplacedOnPut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	ledger := NewLedger(path, clock.NewFake(time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)))
	if _, ok := ledger.Get("risk"); ok {
		t.Fatalf("corrupt ledger should yield no session")
	}
	if err := ledger.Put("risk", "fresh"); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if got, ok := ledger.Get("risk"); !ok || got != "fresh" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
}
