// Package session remembers one resumable agent session per role. A session
// is only offered for resumption on the UTC day it was recorded; the next
// day every role starts fresh.
package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/statefile"
)

const dateLayout = "2006-01-02"

// Entry is the persisted record for one role.
type Entry struct {
	SessionID string `json:"session_id"`
	Date      string `json:"date"`
}

// Ledger is a file-backed role → session map. Every call re-reads the file
// so edits by an operator are picked up.
type Ledger struct {
	path  string
	clock clock.Clock
	mu    sync.Mutex
}

// NewLedger returns a ledger stored at path.
func NewLedger(path string, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.Real()
	}
	return &Ledger{path: path, clock: clk}
}

// Get returns the role's session token if it was recorded today (UTC).
func (l *Ledger) Get(role string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.load()
	if err != nil {
		return "", false
	}
	entry, ok := entries[role]
	if !ok || entry.SessionID == "" || entry.Date != l.today() {
		return "", false
	}
	return entry.SessionID, true
}

// Put records token for role with today's date, replacing any prior entry.
func (l *Ledger) Put(role, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, err := l.load()
	if err != nil {
		// Unreadable ledger: drop it and start over.
		entries = map[string]Entry{}
	}
	entries[role] = Entry{SessionID: token, Date: l.today()}
	if err := statefile.Write(l.path, entries); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Snapshot returns every stored entry keyed by role, including stale ones.
func (l *Ledger) Snapshot() (map[string]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Roles returns the roles with an entry, sorted.
func (l *Ledger) Roles() []string {
	entries, err := l.Snapshot()
	if err != nil {
		return nil
	}
	roles := make([]string, 0, len(entries))
	for role := range entries {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Active reports whether an entry is resumable today.
func (l *Ledger) Active(e Entry) bool {
	return e.SessionID != "" && e.Date == l.today()
}

func (l *Ledger) load() (map[string]Entry, error) {
	entries := map[string]Entry{}
	if err := statefile.Read(l.path, &entries); err != nil {
		return map[string]Entry{}, fmt.Errorf("session: load: %w", err)
	}
	if entries == nil {
		entries = map[string]Entry{}
	}
	return entries, nil
}

func (l *Ledger) today() string {
	return l.clock.Now().UTC().Format(dateLayout)
}
