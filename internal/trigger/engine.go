package trigger

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Trigger is one fired schedule entry.
type Trigger struct {
	Role   string
	Reason string
}

// Entry is a single registered timer. A daily spec with two times yields two
// entries.
type Entry struct {
	Role   string
	Kind   Kind
	Every  time.Duration
	At     TimeOfDay
	Next   time.Time
	Reason string
}

// Engine holds the registered timers. It owns no goroutines and never reads
// the clock: callers pass "now" into every method.
type Engine struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Register adds the timers for spec and returns how many were added.
// On-demand specs add none.
func (e *Engine) Register(role string, spec Spec, now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch spec.Kind {
	case KindInterval:
		if spec.Every <= 0 {
			return 0
		}
		minutes := int(spec.Every / time.Minute)
		e.entries = append(e.entries, &Entry{
			Role:   role,
			Kind:   KindInterval,
			Every:  spec.Every,
			Next:   now.Add(spec.Every),
			Reason: fmt.Sprintf("scheduled (every %dmin)", minutes),
		})
		return 1
	case KindDaily:
		for _, at := range spec.Times {
			e.entries = append(e.entries, &Entry{
				Role:   role,
				Kind:   KindDaily,
				At:     at,
				Next:   nextDaily(at, now),
				Reason: fmt.Sprintf("scheduled (%s)", at),
			})
		}
		return len(spec.Times)
	default:
		return 0
	}
}

// Due returns the entries whose next run is at or before now, in
// registration order, and reschedules them relative to now. An entry that
// missed several periods fires once.
func (e *Engine) Due(now time.Time) []Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	var due []Trigger
	for _, entry := range e.entries {
		if entry.Next.After(now) {
			continue
		}
		due = append(due, Trigger{Role: entry.Role, Reason: entry.Reason})
		switch entry.Kind {
		case KindInterval:
			entry.Next = now.Add(entry.Every)
		case KindDaily:
			entry.Next = nextDaily(entry.At, now)
		}
	}
	return due
}

// Entries returns a copy of the registered timers ordered by next run.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.entries))
	for i, entry := range e.entries {
		out[i] = *entry
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Next.Before(out[j].Next) })
	return out
}

// NextRun returns the earliest scheduled run of role.
func (e *Engine) NextRun(role string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var next time.Time
	found := false
	for _, entry := range e.entries {
		if entry.Role != role {
			continue
		}
		if !found || entry.Next.Before(next) {
			next = entry.Next
			found = true
		}
	}
	return next, found
}

// Len reports the number of registered timers.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func nextDaily(at TimeOfDay, now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// Inbox is the slice of the vault the engine needs for inbox detection.
type Inbox interface {
	HasPending(dir string) bool
}

// InboxPending reports whether a role's inbox holds unprocessed messages.
// It is independent of the timers: a role can be both due and pending.
func InboxPending(inbox Inbox, dir string) bool {
	return inbox.HasPending(dir)
}
