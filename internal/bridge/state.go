package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/kingrea/tpm-runner/internal/statefile"
)

// PostedEntry records where a vault message was posted.
type PostedEntry struct {
	ThreadTS string `json:"thread_ts"`
	Channel  string `json:"channel"`
	PostedAt string `json:"posted_at"`
}

// State is the persisted bridge document.
type State struct {
	Posted           map[string]PostedEntry `json:"posted"`
	ChannelID        string                 `json:"channel_id,omitempty"`
	LastInboundCheck string                 `json:"last_inbound_check,omitempty"`
}

// IsPosted reports whether key has already been delivered.
func (s State) IsPosted(key string) bool {
	_, ok := s.Posted[key]
	return ok
}

// LastInbound parses the inbound watermark; zero when never checked.
func (s State) LastInbound() time.Time {
	if s.LastInboundCheck == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.LastInboundCheck)
	if err != nil {
		return time.Time{}
	}
	return t
}

// StateStore reads and writes the state document. Every mutation is a
// whole-file atomic replace.
type StateStore struct {
	path string
	mu   sync.Mutex
}

// NewStateStore returns a store backed by path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the backing file.
func (s *StateStore) Path() string {
	return s.path
}

// Load returns the current state. A missing file is an empty state; an
// unreadable one is an error so the posted-set is never silently reset.
func (s *StateStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update applies fn to the current state and saves the result.
func (s *StateStore) Update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return err
	}
	fn(&state)
	if err := statefile.Write(s.path, state); err != nil {
		return fmt.Errorf("bridge: save state: %w", err)
	}
	return nil
}

// Record adds key to the posted-set.
func (s *StateStore) Record(key string, ref PostRef, at time.Time) error {
	return s.Update(func(state *State) {
		state.Posted[key] = PostedEntry{
			ThreadTS: ref.Thread,
			Channel:  ref.Channel,
			PostedAt: at.UTC().Format(time.RFC3339),
		}
	})
}

func (s *StateStore) load() (State, error) {
	state := State{}
	if err := statefile.Read(s.path, &state); err != nil {
		return State{}, fmt.Errorf("bridge: load state: %w", err)
	}
	if state.Posted == nil {
		state.Posted = map[string]PostedEntry{}
	}
	return state, nil
}
