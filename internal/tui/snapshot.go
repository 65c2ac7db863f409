package tui

import (
	"time"

	"github.com/kingrea/tpm-runner/internal/bridge"
	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/runlog"
	"github.com/kingrea/tpm-runner/internal/session"
	"github.com/kingrea/tpm-runner/internal/trigger"
	"github.com/kingrea/tpm-runner/internal/vault"
)

// Sources is everything a status snapshot reads. It never writes.
type Sources struct {
	Config   *config.Config
	Registry *role.Registry
	Store    *vault.Store
	Ledger   *session.Ledger
	// Engine supplies next-run times; nil hides them.
	Engine *trigger.Engine
}

// RoleStatus is one row of the board.
type RoleStatus struct {
	Name     string
	Display  string
	Model    string
	Schedule string
	Next     time.Time
	Pending  int
	// Session is "active" when resumable today, "stale" when from an earlier
	// day and empty when the role never ran.
	Session string
	LastRun string
	LogRel  string
}

// Snapshot is the board state at one instant.
type Snapshot struct {
	Taken        time.Time
	Roles        []RoleStatus
	Questions    int
	Drafts       int
	Posted       int
	LastInbound  time.Time
	SlackEnabled bool
	Err          error
}

// BuildSnapshot reads the vault, ledger and bridge state.
func BuildSnapshot(src Sources, now time.Time) Snapshot {
	snap := Snapshot{Taken: now, SlackEnabled: src.Config.SlackEnabled()}
	roles, err := src.Registry.LoadAll()
	if err != nil {
		snap.Err = err
	}
	sessions := map[string]session.Entry{}
	if src.Ledger != nil {
		if entries, err := src.Ledger.Snapshot(); err == nil {
			sessions = entries
		}
	}
	for _, r := range roles {
		status := RoleStatus{
			Name:     r.Name,
			Display:  r.Title(),
			Model:    r.Model,
			Schedule: scheduleLabel(r.Schedule),
		}
		if src.Engine != nil {
			status.Next, _ = src.Engine.NextRun(r.Name)
		}
		if pending, err := src.Store.ListUnarchived(r.InboxDir(src.Config)); err == nil {
			status.Pending = len(pending)
		}
		if entry, ok := sessions[r.Name]; ok {
			status.Session = "stale"
			if src.Ledger.Active(entry) {
				status.Session = "active"
			}
		}
		doc := runlog.Open(src.Config.VaultPath, runlog.Rel(src.Config.LogsRel(r.Name), now.UTC()))
		status.LogRel = doc.Rel()
		if section, ok, err := doc.LastSection(); err == nil && ok {
			status.LastRun = section.Header
		}
		snap.Roles = append(snap.Roles, status)
	}
	if questions, err := src.Store.ListUnarchived(src.Config.UserInboxRel()); err == nil {
		snap.Questions = len(questions)
	}
	for _, r := range roles {
		if drafts, err := src.Store.ListUnarchived(src.Config.DraftsRel(r.Name)); err == nil {
			snap.Drafts += len(drafts)
		}
	}
	if state, err := bridge.NewStateStore(src.Config.SlackStatePath()).Load(); err == nil {
		snap.Posted = len(state.Posted)
		snap.LastInbound = state.LastInbound()
	}
	return snap
}

func scheduleLabel(text string) string {
	spec, err := trigger.Parse(text)
	if err != nil {
		return "inbox only"
	}
	return spec.String()
}
