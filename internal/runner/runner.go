// Package runner executes one agent session for one role: it prepares the
// run log, builds the prompts from vault state, consumes the inbox, invokes
// the agent runtime and records what happened.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/kingrea/tpm-runner/internal/agent"
	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/runlog"
	"github.com/kingrea/tpm-runner/internal/session"
	"github.com/kingrea/tpm-runner/internal/trigger"
	"github.com/kingrea/tpm-runner/internal/vault"
)

const previewLimit = 300

// Reporter mirrors completed runs to the chat channel.
type Reporter interface {
	PostRunSummary(ctx context.Context, r role.Role, cost *float64, logRel string) error
}

// Options wires a Runner.
type Options struct {
	Config   *config.Config
	Registry *role.Registry
	Store    *vault.Store
	Ledger   *session.Ledger
	Runtime  agent.Runtime
	Clock    clock.Clock
	Logger   *slog.Logger
	// Reporter is optional; nil disables run summaries.
	Reporter Reporter
	DryRun   bool
}

// Runner runs roles one at a time.
type Runner struct {
	cfg      *config.Config
	registry *role.Registry
	store    *vault.Store
	ledger   *session.Ledger
	runtime  agent.Runtime
	clock    clock.Clock
	logger   *slog.Logger
	reporter Reporter
	dryRun   bool
}

// New validates opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Config == nil || opts.Registry == nil || opts.Store == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("runner: config, registry, store and ledger are required")
	}
	if opts.Runtime == nil && !opts.DryRun {
		return nil, fmt.Errorf("runner: runtime is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		cfg:      opts.Config,
		registry: opts.Registry,
		store:    opts.Store,
		ledger:   opts.Ledger,
		runtime:  opts.Runtime,
		clock:    opts.Clock,
		logger:   opts.Logger,
		reporter: opts.Reporter,
		dryRun:   opts.DryRun,
	}, nil
}

// Outcome reports what a run did. Run never returns an error; failures are
// logged and surfaced here.
type Outcome struct {
	Role      string
	Trigger   string
	LogPath   string
	Section   string
	Archived  int
	Resumed   bool
	SessionID string
	CostUSD   float64
	HasCost   bool
	// Completed is false when the agent left the run log untouched.
	Completed bool
	DryRun    bool
	Err       error
}

// Run executes one session for the named role.
func (r *Runner) Run(ctx context.Context, name, reason string) Outcome {
	logger := r.logger.With("role", name)
	out := Outcome{Role: name, Trigger: trigger.TagFor(reason)}

	rl, err := r.registry.LoadRole(name)
	if err != nil {
		logger.Error("cannot load role", "err", err)
		out.Err = err
		return out
	}
	logger.Info("triggered", "reason", reason, "model", rl.Model)

	if r.dryRun {
		logger.Info("dry run", "model", rl.Model, "tools", strings.Join(rl.Tools, ","), "trigger", out.Trigger)
		out.DryRun = true
		return out
	}

	now := r.clock.Now().UTC()
	doc := runlog.Open(r.cfg.VaultPath, runlog.Rel(r.cfg.LogsRel(name), now))
	out.LogPath = doc.Rel()
	if err := doc.Ensure(rl.Title(), now); err != nil {
		logger.Error("cannot prepare run log", "err", err)
		out.Err = err
		return out
	}
	header, watermark, err := doc.AppendSection(now, out.Trigger)
	if err != nil {
		logger.Error("cannot append run section", "err", err)
		out.Err = err
		return out
	}
	out.Section = header

	inboxDir := rl.InboxDir(r.cfg)
	inboxText, consumed := r.readInbox(logger, inboxDir)

	systemPrompt := r.systemPrompt(rl, doc.Rel(), header, inboxDir)
	message := r.initialMessage(rl, now, doc.Rel(), inboxText)
	logger.Debug("prompt built", "system_chars", len(systemPrompt), "message_chars", len(message), "tools", rl.Tools)

	// The content is already in the prompt, so archive regardless of how the
	// invocation goes.
	archived, err := r.store.ArchiveFiles(inboxDir, consumed)
	if err != nil {
		logger.Warn("could not archive inbox", "err", err)
	}
	out.Archived = archived

	resume, resumed := r.ledger.Get(name)
	if resumed {
		logger.Info("resuming session", "session", shortID(resume))
	} else {
		logger.Info("starting fresh session")
	}
	out.Resumed = resumed

	req := agent.Request{
		Model:          rl.Model,
		SystemPrompt:   systemPrompt,
		Prompt:         message,
		Tools:          rl.Tools,
		PermissionMode: agent.PermissionBypass,
		MaxTurns:       r.maxTurns(),
		Cwd:            r.cfg.VaultPath,
		Resume:         resume,
	}
	var newSession string
	queryErr := r.runtime.Query(ctx, req, func(msg agent.Message) {
		if msg.SessionID != "" {
			newSession = msg.SessionID
		}
		switch msg.Type {
		case agent.TypeAssistant:
			if msg.Text != "" {
				logger.Info(preview(msg.Text, previewLimit))
				logger.Debug("assistant text", "full", msg.Text)
			}
		case agent.TypeResult:
			out.CostUSD, out.HasCost = msg.CostUSD, msg.HasCost
			logger.Info("done", "duration_ms", msg.DurationMS, "cost", formatCost(msg.CostUSD, msg.HasCost))
		}
	})
	if queryErr != nil {
		queryErr = agent.Classify(queryErr)
		out.Err = queryErr
		if agent.IsRateLimited(queryErr) {
			logger.Warn("token/rate limit hit, will retry next scheduled run", "err", queryErr)
		} else {
			logger.Error("agent invocation failed", "err", queryErr)
		}
	} else if newSession != "" {
		if err := r.ledger.Put(name, newSession); err != nil {
			logger.Warn("could not save session", "err", err)
		}
		out.SessionID = newSession
	}

	grew, err := doc.Grew(watermark)
	if err != nil {
		logger.Warn("could not verify run log", "err", err)
	}
	out.Completed = grew
	if err == nil && !grew {
		logger.Error("LIVENESS: run log was not extended by the agent", "log", doc.Rel(), "section", header)
	}

	if r.reporter != nil {
		var cost *float64
		if out.HasCost {
			c := out.CostUSD
			cost = &c
		}
		if err := r.reporter.PostRunSummary(ctx, rl, cost, doc.Rel()); err != nil {
			logger.Warn("could not post run summary", "err", err)
		}
	}
	return out
}

// readInbox renders the role's unarchived messages and returns the paths
// that were captured. Messages arriving after this point are not archived by
// this run.
func (r *Runner) readInbox(logger *slog.Logger, dir string) (string, []string) {
	paths, err := r.store.ListUnarchived(dir)
	if err != nil {
		logger.Warn("could not list inbox", "inbox", dir, "err", err)
		return "", nil
	}
	var (
		parts    []string
		consumed []string
	)
	for _, rel := range paths {
		text, err := r.store.Read(rel)
		if err != nil {
			logger.Warn("could not read inbox message", "file", rel, "err", err)
			continue
		}
		name := path.Base(rel)
		parts = append(parts, fmt.Sprintf("--- inbox: %s ---\n%s", name, text))
		consumed = append(consumed, rel)
	}
	return strings.Join(parts, "\n\n"), consumed
}

func (r *Runner) maxTurns() int {
	if r.cfg.MaxTurns > 0 {
		return r.cfg.MaxTurns
	}
	return 10
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func formatCost(cost float64, ok bool) string {
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("$%.4f", cost)
}
