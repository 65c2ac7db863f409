// Package scheduler drives the runner: one cooperative loop that routes
// answered questions, polls the channel, runs due and inbox-triggered roles,
// compiles the daily digest and mirrors vault activity outward.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/runner"
	"github.com/kingrea/tpm-runner/internal/trigger"
	"github.com/kingrea/tpm-runner/internal/vault"
)

// RoleRunner executes one role session.
type RoleRunner interface {
	Run(ctx context.Context, name, reason string) runner.Outcome
}

// Digester compiles yesterday's digest once per date.
type Digester interface {
	Compile(ctx context.Context) (bool, error)
}

// Bridge is the channel mirror as the loop drives it.
type Bridge interface {
	CheckInbound(ctx context.Context) (bool, error)
	PostQuestions(ctx context.Context) (int, error)
	PostDrafts(ctx context.Context) (int, error)
	PostInterRole(ctx context.Context) (int, error)
}

// Options wires a Loop.
type Options struct {
	Config   *config.Config
	Registry *role.Registry
	Store    *vault.Store
	Runner   RoleRunner
	Engine   *trigger.Engine
	// Digest and Bridge are optional.
	Digest Digester
	Bridge Bridge
	Clock  clock.Clock
	Logger *slog.Logger
}

// Loop is the single-threaded scheduler.
type Loop struct {
	cfg      *config.Config
	registry *role.Registry
	store    *vault.Store
	runner   RoleRunner
	engine   *trigger.Engine
	digest   Digester
	bridge   Bridge
	clock    clock.Clock
	logger   *slog.Logger
}

// New validates opts and returns a Loop.
func New(opts Options) (*Loop, error) {
	if opts.Config == nil || opts.Registry == nil || opts.Store == nil || opts.Runner == nil {
		return nil, errors.New("scheduler: config, registry, store and runner are required")
	}
	if opts.Engine == nil {
		opts.Engine = trigger.NewEngine()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		cfg:      opts.Config,
		registry: opts.Registry,
		store:    opts.Store,
		runner:   opts.Runner,
		engine:   opts.Engine,
		digest:   opts.Digest,
		bridge:   opts.Bridge,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}, nil
}

// Engine exposes the registered timers.
func (l *Loop) Engine() *trigger.Engine {
	return l.engine
}

// Report summarizes one tick.
type Report struct {
	Routed  int
	Inbound bool
	Runs    []runner.Outcome
	Digest  bool
	Posted  int
}

// Register parses every role's schedule and adds its timers. Roles with an
// unparseable schedule stay inbox-triggered only.
func (l *Loop) Register() (int, error) {
	roles, err := l.registry.LoadAll()
	if err != nil {
		l.logger.Warn("some roles failed to load", "err", err)
	}
	if len(roles) == 0 {
		if err == nil {
			err = fmt.Errorf("no role definitions in %s", l.registry.Dir())
		}
		return 0, err
	}
	now := l.clock.Now()
	total := 0
	for _, r := range roles {
		spec, perr := trigger.Parse(r.Schedule)
		if perr != nil {
			l.logger.Warn("could not parse schedule, inbox trigger only", "role", r.Name, "schedule", r.Schedule)
		}
		n := l.engine.Register(r.Name, spec, now)
		total += n
		l.logger.Info("registered", "role", r.Name, "schedule", spec.String(), "timers", n)
	}
	return total, nil
}

// Tick runs one pass: routing, inbound, due runs, inbox runs, digest and
// outward jobs, strictly in that order.
func (l *Loop) Tick(ctx context.Context) Report {
	report := Report{}
	roster := l.roster()
	report.Routed = l.route(roster)

	if l.bridge != nil {
		read, err := l.bridge.CheckInbound(ctx)
		if err != nil {
			l.logger.Warn("inbound check failed", "component", "bridge", "err", err)
		}
		report.Inbound = read
	}

	for _, due := range l.engine.Due(l.clock.Now()) {
		if ctx.Err() != nil {
			return report
		}
		report.Runs = append(report.Runs, l.runner.Run(ctx, due.Role, due.Reason))
	}
	report.Runs = append(report.Runs, l.runInboxes(ctx)...)

	if l.digest != nil && ctx.Err() == nil {
		compiled, err := l.digest.Compile(ctx)
		if err != nil {
			l.logger.Warn("digest compilation failed", "err", err)
		}
		report.Digest = compiled
	}

	if l.bridge != nil && ctx.Err() == nil {
		report.Posted = l.postOutward(ctx)
	}
	return report
}

// CheckOnce routes answered questions and runs every role with a pending
// inbox.
func (l *Loop) CheckOnce(ctx context.Context) Report {
	report := Report{Routed: l.route(l.roster())}
	report.Runs = l.runInboxes(ctx)
	return report
}

// Run registers schedules, ticks immediately and then every poll interval
// until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	timers, err := l.Register()
	if err != nil {
		return fmt.Errorf("scheduler: register roles: %w", err)
	}
	interval := l.cfg.PollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	l.logger.Info("scheduler started", "timers", timers, "poll", interval.String())

	l.Tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

func (l *Loop) runInboxes(ctx context.Context) []runner.Outcome {
	roles, err := l.registry.LoadAll()
	if err != nil {
		l.logger.Warn("some roles failed to load", "err", err)
	}
	var outcomes []runner.Outcome
	for _, r := range roles {
		if ctx.Err() != nil {
			break
		}
		if !trigger.InboxPending(l.store, r.InboxDir(l.cfg)) {
			continue
		}
		outcomes = append(outcomes, l.runner.Run(ctx, r.Name, trigger.ReasonInbox))
	}
	return outcomes
}

func (l *Loop) route(roster vault.Roster) int {
	routed, err := l.store.RouteAnswered(roster)
	if err != nil {
		l.logger.Warn("could not route answered questions", "component", "user-routing", "err", err)
	}
	return routed
}

func (l *Loop) postOutward(ctx context.Context) int {
	jobs := []struct {
		name string
		run  func(context.Context) (int, error)
	}{
		{"questions", l.bridge.PostQuestions},
		{"drafts", l.bridge.PostDrafts},
		{"inter-role", l.bridge.PostInterRole},
	}
	total := 0
	for _, job := range jobs {
		n, err := job.run(ctx)
		if err != nil {
			l.logger.Warn("outward job failed", "component", "bridge", "job", job.name, "err", err)
		}
		total += n
	}
	return total
}

func (l *Loop) roster() vault.Roster {
	roles, err := l.registry.LoadAll()
	if err != nil {
		l.logger.Warn("some roles failed to load", "err", err)
	}
	return role.Roster(roles, l.cfg)
}
