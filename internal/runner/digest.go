package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kingrea/tpm-runner/internal/agent"
	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/role"
)

// Digest compiles the previous UTC day's run logs into
// agent/logs/summaries/<date>.md using a small model with write access only.
type Digest struct {
	cfg      *config.Config
	registry *role.Registry
	runtime  agent.Runtime
	clock    clock.Clock
	logger   *slog.Logger
	dryRun   bool

	mu        sync.Mutex
	attempted map[string]bool
}

// NewDigest returns a digest compiler.
func NewDigest(cfg *config.Config, registry *role.Registry, runtime agent.Runtime, clk clock.Clock, logger *slog.Logger, dryRun bool) *Digest {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Digest{
		cfg:       cfg,
		registry:  registry,
		runtime:   runtime,
		clock:     clk,
		logger:    logger.With("component", "daily-summary"),
		dryRun:    dryRun,
		attempted: map[string]bool{},
	}
}

// Compile produces yesterday's summary unless it already exists or there is
// nothing to summarise. Each date is attempted at most once per process; a
// failed attempt is logged and not retried. It reports whether the runtime
// was invoked.
func (d *Digest) Compile(ctx context.Context) (bool, error) {
	yesterday := d.clock.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")

	d.mu.Lock()
	if d.attempted[yesterday] {
		d.mu.Unlock()
		return false, nil
	}
	d.attempted[yesterday] = true
	d.mu.Unlock()

	summaryRel := path.Join(d.cfg.SummariesRel(), yesterday+".md")
	if _, err := os.Stat(d.cfg.Abs(summaryRel)); err == nil {
		return false, nil
	}

	logs, err := d.collect(yesterday)
	if err != nil {
		return false, err
	}
	if len(logs) == 0 {
		return false, nil
	}
	if d.dryRun {
		d.logger.Info("dry run: would compile summary", "date", yesterday, "logs", len(logs))
		return false, nil
	}
	if d.runtime == nil {
		return false, fmt.Errorf("runner: digest has no runtime")
	}

	prompt := fmt.Sprintf("Compile the following role reasoning logs from %s into a single daily summary.\n"+
		"Write the summary to %s\n\n"+
		"The summary should include:\n"+
		"- Key actions taken by each role\n"+
		"- Decisions made\n"+
		"- Questions raised\n"+
		"- Risks or blockers surfaced\n\n"+
		"Be concise. This is a reference document, not a narrative.\n\n%s",
		yesterday, summaryRel, strings.Join(logs, "\n\n"))

	req := agent.Request{
		Model:          d.cfg.DigestModel,
		Prompt:         prompt,
		Tools:          []string{"Write"},
		PermissionMode: agent.PermissionBypass,
		MaxTurns:       3,
		Cwd:            d.cfg.VaultPath,
	}
	err = d.runtime.Query(ctx, req, func(msg agent.Message) {
		if msg.Type == agent.TypeResult {
			d.logger.Info("compiled summary", "date", yesterday, "cost", formatCost(msg.CostUSD, msg.HasCost))
		}
	})
	if err != nil {
		d.logger.Warn("failed to compile summary", "date", yesterday, "err", err)
		return true, agent.Classify(err)
	}
	return true, nil
}

func (d *Digest) collect(date string) ([]string, error) {
	names, err := d.registry.ListRoles()
	if err != nil {
		return nil, err
	}
	var logs []string
	for _, name := range names {
		dir := d.cfg.Abs(d.cfg.LogsRel(name))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			fn := entry.Name()
			if entry.IsDir() || !strings.HasPrefix(fn, date) || !strings.HasSuffix(fn, ".md") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, fn))
			if err != nil {
				d.logger.Warn("could not read log", "role", name, "file", fn, "err", err)
				continue
			}
			logs = append(logs, fmt.Sprintf("--- %s/%s ---\n%s", name, fn, data))
		}
	}
	return logs, nil
}
