package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/tpm-runner/internal/agent"
	"github.com/kingrea/tpm-runner/internal/bridge"
	slackchannel "github.com/kingrea/tpm-runner/internal/bridge/slack"
	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/logging"
	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/runner"
	"github.com/kingrea/tpm-runner/internal/scheduler"
	"github.com/kingrea/tpm-runner/internal/session"
	"github.com/kingrea/tpm-runner/internal/trigger"
	"github.com/kingrea/tpm-runner/internal/vault"
)

var errUnknownRole = errors.New("unknown role")

type options struct {
	configFile string
	role       string
	once       bool
	dryRun     bool

	cfg *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "tpm-runner",
		Short: "Schedule TPM role agents over a shared vault",
		Long: `tpm-runner wakes role agents on their schedules or when their inbox has mail.
Each run gets the role definition, its context files, today's log and its
inbox; the agent writes back into the vault. Questions, drafts, inter-role
messages and run summaries are mirrored to Slack when a channel is configured.

Without flags the scheduler runs until interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(opts.configFile)
			if err != nil {
				return err
			}
			_ = v.BindPFlag("vault", cmd.Flags().Lookup("vault"))
			_ = v.BindPFlag("roles", cmd.Flags().Lookup("roles"))
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to tpm.yaml (default ./tpm.yaml when present)")
	root.PersistentFlags().String("vault", "", "vault directory (env TPM_VAULT or VAULT_PATH)")
	root.PersistentFlags().String("roles", "", "role definitions directory")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "log intended actions without invoking the agent or Slack")
	root.Flags().StringVar(&opts.role, "role", "", "run one role now and exit")
	root.Flags().BoolVar(&opts.once, "once", false, "check all triggers once and exit")
	root.MarkFlagsMutuallyExclusive("role", "once")

	root.AddCommand(rolesCmd(opts))
	root.AddCommand(boardCmd(opts))
	return root
}

// app is the wired object graph shared by every mode.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *role.Registry
	store    *vault.Store
	ledger   *session.Ledger
	runner   *runner.Runner
	digest   *runner.Digest
	bridge   *bridge.Bridge
}

func wire(cfg *config.Config, dryRun bool) (*app, error) {
	logger, err := logging.Setup(cfg.LogDir, os.Stderr, time.Now())
	if err != nil {
		return nil, err
	}
	clk := clock.Real()
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: role.NewRegistry(cfg.RolesDir),
		store:    vault.New(cfg, logger.Logger),
		ledger:   session.NewLedger(cfg.SessionsPath(), clk),
	}
	runtime := &agent.ClaudeCLI{Binary: cfg.ClaudeBinary}

	settings := bridge.SettingsFromConfig(cfg)
	switch {
	case !settings.Enabled:
		logger.Info("slack bridge disabled: no channel configured")
	case dryRun:
		logger.Info("dry run: slack bridge not started", "channel", settings.Channel)
	default:
		client, err := slackchannel.New(settings.Token, settings.APIURL)
		if err != nil {
			logger.Warn("slack bridge disabled", "err", err)
			break
		}
		a.bridge, err = bridge.New(bridge.Options{
			Settings: settings,
			Config:   cfg,
			Channel:  client,
			Store:    a.store,
			Registry: a.registry,
			Clock:    clk,
			Logger:   logger.Logger,
		})
		if err != nil {
			logger.Close()
			return nil, err
		}
		logger.Info("slack bridge enabled", "channel", settings.Channel)
	}

	opts := runner.Options{
		Config:   cfg,
		Registry: a.registry,
		Store:    a.store,
		Ledger:   a.ledger,
		Runtime:  runtime,
		Clock:    clk,
		Logger:   logger.Logger,
		DryRun:   dryRun,
	}
	if a.bridge != nil {
		opts.Reporter = a.bridge
	}
	a.runner, err = runner.New(opts)
	if err != nil {
		logger.Close()
		return nil, err
	}
	a.digest = runner.NewDigest(cfg, a.registry, runtime, clk, logger.Logger, dryRun)
	return a, nil
}

func runRoot(ctx context.Context, opts *options) error {
	a, err := wire(opts.cfg, opts.dryRun)
	if err != nil {
		return err
	}
	defer a.logger.Close()
	a.logger.Info("tpm-runner starting", "vault", a.cfg.VaultPath, "roles", a.cfg.RolesDir, "log", a.logger.Path(), "dry_run", opts.dryRun)

	if opts.role != "" {
		if !a.registry.Has(opts.role) {
			a.logger.Error("unknown role", "role", opts.role, "roles_dir", a.cfg.RolesDir)
			return fmt.Errorf("%w: %s", errUnknownRole, opts.role)
		}
		a.runner.Run(ctx, opts.role, trigger.ReasonManual)
		return nil
	}

	lock, err := scheduler.Acquire(a.cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	loopOpts := scheduler.Options{
		Config:   a.cfg,
		Registry: a.registry,
		Store:    a.store,
		Runner:   a.runner,
		Digest:   a.digest,
		Logger:   a.logger.Logger,
	}
	if a.bridge != nil {
		loopOpts.Bridge = a.bridge
	}
	loop, err := scheduler.New(loopOpts)
	if err != nil {
		return err
	}
	if opts.once {
		report := loop.CheckOnce(ctx)
		a.logger.Info("single check complete", "routed", report.Routed, "runs", len(report.Runs))
		return nil
	}
	return loop.Run(ctx)
}
