package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/logging"
	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/session"
	"github.com/kingrea/tpm-runner/internal/trigger"
	"github.com/kingrea/tpm-runner/internal/tui"
	"github.com/kingrea/tpm-runner/internal/vault"
)

func rolesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "roles",
		Short: "List roles with schedules, pending inbox and session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := statusSources(opts)
			if err != nil {
				return err
			}
			snap := tui.BuildSnapshot(src, time.Now())
			if snap.Err != nil {
				fmt.Fprintln(os.Stderr, "warning:", snap.Err)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Role", "Name", "Model", "Schedule", "Next", "Inbox", "Session", "Last run"})
			for _, r := range snap.Roles {
				next := ""
				if !r.Next.IsZero() {
					next = r.Next.Local().Format("15:04")
				}
				tw.AppendRow(table.Row{r.Name, r.Display, r.Model, r.Schedule, next, r.Pending, r.Session, r.LastRun})
			}
			tw.AppendFooter(table.Row{"", "", "", "", "", "", "questions", snap.Questions})
			tw.Render()
			return nil
		},
	}
}

func boardCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Open the live status board",
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := statusSources(opts)
			if err != nil {
				return err
			}
			program := tea.NewProgram(tui.NewBoard(src, clock.Real()), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err = program.Run()
			return err
		},
	}
}

// statusSources builds read-only sources for the roles table and the board.
// Next-run times are projected from now since the scheduler's timers live in
// another process.
func statusSources(opts *options) (tui.Sources, error) {
	cfg := opts.cfg
	registry := role.NewRegistry(cfg.RolesDir)
	engine := trigger.NewEngine()
	roles, err := registry.LoadAll()
	if err != nil && len(roles) == 0 {
		return tui.Sources{}, err
	}
	now := time.Now()
	for _, r := range roles {
		spec, _ := trigger.Parse(r.Schedule)
		engine.Register(r.Name, spec, now)
	}
	clk := clock.Real()
	return tui.Sources{
		Config:   cfg,
		Registry: registry,
		Store:    vault.New(cfg, logging.Discard()),
		Ledger:   session.NewLedger(cfg.SessionsPath(), clk),
		Engine:   engine,
	}, nil
}
