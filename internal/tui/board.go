// Package tui is the read-only status board for the runner.
//
// It uses bubbletea, which follows The Elm Architecture: a Model holds the
// board state, Update folds messages (keys, refresh ticks) into it and View
// renders it. The board never mutates the vault; it re-reads it on a timer.
package tui

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/runlog"
)

const (
	boardRefreshInterval = 3 * time.Second
	logTailLines         = 8
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	bodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// snapshotMsg comes from the refresh timer and re-arms it. manualSnapshotMsg
// answers the r key and leaves the timer alone.
type (
	snapshotMsg       Snapshot
	manualSnapshotMsg Snapshot
)

// Board is the bubbletea model.
type Board struct {
	sources Sources
	clock   clock.Clock

	table    table.Model
	snapshot Snapshot
	loaded   bool
	width    int
	height   int
}

// NewBoard returns a board over src.
func NewBoard(src Sources, clk clock.Clock) *Board {
	if clk == nil {
		clk = clock.Real()
	}
	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3B4252"))
	t.SetStyles(styles)
	return &Board{sources: src, clock: clk, table: t}
}

func columns(width int) []table.Column {
	roleWidth := max(20, width/6)
	return []table.Column{
		{Title: "Role", Width: roleWidth},
		{Title: "Model", Width: 8},
		{Title: "Schedule", Width: 22},
		{Title: "Next", Width: 7},
		{Title: "Inbox", Width: 5},
		{Title: "Session", Width: 7},
		{Title: "Last run", Width: max(20, width-roleWidth-70)},
	}
}

// Init loads the first snapshot.
func (b *Board) Init() tea.Cmd {
	return b.fetchSnapshot()
}

// Update folds a message into the board.
func (b *Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		b.width = msg.Width
		b.height = msg.Height
		b.table.SetColumns(columns(max(60, msg.Width-4)))
		b.table.SetHeight(max(4, msg.Height-logTailLines-12))
		return b, nil

	case snapshotMsg:
		b.apply(Snapshot(msg))
		return b, b.scheduleRefresh()

	case manualSnapshotMsg:
		b.apply(Snapshot(msg))
		return b, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return b, tea.Quit
		case "r":
			return b, b.refreshNow()
		}
	}
	var cmd tea.Cmd
	b.table, cmd = b.table.Update(msg)
	return b, cmd
}

// View renders the board.
func (b *Board) View() string {
	sections := []string{headerStyle.Render("⬡ TPM RUNNER")}
	if !b.loaded {
		return strings.Join(append(sections, mutedStyle.Render("Loading vault status...")), "\n")
	}
	sections = append(sections, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("Roles (%d)", len(b.snapshot.Roles))),
		b.table.View(),
	)))
	sections = append(sections, b.renderBridgePanel())
	if panel := b.renderLogPanel(); panel != "" {
		sections = append(sections, panel)
	}
	footer := fmt.Sprintf("↑/↓ select    r refresh    q quit    updated %s", b.snapshot.Taken.Local().Format("15:04:05"))
	sections = append(sections, mutedStyle.MarginTop(1).Render(footer))
	return strings.Join(sections, "\n")
}

func (b *Board) apply(snap Snapshot) {
	b.snapshot = snap
	b.loaded = true
	rows := make([]table.Row, 0, len(snap.Roles))
	for _, r := range snap.Roles {
		rows = append(rows, table.Row{
			r.Display,
			r.Model,
			r.Schedule,
			nextLabel(r.Next, snap.Taken),
			fmt.Sprintf("%d", r.Pending),
			dash(r.Session),
			dash(r.LastRun),
		})
	}
	b.table.SetRows(rows)
	if cursor := b.table.Cursor(); cursor >= len(rows) && len(rows) > 0 {
		b.table.SetCursor(len(rows) - 1)
	}
}

func (b *Board) selected() (RoleStatus, bool) {
	cursor := b.table.Cursor()
	if cursor < 0 || cursor >= len(b.snapshot.Roles) {
		return RoleStatus{}, false
	}
	return b.snapshot.Roles[cursor], true
}

func (b *Board) renderBridgePanel() string {
	snap := b.snapshot
	lines := []string{
		fmt.Sprintf("Questions waiting: %d    Drafts awaiting approval: %d", snap.Questions, snap.Drafts),
	}
	if snap.SlackEnabled {
		inbound := "never"
		if !snap.LastInbound.IsZero() {
			inbound = humanizeDuration(snap.Taken.Sub(snap.LastInbound)) + " ago"
		}
		lines = append(lines, fmt.Sprintf("Slack: %d posted · last inbound check %s", snap.Posted, inbound))
	} else {
		lines = append(lines, "Slack: disabled")
	}
	if snap.Err != nil {
		lines = append(lines, warnStyle.Render("⚠ "+snap.Err.Error()))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Vault"),
		bodyStyle.Render(strings.Join(lines, "\n")),
	))
}

func (b *Board) renderLogPanel() string {
	r, ok := b.selected()
	if !ok {
		return ""
	}
	lines := runlog.Open(b.sources.Config.VaultPath, r.LogRel).Tail(logTailLines)
	if len(lines) == 0 {
		return ""
	}
	head := titleStyle.Render(fmt.Sprintf("LOG · %s", path.Base(r.LogRel)))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, bodyStyle.Render(strings.Join(lines, "\n"))))
}

func (b *Board) fetchSnapshot() tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(BuildSnapshot(b.sources, b.clock.Now()))
	}
}

func (b *Board) refreshNow() tea.Cmd {
	return func() tea.Msg {
		return manualSnapshotMsg(BuildSnapshot(b.sources, b.clock.Now()))
	}
}

func (b *Board) scheduleRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return snapshotMsg(BuildSnapshot(b.sources, b.clock.Now()))
	})
}

func nextLabel(next, now time.Time) string {
	if next.IsZero() {
		return "-"
	}
	if !next.After(now) {
		return "due"
	}
	return humanizeDuration(next.Sub(now))
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}
