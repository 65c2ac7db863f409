package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	slogmulti "github.com/samber/slog-multi"
)

// Logger owns the process log file and the slog.Logger that fans records out
// to it (DEBUG and up) and to the console (INFO and up). Operators can inspect
// a run's full trace after the terminal is gone.
type Logger struct {
	*slog.Logger
	file *os.File
	path string
}

// Setup creates <logDir>/<YYYY-MM-DD_HHMMSS>_runner.log and returns a logger
// writing to it and to console.
func Setup(logDir string, console io.Writer, now time.Time) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, now.Format("2006-01-02_150405")+"_runner.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	handler := slog.Handler(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if console != nil {
		handler = slogmulti.Fanout(handler, NewConsoleHandler(console, slog.LevelInfo))
	}
	return &Logger{Logger: slog.New(handler), file: f, path: path}, nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

var (
	debugBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	infoBadge  = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399")).Bold(true)
	warnBadge  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true)
	errorBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true)
)

// NewConsoleHandler renders short HH:MM:SS lines with a coloured level badge.
func NewConsoleHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(slog.TimeKey, t.Format("15:04:05"))
				}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(slog.LevelKey, badge(lvl))
				}
			}
			return a
		},
	})
}

func badge(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return errorBadge.Render("ERROR")
	case level >= slog.LevelWarn:
		return warnBadge.Render("WARN")
	case level >= slog.LevelInfo:
		return infoBadge.Render("INFO")
	default:
		return debugBadge.Render("DEBUG")
	}
}
