// Package runlog manages the per-role, per-day run log documents the agents
// write into. The runner owns the title and the "## Run HH:MM (<tag>)"
// section headers; the agent appends its ### subsections below them.
package runlog

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// SectionPrefix starts every run section header.
const SectionPrefix = "## Run "

var sectionHeader = regexp.MustCompile(`^## Run \d{2}:\d{2}\b`)

// Rel returns the vault-relative log document of a role for day (UTC).
func Rel(logsDir string, day time.Time) string {
	return path.Join(logsDir, day.UTC().Format(dateLayout)+".md")
}

// Document is one run log file.
type Document struct {
	path string
	rel  string
	mu   sync.Mutex
}

// Open returns the document at vaultRoot/rel. Nothing is created until
// Ensure is called.
func Open(vaultRoot, rel string) *Document {
	return &Document{path: filepath.Join(vaultRoot, filepath.FromSlash(rel)), rel: rel}
}

// Path returns the absolute file path.
func (d *Document) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// Rel returns the vault-relative path.
func (d *Document) Rel() string {
	if d == nil {
		return ""
	}
	return d.rel
}

// Ensure creates the document with a title header if it does not exist yet.
func (d *Document) Ensure(title string, day time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("runlog: ensure dir: %w", err)
	}
	f, err := os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("runlog: create %s: %w", d.rel, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "# %s — %s\n", strings.TrimSpace(title), day.UTC().Format(dateLayout)); err != nil {
		return fmt.Errorf("runlog: write title: %w", err)
	}
	return nil
}

// AppendSection writes a new run section header and returns it together with
// the document size afterwards, the watermark for the liveness check.
func (d *Document) AppendSection(at time.Time, tag string) (string, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	header := fmt.Sprintf("%s%s (%s)", SectionPrefix, at.Format("15:04"), tag)
	f, err := os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("runlog: open %s: %w", d.rel, err)
	}
	defer f.Close()
	if _, err := f.WriteString("\n" + header + "\n\n"); err != nil {
		return "", 0, fmt.Errorf("runlog: append section: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("runlog: stat %s: %w", d.rel, err)
	}
	return header, info.Size(), nil
}

// Size returns the current byte length, 0 if the file does not exist.
func (d *Document) Size() (int64, error) {
	info, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("runlog: stat %s: %w", d.rel, err)
	}
	return info.Size(), nil
}

// Grew reports whether the document is longer than watermark. Growth is the
// only completion signal: a write followed by a truncation back to the same
// length is indistinguishable from no write.
func (d *Document) Grew(watermark int64) (bool, error) {
	size, err := d.Size()
	if err != nil {
		return false, err
	}
	return size > watermark, nil
}

// Section is one run section of a document.
type Section struct {
	Header string
	// Text is the full section including its header line.
	Text string
	// Offset is the byte position of the header line in the document.
	// Headers only carry minutes, so two runs in the same minute share a
	// Header but never an Offset.
	Offset int64
}

// LastSection returns the most recent run section.
func (d *Document) LastSection() (Section, bool, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Section{}, false, nil
		}
		return Section{}, false, fmt.Errorf("runlog: read %s: %w", d.rel, err)
	}
	section, ok := LastSection(string(data))
	return section, ok, nil
}

// LastSection scans text backwards for the most recent run section header.
func LastSection(text string) (Section, bool) {
	raw := strings.Split(text, "\n")
	for i := len(raw) - 1; i >= 0; i-- {
		if !sectionHeader.MatchString(raw[i]) {
			continue
		}
		var offset int64
		for _, line := range raw[:i] {
			offset += int64(len(line)) + 1
		}
		body := strings.ReplaceAll(strings.Join(raw[i:], "\n"), "\r\n", "\n")
		return Section{
			Header: strings.TrimSpace(raw[i]),
			Text:   strings.TrimSpace(body),
			Offset: offset,
		}, true
	}
	return Section{}, false
}

// Subsection returns the body of the named ### subsection of a section,
// matched case-insensitively, up to the next heading of the same or higher
// level.
func (s Section) Subsection(name string) (string, bool) {
	lines := strings.Split(s.Text, "\n")
	want := strings.ToLower(strings.TrimSpace(name))
	for i, line := range lines {
		level, title := heading(line)
		if level < 3 || strings.ToLower(title) != want {
			continue
		}
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if next, _ := heading(lines[j]); next > 0 && next <= level {
				end = j
				break
			}
		}
		return strings.TrimSpace(strings.Join(lines[i+1:end], "\n")), true
	}
	return "", false
}

func heading(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level >= len(trimmed) || trimmed[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(trimmed[level:])
}

// Tail returns up to maxLines of the most recent lines.
func (d *Document) Tail(maxLines int) []string {
	if d == nil || maxLines <= 0 {
		return nil
	}
	file, err := os.Open(d.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}
