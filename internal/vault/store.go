package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kingrea/tpm-runner/internal/config"
)

var (
	// ErrExists is returned by WriteMessage when the target file already exists.
	ErrExists = errors.New("vault: message already exists")

	errNotMapping = errors.New("vault: frontmatter is not a mapping")
)

// Store provides the message primitives over a vault. All paths it accepts
// and returns are vault-relative with forward slashes; they double as the
// message identity used for deduplication.
type Store struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New returns a Store rooted at cfg.VaultPath.
func New(cfg *config.Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cfg: cfg, logger: logger}
}

// Config exposes the layout the store was built with.
func (s *Store) Config() *config.Config {
	return s.cfg
}

// Abs maps a vault-relative path to the filesystem.
func (s *Store) Abs(rel string) string {
	return s.cfg.Abs(rel)
}

// ListUnarchived returns the messages directly inside dir, sorted by name.
// Dotfiles, the sentinel and subdirectories (including archive/) are
// excluded. A missing directory yields an empty list.
func (s *Store) ListUnarchived(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.Abs(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("vault: list %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !isMessageFile(entry) {
			continue
		}
		paths = append(paths, path.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// HasPending reports whether dir holds at least one unarchived message.
func (s *Store) HasPending(dir string) bool {
	entries, err := os.ReadDir(s.Abs(dir))
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if isMessageFile(entry) {
			return true
		}
	}
	return false
}

// Read returns the text of a message.
func (s *Store) Read(rel string) (string, error) {
	data, err := os.ReadFile(s.Abs(rel))
	if err != nil {
		return "", fmt.Errorf("vault: read %s: %w", rel, err)
	}
	return string(data), nil
}

// Archive moves every unarchived message in dir into dir/archive/ and
// returns how many were moved. A missing directory is a no-op.
func (s *Store) Archive(dir string) (int, error) {
	paths, err := s.ListUnarchived(dir)
	if err != nil {
		return 0, err
	}
	return s.ArchiveFiles(dir, paths)
}

// ArchiveFiles archives exactly the given messages of dir. Files that have
// already disappeared are skipped, anything else in dir is left untouched.
func (s *Store) ArchiveFiles(dir string, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	archiveDir := s.Abs(path.Join(dir, config.ArchiveDir))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("vault: ensure archive %s: %w", archiveDir, err)
	}
	moved := 0
	for _, rel := range paths {
		if path.Dir(rel) != path.Clean(dir) {
			return moved, fmt.Errorf("vault: %s is not inside %s", rel, dir)
		}
		src := s.Abs(rel)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		dest := uniquePath(filepath.Join(archiveDir, path.Base(rel)))
		if err := os.Rename(src, dest); err != nil {
			return moved, fmt.Errorf("vault: archive %s: %w", rel, err)
		}
		moved++
	}
	return moved, nil
}

// WriteMessage creates dir/name with the given header and body and returns
// its vault-relative path. Existing files are never overwritten.
func (s *Store) WriteMessage(dir, name string, header Header, body string) (string, error) {
	if strings.ContainsAny(name, `/\`) || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("vault: invalid message name %q", name)
	}
	abs := s.Abs(dir)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("vault: ensure %s: %w", dir, err)
	}
	rel := path.Join(dir, name)
	f, err := os.OpenFile(filepath.Join(abs, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, rel)
		}
		return "", fmt.Errorf("vault: create %s: %w", rel, err)
	}
	if _, err := f.WriteString(header.Render(body)); err != nil {
		f.Close()
		return "", fmt.Errorf("vault: write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("vault: close %s: %w", rel, err)
	}
	return rel, nil
}

// Move relocates a message into another directory, keeping its name.
func (s *Store) Move(rel, destDir string) (string, error) {
	abs := s.Abs(destDir)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("vault: ensure %s: %w", destDir, err)
	}
	dest := path.Join(destDir, path.Base(rel))
	if _, err := os.Stat(s.Abs(dest)); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, dest)
	}
	if err := os.Rename(s.Abs(rel), s.Abs(dest)); err != nil {
		return "", fmt.Errorf("vault: move %s: %w", rel, err)
	}
	return dest, nil
}

// ReadTree renders a context source for a prompt. A file becomes
// "--- rel ---\n<content>". A directory becomes the concatenation of its
// text files, each with its own separator; nested directories and dotfiles
// are skipped. Missing sources render as the empty string.
func (s *Store) ReadTree(rel string) (string, error) {
	rel = strings.TrimSuffix(path.Clean(filepath.ToSlash(rel)), "/")
	abs := s.Abs(rel)
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("vault: stat %s: %w", rel, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(abs)
		if err != nil {
			return "", fmt.Errorf("vault: read %s: %w", rel, err)
		}
		return separator(rel) + string(data), nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("vault: list %s: %w", rel, err)
	}
	var parts []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(abs, entry.Name()))
		if err != nil {
			return "", fmt.Errorf("vault: read %s/%s: %w", rel, entry.Name(), err)
		}
		if !utf8.Valid(data) {
			continue
		}
		parts = append(parts, separator(path.Join(rel, entry.Name()))+string(data))
	}
	if len(parts) == 0 {
		return separator(rel) + "(directory: empty)", nil
	}
	return strings.Join(parts, "\n\n"), nil
}

func separator(rel string) string {
	return "--- " + rel + " ---\n"
}

func isMessageFile(entry os.DirEntry) bool {
	name := entry.Name()
	if name == config.Sentinel || strings.HasPrefix(name, ".") {
		return false
	}
	return entry.Type().IsRegular()
}

// uniquePath appends -1, -2, ... before the extension until dest is free, so
// archiving never clobbers an earlier message with the same name.
func uniquePath(dest string) string {
	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		return dest
	}
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}
