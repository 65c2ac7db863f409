package role

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Registry reads role definitions from a directory. It caches nothing:
// definitions are reloaded on every call so edits take effect next cycle.
type Registry struct {
	dir string
}

// NewRegistry returns a registry rooted at dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the definitions directory.
func (r *Registry) Dir() string {
	return r.dir
}

// ListRoles returns the sorted role names (definition file stems). A missing
// directory yields an empty list.
func (r *Registry) ListRoles() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("role: list %s: %w", r.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(names)
	return names, nil
}

// LoadRole reads and parses roles/<name>.md.
func (r *Registry) LoadRole(name string) (Role, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return Role{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	path := filepath.Join(r.dir, name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Role{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Role{}, fmt.Errorf("role: read %s: %w", path, err)
	}
	return Parse(name, data), nil
}

// Has reports whether a definition exists for name.
func (r *Registry) Has(name string) bool {
	_, err := r.LoadRole(name)
	return err == nil
}

// LoadAll parses every definition. Unreadable definitions are skipped and
// returned joined in the error alongside the roles that did load.
func (r *Registry) LoadAll() ([]Role, error) {
	names, err := r.ListRoles()
	if err != nil {
		return nil, err
	}
	roles := make([]Role, 0, len(names))
	var errs []error
	for _, name := range names {
		loaded, err := r.LoadRole(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		roles = append(roles, loaded)
	}
	return roles, errors.Join(errs...)
}
