package role

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/vault"
)

// InboxDir returns the role's vault-relative inbox: the ## Inbox section when
// present, otherwise agent/inbox/<name>.
func (r Role) InboxDir(cfg *config.Config) string {
	inbox := strings.Trim(filepath.ToSlash(strings.TrimSpace(r.Inbox)), "`")
	if inbox == "" {
		return cfg.RoleInboxRel(r.Name)
	}
	return path.Clean(strings.TrimPrefix(inbox, "/"))
}

// Roster maps each role to its inbox for message classification and routing.
func Roster(roles []Role, cfg *config.Config) vault.Roster {
	roster := make(vault.Roster, len(roles))
	for _, r := range roles {
		roster[r.Name] = r.InboxDir(cfg)
	}
	return roster
}

// ByName indexes roles by name.
func ByName(roles []Role) map[string]Role {
	index := make(map[string]Role, len(roles))
	for _, r := range roles {
		index[r.Name] = r
	}
	return index
}
