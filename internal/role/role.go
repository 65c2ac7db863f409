// Package role loads role definitions: one markdown file per role under the
// roles directory, with ## sections describing the role's model, mission,
// goals, context, tools, schedule, inbox, preferences and chat persona.
package role

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when no definition exists for a role name.
var ErrNotFound = errors.New("role: definition not found")

const (
	// DefaultModel is used when a definition has no ## Model section.
	DefaultModel = "sonnet"
	// DefaultIcon is the persona emoji when none is configured.
	DefaultIcon = ":robot_face:"
)

// Role is an immutable, freshly parsed role definition.
type Role struct {
	Name         string
	DisplayName  string
	Model        string
	Mission      string
	Goals        []string
	ContextFiles []string
	Tools        []string
	Schedule     string
	Inbox        string
	Preferences  string
	Persona      Persona
}

// Persona is how a role presents itself on the chat channel.
type Persona struct {
	Username string
	Icon     string
	// Mention is the token users type to address the role, e.g. "@comms".
	Mention string
}

// Title returns the display name, falling back to the role name.
func (r Role) Title() string {
	if strings.TrimSpace(r.DisplayName) != "" {
		return r.DisplayName
	}
	return r.Name
}

// HasPreferences reports whether the preferences section carries real content.
// Definitions ship with a "(No preferences recorded yet...)" placeholder.
func (r Role) HasPreferences() bool {
	prefs := strings.TrimSpace(r.Preferences)
	return prefs != "" && !strings.HasPrefix(prefs, "(No preferences")
}
