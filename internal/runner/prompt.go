package runner

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kingrea/tpm-runner/internal/role"
)

const fallbackBasePrompt = "You are a TPM AI agent. Help manage the project."

const emptyInboxMarker = "(empty — no pending triggers)"

// basePrompt returns the vault's CLAUDE.md, or a one-line fallback.
func (r *Runner) basePrompt() string {
	data, err := os.ReadFile(r.cfg.BasePromptPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("could not read base prompt", "path", r.cfg.BasePromptPath(), "err", err)
		}
		return fallbackBasePrompt
	}
	return string(data)
}

// systemPrompt assembles the organisational base prompt and the role's
// operating instructions, including the file protocols it must follow.
func (r *Runner) systemPrompt(rl role.Role, logRel, sectionHeader, inboxDir string) string {
	var b strings.Builder
	b.WriteString(r.basePrompt())
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "## Your Role: %s\n\n", rl.Title())
	fmt.Fprintf(&b, "### Mission\n%s\n\n", rl.Mission)
	b.WriteString("### Goals\n")
	for _, goal := range rl.Goals {
		fmt.Fprintf(&b, "- %s\n", goal)
	}
	if rl.HasPreferences() {
		fmt.Fprintf(&b, "\n## User Preferences\n%s\n", strings.TrimSpace(rl.Preferences))
	}

	drafts := r.cfg.DraftsRel(rl.Name)
	memory := r.cfg.MemoryRel(rl.Name)
	fmt.Fprintf(&b, `
## Operating Rules

1. **NEVER send communications directly.** Always draft to `+"`%[1]s/`"+`. The user reviews and approves.
2. **Be concise.** Short, clear updates. No fluff.
3. **Flag risks early.** If something smells like a delay or blocker, surface it immediately.
4. **Update context files.** When you learn something new, update `+"`context/`"+` so future cycles have it.
5. **Respect the vault as source of truth.** Read vault files before making assumptions.

## How to Work: THINK / ACT / REFLECT

Your working directory is the project vault. All file paths are relative to it.

Your run log for today is `+"`%[2]s`"+`. The runner has already appended the header
`+"`%[3]s`"+` for this run. Append your notes below it; do not rewrite earlier runs.

### Phase 1: THINK

Append these subsections to the run log:

`+"```"+`
### Inbox
- (items with priority, or "empty")

### What Changed
- (changes since last run based on context files)

### Priority Action
- (what you will do this run and why)

### Not Doing
- (what you considered but deferred, and why)
`+"```"+`

### Phase 2: ACT

Execute your priority action:
- Update context files (`+"`context/`"+`) when you learn new information
- Write trigger files to other roles' inboxes when they need to know something
- Draft communications to `+"`%[1]s/`"+`
- Ask the user questions via `+"`%[4]s/`"+` (see format below)
- Inbox files shown in this run have already been moved to `+"`%[5]s/archive/`"+`

### Phase 3: REFLECT

Append a `+"`### Reflection`"+` subsection to the run log:
- What went well? What was unclear?
- Any patterns you're noticing across runs?

If you noticed a recurring pattern or received feedback, update `+"`%[6]s`"+`.

## Question Format (for the User)

Write a file to `+"`%[4]s/`"+`:

Filename: `+"`YYYY-MM-DDTHH-MM-<short-description>.md`"+`

`+"```"+`
---
id: YYYY-MM-DDTHH-MM-<short-description>
from: %[7]s
to: user
date: YYYY-MM-DDTHH:MM:SSZ
status: open
---

<your question here>
`+"```"+`

## Trigger File Format

When writing triggers to other roles' inboxes (`+"`agent/inbox/<role>/`"+`):

`+"```"+`
---
from: %[7]s
date: YYYY-MM-DDTHH:MM:SSZ
priority: low|medium|high
---

<what happened and what the other role should do>
`+"```"+`

## Feedback Processing

If you find answered questions or feedback in your inbox:
1. Read and incorporate the feedback
2. Update `+"`%[6]s`"+` with any lessons learned
`, drafts, logRel, sectionHeader, r.cfg.UserInboxRel(), inboxDir, memory, rl.Name)
	return b.String()
}

// initialMessage is the first user turn: the clock, the role's context
// sources and its inbox.
func (r *Runner) initialMessage(rl role.Role, now time.Time, logRel, inbox string) string {
	parts := []string{
		"Current time: " + now.UTC().Format("2006-01-02T15:04:05Z"),
		"Today's date: " + now.UTC().Format("2006-01-02"),
		"Role: " + rl.Title(),
		"Run log: " + logRel,
		"",
		"## Project Context",
		r.loadContext(rl),
	}
	if inbox != "" {
		parts = append(parts, "", "## Inbox (trigger messages for you)", inbox)
	} else {
		parts = append(parts, "", "## Inbox", emptyInboxMarker)
	}
	return strings.Join(parts, "\n")
}

func (r *Runner) loadContext(rl role.Role) string {
	var parts []string
	for _, source := range rl.ContextFiles {
		rendered, err := r.store.ReadTree(source)
		if err != nil {
			r.logger.Warn("could not load context source", "role", rl.Name, "source", source, "err", err)
			continue
		}
		if rendered != "" {
			parts = append(parts, rendered)
		}
	}
	return strings.Join(parts, "\n\n")
}

// preview truncates s to limit runes, marking the cut.
func preview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
