package bridge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/vault"
)

// SlackOrigin is the synthetic sender of channel-originated messages. It is
// never a registered role, so these messages are plain inbox triggers.
const SlackOrigin = "user (slack)"

var runCommand = regexp.MustCompile(`(?i)\brun\s+([a-z0-9][a-z0-9_-]*)`)

// CheckInbound reads recent channel history and turns run commands and
// persona mentions into inbox messages. It reports whether the channel was
// read; calls inside the inbound interval return false without reading.
// The watermark is persisted before the read so a failed read still moves
// the gate forward.
func (b *Bridge) CheckInbound(ctx context.Context) (bool, error) {
	now := b.clock.Now().UTC()
	state, err := b.state.Load()
	if err != nil {
		return false, err
	}
	previous := state.LastInbound()
	if !previous.IsZero() && now.Sub(previous) < b.settings.InboundInterval {
		return false, nil
	}
	watermark := now
	if watermark.Before(previous) {
		watermark = previous
	}
	if err := b.state.Update(func(s *State) {
		s.LastInboundCheck = watermark.Format(time.RFC3339Nano)
	}); err != nil {
		return false, err
	}

	channel, err := b.channelID(ctx)
	if err != nil {
		return true, err
	}
	messages, err := b.channel.Read(ctx, channel, b.settings.ReadLimit)
	if err != nil {
		return true, fmt.Errorf("bridge: read channel: %w", err)
	}
	c, err := b.loadCast()
	if err != nil {
		return true, err
	}

	created := 0
	for _, msg := range messages {
		if msg.BotID != "" {
			continue
		}
		if !previous.IsZero() && !msg.Time.After(previous) {
			continue
		}
		n, err := b.translate(msg, c)
		if err != nil {
			b.logger.Warn("could not write inbound trigger", "ts", msg.TS, "err", err)
		}
		created += n
	}
	if created > 0 {
		b.logger.Info("inbound triggers written", "count", created)
	}
	return true, nil
}

// translate writes at most one trigger per addressed role.
func (b *Bridge) translate(msg ChannelMessage, c cast) (int, error) {
	written := map[string]bool{}
	for _, match := range runCommand.FindAllStringSubmatch(msg.Text, -1) {
		name := strings.ToLower(match[1])
		r, ok := c.roles[name]
		if !ok {
			b.logger.Warn("run command for unknown role", "component", "inbound-routing", "role", name, "ts", msg.TS)
			continue
		}
		if written[name] {
			continue
		}
		if err := b.writeTrigger(r, "slack-run", msg, "high", "User requested manual run via Slack."); err != nil {
			return len(written), err
		}
		written[name] = true
	}
	for _, name := range sortedNames(c.roles) {
		r := c.roles[name]
		if written[name] || !mentions(msg.Text, r.Persona.Mention) {
			continue
		}
		body := fmt.Sprintf("User mentioned %s in Slack:\n\n%s", r.Persona.Mention, quote(msg.Text))
		if err := b.writeTrigger(r, "slack-mention", msg, "medium", body); err != nil {
			return len(written), err
		}
		written[name] = true
	}
	return len(written), nil
}

func (b *Bridge) writeTrigger(r role.Role, prefix string, msg ChannelMessage, priority, body string) error {
	at := msg.Time
	if at.IsZero() {
		at = b.clock.Now()
	}
	id := uuid.New()
	name := fmt.Sprintf("%s-%s-%s.md", prefix, at.UTC().Format("20060102T150405Z"), id.String()[:8])
	header := vault.Header{
		"id":       id.String(),
		"from":     SlackOrigin,
		"to":       r.Name,
		"date":     at.UTC().Format("2006-01-02 15:04"),
		"priority": priority,
	}
	if msg.TS != "" {
		header["slack_ts"] = msg.TS
	}
	rel, err := b.store.WriteMessage(r.InboxDir(b.cfg), name, header, body)
	if err != nil {
		return err
	}
	b.logger.Info("inbound trigger", "role", r.Name, "file", rel)
	return nil
}

// mentions reports whether text contains token as a whole word.
func mentions(text, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	pattern := `(?i)(^|[^\w@])` + regexp.QuoteMeta(token) + `\b`
	matched, err := regexp.MatchString(pattern, text)
	return err == nil && matched
}

func quote(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func sortedNames(roles map[string]role.Role) []string {
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
