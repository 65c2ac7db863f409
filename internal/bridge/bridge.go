package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/tpm-runner/internal/clock"
	"github.com/kingrea/tpm-runner/internal/config"
	"github.com/kingrea/tpm-runner/internal/role"
	"github.com/kingrea/tpm-runner/internal/runlog"
	"github.com/kingrea/tpm-runner/internal/vault"
)

// interRoleWindow bounds how far back archived inter-role messages are still
// mirrored. Recipients usually archive a message in the same tick it lands.
const interRoleWindow = 24 * time.Hour

const noReflection = "(no reflection recorded)"

// Options wires a Bridge.
type Options struct {
	Settings Settings
	Config   *config.Config
	Channel  Channel
	Store    *vault.Store
	Registry *role.Registry
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Bridge reconciles vault messages against the posted-set and translates
// channel commands into inbox messages.
type Bridge struct {
	settings Settings
	cfg      *config.Config
	channel  Channel
	store    *vault.Store
	registry *role.Registry
	state    *StateStore
	clock    clock.Clock
	logger   *slog.Logger
}

// New validates opts and returns a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil || opts.Channel == nil || opts.Store == nil || opts.Registry == nil {
		return nil, errors.New("bridge: config, channel, store and registry are required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		settings: opts.Settings,
		cfg:      opts.Config,
		channel:  opts.Channel,
		store:    opts.Store,
		registry: opts.Registry,
		state:    NewStateStore(opts.Config.SlackStatePath()),
		clock:    opts.Clock,
		logger:   opts.Logger.With("component", "bridge"),
	}, nil
}

// State exposes the posted-set store.
func (b *Bridge) State() *StateStore {
	return b.state
}

// cast is the role set one job works against.
type cast struct {
	roles  map[string]role.Role
	roster vault.Roster
}

func (b *Bridge) loadCast() (cast, error) {
	roles, err := b.registry.LoadAll()
	if err != nil && len(roles) == 0 {
		return cast{}, err
	}
	if err != nil {
		b.logger.Warn("some roles failed to load", "err", err)
	}
	return cast{roles: role.ByName(roles), roster: role.Roster(roles, b.cfg)}, nil
}

// persona returns the chat identity for name, synthesizing one for senders
// without a definition.
func (c cast) persona(name string) (role.Persona, string) {
	if r, ok := c.roles[name]; ok {
		return r.Persona, r.Title()
	}
	display := name
	if display == "" {
		display = "unknown"
	}
	return role.Persona{Username: display, Icon: role.DefaultIcon, Mention: "@" + display}, display
}

// PostQuestions mirrors unposted questions from agent/inbox/user.
func (b *Bridge) PostQuestions(ctx context.Context) (int, error) {
	c, err := b.loadCast()
	if err != nil {
		return 0, err
	}
	messages, err := b.store.Scan(b.cfg.UserInboxRel(), c.roster)
	if err != nil {
		return 0, err
	}
	return b.postEach(ctx, messages, pathKey, func(msg vault.Message) (Post, bool) {
		persona, display := c.persona(msg.Sender)
		return Post{
			Text:     fmt.Sprintf("*[Question from %s]* %s\n\n%s", display, msg.Stem(), msg.Text),
			Username: persona.Username,
			Icon:     persona.Icon,
		}, true
	})
}

// PostDrafts mirrors unposted drafts from every agent/outbox/<role>/drafts.
func (b *Bridge) PostDrafts(ctx context.Context) (int, error) {
	c, err := b.loadCast()
	if err != nil {
		return 0, err
	}
	owners, err := b.outboxOwners()
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, owner := range owners {
		messages, err := b.store.Scan(b.cfg.DraftsRel(owner), c.roster)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n, err := b.postEach(ctx, messages, pathKey, func(msg vault.Message) (Post, bool) {
			persona, display := c.persona(msg.Sender)
			return Post{
				Text:     fmt.Sprintf("*[Draft for approval — %s]* %s\n\n%s\n\n_Reply APPROVE or REJECT in this thread._", display, msg.Stem(), msg.Text),
				Username: persona.Username,
				Icon:     persona.Icon,
			}, true
		})
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// PostInterRole mirrors messages one registered role sent to another. Both
// live inboxes and recently archived messages are considered.
func (b *Bridge) PostInterRole(ctx context.Context) (int, error) {
	c, err := b.loadCast()
	if err != nil {
		return 0, err
	}
	cutoff := b.clock.Now().Add(-interRoleWindow)
	total := 0
	var errs []error
	for _, name := range c.roster.Names() {
		inbox, _ := c.roster.InboxOf(name)
		messages, err := b.store.Scan(inbox, c.roster)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		archived, err := b.recentArchive(inbox, name, c.roster, cutoff)
		if err != nil {
			errs = append(errs, err)
		}
		messages = append(messages, archived...)
		n, err := b.postEach(ctx, messages, interRoleKey(inbox), func(msg vault.Message) (Post, bool) {
			if msg.Kind != vault.KindInterRole {
				return Post{}, false
			}
			sender, senderDisplay := c.persona(msg.Sender)
			recipient, recipientDisplay := c.persona(msg.Recipient)
			return Post{
				Text:     fmt.Sprintf("*[%s]* → %s (%s) · %s\n\n%s", senderDisplay, recipient.Mention, recipientDisplay, msg.Stem(), strings.TrimSpace(msg.Body)),
				Username: sender.Username,
				Icon:     sender.Icon,
			}, true
		})
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// PostRunSummary posts the reflection of the last run section in logRel and
// threads the full section under it.
func (b *Bridge) PostRunSummary(ctx context.Context, r role.Role, cost *float64, logRel string) error {
	doc := runlog.Open(b.cfg.VaultPath, logRel)
	section, ok, err := doc.LastSection()
	if err != nil {
		return err
	}
	if !ok {
		b.logger.Debug("no run section to summarize", "log", logRel)
		return nil
	}
	key := summaryKey(logRel, section)
	state, err := b.state.Load()
	if err != nil {
		return err
	}
	if state.IsPosted(key) {
		return nil
	}
	reflection, ok := section.Subsection("Reflection")
	if !ok || strings.TrimSpace(reflection) == "" {
		reflection = noReflection
	}
	channel, err := b.channelID(ctx)
	if err != nil {
		return err
	}
	main, err := b.channel.Send(ctx, Post{
		Channel:  channel,
		Text:     fmt.Sprintf("*[%s]* run complete · cost %s\n\n%s", r.Title(), formatCost(cost), strings.TrimSpace(reflection)),
		Username: r.Persona.Username,
		Icon:     r.Persona.Icon,
	})
	if err != nil {
		return fmt.Errorf("bridge: post summary for %s: %w", r.Name, err)
	}
	if err := b.state.Record(key, main, b.clock.Now()); err != nil {
		return err
	}
	if _, err := b.channel.Send(ctx, Post{
		Channel:  channel,
		Text:     strings.TrimSpace(section.Text),
		Username: r.Persona.Username,
		Icon:     r.Persona.Icon,
		ThreadTS: main.Thread,
	}); err != nil {
		b.logger.Warn("could not thread run section", "role", r.Name, "err", err)
	}
	b.logger.Info("posted run summary", "role", r.Name, "section", section.Header)
	return nil
}

// postEach posts every markdown message whose key is not yet in the
// posted-set. Each success is recorded before the next message is considered.
func (b *Bridge) postEach(ctx context.Context, messages []vault.Message, keyOf func(vault.Message) string, format func(vault.Message) (Post, bool)) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	state, err := b.state.Load()
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, msg := range messages {
		if path.Ext(msg.Name) != ".md" {
			continue
		}
		key := keyOf(msg)
		if state.IsPosted(key) {
			continue
		}
		post, ok := format(msg)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return posted, err
		}
		channel, err := b.channelID(ctx)
		if err != nil {
			return posted, err
		}
		post.Channel = channel
		ref, err := b.channel.Send(ctx, post)
		if err != nil {
			return posted, fmt.Errorf("bridge: post %s: %w", msg.Path, err)
		}
		if err := b.state.Record(key, ref, b.clock.Now()); err != nil {
			return posted, err
		}
		state.Posted[key] = PostedEntry{}
		posted++
		b.logger.Info("posted", "kind", msg.Kind.String(), "file", msg.Path)
	}
	return posted, nil
}

// summaryKey identifies a run section by document and header position.
func summaryKey(logRel string, section runlog.Section) string {
	return fmt.Sprintf("%s@%d#%s", logRel, section.Offset, section.Header)
}

func pathKey(msg vault.Message) string {
	return msg.Path
}

// interRoleKey identifies an inter-role message by its recipient inbox and
// content. The file moves into archive/ (possibly renamed) once the
// recipient runs, so its path cannot serve as the key.
func interRoleKey(inbox string) func(vault.Message) string {
	return func(msg vault.Message) string {
		sum := sha256.Sum256([]byte(msg.Text))
		return inbox + "#" + hex.EncodeToString(sum[:8])
	}
}

// channelID resolves the configured channel once and caches the identifier
// in state. When the lookup fails the configured name is used as is.
func (b *Bridge) channelID(ctx context.Context) (string, error) {
	state, err := b.state.Load()
	if err != nil {
		return "", err
	}
	if state.ChannelID != "" {
		return state.ChannelID, nil
	}
	name := b.settings.ChannelName()
	if name == "" {
		return "", errors.New("bridge: no channel configured")
	}
	id, err := b.channel.Search(ctx, name)
	if err != nil || id == "" {
		b.logger.Warn("could not resolve channel id", "channel", name, "err", err)
		return name, nil
	}
	if err := b.state.Update(func(s *State) { s.ChannelID = id }); err != nil {
		return "", err
	}
	return id, nil
}

func (b *Bridge) outboxOwners() ([]string, error) {
	entries, err := os.ReadDir(b.store.Abs(b.cfg.OutboxRootRel()))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("bridge: list outbox: %w", err)
	}
	var owners []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			owners = append(owners, entry.Name())
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// recentArchive loads messages archived from inbox whose files were written
// after cutoff. They keep the recipient of the inbox they came from.
func (b *Bridge) recentArchive(inbox, owner string, roster vault.Roster, cutoff time.Time) ([]vault.Message, error) {
	dir := path.Join(inbox, config.ArchiveDir)
	paths, err := b.store.ListUnarchived(dir)
	if err != nil {
		return nil, err
	}
	var messages []vault.Message
	for _, rel := range paths {
		info, err := os.Stat(b.store.Abs(rel))
		if err != nil || info.ModTime().Before(cutoff) {
			continue
		}
		msg, err := b.store.Load(rel, roster)
		if err != nil {
			return messages, err
		}
		if msg.Sender != "" && msg.Sender != owner && roster.Has(msg.Sender) {
			msg.Kind = vault.KindInterRole
			msg.Recipient = owner
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func formatCost(cost *float64) string {
	if cost == nil {
		return "unknown"
	}
	return fmt.Sprintf("$%.4f", *cost)
}
