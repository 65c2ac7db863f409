package vault

import (
	"path"
	"sort"
	"strings"
)

// Kind classifies a message by where it lives and who sent it.
type Kind int

const (
	// KindInboxTrigger is anything in a role inbox that is not from another role.
	KindInboxTrigger Kind = iota
	// KindUserQuestion is a role asking the human, in agent/inbox/user/.
	KindUserQuestion
	// KindDraft is an outbound communication awaiting approval.
	KindDraft
	// KindInterRole is a role inbox message whose sender is a different registered role.
	KindInterRole
)

func (k Kind) String() string {
	switch k {
	case KindUserQuestion:
		return "user-question"
	case KindDraft:
		return "draft"
	case KindInterRole:
		return "inter-role"
	default:
		return "inbox-trigger"
	}
}

// Message is a classified vault message.
type Message struct {
	// Path is vault-relative and is the message's identity.
	Path   string
	Name   string
	Text   string
	Body   string
	Header Header
	Kind   Kind
	// Sender is the from header, or the owning role for drafts.
	Sender string
	// Recipient is the role whose inbox holds the message, or "user".
	Recipient string
}

// Stem returns the file name without its extension.
func (m Message) Stem() string {
	return strings.TrimSuffix(m.Name, path.Ext(m.Name))
}

// Roster maps registered role names to their vault-relative inbox dirs.
type Roster map[string]string

// Has reports whether name is a registered role.
func (r Roster) Has(name string) bool {
	_, ok := r[name]
	return ok
}

// InboxOf returns the inbox directory of a role.
func (r Roster) InboxOf(name string) (string, bool) {
	dir, ok := r[name]
	return dir, ok
}

// OwnerOf returns the role whose inbox is dir.
func (r Roster) OwnerOf(dir string) (string, bool) {
	clean := path.Clean(dir)
	for name, inbox := range r {
		if path.Clean(inbox) == clean {
			return name, true
		}
	}
	return "", false
}

// Names returns the registered role names, sorted.
func (r Roster) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classify decodes a message and assigns its Kind. It is the only place that
// decides what a vault file means; everything downstream switches on Kind.
func (s *Store) Classify(rel, text string, roster Roster) Message {
	header, body := ParseHeader(text)
	msg := Message{
		Path:   rel,
		Name:   path.Base(rel),
		Text:   text,
		Body:   body,
		Header: header,
		Kind:   KindInboxTrigger,
		Sender: header["from"],
	}
	dir := path.Dir(rel)
	switch {
	case dir == s.cfg.UserInboxRel():
		msg.Kind = KindUserQuestion
		msg.Recipient = "user"
	case path.Base(dir) == "drafts" && path.Dir(path.Dir(dir)) == s.cfg.OutboxRootRel():
		msg.Kind = KindDraft
		msg.Sender = path.Base(path.Dir(dir))
	default:
		owner, ok := roster.OwnerOf(dir)
		if !ok {
			break
		}
		msg.Recipient = owner
		if msg.Sender != "" && msg.Sender != owner && roster.Has(msg.Sender) {
			msg.Kind = KindInterRole
		}
	}
	return msg
}

// Load reads and classifies a message.
func (s *Store) Load(rel string, roster Roster) (Message, error) {
	text, err := s.Read(rel)
	if err != nil {
		return Message{}, err
	}
	return s.Classify(rel, text, roster), nil
}

// Scan loads every unarchived message in dir.
func (s *Store) Scan(dir string, roster Roster) ([]Message, error) {
	paths, err := s.ListUnarchived(dir)
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(paths))
	for _, rel := range paths {
		msg, err := s.Load(rel, roster)
		if err != nil {
			return messages, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
