// Package bridge mirrors vault activity to a chat channel and turns channel
// commands into inbox messages. The posted-set in agent/slack/state.json is
// the only record of what has already gone out.
package bridge

import (
	"context"
	"time"
)

// Post is one outgoing chat message.
type Post struct {
	Channel  string
	Text     string
	Username string
	Icon     string
	// ThreadTS replies inside an existing thread when set.
	ThreadTS string
}

// PostRef identifies a posted message on the remote side.
type PostRef struct {
	Channel string
	Thread  string
}

// ChannelMessage is one message read back from the channel.
type ChannelMessage struct {
	TS       string
	Time     time.Time
	Text     string
	User     string
	Username string
	// BotID is set for messages posted by bots, including this bridge.
	BotID string
}

// Channel is the chat platform as the bridge needs it.
type Channel interface {
	Send(ctx context.Context, post Post) (PostRef, error)
	// Read returns up to limit recent messages, oldest first.
	Read(ctx context.Context, channel string, limit int) ([]ChannelMessage, error)
	// Search resolves a channel name to its identifier.
	Search(ctx context.Context, query string) (string, error)
}
