// Package slack implements bridge.Channel on the Slack Web API.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/kingrea/tpm-runner/internal/bridge"
)

const listPageSize = 200

// Client posts and reads through a bot token.
type Client struct {
	api *slack.Client
}

// New returns a Client for token. apiURL overrides the Slack endpoint and is
// normally empty.
func New(token, apiURL string) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("slack: bot token is required")
	}
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimSuffix(apiURL, "/")+"/"))
	}
	return &Client{api: slack.New(token, opts...)}, nil
}

var _ bridge.Channel = (*Client)(nil)

// Send posts one message, optionally as a thread reply.
func (c *Client) Send(ctx context.Context, post bridge.Post) (bridge.PostRef, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(post.Text, false)}
	if post.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(post.Username))
	}
	if post.Icon != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(post.Icon))
	}
	if post.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(post.ThreadTS))
	}
	channel, ts, err := c.api.PostMessageContext(ctx, post.Channel, opts...)
	if err != nil {
		return bridge.PostRef{}, fmt.Errorf("slack: chat.postMessage: %w", err)
	}
	return bridge.PostRef{Channel: channel, Thread: ts}, nil
}

// Read returns recent channel history, oldest first.
func (c *Client) Read(ctx context.Context, channel string, limit int) ([]bridge.ChannelMessage, error) {
	resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("slack: conversations.history: %w", err)
	}
	messages := make([]bridge.ChannelMessage, 0, len(resp.Messages))
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		msg := resp.Messages[i]
		messages = append(messages, bridge.ChannelMessage{
			TS:       msg.Timestamp,
			Time:     ParseTimestamp(msg.Timestamp),
			Text:     msg.Text,
			User:     msg.User,
			Username: msg.Username,
			BotID:    msg.BotID,
		})
	}
	return messages, nil
}

// Search returns the id of the channel named query.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(query), "#")
	params := &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           listPageSize,
		Types:           []string{"public_channel", "private_channel"},
	}
	for {
		channels, next, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("slack: conversations.list: %w", err)
		}
		for _, ch := range channels {
			if ch.Name == name || ch.ID == name {
				return ch.ID, nil
			}
		}
		if next == "" {
			return "", fmt.Errorf("slack: channel %q not found", name)
		}
		params.Cursor = next
	}
}

// ParseTimestamp converts a Slack message ts ("1708500000.123456") to a time.
func ParseTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nsec int64
	if frac != "" {
		frac = (frac + "000000000")[:9]
		nsec, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(sec, nsec).UTC()
}
