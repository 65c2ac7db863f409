package bridge

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/tpm-runner/internal/config"
)

const (
	// DefaultInboundInterval rate-gates channel reads independently of the poll loop.
	DefaultInboundInterval = 5 * time.Minute
	// DefaultReadLimit is how many recent messages one inbound check reads.
	DefaultReadLimit = 20
)

// Settings captures bridge configuration.
type Settings struct {
	Enabled         bool
	Channel         string
	Token           string
	APIURL          string
	InboundInterval time.Duration
	ReadLimit       int
}

// SettingsFromConfig builds Settings from the runner config and environment
// overrides. The bridge is enabled iff a channel is configured.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		InboundInterval: DefaultInboundInterval,
		ReadLimit:       DefaultReadLimit,
	}
	if cfg != nil {
		settings.Channel = cfg.Slack.Channel
		settings.Token = cfg.Slack.Token
		settings.InboundInterval = cfg.Slack.InboundInterval
		settings.ReadLimit = cfg.Slack.ReadLimit
	}
	settings.Enabled = strings.TrimSpace(settings.Channel) != ""
	settings.applyEnvOverrides()
	settings.normalize()
	return settings
}

func (s *Settings) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("TPM_SLACK_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			s.Enabled = enabled && strings.TrimSpace(s.Channel) != ""
		}
	}
	if url := strings.TrimSpace(os.Getenv("TPM_SLACK_API_URL")); url != "" {
		s.APIURL = url
	}
}

func (s *Settings) normalize() {
	s.Channel = strings.TrimSpace(s.Channel)
	s.Token = strings.TrimSpace(s.Token)
	if s.InboundInterval <= 0 {
		s.InboundInterval = DefaultInboundInterval
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = DefaultReadLimit
	}
}

// ChannelName returns the configured channel without a leading '#'.
func (s Settings) ChannelName() string {
	return strings.TrimPrefix(s.Channel, "#")
}
