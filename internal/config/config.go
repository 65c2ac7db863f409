// internal/config/config.go
//
// This package handles runner configuration and the vault directory layout.
// Every vault the runner drives follows the same agent/ convention:
//
// <vault>/
// ├── CLAUDE.md            <- Base organisational prompt shared by all roles
// └── agent/
//     ├── inbox/<role>/    <- Trigger files addressed to a role (+ archive/)
//     ├── inbox/user/      <- Questions roles ask the human (+ answered/)
//     ├── outbox/<role>/drafts/
//     ├── logs/<role>/     <- One run log document per role per day
//     ├── logs/summaries/  <- Daily digests
//     ├── memory/<role>.md
//     └── slack/state.json <- Bridge posted-set

package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix namespaces every environment override (TPM_VAULT, TPM_POLL_INTERVAL, ...).
	EnvPrefix = "TPM"

	// AgentDir is the vault-relative root of everything the runner reads and writes.
	AgentDir = "agent"
	// ArchiveDir is the reserved child directory consumed messages are moved into.
	ArchiveDir = "archive"
	// Sentinel is the placeholder file that keeps empty directories in git.
	Sentinel = ".gitkeep"
	// UserRecipient is the pseudo-role name of the human inbox.
	UserRecipient = "user"

	defaultVault           = "vault"
	defaultRolesDir        = "roles"
	defaultStateDir        = ".sessions"
	defaultLogDir          = "logs"
	defaultPollInterval    = 60 * time.Second
	defaultMaxTurns        = 10
	defaultDigestModel     = "haiku"
	defaultClaudeBinary    = "claude"
	defaultInboundInterval = 5 * time.Minute
	defaultReadLimit       = 20
)

// SlackConfig holds the channel bridge settings.
type SlackConfig struct {
	Channel         string
	Token           string
	InboundInterval time.Duration
	ReadLimit       int
}

// Config holds the runtime configuration for the runner.
type Config struct {
	// VaultPath is the absolute root of the shared workspace.
	VaultPath string
	// RolesDir holds one markdown definition per role.
	RolesDir string
	// StateDir holds runner-private state (session ledger, process lock).
	StateDir string
	// LogDir receives the process log files.
	LogDir string

	PollInterval time.Duration
	MaxTurns     int
	DigestModel  string
	ClaudeBinary string

	Slack SlackConfig
}

// NewViper prepares a viper instance with defaults, environment bindings and
// the optional tpm.yaml / .env files. configFile may be empty, in which case
// ./tpm.yaml is used when present.
func NewViper(configFile string) (*viper.Viper, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetDefault("vault", defaultVault)
	v.SetDefault("roles", defaultRolesDir)
	v.SetDefault("state_dir", defaultStateDir)
	v.SetDefault("log_dir", defaultLogDir)
	v.SetDefault("poll_interval", defaultPollInterval)
	v.SetDefault("max_turns", defaultMaxTurns)
	v.SetDefault("digest_model", defaultDigestModel)
	v.SetDefault("claude_binary", defaultClaudeBinary)
	v.SetDefault("slack.inbound_interval", defaultInboundInterval)
	v.SetDefault("slack.read_limit", defaultReadLimit)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	// Names the original shell scripts exported.
	_ = v.BindEnv("vault", "TPM_VAULT", "VAULT_PATH")
	_ = v.BindEnv("slack.channel", "TPM_SLACK_CHANNEL", "SLACK_CHANNEL")
	_ = v.BindEnv("slack.token", "TPM_SLACK_TOKEN", "SLACK_BOT_TOKEN")
	_ = v.BindEnv("claude_binary", "TPM_CLAUDE_BINARY", "CLAUDE_BINARY")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("tpm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", describeConfigFile(configFile), err)
		}
	}
	return v, nil
}

// Load builds a validated Config from a prepared viper instance.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, fmt.Errorf("config: nil viper")
	}
	cfg := &Config{
		VaultPath:    v.GetString("vault"),
		RolesDir:     v.GetString("roles"),
		StateDir:     v.GetString("state_dir"),
		LogDir:       v.GetString("log_dir"),
		PollInterval: v.GetDuration("poll_interval"),
		MaxTurns:     v.GetInt("max_turns"),
		DigestModel:  v.GetString("digest_model"),
		ClaudeBinary: v.GetString("claude_binary"),
		Slack: SlackConfig{
			Channel:         v.GetString("slack.channel"),
			Token:           v.GetString("slack.token"),
			InboundInterval: v.GetDuration("slack.inbound_interval"),
			ReadLimit:       v.GetInt("slack.read_limit"),
		},
	}
	cfg.applyDefaults()
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.VaultPath) == "" {
		c.VaultPath = defaultVault
	}
	if strings.TrimSpace(c.RolesDir) == "" {
		c.RolesDir = defaultRolesDir
	}
	if strings.TrimSpace(c.StateDir) == "" {
		c.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.LogDir) == "" {
		c.LogDir = defaultLogDir
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if strings.TrimSpace(c.DigestModel) == "" {
		c.DigestModel = defaultDigestModel
	}
	if strings.TrimSpace(c.ClaudeBinary) == "" {
		c.ClaudeBinary = defaultClaudeBinary
	}
	if c.Slack.InboundInterval <= 0 {
		c.Slack.InboundInterval = defaultInboundInterval
	}
	if c.Slack.ReadLimit == 0 {
		c.Slack.ReadLimit = defaultReadLimit
	}
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.VaultPath, &c.RolesDir, &c.StateDir, &c.LogDir} {
		resolved, err := resolvePath(*field)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", *field, err)
		}
		*field = resolved
	}
	c.Slack.Channel = strings.TrimSpace(c.Slack.Channel)
	c.Slack.Token = strings.TrimSpace(c.Slack.Token)
	c.DigestModel = strings.TrimSpace(c.DigestModel)
	return nil
}

func (c *Config) validate() error {
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be >= 1")
	}
	if c.Slack.ReadLimit < 1 {
		return fmt.Errorf("slack.read_limit must be >= 1")
	}
	return nil
}

// SlackEnabled reports whether a bridge channel is configured.
func (c *Config) SlackEnabled() bool {
	return c.Slack.Channel != ""
}

// Abs maps a vault-relative slash path to an absolute filesystem path.
func (c *Config) Abs(rel string) string {
	return filepath.Join(c.VaultPath, filepath.FromSlash(rel))
}

// BasePromptPath returns the vault's shared CLAUDE.md.
func (c *Config) BasePromptPath() string {
	return filepath.Join(c.VaultPath, "CLAUDE.md")
}

// InboxRootRel returns agent/inbox.
func (c *Config) InboxRootRel() string {
	return path.Join(AgentDir, "inbox")
}

// UserInboxRel returns the vault-relative directory holding questions for the human.
func (c *Config) UserInboxRel() string {
	return path.Join(c.InboxRootRel(), UserRecipient)
}

// AnsweredRel returns the directory the human moves answered questions into.
func (c *Config) AnsweredRel() string {
	return path.Join(c.UserInboxRel(), "answered")
}

// RoleInboxRel returns the conventional inbox of a role. Role definitions
// may override it with their own ## Inbox section.
func (c *Config) RoleInboxRel(role string) string {
	return path.Join(c.InboxRootRel(), role)
}

// OutboxRootRel returns agent/outbox.
func (c *Config) OutboxRootRel() string {
	return path.Join(AgentDir, "outbox")
}

// DraftsRel returns the drafts directory of a role's outbox.
func (c *Config) DraftsRel(role string) string {
	return path.Join(c.OutboxRootRel(), role, "drafts")
}

// LogsRel returns the run log directory of a role.
func (c *Config) LogsRel(role string) string {
	return path.Join(AgentDir, "logs", role)
}

// SummariesRel returns the daily digest directory.
func (c *Config) SummariesRel() string {
	return path.Join(AgentDir, "logs", "summaries")
}

// MemoryRel returns the long-lived memory file of a role.
func (c *Config) MemoryRel(role string) string {
	return path.Join(AgentDir, "memory", role+".md")
}

// SlackStatePath returns the absolute path of the bridge posted-set.
func (c *Config) SlackStatePath() string {
	return c.Abs(path.Join(AgentDir, "slack", "state.json"))
}

// SessionsPath returns the session ledger file.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.StateDir, "sessions.json")
}

// LockPath returns the scheduler's single-process lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir, "runner.lock")
}

func resolvePath(candidate string) (string, error) {
	trimmed := strings.TrimSpace(candidate)
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		trimmed = filepath.Join(home, trimmed[2:])
	}
	return filepath.Abs(trimmed)
}

func describeConfigFile(configFile string) string {
	if configFile == "" {
		return "tpm.yaml"
	}
	return configFile
}

// loadDotEnv exports KEY=value pairs from a .env file without overriding
// variables already present in the environment.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", file, err)
	}
	env := viper.New()
	env.SetConfigFile(file)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("config: parse %s: %w", file, err)
	}
	for _, key := range env.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, env.GetString(key)); err != nil {
			return fmt.Errorf("config: export %s: %w", name, err)
		}
	}
	return nil
}
