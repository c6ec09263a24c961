// Package config provides YAML-based configuration loading for danny.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/checksumhq/danny/internal/models"
	"gopkg.in/yaml.v3"
)

// Supported chat platforms.
const (
	PlatformSlack   = "slack"
	PlatformDiscord = "discord"
)

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level danny configuration, loaded from danny.yaml.
type Config struct {
	Platform string          `yaml:"platform"`
	Slack    SlackConfig     `yaml:"slack"`
	Discord  DiscordConfig   `yaml:"discord"`
	Database DatabaseConfig  `yaml:"database"`
	Poll     PollConfig      `yaml:"poll"`
	Agent    AgentConfig     `yaml:"agent"`
	GitHub   GitHubConfig    `yaml:"github"`
	Server   ServerConfig    `yaml:"server"`
	Log      LogConfig       `yaml:"log"`
	Channels []ChannelConfig `yaml:"channels"`
}

// SlackConfig holds Slack Web API credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"` // xoxb-...
}

// DiscordConfig holds Discord REST credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DatabaseConfig selects and locates the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"` // usually ${DANNY_DB_PASSWORD}
	Name     string `yaml:"name"`
}

// PollConfig controls the channel poller tick.
type PollConfig struct {
	Schedule     string `yaml:"schedule"`      // cron spec or descriptor, e.g. "@every 10s"
	HistoryLimit int    `yaml:"history_limit"` // top-level messages fetched per tick
	StartPhase   string `yaml:"start_phase"`   // phase for channels without one
}

// AgentConfig configures the dialogue agent.
type AgentConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	MaxTokens     int    `yaml:"max_tokens"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`
}

// GitHubConfig configures the repository watcher. An empty Repos list
// disables it.
type GitHubConfig struct {
	Token     string   `yaml:"token"`
	Schedule  string   `yaml:"schedule"`
	Branch    string   `yaml:"branch"`
	WatchPath string   `yaml:"watch_path"`
	Repos     []string `yaml:"repos"`
}

// ServerConfig configures the HTTP API. Port 0 disables it.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ChannelConfig seeds a monitored channel on `danny db init`.
type ChannelConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Phase string `yaml:"phase"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, unmarshals YAML bytes, and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = PlatformSlack
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "localdev.db"
	}
	if c.Database.Driver == DriverMySQL {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "danny"
		}
	}
	if c.Poll.Schedule == "" {
		c.Poll.Schedule = "@every 10s"
	}
	if c.Poll.HistoryLimit == 0 {
		c.Poll.HistoryLimit = 5
	}
	if c.Poll.StartPhase == "" {
		c.Poll.StartPhase = models.PhaseSales
	}
	if c.Agent.Model == "" {
		c.Agent.Model = "claude-sonnet-4-6"
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.MaxToolRounds == 0 {
		c.Agent.MaxToolRounds = 8
	}
	if c.GitHub.Schedule == "" {
		c.GitHub.Schedule = "*/5 * * * *"
	}
	if c.GitHub.Branch == "" {
		c.GitHub.Branch = "main"
	}
	if c.GitHub.WatchPath == "" {
		c.GitHub.WatchPath = ".checksum"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	for i := range c.Channels {
		if c.Channels[i].Phase == "" {
			c.Channels[i].Phase = c.Poll.StartPhase
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Platform {
	case PlatformSlack, PlatformDiscord:
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported (slack, discord)", c.Platform))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Poll.HistoryLimit < 0 {
		errs = append(errs, "poll.history_limit must be positive")
	}
	if !models.KnownPhase(c.Poll.StartPhase) {
		errs = append(errs, fmt.Sprintf("poll.start_phase %q is not a known phase", c.Poll.StartPhase))
	}
	if c.Agent.MaxToolRounds < 0 {
		errs = append(errs, "agent.max_tool_rounds must be positive")
	}
	for i, ch := range c.Channels {
		if ch.ID == "" {
			errs = append(errs, fmt.Sprintf("channels[%d].id is required", i))
		}
		if !models.KnownPhase(ch.Phase) {
			errs = append(errs, fmt.Sprintf("channels[%d].phase %q is not a known phase", i, ch.Phase))
		}
	}
	for i, r := range c.GitHub.Repos {
		if strings.Count(r, "/") != 1 {
			errs = append(errs, fmt.Sprintf("github.repos[%d] %q must be owner/repo", i, r))
		}
	}
	if len(c.GitHub.Repos) > 0 && c.GitHub.Token == "" {
		errs = append(errs, "github.token is required when github.repos is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PlatformToken returns the bot token for the configured platform.
func (c *Config) PlatformToken() string {
	if c.Platform == PlatformDiscord {
		return c.Discord.BotToken
	}
	return c.Slack.BotToken
}
