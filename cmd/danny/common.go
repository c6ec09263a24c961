package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/checksumhq/danny/internal/config"
	"github.com/checksumhq/danny/internal/db"
	"github.com/checksumhq/danny/internal/dialogue"
	"github.com/checksumhq/danny/internal/platform"
	"github.com/checksumhq/danny/internal/platform/discord"
	"github.com/checksumhq/danny/internal/platform/slack"
	"github.com/checksumhq/danny/internal/threadsync"
	"gorm.io/gorm"
)

const defaultConfigPath = "danny.yaml"

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newLogger builds the process logger at the configured level.
func newLogger(cfg *config.Config, w io.Writer) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Warn("unknown log level, using info", "level", cfg.Log.Level)
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// newPlatform builds the chat client selected by cfg.Platform.
func newPlatform(cfg *config.Config, logger *log.Logger) (platform.Platform, error) {
	switch cfg.Platform {
	case config.PlatformDiscord:
		c, err := discord.New(discord.ClientOpts{
			BotToken: cfg.PlatformToken(),
			Logger:   logger.WithPrefix("discord"),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.PlatformSlack:
		c, err := slack.New(slack.ClientOpts{
			BotToken: cfg.PlatformToken(),
			Logger:   logger.WithPrefix("slack"),
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// newPoller wires the configured platform and agent into a Poller.
func newPoller(cfg *config.Config, gormDB *gorm.DB, logger *log.Logger) (*threadsync.Poller, error) {
	plat, err := newPlatform(cfg, logger)
	if err != nil {
		return nil, err
	}
	agent, err := dialogue.NewClaude(dialogue.ClaudeOpts{
		APIKey:        cfg.Agent.APIKey,
		BaseURL:       cfg.Agent.BaseURL,
		Model:         cfg.Agent.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		DB:            gormDB,
		Logger:        logger.WithPrefix("agent"),
	})
	if err != nil {
		return nil, err
	}
	return threadsync.NewPoller(threadsync.PollerOpts{
		DB:           gormDB,
		Platform:     plat,
		Agent:        agent,
		HistoryLimit: cfg.Poll.HistoryLimit,
		Logger:       logger.WithPrefix("poller"),
	})
}
