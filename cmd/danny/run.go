package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/checksumhq/danny/internal/repowatch"
	"github.com/checksumhq/danny/internal/scheduler"
	"github.com/checksumhq/danny/internal/server"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the poller, repository watcher and HTTP API",
		Long: `Starts the channel poller on its schedule, the repository watcher when
github.repos is configured, and the HTTP API when server.port is set.
Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to danny config file")
	return cmd
}

func runRun(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	poller, err := newPoller(cfg, gormDB, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Opts{Logger: logger.WithPrefix("scheduler")})
	if err := sched.Add("poll", cfg.Poll.Schedule, func(ctx context.Context) error {
		_, err := poller.Tick(ctx)
		return err
	}); err != nil {
		return err
	}

	if len(cfg.GitHub.Repos) > 0 {
		watcher, err := repowatch.New(repowatch.WatcherOpts{
			Token:     cfg.GitHub.Token,
			Repos:     cfg.GitHub.Repos,
			Branch:    cfg.GitHub.Branch,
			WatchPath: cfg.GitHub.WatchPath,
			DB:        gormDB,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		if err := sched.Add("repowatch", cfg.GitHub.Schedule, watcher.Run); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, e := range sched.Entries() {
		fmt.Fprintf(out, "Scheduled %s (%s)\n", e.Name, e.Spec)
	}

	serverErr := make(chan error, 1)
	if cfg.Server.Port > 0 {
		go func() {
			err := server.Start(ctx, server.StartOpts{
				DB:     gormDB,
				Port:   cfg.Server.Port,
				Out:    out,
				Logger: logger,
			})
			if err != nil {
				logger.Error("http server failed", "err", err)
				cancel()
			}
			serverErr <- err
		}()
	} else {
		serverErr <- nil
	}

	if err := sched.Run(ctx); err != nil {
		return err
	}
	return <-serverErr
}
