package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPollCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a single poller tick",
		Long:  "Scans every monitored channel once for new messages and thread replies, then exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to danny config file")
	return cmd
}

func runPoll(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	poller, err := newPoller(cfg, gormDB, logger)
	if err != nil {
		return err
	}
	report, err := poller.Tick(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Polled %d channels: %d threads opened, %d replies forwarded, %d failures\n",
		report.Channels, report.ThreadsCreated, report.RepliesForwarded, report.Failures)
	return nil
}
