package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/checksumhq/danny/internal/onboarding"
	"github.com/checksumhq/danny/internal/threadsync"
	"github.com/spf13/cobra"
)

func newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage monitored channels",
	}

	cmd.AddCommand(newChannelAddCmd())
	cmd.AddCommand(newChannelRemoveCmd())
	cmd.AddCommand(newChannelListCmd())
	return cmd
}

func newChannelAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		phase      string
	)

	cmd := &cobra.Command{
		Use:   "add <channel-id>",
		Short: "Start monitoring a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelAdd(cmd, configPath, args[0], name, phase)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to danny config file")
	cmd.Flags().StringVar(&name, "name", "", "channel name shown to the agent (defaults to the id)")
	cmd.Flags().StringVar(&phase, "phase", "", "starting phase for new sessions: sales or customer (defaults to poll.start_phase)")
	return cmd
}

func runChannelAdd(cmd *cobra.Command, configPath, channelID, name, phase string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if phase == "" {
		phase = cfg.Poll.StartPhase
	}
	p, err := onboarding.ParsePhase(phase)
	if err != nil {
		return err
	}

	ch, created, err := threadsync.AddChannel(gormDB, channelID, name, p)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !created {
		fmt.Fprintf(out, "Channel %s (#%s) is already monitored\n", ch.ChannelID, ch.Name)
		return nil
	}
	fmt.Fprintf(out, "Monitoring channel %s (#%s), phase %s\n", ch.ChannelID, ch.Name, ch.Phase)
	return nil
}

func newChannelRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <channel-id>",
		Short: "Stop monitoring a channel",
		Long:  "Stops monitoring a channel. Its cursor, threads and sessions are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelRemove(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to danny config file")
	return cmd
}

func runChannelRemove(cmd *cobra.Command, configPath, channelID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := threadsync.RemoveChannel(gormDB, channelID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped monitoring channel %s\n", channelID)
	return nil
}

func newChannelListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitored channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannelList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to danny config file")
	return cmd
}

func runChannelList(cmd *cobra.Command, configPath string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	channels, err := threadsync.ListChannels(gormDB)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(channels) == 0 {
		fmt.Fprintln(out, "No channels monitored.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tNAME\tPHASE\tLAST SEEN\tTHREADS")
	for _, ch := range channels {
		last, _, err := threadsync.GetCursor(gormDB, ch.ChannelID)
		if err != nil {
			return err
		}
		if last == "" {
			last = "-"
		}
		threads, err := threadsync.ThreadsForChannel(gormDB, ch.ChannelID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", ch.ChannelID, ch.Name, ch.Phase, last, len(threads))
	}
	return w.Flush()
}
