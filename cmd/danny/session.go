package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/checksumhq/danny/internal/onboarding"
	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and adjust onboarding sessions",
	}

	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionPhaseCmd())
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's phase and answers as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to danny config file")
	return cmd
}

func runSessionShow(cmd *cobra.Command, configPath, idArg string) error {
	id, err := parseSessionID(idArg)
	if err != nil {
		return err
	}
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	snap, err := onboarding.State(gormDB, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %d: %w", id, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	missing, err := onboarding.UnansweredFields(gormDB, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d fields unanswered\n", len(missing), len(onboarding.Fields))
	return nil
}

func newSessionPhaseCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "phase <session-id> <sales|customer>",
		Short: "Move a session to another phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionPhase(cmd, configPath, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to danny config file")
	return cmd
}

func runSessionPhase(cmd *cobra.Command, configPath, idArg, phaseArg string) error {
	id, err := parseSessionID(idArg)
	if err != nil {
		return err
	}
	phase, err := onboarding.ParsePhase(phaseArg)
	if err != nil {
		return err
	}
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if err := onboarding.UpdatePhase(gormDB, id, phase); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %d is now in phase %s\n", id, phase)
	return nil
}

func parseSessionID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return uint(id), nil
}
