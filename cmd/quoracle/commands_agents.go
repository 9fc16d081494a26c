package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Agents Commands
// =============================================================================

// buildAgentsCmd creates the "agents" command group for inspecting
// persisted agent state out-of-process (spec.md §6's restore contract;
// the live tree itself only exists inside a running "serve" process).
func buildAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect persisted agent state",
	}
	cmd.AddCommand(buildAgentsListCmd(), buildAgentsShowCmd(), buildAgentsRemoveCmd())
	return cmd
}

func buildAgentsListCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted, restorable agent IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildAgentsShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show a persisted agent's restore row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsShow(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildAgentsRemoveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rm <agent-id>",
		Short: "Delete a persisted agent's row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsRemove(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
