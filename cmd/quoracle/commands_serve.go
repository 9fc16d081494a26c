package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that boots the runtime.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Quoracle agent runtime",
		Long: `Start the Quoracle runtime with all configured model providers, the MCP
client subsystem, and the persistence-backed tree supervisor.

The process will:
1. Load configuration from the specified file (or quoracle.yaml)
2. Open the persistence store and restore any previously-saved agents
3. Connect configured MCP servers
4. Serve the event bus websocket, Prometheus metrics, and a health check
   over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM: every live agent's tree is
dismissed (leaves first) before the process exits.`,
		Example: `  # Start with default config
  quoracle serve

  # Start with custom config
  quoracle serve --config /etc/quoracle/production.yaml

  # Start with debug logging
  quoracle serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")

	return cmd
}
