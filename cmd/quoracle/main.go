// Package main provides the CLI entry point for the Quoracle agent
// orchestration runtime.
//
// Quoracle drives long-lived, supervised agents that consult a pool of
// heterogeneous LLMs, aggregate their proposals into a single action via
// statistical consensus, execute that action, and feed the result back
// into each model's conversation history.
//
// # Basic Usage
//
// Start the runtime:
//
//	quoracle serve --config quoracle.yaml
//
// Validate configuration:
//
//	quoracle doctor --config quoracle.yaml
//
// Inspect persisted agents:
//
//	quoracle agents list --config quoracle.yaml
//
// # Environment Variables
//
//   - QUORACLE_CONFIG: Path to configuration file (default: quoracle.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for the anthropic provider
//   - OPENAI_API_KEY: OpenAI API key for the openai provider and embeddings
//   - GEMINI_API_KEY: Google API key for the gemini provider
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise the command tree directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quoracle",
		Short: "Quoracle - multi-agent orchestration runtime",
		Long: `Quoracle drives supervised agents that consult a pool of LLMs, aggregate
their proposals via statistical consensus, and execute the decided action.

Available providers: Anthropic, OpenAI, Gemini
Persistence backends: Postgres, SQLite`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildAgentsCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("QUORACLE_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

const defaultConfigPath = "quoracle.yaml"
