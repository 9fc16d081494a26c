package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quoracle/quoracle/internal/config"
)

// runDoctor loads and validates the config file, then prints a short
// summary of what it wires: model catalog size, provider credential
// presence, profile catalog, and MCP server count. It never starts any
// subsystem — this is a read-only preflight check, matching the
// teacher's doctor command's role of catching misconfiguration before
// "serve" is run.
func runDoctor(cmd *cobra.Command, configPath string) error {
	configPath = resolveConfigPath(configPath)
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	fmt.Fprintf(out, "config OK: %s (version %d)\n", configPath, cfg.Version)
	fmt.Fprintf(out, "  server: grpc=%d http=%d metrics=%d\n", cfg.Server.GRPCPort, cfg.Server.HTTPPort, cfg.Server.MetricsPort)
	fmt.Fprintf(out, "  persistence: driver=%s\n", cfg.Persistence.Driver)
	fmt.Fprintf(out, "  models: %d catalog entries\n", len(cfg.Models.Catalog))
	fmt.Fprintf(out, "  providers: anthropic=%s openai=%s gemini=%s\n",
		presence(cfg.Models.Providers.Anthropic.APIKey),
		presence(cfg.Models.Providers.OpenAI.APIKey),
		presence(cfg.Models.Providers.Gemini.APIKey))
	fmt.Fprintf(out, "  profiles: %d entries\n", len(cfg.Profiles.Entries))
	for name, p := range cfg.Profiles.Entries {
		fmt.Fprintf(out, "    - %s: capability_groups=%v max_refinement_rounds=%d\n", name, p.CapabilityGroups, p.MaxRefinementRounds)
	}
	fmt.Fprintf(out, "  mcp: enabled=%v servers=%d\n", cfg.MCP.Enabled, len(cfg.MCP.Servers))
	fmt.Fprintf(out, "  tracing: enabled=%v endpoint=%s\n", cfg.Observability.Tracing.Enabled, cfg.Observability.Tracing.Endpoint)

	return nil
}

func presence(key string) string {
	if key == "" {
		return "missing"
	}
	return "set"
}
