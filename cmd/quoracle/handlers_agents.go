package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quoracle/quoracle/internal/config"
	"github.com/quoracle/quoracle/internal/persistence"
	"github.com/quoracle/quoracle/pkg/models"
)

func openStore(ctx context.Context, configPath string) (*persistence.SQLStore, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	store, err := persistence.Open(ctx, cfg.Persistence.Driver, cfg.Persistence.DSN)
	if err != nil {
		return nil, fmt.Errorf("open persistence store: %w", err)
	}
	return store, nil
}

func runAgentsList(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.ListRestorable(ctx)
	if err != nil {
		return fmt.Errorf("list restorable agents: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "no persisted agents")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runAgentsShow(cmd *cobra.Command, configPath, agentID string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	row, err := store.Load(ctx, models.AgentID(agentID))
	if err != nil {
		return fmt.Errorf("load agent %s: %w", agentID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "agent_id:     %s\n", row.AgentID)
	fmt.Fprintf(out, "task_id:      %s\n", row.TaskID)
	fmt.Fprintf(out, "parent_id:    %s\n", row.ParentID)
	fmt.Fprintf(out, "profile_name: %s\n", row.ProfileName)
	fmt.Fprintf(out, "model_pool:   %v\n", row.ModelPool)
	fmt.Fprintf(out, "children:     %d\n", len(row.Children))
	fmt.Fprintf(out, "todos:        %d\n", len(row.Todos))
	for _, m := range row.ModelPool {
		fmt.Fprintf(out, "  history[%s]:  %d entries, %d lessons\n", m, len(row.ModelHistories[m]), len(row.ContextLessons[m]))
	}
	return nil
}

func runAgentsRemove(cmd *cobra.Command, configPath, agentID string) error {
	ctx := cmd.Context()
	store, err := openStore(ctx, configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(ctx, models.AgentID(agentID)); err != nil {
		return fmt.Errorf("delete agent %s: %w", agentID, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", agentID)
	return nil
}
