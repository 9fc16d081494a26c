package router

import (
	"github.com/quoracle/quoracle/pkg/models"
)

// OrientParams is the param shape for the self-contained "orient" action.
type OrientParams struct {
	Focus string `json:"focus" jsonschema:"required"`
}

// SpawnParams is the param shape for "spawn" — creating a child agent.
type SpawnParams struct {
	TaskID           string             `json:"task_id" jsonschema:"required"`
	PromptFields     models.PromptFields `json:"prompt_fields" jsonschema:"required"`
	ModelPool        []models.ModelSpec `json:"model_pool" jsonschema:"required"`
	CapabilityGroups []string           `json:"capability_groups"`
}

// MessageParams is the param shape for "message" — sending to another agent.
type MessageParams struct {
	TargetAgentID models.AgentID `json:"target_agent_id" jsonschema:"required"`
	Content       string         `json:"content" jsonschema:"required"`
}

// WaitParams is the param shape for the explicit "wait" action, which
// mandates a non-false wait value in the Decision envelope.
type WaitParams struct {
	Reason string `json:"reason,omitempty"`
}

// ShellParams is the param shape for "shell" — an untrusted I/O action.
type ShellParams struct {
	Command string   `json:"command" jsonschema:"required"`
	Args    []string `json:"args"`
}

// CallMCPParams is the param shape for "call_mcp" — an untrusted I/O action.
type CallMCPParams struct {
	Server    string         `json:"server" jsonschema:"required"`
	Tool      string         `json:"tool" jsonschema:"required"`
	Arguments map[string]any `json:"arguments"`
}

// RegisterDefaults registers the six example actions the spec names
// (spec.md §9 Open Question (c)), with governance flags per spec.md §9's
// untrusted/self-contained/wait-required tables.
func RegisterDefaults(c *Catalog) error {
	registrations := []struct {
		name          string
		params        any
		untrusted     bool
		selfContained bool
		waitRequired  bool
	}{
		{"orient", OrientParams{}, false, true, false},
		{"spawn", SpawnParams{}, false, false, false},
		{"message", MessageParams{}, false, false, false},
		{"wait", WaitParams{}, false, false, true},
		{"shell", ShellParams{}, true, false, false},
		{"call_mcp", CallMCPParams{}, true, false, false},
	}

	for _, r := range registrations {
		if err := c.Register(r.name, r.params, r.untrusted, r.selfContained, r.waitRequired); err != nil {
			return err
		}
	}
	return nil
}
