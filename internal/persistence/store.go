// Package persistence is the Persistence half of the Persistence & Event
// Bus component (spec.md §4 table, §6 "Persisted AgentState (restore
// contract)"). It owns the save/restore contract only — the spec
// explicitly leaves the store's schema out of scope (spec.md §1): any
// driver satisfying database/sql works, and SQLStore is deliberately
// driver-agnostic (Postgres via lib/pq or SQLite via modernc.org/sqlite),
// grounded on internal/storage/cockroach.go's dual-backend shape.
package persistence

import (
	"context"
	"errors"

	"github.com/quoracle/quoracle/internal/tree"
	"github.com/quoracle/quoracle/pkg/models"
)

// ErrNotFound is returned by Load when no row exists for the agent_id.
var ErrNotFound = errors.New("persistence: agent not found")

// Store is the save/restore contract spec.md §6 names. Store.Load
// returns the exact field set tree.PersistedAgent carries so a caller
// can feed it straight into tree.Supervisor.Restore.
type Store interface {
	Save(ctx context.Context, state *models.AgentState, usage models.Usage) error
	Load(ctx context.Context, id models.AgentID) (tree.PersistedAgent, error)
	Delete(ctx context.Context, id models.AgentID) error
	ListRestorable(ctx context.Context) ([]models.AgentID, error)
}

// ensure Store satisfies tree.Deleter without an adapter — both declare
// Delete(context.Context, models.AgentID) error.
var _ tree.Deleter = Store(nil)
