// Package tree implements the Tree Supervisor (spec.md §4.9): spawning
// children under a parent, BFS-collect-then-reverse-terminate dismissal
// with a dismissing-flag race barrier, and restore from a persisted row.
// Grounded on internal/multiagent/orchestrator.go's Orchestrator registry
// (RegisterAgent/GetAgent/ListAgents, guarded by a single sync.RWMutex),
// restructured from "supervisor delegates to a flat pool of specialists"
// into "parent spawns child, tree-shaped, BFS dismissal" — the shape
// spec.md §4.9 calls for and the orchestrator's flat registry does not.
package tree

import (
	"fmt"
	"sync"
	"time"

	"github.com/quoracle/quoracle/pkg/models"
)

// AgentHandle is the supervisor's view of a running agent: enough of
// internal/agentcore.Core's method set to drive lifecycle events without
// this package importing agentcore directly (avoiding a dependency the
// other direction would never need). *agentcore.Core satisfies this
// interface structurally.
type AgentHandle interface {
	SetDismissing(dismissing bool)
	Stop()
	Done() <-chan struct{}
	State() *models.AgentState
	NotifyChildSpawned(childID models.AgentID)
	NotifyChildDismissed(childID models.AgentID)
}

// Entry is the single atomic composite value the Registry stores per
// agent (spec.md §4.9, §9 "Registry composite value"): the source history
// shows a two-step registration pattern ({:worker, id} then {:child_of,
// parent}) whose intermediate state concurrent readers could observe; the
// fix recorded here is registering the whole composite in one write.
type Entry struct {
	AgentID      models.AgentID
	TaskID       string
	ParentID     models.AgentID
	ParentHandle AgentHandle
	Handle       AgentHandle
	RegisteredAt time.Time

	// Dismissing mirrors AgentState.Dismissing but lives in the registry
	// itself, set synchronously under the registry's mutex during
	// DismissTree's BFS pass (spec.md §4.9's "race barrier") rather than
	// round-tripped through the agent's own asynchronous mailbox, so
	// Spawn's precondition check is never racing the teardown traversal.
	Dismissing bool
}

// ErrAlreadyRegistered is returned by Register when agentID is already
// present (spec.md §3 invariant: "while alive, the agent_id is unique
// across the registry").
var ErrAlreadyRegistered = fmt.Errorf("tree: agent_id already registered")

// ErrNotFound is returned when an operation targets an unregistered
// agent_id.
var ErrNotFound = fmt.Errorf("tree: agent_id not found")

// ErrParentDismissing is returned by Spawn's precondition check (spec.md
// §4.9: "Precondition: parent's dismissing flag is false").
var ErrParentDismissing = fmt.Errorf("tree: parent is dismissing")

// Registry is the concurrent key-value store keyed on agent_id (spec.md
// §5: "writes are atomic single-op (composite value) to preclude
// read-between-writes races").
type Registry struct {
	mu   sync.RWMutex
	byID map[models.AgentID]*Entry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: map[models.AgentID]*Entry{}}
}

// Register atomically inserts entry, failing if its AgentID already
// exists or (when ParentID is set) the parent is currently dismissing —
// both checks happen under the same lock acquisition as the insert, so
// no reader ever observes a partially-registered agent (spec.md §4.9,
// §9).
func (r *Registry) Register(entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[entry.AgentID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, entry.AgentID)
	}
	if entry.ParentID != "" {
		parent, ok := r.byID[entry.ParentID]
		if !ok {
			return fmt.Errorf("%w: parent %s", ErrNotFound, entry.ParentID)
		}
		if parent.Dismissing {
			return fmt.Errorf("%w: %s", ErrParentDismissing, entry.ParentID)
		}
	}
	cp := entry
	r.byID[entry.AgentID] = &cp
	return nil
}

// Get returns a copy of the registered entry for id, if present.
func (r *Registry) Get(id models.AgentID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Children returns every currently-registered agent whose ParentID is id,
// used by BFS tree collection (spec.md §4.9) instead of trusting each
// agent's own possibly-stale in-memory Children list.
func (r *Registry) Children(id models.AgentID) []models.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.AgentID
	for childID, e := range r.byID {
		if e.ParentID == id {
			out = append(out, childID)
		}
	}
	return out
}

// SetDismissing flips id's registry-level dismissing flag under the same
// lock Register's precondition reads (spec.md §4.9 "race barrier").
func (r *Registry) SetDismissing(id models.AgentID, dismissing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.Dismissing = dismissing
	}
}

// Remove deletes id from the registry (spec.md §4.9: "after completion,
// registry contains none of the [dismissed] ids").
func (r *Registry) Remove(id models.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// Status implements internal/consensus.ChildStatusLookup: "alive" for any
// registered, non-dismissing agent; "dismissing" while torn down;
// ok=false once removed (spec.md §4.6: "Registry-filtered by status").
func (r *Registry) Status(id models.AgentID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return "", false
	}
	if e.Dismissing {
		return "dismissing", true
	}
	return "alive", true
}

// Len reports how many agents are currently registered (test/diagnostic
// convenience; spec.md §8 Scenario F checks the registry ends empty).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// RootIDs returns every currently-registered agent with no parent, letting
// a process-level shutdown sweep call DismissTree once per tree instead of
// once per agent.
func (r *Registry) RootIDs() []models.AgentID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.AgentID
	for id, e := range r.byID {
		if e.ParentID == "" {
			out = append(out, id)
		}
	}
	return out
}

// All returns a snapshot copy of every registered entry, for periodic
// sweeps (the scheduler's lesson-pruning pass) that need to visit every
// live agent rather than one tree at a time.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, *e)
	}
	return out
}
