package tree

import (
	"context"
	"fmt"
	"time"

	"github.com/quoracle/quoracle/pkg/models"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Factory builds and starts a new agent's Core for cfg, returning a handle
// the Supervisor can drive. Production code wires this to
// agentcore.New(models.NewAgentState(cfg), deps) plus a goroutine running
// Core.Run; tests inject a fake.
type Factory func(ctx context.Context, cfg models.AgentConfig) (AgentHandle, error)

// Publisher publishes one lifecycle event to a topic (spec.md §6:
// "agents:<id> — agent_spawned, agent_dismissed, agent_terminated").
// Payloads are intentionally untyped records, mirroring spec.md's
// "language-neutral records".
type Publisher interface {
	Publish(topic string, event any)
}

// Deleter removes an agent's persisted rows (spec.md §4.9: "delete
// persisted records (agent, logs, messages)"). Deletion failures during
// DismissTree are logged and do not stop the traversal (best-effort).
type Deleter interface {
	Delete(ctx context.Context, agentID models.AgentID) error
}

// ProfileCatalog re-resolves capability_groups and max_refinement_rounds
// for Restore (spec.md §4.9: "Re-resolve capability_groups and
// max_refinement_rounds from the profile catalog (not persisted —
// ensures updated profiles apply to restored agents)").
type ProfileCatalog interface {
	Resolve(profileName string) (capabilityGroups []string, maxRefinementRounds int, ok bool)
}

// Logger is the minimal structured-logging sink DismissTree uses to
// report best-effort termination failures (spec.md §4.9).
type Logger interface {
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Errorf(string, ...any) {}

// Supervisor implements Spawn/DismissTree/Restore over a Registry (spec.md
// §4.9).
type Supervisor struct {
	registry *Registry
	factory  Factory
	pub      Publisher
	deleter  Deleter
	profiles ProfileCatalog
	clock    Clock
	log      Logger
}

// Opts configures a Supervisor's optional collaborators.
type Opts struct {
	Publisher      Publisher
	Deleter        Deleter
	ProfileCatalog ProfileCatalog
	Clock          Clock
	Logger         Logger
}

// NewSupervisor builds a Supervisor over registry, driving agents through
// factory.
func NewSupervisor(registry *Registry, factory Factory, opts Opts) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Supervisor{
		registry: registry,
		factory:  factory,
		pub:      opts.Publisher,
		deleter:  opts.Deleter,
		profiles: opts.ProfileCatalog,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
}

func (s *Supervisor) publish(topic string, event any) {
	if s.pub != nil {
		s.pub.Publish(topic, event)
	}
}

// Spawn starts a new child agent under parentID (empty for a root agent)
// (spec.md §4.9). The parent's dismissing precondition and the new
// agent's registration happen as a single Registry.Register call, so
// there is no window between "parent checked non-dismissing" and
// "child registered" for a concurrent DismissTree to race into (spec.md
// §9).
func (s *Supervisor) Spawn(ctx context.Context, cfg models.AgentConfig) (AgentHandle, error) {
	var parentHandle AgentHandle
	if cfg.ParentID != "" {
		parentEntry, ok := s.registry.Get(cfg.ParentID)
		if !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrNotFound, cfg.ParentID)
		}
		parentHandle = parentEntry.Handle
	}

	handle, err := s.factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tree: spawn %s: %w", cfg.AgentID, err)
	}

	err = s.registry.Register(Entry{
		AgentID:      cfg.AgentID,
		TaskID:       cfg.TaskID,
		ParentID:     cfg.ParentID,
		ParentHandle: parentHandle,
		Handle:       handle,
		RegisteredAt: s.clock.Now(),
	})
	if err != nil {
		handle.Stop()
		return nil, err
	}

	if parentHandle != nil {
		parentHandle.NotifyChildSpawned(cfg.AgentID)
	}
	s.publish(fmt.Sprintf("agents:%s", cfg.AgentID), "agent_spawned")
	return handle, nil
}

// DismissTree tears down root and every descendant (spec.md §4.9): BFS
// collect (setting each node's dismissing flag as it is visited, the race
// barrier that blocks concurrent Spawn), then terminate in reverse
// (leaves-first) order with graceful, unbounded-timeout stop so cleanup
// callbacks (including MCP client shutdown) can complete. Individual
// termination failures are logged and do not stop the traversal.
func (s *Supervisor) DismissTree(ctx context.Context, rootID models.AgentID, reason string) error {
	if _, ok := s.registry.Get(rootID); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rootID)
	}

	order := s.bfsCollect(rootID)
	for _, id := range order {
		s.registry.SetDismissing(id, true)
		if e, ok := s.registry.Get(id); ok && e.Handle != nil {
			e.Handle.SetDismissing(true)
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		s.terminateOne(ctx, id, reason)
	}
	return nil
}

// bfsCollect walks the tree breadth-first from rootID via the Registry's
// live parent/child edges (spec.md §4.9: "BFS from root collecting all
// descendants").
func (s *Supervisor) bfsCollect(rootID models.AgentID) []models.AgentID {
	visited := map[models.AgentID]bool{rootID: true}
	order := []models.AgentID{rootID}
	queue := []models.AgentID{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range s.registry.Children(id) {
			if visited[child] {
				continue
			}
			visited[child] = true
			order = append(order, child)
			queue = append(queue, child)
		}
	}
	return order
}

// terminateOne publishes agent_dismissed, stops the agent (waiting
// unboundedly for its event loop to drain), deletes its persisted
// records, and publishes agent_terminated. Any failure is logged, never
// aborts the outer traversal (spec.md §4.9: "best-effort").
func (s *Supervisor) terminateOne(ctx context.Context, id models.AgentID, reason string) {
	s.publish(fmt.Sprintf("agents:%s", id), fmt.Sprintf("agent_dismissed: %s", reason))

	entry, ok := s.registry.Get(id)
	if ok && entry.Handle != nil {
		entry.Handle.Stop()
		<-entry.Handle.Done() // unbounded: let cleanup run to completion
	}

	if s.deleter != nil {
		if err := s.deleter.Delete(ctx, id); err != nil {
			s.log.Errorf("tree: delete persisted records for %s: %v", id, err)
		}
	}

	if ok && entry.ParentHandle != nil {
		entry.ParentHandle.NotifyChildDismissed(id)
	}

	s.registry.Remove(id)
	s.publish(fmt.Sprintf("agents:%s", id), "agent_terminated")
}

// PersistedAgent carries the fields required for a faithful restore
// (spec.md §6 "Persisted AgentState (restore contract)").
type PersistedAgent struct {
	AgentID        models.AgentID
	TaskID         string
	ParentID       models.AgentID
	ProfileName    string
	RawConfig      map[string]string
	PromptFields   models.PromptFields
	ModelHistories map[models.ModelSpec][]models.HistoryEntry
	ContextLessons map[models.ModelSpec][]models.Lesson
	ModelStates    map[models.ModelSpec]string
	ModelPool      []models.ModelSpec
	Todos          []string
	Children       []models.ChildRef
}

// Restore rebuilds an agent from a persisted row (spec.md §4.9):
// capability_groups and max_refinement_rounds are re-resolved from the
// live profile catalog rather than trusted from storage, system_prompt is
// re-derived from prompt_fields (never persisted separately — done by the
// caller's system-prompt composer, not stored on AgentState at all), and
// RestorationMode is set so the first post-restore event does not
// trigger a redundant re-persist (spec.md §9).
func (s *Supervisor) Restore(ctx context.Context, persisted PersistedAgent) (AgentHandle, error) {
	cfg := models.AgentConfig{
		AgentID:      persisted.AgentID,
		TaskID:       persisted.TaskID,
		ParentID:     persisted.ParentID,
		ModelPool:    persisted.ModelPool,
		PromptFields: persisted.PromptFields,
		ProfileName:  persisted.ProfileName,
		RawConfig:    persisted.RawConfig,
	}
	if s.profiles != nil {
		if groups, maxRounds, ok := s.profiles.Resolve(persisted.ProfileName); ok {
			cfg.CapabilityGroups = groups
			cfg.MaxRefinementRounds = maxRounds
		}
	}
	cfg.Normalize()

	handle, err := s.factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tree: restore %s: %w", cfg.AgentID, err)
	}

	state := handle.State()
	state.ModelHistories = persisted.ModelHistories
	state.ContextLessons = persisted.ContextLessons
	state.ModelStates = persisted.ModelStates
	state.Todos = persisted.Todos
	state.Children = persisted.Children
	state.RestorationMode = true

	var parentHandle AgentHandle
	if persisted.ParentID != "" {
		if e, ok := s.registry.Get(persisted.ParentID); ok {
			parentHandle = e.Handle
		}
	}

	if err := s.registry.Register(Entry{
		AgentID:      cfg.AgentID,
		TaskID:       cfg.TaskID,
		ParentID:     cfg.ParentID,
		ParentHandle: parentHandle,
		Handle:       handle,
		RegisteredAt: s.clock.Now(),
	}); err != nil {
		handle.Stop()
		return nil, err
	}

	if parentHandle != nil {
		parentHandle.NotifyChildSpawned(cfg.AgentID)
	}
	s.publish(fmt.Sprintf("agents:%s", cfg.AgentID), "agent_restored")
	return handle, nil
}
