package tree

import (
	"context"
	"sync"
	"testing"

	"github.com/quoracle/quoracle/pkg/models"
)

type fakeHandle struct {
	mu         sync.Mutex
	id         models.AgentID
	state      *models.AgentState
	dismissing bool
	stopped    bool
	done       chan struct{}
	spawned    []models.AgentID
	dismissed  []models.AgentID
}

func newFakeHandle(id models.AgentID) *fakeHandle {
	return &fakeHandle{
		id:    id,
		state: models.NewAgentState(models.AgentConfig{AgentID: id}),
		done:  make(chan struct{}),
	}
}

func (h *fakeHandle) SetDismissing(d bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dismissing = d
}

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) State() *models.AgentState { return h.state }

func (h *fakeHandle) NotifyChildSpawned(childID models.AgentID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spawned = append(h.spawned, childID)
}

func (h *fakeHandle) NotifyChildDismissed(childID models.AgentID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dismissed = append(h.dismissed, childID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(topic string, event any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, topic)
}

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []models.AgentID
}

func (d *recordingDeleter) Delete(ctx context.Context, id models.AgentID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, id)
	return nil
}

func newTestSupervisor() (*Supervisor, *Registry, *recordingPublisher, *recordingDeleter) {
	registry := NewRegistry()
	pub := &recordingPublisher{}
	del := &recordingDeleter{}
	factory := func(ctx context.Context, cfg models.AgentConfig) (AgentHandle, error) {
		return newFakeHandle(cfg.AgentID), nil
	}
	sup := NewSupervisor(registry, factory, Opts{Publisher: pub, Deleter: del})
	return sup, registry, pub, del
}

// Scenario F (spec.md §8): dismissing a root tears down every descendant,
// leaves-first, and the registry ends empty.
func TestDismissTreeLeavesFirstAndRegistryEmpty(t *testing.T) {
	sup, registry, _, del := newTestSupervisor()
	ctx := context.Background()

	root, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "root"})
	if err != nil {
		t.Fatalf("Spawn(root) error = %v", err)
	}
	_ = root
	if _, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "child1", ParentID: "root"}); err != nil {
		t.Fatalf("Spawn(child1) error = %v", err)
	}
	if _, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "child2", ParentID: "root"}); err != nil {
		t.Fatalf("Spawn(child2) error = %v", err)
	}
	if _, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "grandchild", ParentID: "child1"}); err != nil {
		t.Fatalf("Spawn(grandchild) error = %v", err)
	}

	if err := sup.DismissTree(ctx, "root", "test teardown"); err != nil {
		t.Fatalf("DismissTree() error = %v", err)
	}

	if registry.Len() != 0 {
		t.Fatalf("expected registry empty after DismissTree, got %d entries", registry.Len())
	}

	del.mu.Lock()
	defer del.mu.Unlock()
	if len(del.deleted) != 4 {
		t.Fatalf("expected 4 agents deleted, got %d: %v", len(del.deleted), del.deleted)
	}
	// grandchild (the only leaf strictly below child1) must be deleted
	// before its parent child1; root must be deleted last.
	pos := map[models.AgentID]int{}
	for i, id := range del.deleted {
		pos[id] = i
	}
	if pos["grandchild"] >= pos["child1"] {
		t.Fatalf("expected grandchild torn down before child1, order = %v", del.deleted)
	}
	if pos["root"] != len(del.deleted)-1 {
		t.Fatalf("expected root torn down last, order = %v", del.deleted)
	}
}

// Spawn fails with ErrAlreadyRegistered for a duplicate agent_id, and the
// registry is left with exactly one entry either way (spec.md §3 invariant:
// agent_id uniqueness).
func TestSpawnDuplicateAgentIDRejected(t *testing.T) {
	sup, registry, _, _ := newTestSupervisor()
	ctx := context.Background()

	if _, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "dup"}); err != nil {
		t.Fatalf("first Spawn() error = %v", err)
	}
	if _, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "dup"}); err == nil {
		t.Fatalf("expected second Spawn() with duplicate id to fail")
	}
	if registry.Len() != 1 {
		t.Fatalf("expected exactly 1 registered agent, got %d", registry.Len())
	}
}

// The dismissing race barrier (spec.md §4.9, §9): once a parent's
// dismissing flag is set, Spawn for a new child under it must fail rather
// than race into a tree that is mid-teardown.
func TestSpawnUnderDismissingParentRejected(t *testing.T) {
	sup, registry, _, _ := newTestSupervisor()
	ctx := context.Background()

	if _, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "root"}); err != nil {
		t.Fatalf("Spawn(root) error = %v", err)
	}
	registry.SetDismissing("root", true)

	if _, err := sup.Spawn(ctx, models.AgentConfig{AgentID: "late-child", ParentID: "root"}); err == nil {
		t.Fatalf("expected Spawn under dismissing parent to fail")
	}
	if registry.Len() != 1 {
		t.Fatalf("expected late-child to not be registered, registry has %d entries", registry.Len())
	}
}

// Restore re-resolves capability_groups/max_refinement_rounds from the
// live profile catalog rather than trusting persisted values (spec.md
// §4.9), and marks the rebuilt state as RestorationMode.
type staticProfiles struct {
	groups    []string
	maxRounds int
}

func (p staticProfiles) Resolve(name string) ([]string, int, bool) {
	if name == "" {
		return nil, 0, false
	}
	return p.groups, p.maxRounds, true
}

func TestRestoreReResolvesProfileAndSetsRestorationMode(t *testing.T) {
	registry := NewRegistry()
	var capturedCfg models.AgentConfig
	factory := func(ctx context.Context, cfg models.AgentConfig) (AgentHandle, error) {
		capturedCfg = cfg
		return newFakeHandle(cfg.AgentID), nil
	}
	sup := NewSupervisor(registry, factory, Opts{
		ProfileCatalog: staticProfiles{groups: []string{"fs", "shell"}, maxRounds: 7},
	})

	handle, err := sup.Restore(context.Background(), PersistedAgent{
		AgentID:     "restored",
		ProfileName: "worker",
		ModelStates: map[models.ModelSpec]string{"m1": "some state"},
		Todos:       []string{"finish x"},
	})
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if len(capturedCfg.CapabilityGroups) != 2 || capturedCfg.CapabilityGroups[0] != "fs" {
		t.Fatalf("expected capability groups re-resolved from profile catalog, got %v", capturedCfg.CapabilityGroups)
	}
	if capturedCfg.MaxRefinementRounds != 7 {
		t.Fatalf("expected max_refinement_rounds=7 from profile catalog, got %d", capturedCfg.MaxRefinementRounds)
	}
	if !handle.State().RestorationMode {
		t.Fatalf("expected RestorationMode=true after restore")
	}
	if handle.State().Todos[0] != "finish x" {
		t.Fatalf("expected persisted todos carried over, got %v", handle.State().Todos)
	}
	if registry.Len() != 1 {
		t.Fatalf("expected restored agent registered, registry has %d entries", registry.Len())
	}
}
