package agentcore

import (
	"context"
	"testing"
	"time"

	"github.com/quoracle/quoracle/internal/ace"
	"github.com/quoracle/quoracle/internal/ace/lessons"
	"github.com/quoracle/quoracle/internal/ace/reflector"
	"github.com/quoracle/quoracle/internal/consensus"
	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/llmquery"
	"github.com/quoracle/quoracle/internal/router"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

type fixedProvider struct{ text string }

func (p fixedProvider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	return llmclient.Response{Text: p.text}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, spec models.ModelSpec) ([]float32, error) {
	return []float32{1}, nil
}

func newTestCore(t *testing.T, cfg models.AgentConfig, executor ActionExecutor, envelope string) (*Core, *models.AgentState) {
	t.Helper()
	calc := tokens.NewCalculator(nil, nil)
	condenser := ace.New(calc, reflector.New(calc), lessons.New(fakeEmbedder{}, "embed"), 0, 0)
	catalog := router.NewCatalog()
	if err := router.RegisterDefaults(catalog); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}
	engine := consensus.New(calc, condenser, catalog)

	providers := map[models.ModelSpec]llmclient.Provider{}
	for _, m := range cfg.ModelPool {
		providers[m] = fixedProvider{text: envelope}
	}
	registry := llmquery.NewStaticRegistry(providers)

	state := models.NewAgentState(cfg)
	deps := Deps{
		Registry: registry,
		Engine:   engine,
		Catalog:  catalog,
		Executor: executor,
	}
	core := New(state, deps)
	return core, state
}

func orientEnvelope() string {
	return `{"action":"orient","params":{"focus":"x"},"reasoning":"r","wait":false,"auto_complete_todo":false}`
}

// Scenario D (spec.md §8): a long action dispatches async; while it is
// pending and un-acked, 5 agent_messages arrive; once the action result
// lands, history order must be result(shell), event(m1..m5), then one
// consensus cycle runs.
func TestMessageBatchingWhileActionPending(t *testing.T) {
	cfg := models.AgentConfig{
		AgentID:   "a1",
		ModelPool: []models.ModelSpec{"m1"},
	}
	var dispatchedID string
	executor := ActionExecutorFunc(func(ctx context.Context, actionID string, decision models.Decision, enqueue func(AgentEvent)) ExecOutcome {
		dispatchedID = actionID
		return ExecOutcome{OK: true, Async: true}
	})

	core, state := newTestCore(t, cfg, executor, orientEnvelope())
	ctx := context.Background()

	// Kick off a cycle that dispatches the async action.
	core.process(ctx, AgentMessageEvent{Sender: "peer", Content: "start"})
	if dispatchedID == "" {
		t.Fatalf("expected an action to have been dispatched")
	}
	if _, ok := state.PendingActions[dispatchedID]; !ok {
		t.Fatalf("expected pending action %s to be recorded", dispatchedID)
	}

	for i := 1; i <= 5; i++ {
		core.process(ctx, AgentMessageEvent{Sender: "peer", Content: "m" + itoa(i)})
	}
	if len(state.QueuedMessages) != 5 {
		t.Fatalf("expected 5 queued messages while action pending, got %d", len(state.QueuedMessages))
	}

	core.process(ctx, ActionResultEvent{ActionID: dispatchedID, Result: "shell-output"})

	history := state.ModelHistories["m1"]
	// entries: event(start), result(shell-output), event(m1..m5), decision(?) appended by next cycle?
	// Consensus cycle runs after flush; it appends no history entry itself
	// (decisions aren't auto-recorded as history here), but the orient
	// action is self-contained so it chains one more immediate cycle.
	var gotOrder []string
	for _, e := range history {
		gotOrder = append(gotOrder, string(e.Type)+":"+e.Content)
	}
	if len(history) < 7 {
		t.Fatalf("expected at least 7 history entries, got %d: %v", len(history), gotOrder)
	}
	if history[0].Content != "start" {
		t.Fatalf("entry 0 = %q, want start", history[0].Content)
	}
	if history[1].Type != models.HistoryResult || history[1].Content != "shell-output" {
		t.Fatalf("entry 1 = %+v, want result(shell-output)", history[1])
	}
	for i := 0; i < 5; i++ {
		want := "m" + itoa(i+1)
		if history[2+i].Content != want {
			t.Fatalf("entry %d = %q, want %q", 2+i, history[2+i].Content, want)
		}
	}
	if len(state.QueuedMessages) != 0 {
		t.Fatalf("expected queued messages drained, got %d", len(state.QueuedMessages))
	}
}

func itoa(i int) string {
	return string(rune('0' + i))
}

// Wait-timer staleness: a WaitExpiredEvent whose generation no longer
// matches the currently-armed timer is discarded (spec.md §5, §9).
func TestWaitExpiredStaleGenerationDiscarded(t *testing.T) {
	cfg := models.AgentConfig{AgentID: "a1", ModelPool: []models.ModelSpec{"m1"}}
	executor := ActionExecutorFunc(func(ctx context.Context, actionID string, decision models.Decision, enqueue func(AgentEvent)) ExecOutcome {
		return ExecOutcome{OK: true, Async: true}
	})
	core, state := newTestCore(t, cfg, executor, orientEnvelope())

	var fired func()
	core.deps.TimerFunc = func(d time.Duration, fire func()) func() {
		fired = fire
		return func() {}
	}

	core.process(context.Background(), AgentMessageEvent{Sender: "peer", Content: "go"})
	// Force a decision with wait=1000ms by directly invoking applyWait, since
	// the scripted orient envelope returns wait:false; exercise the timer
	// arm/stale-generation path in isolation.
	core.armWaitTimer(context.Background(), 50*time.Millisecond)
	firstGen := state.WaitTimer.Generation
	firstID := state.WaitTimer.TimerID

	// Arm a second timer, superseding the first (simulates a new event
	// having cancelled+rearmed).
	core.armWaitTimer(context.Background(), 50*time.Millisecond)
	if state.WaitTimer.Generation == firstGen {
		t.Fatalf("expected generation to advance on rearm")
	}
	_ = firstID

	before := len(state.ModelHistories["m1"])
	// The stale fire (captured from the *first* arm) must no longer match.
	core.process(context.Background(), WaitExpiredEvent{TimerID: firstID, Generation: firstGen})
	if len(state.ModelHistories["m1"]) != before {
		t.Fatalf("stale wait_expired must not mutate history")
	}
	_ = fired
}

// Self-contained action with wait:false chains the next consensus cycle
// immediately, without needing any further external stimulus (spec.md §8
// invariant 4).
func TestSelfContainedActionChainsImmediately(t *testing.T) {
	cfg := models.AgentConfig{AgentID: "a1", ModelPool: []models.ModelSpec{"m1"}}
	calls := 0
	executor := ActionExecutorFunc(func(ctx context.Context, actionID string, decision models.Decision, enqueue func(AgentEvent)) ExecOutcome {
		calls++
		return ExecOutcome{OK: true, Async: false, Result: "done"}
	})
	core, _ := newTestCore(t, cfg, executor, orientEnvelope())

	core.process(context.Background(), AgentMessageEvent{Sender: "peer", Content: "go"})

	if calls < 2 {
		t.Fatalf("expected the self-contained orient action to chain into a second cycle, got %d calls", calls)
	}
}

// At most one wait timer is armed at any instant (spec.md §3 invariant 2).
func TestAtMostOneTimerArmedAtOnce(t *testing.T) {
	cfg := models.AgentConfig{AgentID: "a1", ModelPool: []models.ModelSpec{"m1"}}
	executor := ActionExecutorFunc(func(ctx context.Context, actionID string, decision models.Decision, enqueue func(AgentEvent)) ExecOutcome {
		return ExecOutcome{OK: true, Async: true}
	})
	core, state := newTestCore(t, cfg, executor, orientEnvelope())

	core.armWaitTimer(context.Background(), 10*time.Millisecond)
	core.armWaitTimer(context.Background(), 10*time.Millisecond)
	core.armWaitTimer(context.Background(), 10*time.Millisecond)

	if state.WaitTimer == nil {
		t.Fatalf("expected exactly one armed timer")
	}
	if len(core.timerCancels) != 1 {
		t.Fatalf("expected prior timers released on rearm, got %d tracked cancels", len(core.timerCancels))
	}
}
