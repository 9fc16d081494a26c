package agentcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quoracle/quoracle/internal/consensus"
	"github.com/quoracle/quoracle/internal/historytransfer"
	"github.com/quoracle/quoracle/internal/llmquery"
	"github.com/quoracle/quoracle/pkg/models"
)

// mailboxSize bounds the agent's event channel. The core is the only
// consumer; producers (other agents, timers, the action executor) never
// block on a full mailbox for long since the core drains it continuously,
// but a generous buffer keeps a burst of agent_messages (spec.md §8
// Scenario D) from stalling callers.
const mailboxSize = 256

// Core owns one agent's AgentState and drives its single-threaded event
// loop (spec.md §4.8). All reads and writes of State happen exclusively
// on the goroutine started by Run; every other method only ever sends to
// the mailbox channel, matching spec.md §6: "All block until the event is
// appended to the agent's mailbox (never until its effect is observed)."
type Core struct {
	id    models.AgentID
	deps  Deps
	state *models.AgentState

	mailbox chan AgentEvent
	done    chan struct{}

	// timerCancels maps an armed wait timer's id to its cancel func, so
	// cancelWaitTimer can stop the in-flight time.AfterFunc (or test fake)
	// backing the currently-armed WaitTimer.
	timerCancels map[string]func()

	stopOnce sync.Once
}

// New builds a Core for state, wiring it to deps. Call Run in its own
// goroutine to start the event loop.
func New(state *models.AgentState, deps Deps) *Core {
	deps.normalize()
	return &Core{
		id:      state.Config.AgentID,
		deps:    deps,
		state:   state,
		mailbox: make(chan AgentEvent, mailboxSize),
		done:    make(chan struct{}),
	}
}

// State returns the live AgentState. Safe to call only from within an
// event handler or after Done() has fired; callers outside the loop
// should go through GetState-style request/response events instead of
// reading this directly while the loop runs.
func (c *Core) State() *models.AgentState { return c.state }

// Done reports when the event loop has exited (Stop was called and
// drained).
func (c *Core) Done() <-chan struct{} { return c.done }

// Stop requests the event loop to exit after its current event finishes
// processing (spec.md §6 "Stop").
func (c *Core) Stop() {
	c.stopOnce.Do(func() {
		close(c.mailbox)
	})
}

func (c *Core) send(ev AgentEvent) {
	defer func() { recover() }() // mailbox closed after Stop: drop silently
	c.mailbox <- ev
}

// HandleAgentMessage enqueues an agent_message event (spec.md §6).
func (c *Core) HandleAgentMessage(sender models.AgentID, content string) {
	c.send(AgentMessageEvent{Sender: sender, Content: content})
}

// HandleUserMessage enqueues a user_message event, identical in handling
// to an agent_message from UserSender (spec.md §4.8).
func (c *Core) HandleUserMessage(content string) {
	c.send(AgentMessageEvent{Sender: UserSender, Content: content})
}

// HandleActionResult enqueues an action_result event (spec.md §6).
func (c *Core) HandleActionResult(actionID string, result string) {
	c.send(ActionResultEvent{ActionID: actionID, Result: result})
}

// HandleActionAck enqueues an action_ack event (spec.md §6).
func (c *Core) HandleActionAck(actionID string) {
	c.send(ActionAckEvent{ActionID: actionID})
}

// UpdateTodos enqueues an UpdateTodosEvent (spec.md §6).
func (c *Core) UpdateTodos(items []string) {
	c.send(UpdateTodosEvent{Items: items})
}

// SetDismissing enqueues a SetDismissingEvent (spec.md §6, §4.9).
func (c *Core) SetDismissing(dismissing bool) {
	c.send(SetDismissingEvent{Dismissing: dismissing})
}

// NotifyChildSpawned/Dismissed/Restored enqueue the corresponding
// lifecycle events (spec.md §4.8).
func (c *Core) NotifyChildSpawned(childID models.AgentID)   { c.send(ChildSpawnedEvent{ChildID: childID}) }
func (c *Core) NotifyChildDismissed(childID models.AgentID) { c.send(ChildDismissedEvent{ChildID: childID}) }
func (c *Core) NotifyChildRestored(childID models.AgentID)  { c.send(ChildRestoredEvent{ChildID: childID}) }

// NotifyParentDown enqueues a ParentDownEvent (spec.md §4.8).
func (c *Core) NotifyParentDown() { c.send(ParentDownEvent{}) }

// SwitchModelPool is the one blocking call in the inbound API (spec.md
// §4.10: "blocking GenServer call, unbounded timeout"). It round-trips
// through the mailbox like every other event — preserving "no consensus
// in flight during the switch" — but the caller waits for the reply.
func (c *Core) SwitchModelPool(ctx context.Context, newPool []models.ModelSpec) error {
	reply := make(chan error, 1)
	c.send(switchModelPoolEvent{newPool: newPool, result: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the mailbox until Stop closes it, processing exactly one
// event at a time (spec.md §5: "within one agent, event processing is
// strictly single-threaded and serial"). Call in its own goroutine.
func (c *Core) Run(ctx context.Context) {
	defer close(c.done)
	for ev := range c.mailbox {
		c.process(ctx, ev)
	}
}

func (c *Core) process(ctx context.Context, ev AgentEvent) {
	switch e := ev.(type) {
	case AgentMessageEvent:
		c.handleAgentMessage(ctx, e)
	case ActionResultEvent:
		c.handleActionResult(ctx, e)
	case ActionAckEvent:
		c.handleActionAck(e)
	case WaitExpiredEvent:
		c.handleWaitExpired(ctx, e)
	case triggerConsensusEvent:
		c.handleTriggerConsensus(ctx)
	case ChildSpawnedEvent:
		c.state.Children = append(c.state.Children, models.ChildRef{ChildAgentID: e.ChildID, SpawnedAt: c.deps.Clock.Now()})
	case ChildDismissedEvent:
		c.removeChild(e.ChildID)
	case ChildRestoredEvent:
		c.addChildIfAbsent(e.ChildID)
	case ParentDownEvent:
		// Logged and otherwise ignored: the Tree Supervisor governs
		// cascading lifecycle decisions, not the child itself (spec.md §4.8).
	case UpdateTodosEvent:
		c.state.Todos = e.Items
	case SetDismissingEvent:
		c.state.Dismissing = e.Dismissing
	case switchModelPoolEvent:
		c.handleSwitchModelPool(ctx, e)
	}
}

// handleAgentMessage implements the agent_message/user_message row
// (spec.md §4.8): cancel the wait timer, then either enqueue (an action
// is pending and un-acked, or consensus is already scheduled) or append
// to every history and schedule a consensus cycle.
func (c *Core) handleAgentMessage(ctx context.Context, e AgentMessageEvent) {
	c.cancelWaitTimer()

	if c.hasUnackedPendingAction() || c.state.ConsensusScheduled {
		c.state.QueuedMessages = append(c.state.QueuedMessages, models.QueuedMessage{
			Sender: e.Sender, Content: e.Content, QueuedAt: c.deps.Clock.Now(),
		})
		return
	}

	c.state.AppendToAllHistories(models.HistoryEntry{
		Type: models.HistoryEvent, Content: e.Content, Timestamp: c.deps.Clock.Now(),
	})
	c.scheduleConsensus(ctx)
}

// handleActionResult implements the action_result row (spec.md §4.8):
// cancel the timer, clear the pending action, append the (possibly
// NO_EXECUTE-wrapped) result, flush queued messages in FIFO order, then
// schedule consensus.
func (c *Core) handleActionResult(ctx context.Context, e ActionResultEvent) {
	c.cancelWaitTimer()

	pending, ok := c.state.PendingActions[e.ActionID]
	delete(c.state.PendingActions, e.ActionID)

	actionType := ""
	if ok {
		actionType = pending.Kind
	}
	c.recordResult(e.ActionID, actionType, e.Result)

	c.flushQueuedMessages()
	c.scheduleConsensus(ctx)
}

// handleActionAck implements the action_ack row (spec.md §4.8): mark the
// pending action acked without triggering consensus, unblocking message
// batching for the duration of a long-running action.
func (c *Core) handleActionAck(e ActionAckEvent) {
	pending, ok := c.state.PendingActions[e.ActionID]
	if !ok {
		return
	}
	pending.AsyncAcked = true
	c.state.PendingActions[e.ActionID] = pending
}

// handleWaitExpired implements the wait_expired row (spec.md §4.8, §9
// "staleness check"): a generation mismatch against the currently-armed
// timer silently discards the event.
func (c *Core) handleWaitExpired(ctx context.Context, e WaitExpiredEvent) {
	wt := c.state.WaitTimer
	if wt == nil || wt.TimerID != e.TimerID || wt.Generation != e.Generation {
		return
	}
	c.state.WaitTimer = nil
	c.state.AppendToAllHistories(models.HistoryEntry{
		Type: models.HistoryEvent, Content: "wait_timeout", Timestamp: c.deps.Clock.Now(),
	})
	c.scheduleConsensus(ctx)
}

// handleTriggerConsensus implements the trigger_consensus row (spec.md
// §4.8): a staleness check drops the event unless consensus is still
// scheduled or a wait timer is (still) armed, then flushes and runs.
func (c *Core) handleTriggerConsensus(ctx context.Context) {
	if !c.state.ConsensusScheduled && c.state.WaitTimer == nil {
		return
	}
	c.flushQueuedMessages()
	c.runConsensusCycle(ctx)
}

// scheduleConsensus sets ConsensusScheduled and self-sends
// trigger_consensus, batching any stimuli that arrive before the loop
// gets back around to processing it (spec.md §4.8 "deferred dispatch").
func (c *Core) scheduleConsensus(ctx context.Context) {
	c.state.ConsensusScheduled = true
	c.process(ctx, triggerConsensusEvent{})
}

// flushQueuedMessages drains queued_messages into every model's history
// in FIFO order (spec.md §3 invariant 3, §5 ordering guarantees).
func (c *Core) flushQueuedMessages() {
	for _, qm := range c.state.QueuedMessages {
		c.state.AppendToAllHistories(models.HistoryEntry{
			Type: models.HistoryEvent, Content: qm.Content, Timestamp: qm.QueuedAt,
		})
	}
	c.state.QueuedMessages = nil
}

// hasUnackedPendingAction reports whether any pending action has not yet
// been acked (spec.md §4.8: "pending_actions has any entry with
// async_acked=false").
func (c *Core) hasUnackedPendingAction() bool {
	for _, p := range c.state.PendingActions {
		if !p.AsyncAcked {
			return true
		}
	}
	return false
}

// cancelWaitTimer clears the armed timer, if any, and invokes its cancel
// function (spec.md §5: "incoming events that imply new input ... cancel
// any armed wait_timer").
func (c *Core) cancelWaitTimer() {
	if c.state.WaitTimer == nil {
		return
	}
	if cancel := c.timerCancels[c.state.WaitTimer.TimerID]; cancel != nil {
		cancel()
		delete(c.timerCancels, c.state.WaitTimer.TimerID)
	}
	c.state.WaitTimer = nil
}

// removeChild deletes childID from Children (spec.md §4.9 dismiss
// lifecycle bookkeeping).
func (c *Core) removeChild(childID models.AgentID) {
	out := c.state.Children[:0]
	for _, ch := range c.state.Children {
		if ch.ChildAgentID != childID {
			out = append(out, ch)
		}
	}
	c.state.Children = out
}

func (c *Core) addChildIfAbsent(childID models.AgentID) {
	for _, ch := range c.state.Children {
		if ch.ChildAgentID == childID {
			return
		}
	}
	c.state.Children = append(c.state.Children, models.ChildRef{ChildAgentID: childID, SpawnedAt: c.deps.Clock.Now()})
}

// runConsensusCycle implements the consensus cycle body (spec.md §4.8):
// flush (already done by the caller), run the Consensus Engine, and on
// success execute the decision; on failure apply the bounded-retry/
// parent-notification policy.
func (c *Core) runConsensusCycle(ctx context.Context) {
	c.state.ConsensusScheduled = false

	accumulator := llmquery.NewCostAccumulator()
	opts := consensus.Opts{
		ChildStatuses: c.deps.ChildStatuses,
		Accumulator:   accumulator,
		Tracer:        c.deps.Tracer,
		Logger:        c.deps.Logger,
	}

	outcome, err := c.deps.Engine.Run(ctx, c.deps.Registry, c.state, opts)

	if c.deps.PersistFlush != nil {
		c.deps.PersistFlush(ctx, c.state, accumulator.Snapshot())
	}

	if err != nil {
		c.handleConsensusFailure(ctx, err)
		return
	}

	c.state.ConsensusRetryCount = 0
	c.executeDecision(ctx, outcome.Decision)
}

// handleConsensusFailure applies spec.md §4.8's retry policy: retryable
// failures (all_responses_invalid, all_models_failed) get up to
// MaxConsensusRetries extra attempts before the parent is notified and
// the agent stalls; any other error stalls silently.
func (c *Core) handleConsensusFailure(ctx context.Context, err error) {
	if isRetryableConsensusError(err) && c.state.ConsensusRetryCount < MaxConsensusRetries {
		c.state.ConsensusRetryCount++
		c.scheduleConsensus(ctx)
		return
	}

	if isRetryableConsensusError(err) {
		if c.deps.Notifier != nil {
			c.deps.Notifier.NotifyParent(ctx, c.id, fmt.Sprintf(
				"Consensus failed after %d attempts: %s", c.state.ConsensusRetryCount+1, err))
		}
	}
	// Non-retryable (or retry-budget-exhausted) failures stall silently in
	// waiting: no timer, no scheduled consensus; the agent wakes on the
	// next external stimulus.
}

func isRetryableConsensusError(err error) bool {
	return errors.Is(err, consensus.ErrAllResponsesInvalid) || errors.Is(err, consensus.ErrAllModelsFailed)
}

// executeDecision dispatches decision's action and applies the wait
// parameter handling table (spec.md §4.8).
func (c *Core) executeDecision(ctx context.Context, decision models.Decision) {
	actionID := c.deps.NewActionID()

	outcome := c.deps.Executor.Execute(ctx, actionID, decision, c.send)

	selfContained := c.deps.Catalog != nil && c.deps.Catalog.IsSelfContained(decision.Action)

	if !outcome.OK {
		c.recordResult(actionID, decision.Action, outcome.Reason)
		c.applyWait(ctx, decision, false)
		return
	}

	if outcome.Async {
		c.state.PendingActions[actionID] = models.PendingAction{
			Kind: decision.Action, AsyncAcked: false, DispatchedAt: c.deps.Clock.Now(),
		}
		// The eventual action_result drives the next cycle (spec.md §4.8:
		// "the core records pending_actions[action_id] and returns to
		// ready"). wait=true/N still applies on top of the pending action —
		// e.g. a dispatched shell command with wait=N arms a fallback timer
		// that an early action_result will cancel anyway (spec.md §5:
		// "incoming events that imply new input ... cancel any armed
		// wait_timer"); never chain immediately here since there is no
		// self-contained success to chain from.
		c.applyWait(ctx, decision, false)
		return
	}

	if selfContained {
		c.applyWait(ctx, decision, true)
		return
	}

	// Synchronous but not self-contained: the executor already has the
	// final result in hand, so recording it directly (rather than faking
	// a pending_actions/action_result round-trip) is equivalent and
	// avoids a redundant mailbox hop for an outcome the core already has.
	c.recordResult(actionID, decision.Action, outcome.Result)
	c.applyWait(ctx, decision, false)
}

// recordResult appends one action's result entry, NO_EXECUTE-wrapping it
// first if its action_type is untrusted (spec.md §4.8, §6). Used by both
// executeDecision's synchronous paths and handleActionResult's async path
// so governance is applied identically regardless of how the result
// arrived.
func (c *Core) recordResult(actionID, actionType, content string) {
	if actionType != "" && c.deps.Catalog != nil && c.deps.Catalog.IsUntrusted(actionType) {
		content = wrapNoExecute(c.deps.NewNoExecuteToken(), content)
	}
	c.state.AppendToAllHistories(models.HistoryEntry{
		Type: models.HistoryResult, Content: content, Timestamp: c.deps.Clock.Now(),
		ActionID: actionID, ActionType: actionType,
	})
}

// applyWait implements the wait parameter handling table (spec.md §4.8).
// chainImmediately is true only for a self-contained action's
// immediate-continue path: "on success with wait:false, immediately
// schedule the next consensus cycle without re-dispatching through the
// message queue."
func (c *Core) applyWait(ctx context.Context, decision models.Decision, chainImmediately bool) {
	switch {
	case decision.Wait.Indefinite:
		// No timer; idle until an external event wakes the agent.
	case decision.Wait.Milliseconds > 0:
		c.armWaitTimer(ctx, time.Duration(decision.Wait.Milliseconds)*time.Millisecond)
	default: // wait=false or wait=0
		if chainImmediately {
			c.scheduleConsensus(ctx)
		}
	}
}

// armWaitTimer arms a fresh timer with a new generation, discarding any
// prior one (spec.md §9 "Timer generation counter"; invariant 2: at most
// one wait_timer armed at any instant).
func (c *Core) armWaitTimer(ctx context.Context, d time.Duration) {
	generation := uint64(1)
	if c.state.WaitTimer != nil {
		generation = c.state.WaitTimer.Generation + 1
	}
	// Release any still-armed timer's underlying resource before arming the
	// next one; normal event handling already cancels via
	// cancelWaitTimer before reaching here, so this is a defensive
	// backstop, not the primary cancellation path.
	c.cancelWaitTimer()
	timerID := c.deps.NewActionID()

	cancel := c.deps.TimerFunc(d, func() {
		c.send(WaitExpiredEvent{TimerID: timerID, Generation: generation})
	})
	if c.timerCancels == nil {
		c.timerCancels = map[string]func(){}
	}
	c.timerCancels[timerID] = cancel
	c.state.WaitTimer = &models.WaitTimer{TimerID: timerID, Generation: generation}
}

// handleSwitchModelPool implements SwitchModelPool (spec.md §4.10). It
// runs synchronously inside the event loop, so "no consensus in flight
// during the switch" holds structurally: this call IS the single
// threaded owner and nothing else runs concurrently with it.
func (c *Core) handleSwitchModelPool(ctx context.Context, e switchModelPoolEvent) {
	if c.deps.Calculator == nil || c.deps.Condenser == nil || c.deps.ModelProviders == nil || c.deps.ModelResolver == nil {
		e.result <- fmt.Errorf("agentcore: SwitchModelPool unavailable: Deps missing Calculator/Condenser/ModelProviders/ModelResolver")
		return
	}
	err := historytransfer.SwitchModelPool(ctx, c.deps.Calculator, c.deps.Condenser, c.deps.ModelProviders, c.deps.ModelResolver, c.state, e.newPool)
	e.result <- err
}
