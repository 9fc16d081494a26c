// Package agentcore implements the Agent Core State Machine (spec.md
// §4.8): a single-threaded event loop owning one agent's AgentState,
// driving consensus cycles, wait-timer suspension, and NO_EXECUTE
// wrapping of untrusted action results. Grounded on
// internal/agent/steering.go's SteeringQueue (a mutex-guarded FIFO queue
// feeding a single consumer) generalized from "queue of steering
// messages polled between tool calls" into "typed event mailbox polled
// by one cooperative actor goroutine per agent" — the shape spec.md §5
// calls for (one actor per agent, no internal parallelism except the
// Consensus Engine's own fan-out).
package agentcore

import "github.com/quoracle/quoracle/pkg/models"

// AgentEvent is the event-loop's typed mailbox union (spec.md §4.8).
type AgentEvent interface{ agentEvent() }

// UserSender is the synthetic sender id HandleUserMessage attaches to the
// AgentMessageEvent it builds, since user messages and other-agent
// messages share identical handling (spec.md §4.8: "user_message(content)
// — Same as agent_message(:user, content)").
const UserSender models.AgentID = "__user__"

// AgentMessageEvent is a stimulus from another agent (or, via UserSender,
// a human).
type AgentMessageEvent struct {
	Sender  models.AgentID
	Content string
}

func (AgentMessageEvent) agentEvent() {}

// ActionResultEvent carries a dispatched action's final result.
type ActionResultEvent struct {
	ActionID string
	Result   string
}

func (ActionResultEvent) agentEvent() {}

// ActionAckEvent marks a long-running action as acknowledged, unblocking
// message batching without triggering consensus (spec.md §4.8).
type ActionAckEvent struct {
	ActionID string
}

func (ActionAckEvent) agentEvent() {}

// WaitExpiredEvent fires when an armed wait timer elapses. Generation is
// checked against the currently-armed timer; a stale generation (an older
// timer that fired after being superseded) is silently dropped (spec.md
// §4.8, §5).
type WaitExpiredEvent struct {
	TimerID    string
	Generation uint64
}

func (WaitExpiredEvent) agentEvent() {}

// triggerConsensusEvent is the self-sent signal that a consensus cycle
// should run. It is unexported: callers schedule consensus by the state
// transitions the table names (setting ConsensusScheduled, clearing a
// wait timer), not by constructing this event directly.
type triggerConsensusEvent struct{}

func (triggerConsensusEvent) agentEvent() {}

// ChildSpawnedEvent, ChildDismissedEvent and ChildRestoredEvent update the
// Children list without triggering consensus (spec.md §4.8).
type ChildSpawnedEvent struct{ ChildID models.AgentID }

func (ChildSpawnedEvent) agentEvent() {}

type ChildDismissedEvent struct{ ChildID models.AgentID }

func (ChildDismissedEvent) agentEvent() {}

type ChildRestoredEvent struct{ ChildID models.AgentID }

func (ChildRestoredEvent) agentEvent() {}

// ParentDownEvent is logged and otherwise ignored; the Tree Supervisor,
// not the child, governs cascading lifecycle decisions (spec.md §4.8).
type ParentDownEvent struct{}

func (ParentDownEvent) agentEvent() {}

// UpdateTodosEvent replaces the agent's TODO list (spec.md §6 inbound API
// "UpdateTodos(items)").
type UpdateTodosEvent struct{ Items []string }

func (UpdateTodosEvent) agentEvent() {}

// SetDismissingEvent flips the dismissing flag the Tree Supervisor checks
// before allowing a new Spawn (spec.md §4.9, §6 "SetDismissing(bool)").
type SetDismissingEvent struct{ Dismissing bool }

func (SetDismissingEvent) agentEvent() {}

// switchModelPoolEvent carries a synchronous SwitchModelPool request and
// its reply channel. Unlike every other inbound call, spec.md §4.10
// describes this one as "a blocking GenServer call" the caller awaits to
// completion — not merely appended to the mailbox — so it is modeled as a
// request/response pair rather than a fire-and-forget event.
type switchModelPoolEvent struct {
	newPool []models.ModelSpec
	result  chan error
}

func (switchModelPoolEvent) agentEvent() {}
