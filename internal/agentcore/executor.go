package agentcore

import (
	"context"

	"github.com/quoracle/quoracle/pkg/models"
)

// ExecOutcome is one action dispatch's immediate result (spec.md §4.7).
type ExecOutcome struct {
	// OK is false when the router itself rejected the call (unknown
	// action, validation failure at dispatch time distinct from the
	// consensus-time ValidateParams pass, capability denial).
	OK bool
	// Async is true when the action only acknowledged receipt; its real
	// result arrives later via Core.HandleActionResult (spec.md §4.7:
	// "long-running actions ack immediately, then resolve later").
	Async bool
	// Result is the action's synchronous output, present when
	// OK && !Async.
	Result string
	// Reason explains a !OK outcome, recorded as the result content so
	// the failure is visible to every model on the next cycle.
	Reason string
}

// ActionExecutor dispatches one Decision's chosen action (spec.md §4.7).
// enqueue lets an async action post its eventual ActionResultEvent or
// ActionAckEvent back onto the owning Core's mailbox from whatever
// goroutine completes the work, preserving single-threaded state access.
type ActionExecutor interface {
	Execute(ctx context.Context, actionID string, decision models.Decision, enqueue func(AgentEvent)) ExecOutcome
}

// ActionExecutorFunc adapts a plain function to ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, actionID string, decision models.Decision, enqueue func(AgentEvent)) ExecOutcome

func (f ActionExecutorFunc) Execute(ctx context.Context, actionID string, decision models.Decision, enqueue func(AgentEvent)) ExecOutcome {
	return f(ctx, actionID, decision, enqueue)
}

// ParentNotifier delivers a message to an agent's parent, used when a
// consensus cycle exhausts its retry budget (spec.md §4.8: "notify parent,
// then stall in waiting").
type ParentNotifier interface {
	NotifyParent(ctx context.Context, agentID models.AgentID, content string)
}

// ParentNotifierFunc adapts a plain function to ParentNotifier.
type ParentNotifierFunc func(ctx context.Context, agentID models.AgentID, content string)

func (f ParentNotifierFunc) NotifyParent(ctx context.Context, agentID models.AgentID, content string) {
	f(ctx, agentID, content)
}
