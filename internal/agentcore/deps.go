package agentcore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quoracle/quoracle/internal/ace"
	"github.com/quoracle/quoracle/internal/consensus"
	"github.com/quoracle/quoracle/internal/historytransfer"
	"github.com/quoracle/quoracle/internal/llmquery"
	"github.com/quoracle/quoracle/internal/observability"
	"github.com/quoracle/quoracle/internal/router"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

// MaxConsensusRetries bounds how many times a single cycle's
// all-models-failed/all-responses-invalid outcome is retried before the
// core gives up and notifies the parent (spec.md §9 Open Question: the
// spec names "retry_count < 2" but leaves the ceiling itself
// unspecified; fixed at 2 here, consistent with internal/consensus's own
// MaxRefinementRounds default being a similarly small, bounded number).
const MaxConsensusRetries = 2

// Clock abstracts time.Now for deterministic tests; structurally
// compatible with llmquery.Clock so a Deps.Clock also satisfies that
// package's QueryPool signature if a caller needs to share one.
type Clock = llmquery.Clock

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TimerFunc arms a one-shot timer that calls fire after d, returning a
// cancel function. Production code uses defaultTimerFunc; tests inject a
// fake that records the call without actually waiting, so wait-timer
// staleness behavior (WaitExpiredEvent.Generation) can be driven
// deterministically.
type TimerFunc func(d time.Duration, fire func()) (cancel func())

func defaultTimerFunc(d time.Duration, fire func()) func() {
	t := time.AfterFunc(d, fire)
	return func() { t.Stop() }
}

// Deps wires a Core to the rest of the runtime (spec.md §4.8's core sits
// between the Consensus Engine, the Action Router, and the Tree
// Supervisor/persistence layer).
type Deps struct {
	Registry  llmquery.Registry
	Engine    *consensus.Engine
	Catalog   *router.Catalog
	Executor  ActionExecutor
	Notifier  ParentNotifier

	// ChildStatuses resolves child registry status for the Consensus
	// Engine's children-context injection (internal/consensus.Opts).
	ChildStatuses consensus.ChildStatusLookup

	// Tracer and Logger, if set, are passed through to every
	// consensus.Opts this Core builds, so each round's span and log line
	// carry this agent's id (internal/consensus.Opts.Tracer/Logger).
	Tracer *observability.Tracer
	Logger *observability.Logger

	// PersistFlush, if set, is called after every consensus cycle
	// (success or failure) with the updated state and that cycle's usage,
	// letting a persistence layer durably save AgentState without the
	// core importing it directly (spec.md §4.8 "persist after each
	// cycle").
	PersistFlush func(ctx context.Context, state *models.AgentState, usage models.Usage)

	// Calculator, Condenser, ModelProviders and ModelResolver back
	// SwitchModelPool (spec.md §4.10); nil unless the caller needs
	// model-pool switching on this Core.
	Calculator     *tokens.Calculator
	Condenser      *ace.Condenser
	ModelProviders historytransfer.ProviderLookup
	ModelResolver  historytransfer.Resolver

	Clock             Clock
	TimerFunc         TimerFunc
	NewActionID       func() string
	NewNoExecuteToken func() string
}

func (d *Deps) normalize() {
	if d.Clock == nil {
		d.Clock = realClock{}
	}
	if d.TimerFunc == nil {
		d.TimerFunc = defaultTimerFunc
	}
	if d.NewActionID == nil {
		d.NewActionID = func() string { return uuid.NewString() }
	}
	if d.NewNoExecuteToken == nil {
		d.NewNoExecuteToken = func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }
	}
}
