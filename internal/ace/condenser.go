// Package ace implements the ACE Condenser (spec.md §4.4): the reactive
// per-model trigger that drops the oldest history once a model's context
// fills, routes the dropped slice through the Reflector, and folds the
// resulting lessons into the Lesson Manager. Grounded on
// internal/agent/compaction.go's CompactionManager state machine
// (idle/pending/in_progress), repurposed from session-level
// flush-prompt compaction into per-model reactive condensation: the
// flush-prompt callback becomes the Reflector call, and the
// threshold-percent config becomes the fixed ">80% of tokens" drop rule.
package ace

import (
	"context"
	"errors"
	"fmt"

	"github.com/quoracle/quoracle/internal/ace/lessons"
	"github.com/quoracle/quoracle/internal/ace/reflector"
	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

// ErrCondensationFailed is raised when dropping the entries accounting for
// >80% of tokens still leaves the model's history at or above its context
// limit (spec.md §4.4: "e.g., a single entry exceeds 80%").
var ErrCondensationFailed = errors.New("condensation_failed")

// dropFraction is the fixed fraction of current tokens the condenser drops
// from the oldest end of history (spec.md §4.4: "> 80% of current tokens").
const dropFraction = 0.80

// Condenser orchestrates the Reflector and Lesson Manager against a single
// model's history.
type Condenser struct {
	calculator *tokens.Calculator
	reflector  *reflector.Reflector
	lessonMgr  *lessons.Manager
	maxLessons int
	simThreshold float64
}

func New(calculator *tokens.Calculator, refl *reflector.Reflector, lessonMgr *lessons.Manager, maxLessons int, simThreshold float64) *Condenser {
	return &Condenser{calculator: calculator, reflector: refl, lessonMgr: lessonMgr, maxLessons: maxLessons, simThreshold: simThreshold}
}

// NeedsCondensation reports whether model's history is at or over its
// context limit (spec.md §4.4: "reactive; no headroom").
func (c *Condenser) NeedsCondensation(spec models.ModelSpec, history []models.HistoryEntry) bool {
	return c.calculator.HistoryTokens(history) >= c.calculator.ContextLimit(spec)
}

// Condense runs one condensation pass for spec against state, mutating
// state.ModelHistories[spec], state.ContextLessons[spec] and
// state.ModelStates[spec] in place on success. It is a no-op unless
// NeedsCondensation holds (spec.md §4.4: reactive at the model's own
// context limit).
func (c *Condenser) Condense(ctx context.Context, provider llmclient.Provider, spec models.ModelSpec, state *models.AgentState) error {
	if !c.NeedsCondensation(spec, state.ModelHistories[spec]) {
		return nil
	}
	return c.CondenseToLimit(ctx, provider, spec, state, c.calculator.ContextLimit(spec))
}

// CondenseToLimit forces one condensation pass against an arbitrary limit
// rather than spec's own context limit, regardless of NeedsCondensation.
// Used by internal/historytransfer's repeated-condense-until-fits loop
// (spec.md §4.10), where the binding limit is the new pool's
// target_limit, not the source model's own context_limit.
func (c *Condenser) CondenseToLimit(ctx context.Context, provider llmclient.Provider, spec models.ModelSpec, state *models.AgentState, limit int) error {
	history := state.ModelHistories[spec]

	dropped, kept := splitByDropFraction(history, c.calculator)

	if c.calculator.HistoryTokens(kept) >= limit {
		return fmt.Errorf("%w: model %s still at or above limit after dropping %d entries", ErrCondensationFailed, spec, len(dropped))
	}

	result, err := c.reflector.Reflect(ctx, provider, spec, dropped)
	if err != nil {
		// spec.md §4.4/§4.2: malformed_response_after_retries and
		// reflection_failed both mean "drop the slice, emit no lessons" —
		// condensation still proceeds, just without new lessons or an
		// updated summary.
		state.ModelHistories[spec] = kept
		return nil
	}

	merged, _ := c.lessonMgr.Accumulate(ctx, state.ContextLessons[spec], result.Lessons, c.maxLessons, c.simThreshold)
	if state.ContextLessons == nil {
		state.ContextLessons = map[models.ModelSpec][]models.Lesson{}
	}
	state.ContextLessons[spec] = merged

	if result.State != "" {
		if state.ModelStates == nil {
			state.ModelStates = map[models.ModelSpec]string{}
		}
		state.ModelStates[spec] = result.State
	}

	state.ModelHistories[spec] = kept
	return nil
}

// splitByDropFraction returns (dropped, kept) where dropped is the
// oldest-first prefix of history accounting for more than dropFraction of
// the total token count, and kept is the remaining suffix.
func splitByDropFraction(history []models.HistoryEntry, calc *tokens.Calculator) ([]models.HistoryEntry, []models.HistoryEntry) {
	total := calc.HistoryTokens(history)
	if total == 0 {
		return nil, history
	}
	threshold := float64(total) * dropFraction

	cumulative := 0
	cut := len(history)
	for i, e := range history {
		cumulative += calc.EstimateTokens(e.Content)
		if float64(cumulative) > threshold {
			cut = i + 1
			break
		}
	}

	dropped := make([]models.HistoryEntry, cut)
	copy(dropped, history[:cut])
	kept := make([]models.HistoryEntry, len(history)-cut)
	copy(kept, history[cut:])
	return dropped, kept
}
