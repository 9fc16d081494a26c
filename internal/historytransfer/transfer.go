// Package historytransfer implements Model-Pool Switching (spec.md §4.10):
// re-keying an agent's per-model state onto a new model pool by selecting
// a single source model's history/lessons/state to seed every model in the
// new pool.
package historytransfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/quoracle/quoracle/internal/ace"
	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

// ErrEmptyPool and ErrUnresolvableModel report SwitchModelPool input
// validation failures (spec.md §4.10: "validate new_pool against the
// credential catalog (non-empty, all specs resolvable)").
var (
	ErrEmptyPool        = errors.New("new model pool must not be empty")
	ErrUnresolvableModel = errors.New("model_spec not resolvable against credential catalog")
)

// Resolver reports whether a model_spec is resolvable against the
// credential catalog (has a configured provider/credential).
type Resolver interface {
	Resolvable(spec models.ModelSpec) bool
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(spec models.ModelSpec) bool

func (f ResolverFunc) Resolvable(spec models.ModelSpec) bool { return f(spec) }

// ProviderLookup resolves a concrete llmclient.Provider for a model_spec,
// needed only when the selected source model requires repeated
// condensation to fit the new target_limit.
type ProviderLookup interface {
	Provider(spec models.ModelSpec) (llmclient.Provider, bool)
}

// SwitchModelPool re-keys state onto newPool (spec.md §4.10). It is the
// Go equivalent of the source's blocking GenServer call: the caller is
// responsible for ensuring no consensus cycle is concurrently mutating
// state (spec.md §5: "OTP call-serialization guarantees no consensus is
// in flight during the switch" — enforced by internal/agentcore's
// single-threaded event loop, not by this package).
func SwitchModelPool(ctx context.Context, calc *tokens.Calculator, condenser *ace.Condenser, providers ProviderLookup, resolver Resolver, state *models.AgentState, newPool []models.ModelSpec) error {
	if len(newPool) == 0 {
		return ErrEmptyPool
	}
	for _, m := range newPool {
		if !resolver.Resolvable(m) {
			return fmt.Errorf("%w: %s", ErrUnresolvableModel, m)
		}
	}

	targetLimit := calc.ContextLimit(newPool[0])
	for _, m := range newPool[1:] {
		if l := calc.ContextLimit(m); l < targetLimit {
			targetLimit = l
		}
	}

	sourceSpec, err := selectSource(ctx, calc, condenser, providers, state, targetLimit)
	if err != nil {
		return err
	}

	sourceHistory := state.ModelHistories[sourceSpec]
	sourceLessons := state.ContextLessons[sourceSpec]
	sourceSummary := state.ModelStates[sourceSpec]

	newHistories := make(map[models.ModelSpec][]models.HistoryEntry, len(newPool))
	newLessons := make(map[models.ModelSpec][]models.Lesson, len(newPool))
	newStates := make(map[models.ModelSpec]string, len(newPool))
	for _, m := range newPool {
		newHistories[m] = sourceHistory
		newLessons[m] = sourceLessons
		if sourceSummary != "" {
			newStates[m] = sourceSummary
		}
	}

	state.ModelHistories = newHistories
	state.ContextLessons = newLessons
	state.ModelStates = newStates
	state.Config.ModelPool = newPool
	return nil
}

// selectSource picks the model whose history best survives the switch
// (spec.md §4.10): among old histories at or under targetLimit, the one
// with the MOST tokens (preserves the most context). If none fit, the
// smallest is repeatedly condensed until it fits.
func selectSource(ctx context.Context, calc *tokens.Calculator, condenser *ace.Condenser, providers ProviderLookup, state *models.AgentState, targetLimit int) (models.ModelSpec, error) {
	var bestFit models.ModelSpec
	bestFitTokens := -1
	var smallest models.ModelSpec
	smallestTokens := -1
	haveAny := false

	for m, history := range state.ModelHistories {
		t := calc.HistoryTokens(history)
		haveAny = true
		if t <= targetLimit && t > bestFitTokens {
			bestFit = m
			bestFitTokens = t
		}
		if smallestTokens < 0 || t < smallestTokens {
			smallest = m
			smallestTokens = t
		}
	}

	if !haveAny {
		return "", fmt.Errorf("%w: agent has no model histories", ace.ErrCondensationFailed)
	}
	if bestFitTokens >= 0 {
		return bestFit, nil
	}

	provider, ok := providers.Provider(smallest)
	if !ok {
		return "", fmt.Errorf("%w: no provider for smallest-history model %s", ace.ErrCondensationFailed, smallest)
	}

	for calc.HistoryTokens(state.ModelHistories[smallest]) > targetLimit {
		before := len(state.ModelHistories[smallest])
		if err := condenser.CondenseToLimit(ctx, provider, smallest, state, targetLimit); err != nil {
			return "", err
		}
		if len(state.ModelHistories[smallest]) == before {
			return "", fmt.Errorf("%w: repeated condensation made no progress on %s", ace.ErrCondensationFailed, smallest)
		}
	}
	return smallest, nil
}
