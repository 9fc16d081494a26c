// Package llmquery implements the Multi-LLM Query Layer (spec.md §4.5):
// parallel fan-out to a model pool, failure partitioning, aggregate
// usage/cost roll-up, and retry-with-backoff against transient provider
// errors. Grounded on internal/agent/failover.go's retry/backoff shape,
// generalized from sequential failover across one provider list into
// concurrent fan-out across a whole model pool.
package llmquery

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/pkg/models"
)

// ErrAllModelsUnavailable is returned when every task in a QueryPool call
// failed with a permanent error (spec.md §4.5).
var ErrAllModelsUnavailable = errors.New("all_models_unavailable")

// Registry resolves a model_spec to the Provider that serves it. The pool
// can mix providers (spec.md §3 model_pool is heterogeneous).
type Registry interface {
	Provider(spec models.ModelSpec) (llmclient.Provider, bool)
}

// staticRegistry is the simplest Registry: a fixed map.
type staticRegistry map[models.ModelSpec]llmclient.Provider

func (r staticRegistry) Provider(spec models.ModelSpec) (llmclient.Provider, bool) {
	p, ok := r[spec]
	return p, ok
}

// NewStaticRegistry builds a Registry from a fixed model_spec -> Provider map.
func NewStaticRegistry(providers map[models.ModelSpec]llmclient.Provider) Registry {
	return staticRegistry(providers)
}

// Opts configures a QueryPool call.
type Opts struct {
	MaxTokens            int
	Temperature          float64
	ReasoningEffort      string
	EnablePromptCache    bool
	EnableThinking       bool
	ThinkingBudgetTokens int
	// Sequential forces tasks to run one at a time (spec.md §4.5: "caller
	// may force sequential").
	Sequential bool
	// InitialBackoff is the first exponential-backoff delay for a transient
	// error with no Retry-After header. Defaults to 200ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential-backoff delay. Defaults to 30s.
	MaxBackoff time.Duration
	// Accumulator, if set, receives every successful response's usage in
	// addition to the aggregate returned from QueryPool (SPEC_FULL §4:
	// batches cost across a whole consensus cycle, including embeddings).
	Accumulator *CostAccumulator
}

func (o Opts) toProviderOptions() llmclient.Options {
	return llmclient.Options{
		MaxTokens:            o.MaxTokens,
		Temperature:          o.Temperature,
		ReasoningEffort:      o.ReasoningEffort,
		EnablePromptCache:    o.EnablePromptCache,
		EnableThinking:       o.EnableThinking,
		ThinkingBudgetTokens: o.ThinkingBudgetTokens,
	}
}

// SuccessEntry is one successful task result.
type SuccessEntry struct {
	ModelSpec models.ModelSpec
	Response  llmclient.Response
}

// FailedEntry is one permanently-failed task result.
type FailedEntry struct {
	ModelSpec models.ModelSpec
	Reason    string
}

// Result is QueryPool's return value (spec.md §4.5).
type Result struct {
	Successful      []SuccessEntry
	Failed          []FailedEntry
	TotalLatencyMs  int64
	AggregateUsage  models.Usage
}

// Clock abstracts time.Now/time.Since for deterministic tests. Production
// code uses realClock; tests inject a fixed-step fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// QueryPool fans a single request out across model_pool (spec.md §4.5).
// One task per model_spec, launched in parallel unless opts.Sequential.
func QueryPool(ctx context.Context, registry Registry, messages []llmclient.Message, system string, pool []models.ModelSpec, opts Opts, clock Clock) (Result, error) {
	if clock == nil {
		clock = realClock{}
	}
	start := clock.Now()

	successes := make([]*SuccessEntry, len(pool))
	failures := make([]*FailedEntry, len(pool))

	run := func(idx int) error {
		spec := pool[idx]
		provider, ok := registry.Provider(spec)
		if !ok {
			failures[idx] = &FailedEntry{ModelSpec: spec, Reason: "unknown_model"}
			return nil
		}
		resp, err := runWithRetry(ctx, provider, messages, system, spec, opts)
		if err != nil {
			failures[idx] = &FailedEntry{ModelSpec: spec, Reason: err.Error()}
			return nil
		}
		successes[idx] = &SuccessEntry{ModelSpec: spec, Response: resp}
		if opts.Accumulator != nil {
			opts.Accumulator.Add(resp.Usage)
		}
		return nil
	}

	if opts.Sequential {
		for i := range pool {
			_ = run(i)
		}
	} else {
		var g errgroup.Group
		for i := range pool {
			i := i
			g.Go(func() error {
				return run(i)
			})
		}
		_ = g.Wait()
	}

	result := Result{TotalLatencyMs: clock.Now().Sub(start).Milliseconds()}
	for _, s := range successes {
		if s != nil {
			result.Successful = append(result.Successful, *s)
			result.AggregateUsage.Add(s.Response.Usage)
		}
	}
	for _, f := range failures {
		if f != nil {
			result.Failed = append(result.Failed, *f)
		}
	}

	if len(result.Successful) == 0 && len(pool) > 0 {
		return result, ErrAllModelsUnavailable
	}
	return result, nil
}

// GenerateWithRetry runs a single provider call under the same retry
// policy QueryPool applies to each pool member, for callers that need
// per-model messages/system/options rather than one shared request
// broadcast across the whole pool (spec.md §4.6's per-model query build:
// each model gets its own conversation and its own dynamic max_tokens).
func GenerateWithRetry(ctx context.Context, provider llmclient.Provider, messages []llmclient.Message, system string, spec models.ModelSpec, opts Opts) (llmclient.Response, error) {
	return runWithRetry(ctx, provider, messages, system, spec, opts)
}

// runWithRetry retries a single task against transient errors, honoring
// Retry-After when the provider supplied one and falling back to
// exponential backoff otherwise. Retries are unbounded at this layer
// (spec.md §4.5: "a higher-level timeout is the caller's concern") —
// ctx cancellation is the only exit besides success or a permanent error.
func runWithRetry(ctx context.Context, provider llmclient.Provider, messages []llmclient.Message, system string, spec models.ModelSpec, opts Opts) (llmclient.Response, error) {
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	for {
		resp, err := provider.Generate(ctx, messages, system, spec, opts.toProviderOptions())
		if err == nil {
			return resp, nil
		}

		var providerErr *llmclient.ProviderError
		if !errors.As(err, &providerErr) || providerErr.Kind == llmclient.ErrorPermanent {
			return llmclient.Response{}, err
		}

		delay := backoff
		if providerErr.RetryAfter > 0 {
			delay = providerErr.RetryAfter
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return llmclient.Response{}, ctx.Err()
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// CostAccumulator batches usage across a whole consensus cycle, including
// embeddings used by the Lesson Manager (SPEC_FULL §4 supplemented
// feature). Snapshot() lets a CLI command report spend mid-cycle.
type CostAccumulator struct {
	mu    sync.Mutex
	usage models.Usage
}

func NewCostAccumulator() *CostAccumulator {
	return &CostAccumulator{}
}

func (c *CostAccumulator) Add(u models.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Add(u)
}

// Snapshot returns the running total without resetting it.
func (c *CostAccumulator) Snapshot() models.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}
