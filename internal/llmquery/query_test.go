package llmquery

import (
	"context"
	"testing"
	"time"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/pkg/models"
)

type fakeProvider struct {
	calls   int
	results []fakeResult
}

type fakeResult struct {
	resp llmclient.Response
	err  error
}

func (f *fakeProvider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	r := f.results[f.calls]
	if f.calls < len(f.results)-1 {
		f.calls++
	}
	return r.resp, r.err
}

func TestQueryPoolAllSucceed(t *testing.T) {
	registry := NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"a": &fakeProvider{results: []fakeResult{{resp: llmclient.Response{Text: "hi-a", Usage: models.Usage{InputTokens: 10}}}}},
		"b": &fakeProvider{results: []fakeResult{{resp: llmclient.Response{Text: "hi-b", Usage: models.Usage{InputTokens: 20}}}}},
	})

	result, err := QueryPool(context.Background(), registry, nil, "", []models.ModelSpec{"a", "b"}, Opts{}, nil)
	if err != nil {
		t.Fatalf("QueryPool() error = %v", err)
	}
	if len(result.Successful) != 2 {
		t.Fatalf("Successful = %d, want 2", len(result.Successful))
	}
	if result.AggregateUsage.InputTokens != 30 {
		t.Errorf("AggregateUsage.InputTokens = %d, want 30", result.AggregateUsage.InputTokens)
	}
}

func TestQueryPoolPartialFailurePermanent(t *testing.T) {
	registry := NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"ok":  &fakeProvider{results: []fakeResult{{resp: llmclient.Response{Text: "ok"}}}},
		"bad": &fakeProvider{results: []fakeResult{{err: &llmclient.ProviderError{Kind: llmclient.ErrorPermanent, Err: context.DeadlineExceeded}}}},
	})

	result, err := QueryPool(context.Background(), registry, nil, "", []models.ModelSpec{"ok", "bad"}, Opts{}, nil)
	if err != nil {
		t.Fatalf("QueryPool() error = %v, want nil (partial success)", err)
	}
	if len(result.Successful) != 1 || len(result.Failed) != 1 {
		t.Fatalf("Successful=%d Failed=%d, want 1/1", len(result.Successful), len(result.Failed))
	}
}

func TestQueryPoolAllFailPermanentReturnsAllModelsUnavailable(t *testing.T) {
	registry := NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"a": &fakeProvider{results: []fakeResult{{err: &llmclient.ProviderError{Kind: llmclient.ErrorPermanent, Err: context.DeadlineExceeded}}}},
	})

	_, err := QueryPool(context.Background(), registry, nil, "", []models.ModelSpec{"a"}, Opts{}, nil)
	if err != ErrAllModelsUnavailable {
		t.Fatalf("QueryPool() error = %v, want ErrAllModelsUnavailable", err)
	}
}

func TestQueryPoolRetriesTransientThenSucceeds(t *testing.T) {
	registry := NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"a": &fakeProvider{results: []fakeResult{
			{err: &llmclient.ProviderError{Kind: llmclient.ErrorTransient, Err: context.DeadlineExceeded}},
			{resp: llmclient.Response{Text: "recovered"}},
		}},
	})

	result, err := QueryPool(context.Background(), registry, nil, "", []models.ModelSpec{"a"}, Opts{InitialBackoff: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("QueryPool() error = %v", err)
	}
	if len(result.Successful) != 1 || result.Successful[0].Response.Text != "recovered" {
		t.Fatalf("expected recovered response, got %+v", result)
	}
}

func TestQueryPoolUnknownModel(t *testing.T) {
	registry := NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{})

	result, err := QueryPool(context.Background(), registry, nil, "", []models.ModelSpec{"ghost"}, Opts{}, nil)
	if err != ErrAllModelsUnavailable {
		t.Fatalf("QueryPool() error = %v, want ErrAllModelsUnavailable", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].Reason != "unknown_model" {
		t.Fatalf("Failed = %+v, want unknown_model", result.Failed)
	}
}

func TestCostAccumulatorSnapshot(t *testing.T) {
	acc := NewCostAccumulator()
	acc.Add(models.Usage{InputTokens: 5})
	acc.Add(models.Usage{InputTokens: 7})
	if got := acc.Snapshot().InputTokens; got != 12 {
		t.Errorf("Snapshot().InputTokens = %d, want 12", got)
	}
}
