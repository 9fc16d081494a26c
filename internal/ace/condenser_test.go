package ace

import (
	"context"
	"strings"
	"testing"

	"github.com/quoracle/quoracle/internal/ace/lessons"
	"github.com/quoracle/quoracle/internal/ace/reflector"
	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

type fakeProvider struct {
	text string
	err  error
}

func (f *fakeProvider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	if f.err != nil {
		return llmclient.Response{}, f.err
	}
	return llmclient.Response{Text: f.text}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, spec models.ModelSpec) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func catalogFor(spec models.ModelSpec, ctxWindow int) *tokens.Calculator {
	return tokens.NewCalculator(map[models.ModelSpec]models.CatalogEntry{
		spec: {ModelSpec: spec, ContextWindow: ctxWindow, OutputLimit: ctxWindow},
	}, nil)
}

func longHistory(n int) []models.HistoryEntry {
	entries := make([]models.HistoryEntry, n)
	for i := range entries {
		entries[i] = models.HistoryEntry{Type: models.HistoryResult, Content: strings.Repeat("x", 40)}
	}
	return entries
}

func TestCondenseDropsOldestAndMergesLessons(t *testing.T) {
	spec := models.ModelSpec("m")
	calc := catalogFor(spec, 20)
	refl := reflector.New(calc)
	lessonMgr := lessons.New(fakeEmbedder{}, "embed-model")
	c := New(calc, refl, lessonMgr, 0, 0)

	provider := &fakeProvider{text: `{"lessons":[{"type":"factual","content":"learned something"}],"state":[{"summary":"halfway done"}]}`}

	state := models.NewAgentState(models.AgentConfig{AgentID: "a1", ModelPool: []models.ModelSpec{spec}})
	state.ModelHistories[spec] = longHistory(10)

	if !c.NeedsCondensation(spec, state.ModelHistories[spec]) {
		t.Fatal("expected history to need condensation given tiny context window")
	}

	err := c.Condense(context.Background(), provider, spec, state)
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}
	if len(state.ModelHistories[spec]) >= 10 {
		t.Errorf("expected history to shrink, got %d entries", len(state.ModelHistories[spec]))
	}
	if len(state.ContextLessons[spec]) != 1 {
		t.Errorf("ContextLessons[%s] = %+v, want 1 lesson", spec, state.ContextLessons[spec])
	}
	if state.ModelStates[spec] != "halfway done" {
		t.Errorf("ModelStates[%s] = %q, want halfway done", spec, state.ModelStates[spec])
	}
}

func TestCondenseNoOpWhenUnderLimit(t *testing.T) {
	spec := models.ModelSpec("m")
	calc := catalogFor(spec, 100000)
	refl := reflector.New(calc)
	lessonMgr := lessons.New(fakeEmbedder{}, "embed-model")
	c := New(calc, refl, lessonMgr, 0, 0)

	state := models.NewAgentState(models.AgentConfig{AgentID: "a1", ModelPool: []models.ModelSpec{spec}})
	state.ModelHistories[spec] = longHistory(2)

	err := c.Condense(context.Background(), &fakeProvider{}, spec, state)
	if err != nil {
		t.Fatalf("Condense() error = %v", err)
	}
	if len(state.ModelHistories[spec]) != 2 {
		t.Errorf("expected no-op, got %d entries", len(state.ModelHistories[spec]))
	}
}

func TestCondenseDropsSliceOnReflectFailure(t *testing.T) {
	spec := models.ModelSpec("m")
	calc := catalogFor(spec, 20)
	refl := reflector.New(calc)
	lessonMgr := lessons.New(fakeEmbedder{}, "embed-model")
	c := New(calc, refl, lessonMgr, 0, 0)

	state := models.NewAgentState(models.AgentConfig{AgentID: "a1", ModelPool: []models.ModelSpec{spec}})
	state.ModelHistories[spec] = longHistory(10)

	provider := &fakeProvider{text: "not json", err: nil}
	// force malformed-after-retries quickly by also erroring on every call
	provider.text = "still not json"

	err := c.Condense(context.Background(), provider, spec, state)
	if err != nil {
		t.Fatalf("Condense() error = %v, want nil (drop-slice-emit-no-lessons path)", err)
	}
	if len(state.ContextLessons[spec]) != 0 {
		t.Errorf("ContextLessons[%s] = %+v, want none on reflect failure", spec, state.ContextLessons[spec])
	}
	if len(state.ModelHistories[spec]) >= 10 {
		t.Errorf("expected history to still shrink even without lessons, got %d", len(state.ModelHistories[spec]))
	}
}
