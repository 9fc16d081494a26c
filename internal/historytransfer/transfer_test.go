package historytransfer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quoracle/quoracle/internal/ace"
	"github.com/quoracle/quoracle/internal/ace/lessons"
	"github.com/quoracle/quoracle/internal/ace/reflector"
	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

type fakeProvider struct{ text string }

func (f *fakeProvider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	return llmclient.Response{Text: f.text}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, spec models.ModelSpec) ([]float32, error) {
	return []float32{1}, nil
}

type staticLookup map[models.ModelSpec]llmclient.Provider

func (s staticLookup) Provider(spec models.ModelSpec) (llmclient.Provider, bool) {
	p, ok := s[spec]
	return p, ok
}

func alwaysResolvable(models.ModelSpec) bool { return true }

func history(n, charsPerEntry int) []models.HistoryEntry {
	entries := make([]models.HistoryEntry, n)
	for i := range entries {
		entries[i] = models.HistoryEntry{Type: models.HistoryResult, Content: strings.Repeat("x", charsPerEntry)}
	}
	return entries
}

func TestSwitchModelPoolRejectsEmptyPool(t *testing.T) {
	calc := tokens.NewCalculator(nil, nil)
	condenser := ace.New(calc, reflector.New(calc), lessons.New(fakeEmbedder{}, "e"), 0, 0)
	state := models.NewAgentState(models.AgentConfig{AgentID: "a", ModelPool: []models.ModelSpec{"m1"}})

	err := SwitchModelPool(context.Background(), calc, condenser, staticLookup{}, ResolverFunc(alwaysResolvable), state, nil)
	if !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("err = %v, want ErrEmptyPool", err)
	}
}

func TestSwitchModelPoolSelectsBestFitAndRekeys(t *testing.T) {
	calc := tokens.NewCalculator(map[models.ModelSpec]models.CatalogEntry{
		"old-small": {ModelSpec: "old-small", ContextWindow: 1000, OutputLimit: 1000},
		"old-big":   {ModelSpec: "old-big", ContextWindow: 1000, OutputLimit: 1000},
		"new-a":     {ModelSpec: "new-a", ContextWindow: 500, OutputLimit: 500},
		"new-b":     {ModelSpec: "new-b", ContextWindow: 600, OutputLimit: 600},
	}, nil)
	condenser := ace.New(calc, reflector.New(calc), lessons.New(fakeEmbedder{}, "e"), 0, 0)

	state := models.NewAgentState(models.AgentConfig{AgentID: "a", ModelPool: []models.ModelSpec{"old-small", "old-big"}})
	state.ModelHistories["old-small"] = history(2, 4)
	state.ModelHistories["old-big"] = history(2, 40)
	state.ContextLessons["old-big"] = []models.Lesson{{Content: "carried lesson", Confidence: 2}}
	state.ModelStates["old-big"] = "summary from old-big"

	newPool := []models.ModelSpec{"new-a", "new-b"}
	err := SwitchModelPool(context.Background(), calc, condenser, staticLookup{}, ResolverFunc(alwaysResolvable), state, newPool)
	if err != nil {
		t.Fatalf("SwitchModelPool() error = %v", err)
	}

	if !state.ModelPoolEqualsHistoryKeys() {
		t.Fatal("ModelHistories keys should equal new pool")
	}
	for _, m := range newPool {
		if calc.HistoryTokens(state.ModelHistories[m]) > calc.ContextLimit(m) {
			t.Errorf("model %s history exceeds its context limit after switch", m)
		}
		if len(state.ContextLessons[m]) != 1 || state.ContextLessons[m][0].Content != "carried lesson" {
			t.Errorf("ContextLessons[%s] = %+v, want carried from best-fit source", m, state.ContextLessons[m])
		}
		if state.ModelStates[m] != "summary from old-big" {
			t.Errorf("ModelStates[%s] = %q, want carried summary", m, state.ModelStates[m])
		}
	}
}

func TestSwitchModelPoolCondensesSmallestWhenNoneFit(t *testing.T) {
	calc := tokens.NewCalculator(map[models.ModelSpec]models.CatalogEntry{
		"old": {ModelSpec: "old", ContextWindow: 100000, OutputLimit: 100000},
		"new": {ModelSpec: "new", ContextWindow: 20, OutputLimit: 20},
	}, nil)
	condenser := ace.New(calc, reflector.New(calc), lessons.New(fakeEmbedder{}, "e"), 0, 0)
	provider := &fakeProvider{text: `{"lessons":[],"state":[{"summary":"trimmed"}]}`}

	state := models.NewAgentState(models.AgentConfig{AgentID: "a", ModelPool: []models.ModelSpec{"old"}})
	state.ModelHistories["old"] = history(10, 40)

	err := SwitchModelPool(context.Background(), calc, condenser, staticLookup{"old": provider}, ResolverFunc(alwaysResolvable), state, []models.ModelSpec{"new"})
	if err != nil {
		t.Fatalf("SwitchModelPool() error = %v", err)
	}
	if calc.HistoryTokens(state.ModelHistories["new"]) > calc.ContextLimit("new") {
		t.Errorf("history still exceeds target limit after condensation")
	}
}
