package consensus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/quoracle/quoracle/internal/ace"
	"github.com/quoracle/quoracle/internal/ace/lessons"
	"github.com/quoracle/quoracle/internal/ace/reflector"
	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/llmquery"
	"github.com/quoracle/quoracle/internal/observability"
	"github.com/quoracle/quoracle/internal/router"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

type queuedProvider struct {
	mu    sync.Mutex
	queue []string
	err   error
}

func (p *queuedProvider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return llmclient.Response{}, p.err
	}
	if len(p.queue) == 0 {
		return llmclient.Response{}, errors.New("queuedProvider: no more scripted responses")
	}
	text := p.queue[0]
	if len(p.queue) > 1 {
		p.queue = p.queue[1:]
	}
	return llmclient.Response{Text: text}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, spec models.ModelSpec) ([]float32, error) {
	return []float32{1}, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	calc := tokens.NewCalculator(nil, nil)
	condenser := ace.New(calc, reflector.New(calc), lessons.New(fakeEmbedder{}, "embed"), 0, 0)
	catalog := router.NewCatalog()
	if err := router.RegisterDefaults(catalog); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}
	return New(calc, condenser, catalog)
}

func orientEnvelope(focus string) string {
	return `{"action":"orient","params":{"focus":"` + focus + `"},"reasoning":"r","wait":false,"auto_complete_todo":false}`
}

func TestRunMajorityOnFirstRound(t *testing.T) {
	e := newTestEngine(t)
	registry := llmquery.NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"m1": &queuedProvider{queue: []string{orientEnvelope("x")}},
		"m2": &queuedProvider{queue: []string{orientEnvelope("x")}},
		"m3": &queuedProvider{queue: []string{orientEnvelope("y")}},
	})
	state := models.NewAgentState(models.AgentConfig{
		AgentID:   "a",
		ModelPool: []models.ModelSpec{"m1", "m2", "m3"},
	})

	outcome, err := e.Run(context.Background(), registry, state, Opts{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Forced {
		t.Fatal("expected a genuine majority, not a forced decision")
	}
	if outcome.Meta.Round != 1 {
		t.Errorf("Round = %d, want 1", outcome.Meta.Round)
	}
	var params struct {
		Focus string `json:"focus"`
	}
	if err := json.Unmarshal(outcome.Decision.Params, &params); err != nil {
		t.Fatalf("unmarshal decision params: %v", err)
	}
	if params.Focus != "x" {
		t.Errorf("winning focus = %q, want x", params.Focus)
	}
}

func TestRunLogsRoundOutcomeViaOpts(t *testing.T) {
	e := newTestEngine(t)
	registry := llmquery.NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"m1": &queuedProvider{queue: []string{orientEnvelope("x")}},
		"m2": &queuedProvider{queue: []string{orientEnvelope("x")}},
		"m3": &queuedProvider{queue: []string{orientEnvelope("x")}},
	})
	state := models.NewAgentState(models.AgentConfig{
		AgentID:   "a",
		TaskID:    "t1",
		ModelPool: []models.ModelSpec{"m1", "m2", "m3"},
	})

	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json", Output: &buf})

	if _, err := e.Run(context.Background(), registry, state, Opts{Logger: logger}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(buf.String(), "consensus round complete") {
		t.Fatalf("expected a round-outcome log line, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"result":"majority"`) {
		t.Fatalf("expected result=majority in log output, got: %s", buf.String())
	}
}

func TestRunRefinementConvergesToMajority(t *testing.T) {
	e := newTestEngine(t)
	registry := llmquery.NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"m1": &queuedProvider{queue: []string{orientEnvelope("a"), orientEnvelope("x")}},
		"m2": &queuedProvider{queue: []string{orientEnvelope("b"), orientEnvelope("x")}},
		"m3": &queuedProvider{queue: []string{orientEnvelope("c"), orientEnvelope("x")}},
	})
	state := models.NewAgentState(models.AgentConfig{
		AgentID:             "a",
		ModelPool:           []models.ModelSpec{"m1", "m2", "m3"},
		MaxRefinementRounds: 2,
	})

	outcome, err := e.Run(context.Background(), registry, state, Opts{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Forced {
		t.Fatal("expected convergence on round 2, not a forced decision")
	}
	if outcome.Meta.Round != 2 {
		t.Errorf("Round = %d, want 2", outcome.Meta.Round)
	}
}

func TestRunForcedDecisionAfterMaxRounds(t *testing.T) {
	e := newTestEngine(t)
	registry := llmquery.NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"m1": &queuedProvider{queue: []string{orientEnvelope("a")}},
		"m2": &queuedProvider{queue: []string{orientEnvelope("b")}},
	})
	state := models.NewAgentState(models.AgentConfig{
		AgentID:             "a",
		ModelPool:           []models.ModelSpec{"m1", "m2"},
		MaxRefinementRounds: 1,
	})

	outcome, err := e.Run(context.Background(), registry, state, Opts{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Forced {
		t.Fatal("expected a forced decision after exhausting refinement rounds")
	}
	var params struct {
		Focus string `json:"focus"`
	}
	if err := json.Unmarshal(outcome.Decision.Params, &params); err != nil {
		t.Fatalf("unmarshal decision params: %v", err)
	}
	if params.Focus != "a" {
		t.Errorf("forced decision focus = %q, want a (first-seen cluster)", params.Focus)
	}
}

func TestRunAllModelsFailed(t *testing.T) {
	e := newTestEngine(t)
	registry := llmquery.NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"m1": &queuedProvider{err: errors.New("boom")},
		"m2": &queuedProvider{err: errors.New("boom")},
	})
	state := models.NewAgentState(models.AgentConfig{AgentID: "a", ModelPool: []models.ModelSpec{"m1", "m2"}})

	_, err := e.Run(context.Background(), registry, state, Opts{})
	if !errors.Is(err, ErrAllModelsFailed) {
		t.Fatalf("err = %v, want ErrAllModelsFailed", err)
	}
}

func TestRunAllResponsesInvalid(t *testing.T) {
	e := newTestEngine(t)
	registry := llmquery.NewStaticRegistry(map[models.ModelSpec]llmclient.Provider{
		"m1": &queuedProvider{queue: []string{"not json"}},
		"m2": &queuedProvider{queue: []string{`{"action":"nonexistent","params":{}}`}},
	})
	state := models.NewAgentState(models.AgentConfig{AgentID: "a", ModelPool: []models.ModelSpec{"m1", "m2"}})

	_, err := e.Run(context.Background(), registry, state, Opts{})
	if !errors.Is(err, ErrAllResponsesInvalid) {
		t.Fatalf("err = %v, want ErrAllResponsesInvalid", err)
	}
}

func TestBuildConversationMessagesMergesConsecutiveSameRoleAndInjectsSummary(t *testing.T) {
	state := models.NewAgentState(models.AgentConfig{AgentID: "a", ModelPool: []models.ModelSpec{"m1"}})
	state.ModelStates["m1"] = "summary text"
	state.ModelHistories["m1"] = []models.HistoryEntry{
		{Type: models.HistoryUser, Content: "first"},
		{Type: models.HistoryUser, Content: "second"},
		{Type: models.HistoryDecision, Content: "decided"},
	}

	msgs := BuildConversationMessages(state, "m1", "")
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3 (summary, merged-user, assistant)", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "Context summary: summary text" {
		t.Errorf("msgs[0] = %+v, want context summary opener", msgs[0])
	}
	if msgs[1].Role != "user" || msgs[1].Content != "first\nsecond" {
		t.Errorf("msgs[1] = %+v, want merged consecutive user turns", msgs[1])
	}
	if msgs[2].Role != "assistant" {
		t.Errorf("msgs[2].Role = %q, want assistant", msgs[2].Role)
	}
}

type staticChildStatus map[models.AgentID]string

func (s staticChildStatus) Status(id models.AgentID) (string, bool) {
	st, ok := s[id]
	return st, ok
}

func TestInjectFinalAnnotationsFiltersUnregisteredChildren(t *testing.T) {
	msgs := []llmclient.Message{{Role: "user", Content: "base"}}
	children := []models.ChildRef{{ChildAgentID: "known"}, {ChildAgentID: "gone"}}
	statuses := staticChildStatus{"known": "ready"}

	out := injectFinalAnnotations(msgs, []string{"do the thing"}, children, statuses, 10, 1000)
	content := out[0].Content
	if !contains(content, "known: ready") {
		t.Errorf("expected registered child in annotation, got: %s", content)
	}
	if contains(content, "gone") {
		t.Errorf("unregistered child leaked into annotation: %s", content)
	}
	if !contains(content, "do the thing") {
		t.Errorf("expected TODO in annotation, got: %s", content)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
