package reflector

import (
	"context"
	"testing"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

type scriptedProvider struct {
	texts []string
	calls int
	err   error
}

func (p *scriptedProvider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	if p.err != nil {
		return llmclient.Response{}, p.err
	}
	text := p.texts[p.calls]
	if p.calls < len(p.texts)-1 {
		p.calls++
	}
	return llmclient.Response{Text: text}, nil
}

func TestReflectParsesValidResponse(t *testing.T) {
	provider := &scriptedProvider{texts: []string{
		`{"lessons":[{"type":"factual","content":"the API rate limit is 60rpm"}],"state":[{"summary":"task is 40% complete"}]}`,
	}}
	r := New(tokens.NewCalculator(nil, nil))

	result, err := r.Reflect(context.Background(), provider, "m", []models.HistoryEntry{{Type: models.HistoryResult, Content: "did a thing"}})
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if len(result.Lessons) != 1 || result.Lessons[0].Confidence != 1 {
		t.Fatalf("Lessons = %+v, want one lesson with confidence 1", result.Lessons)
	}
	if result.State != "task is 40% complete" {
		t.Errorf("State = %q", result.State)
	}
}

func TestReflectRetriesOnMalformedThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{texts: []string{
		"not json",
		`{"lessons":[],"state":[{"summary":"ok"}]}`,
	}}
	r := New(tokens.NewCalculator(nil, nil))

	result, err := r.Reflect(context.Background(), provider, "m", nil)
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if result.State != "ok" {
		t.Errorf("State = %q, want ok", result.State)
	}
}

func TestReflectMalformedAfterAllRetries(t *testing.T) {
	provider := &scriptedProvider{texts: []string{"junk", "junk", "junk"}}
	r := New(tokens.NewCalculator(nil, nil))

	_, err := r.Reflect(context.Background(), provider, "m", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReflectTransportFailure(t *testing.T) {
	provider := &scriptedProvider{err: context.DeadlineExceeded}
	r := New(tokens.NewCalculator(nil, nil))

	_, err := r.Reflect(context.Background(), provider, "m", nil)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestReflectRejectsInvalidLessonType(t *testing.T) {
	provider := &scriptedProvider{texts: []string{
		`{"lessons":[{"type":"bogus","content":"x"}],"state":[]}`,
		`{"lessons":[{"type":"bogus","content":"x"}],"state":[]}`,
		`{"lessons":[{"type":"bogus","content":"x"}],"state":[]}`,
	}}
	r := New(tokens.NewCalculator(nil, nil))

	_, err := r.Reflect(context.Background(), provider, "m", nil)
	if err == nil {
		t.Fatal("expected error for invalid lesson type after retries exhausted")
	}
}
