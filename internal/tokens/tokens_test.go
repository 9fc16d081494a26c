package tokens

import (
	"testing"

	"github.com/quoracle/quoracle/pkg/models"
)

func TestEstimateTokens(t *testing.T) {
	c := NewCalculator(nil, nil)
	tests := []struct {
		name    string
		text    string
		wantMin int
		wantMax int
	}{
		{name: "empty", text: "", wantMin: 0, wantMax: 0},
		{name: "single char", text: "a", wantMin: 1, wantMax: 1},
		{name: "short text", text: "Hello, world!", wantMin: 1, wantMax: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.EstimateTokens(tt.text)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("EstimateTokens(%q) = %d, want [%d,%d]", tt.text, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestContextLimitDefaultsUnknownModel(t *testing.T) {
	c := NewCalculator(nil, nil)
	if got := c.ContextLimit("unknown:model"); got != models.DefaultContextWindow {
		t.Errorf("ContextLimit() = %d, want %d", got, models.DefaultContextWindow)
	}
	if got := c.OutputLimit("unknown:model"); got != models.DefaultOutputLimit {
		t.Errorf("OutputLimit() = %d, want %d", got, models.DefaultOutputLimit)
	}
}

func TestContextLimitFromCatalog(t *testing.T) {
	catalog := map[models.ModelSpec]models.CatalogEntry{
		"anthropic:claude": {ModelSpec: "anthropic:claude", ContextWindow: 200000, OutputLimit: 8192},
	}
	c := NewCalculator(catalog, nil)
	if got := c.ContextLimit("anthropic:claude"); got != 200000 {
		t.Errorf("ContextLimit() = %d, want 200000", got)
	}
	if got := c.OutputLimit("anthropic:claude"); got != 8192 {
		t.Errorf("OutputLimit() = %d, want 8192", got)
	}
}

func TestMaxTokensForFloorsAtOne(t *testing.T) {
	catalog := map[models.ModelSpec]models.CatalogEntry{
		"m": {ModelSpec: "m", ContextWindow: 100, OutputLimit: 50},
	}
	c := NewCalculator(catalog, nil)
	if got := c.MaxTokensFor("m", 99); got != 1 {
		t.Errorf("MaxTokensFor() = %d, want 1 (remaining=1, less than output limit)", got)
	}
	if got := c.MaxTokensFor("m", 1000); got != 1 {
		t.Errorf("MaxTokensFor() = %d, want 1 (floored, negative remaining)", got)
	}
	if got := c.MaxTokensFor("m", 0); got != 50 {
		t.Errorf("MaxTokensFor() = %d, want 50 (output limit binds)", got)
	}
}

func TestHistoryTokens(t *testing.T) {
	c := NewCalculator(nil, nil)
	entries := []models.HistoryEntry{
		{Type: models.HistoryUser, Content: "hello"},
		{Type: models.HistoryAssistant, Content: "world, this is a response"},
	}
	got := c.HistoryTokens(entries)
	want := c.EstimateTokens("hello") + c.EstimateTokens("world, this is a response")
	if got != want {
		t.Errorf("HistoryTokens() = %d, want %d", got, want)
	}
}

func TestMessagesTokensExcludingSystem(t *testing.T) {
	c := NewCalculator(nil, nil)
	msgs := []Message{
		{Role: "system", Content: "you are a helpful agent with a long system prompt"},
		{Role: "user", Content: "hi"},
	}
	withSystem := c.MessagesTokens(msgs, false)
	withoutSystem := c.MessagesTokens(msgs, true)
	if withoutSystem >= withSystem {
		t.Errorf("excluding system should reduce tokens: with=%d without=%d", withSystem, withoutSystem)
	}
}
