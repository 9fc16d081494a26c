// Package tokens implements the Token/Context Calculator (spec.md §4.1):
// estimating token counts for history and message batches, and resolving
// per-model context/output limits from a model catalog.
package tokens

import (
	"strings"
	"unicode/utf8"

	"github.com/quoracle/quoracle/pkg/models"
)

// Encoder estimates the token count of a string. The default Encoder uses
// a conservative character-ratio heuristic (grounded on
// internal/context/window.go's EstimateTokens in the teacher repo); a
// cl100k-equivalent BPE encoder can be substituted by implementing this
// interface, since no vendored BPE table is available in this module's
// dependency set.
type Encoder interface {
	Estimate(text string) int
}

// charRatioEncoder is the default Encoder: ~0.25 tokens per rune, floored
// at 1 for any non-empty text.
type charRatioEncoder struct {
	tokensPerChar float64
}

func (e charRatioEncoder) Estimate(text string) int {
	if text == "" {
		return 0
	}
	chars := utf8.RuneCountInString(text)
	est := int(float64(chars) * e.tokensPerChar)
	if est == 0 {
		return 1
	}
	return est
}

// DefaultEncoder is a cl100k-equivalent-ratio encoder used when no other
// Encoder is configured.
var DefaultEncoder Encoder = charRatioEncoder{tokensPerChar: 0.25}

// Calculator resolves token counts and per-model limits against a model
// catalog (spec.md §4.1).
type Calculator struct {
	encoder Encoder
	catalog map[models.ModelSpec]models.CatalogEntry
}

// NewCalculator builds a Calculator over the given catalog. A nil or empty
// catalog is valid; every lookup then falls back to the default limits.
func NewCalculator(catalog map[models.ModelSpec]models.CatalogEntry, encoder Encoder) *Calculator {
	if encoder == nil {
		encoder = DefaultEncoder
	}
	if catalog == nil {
		catalog = map[models.ModelSpec]models.CatalogEntry{}
	}
	return &Calculator{encoder: encoder, catalog: catalog}
}

// EstimateTokens estimates the number of tokens in an arbitrary string.
func (c *Calculator) EstimateTokens(text string) int {
	return c.encoder.Estimate(text)
}

// HistoryTokens sums the token count of a slice of HistoryEntry. A
// decision entry is tokenized as "params reasoning" (spec.md §4.1); a
// result entry tokenizes its already-wrapped string verbatim.
func (c *Calculator) HistoryTokens(entries []models.HistoryEntry) int {
	total := 0
	for _, e := range entries {
		total += c.entryTokens(e)
	}
	return total
}

func (c *Calculator) entryTokens(e models.HistoryEntry) int {
	// Decision-shaped content is pre-rendered by the caller as
	// "<params> <reasoning>"; result content is the verbatim
	// (possibly NO_EXECUTE-wrapped) string. Both paths reduce to
	// estimating e.Content, since upstream callers are responsible for
	// rendering a Decision into that combined form before appending it
	// to history (spec.md §4.1).
	return c.EstimateTokens(e.Content)
}

// DecisionTokenizable renders the params+reasoning portion of a Decision
// the way a HistoryEntry of type "decision" must be tokenized (spec.md
// §4.1: "tokenized as params reasoning").
func DecisionTokenizable(paramsJSON, reasoning string) string {
	var sb strings.Builder
	sb.WriteString(paramsJSON)
	sb.WriteByte(' ')
	sb.WriteString(reasoning)
	return sb.String()
}

// Message is a minimal chat message shape for MessagesTokens, independent
// of any specific provider wire format.
type Message struct {
	Role    string
	Content string
}

// MessagesTokens estimates the token count of a list of chat messages,
// optionally excluding the system message (spec.md §4.1).
func (c *Calculator) MessagesTokens(messages []Message, excludingSystem bool) int {
	total := 0
	for _, m := range messages {
		if excludingSystem && m.Role == "system" {
			continue
		}
		total += c.EstimateTokens(m.Content)
	}
	return total
}

// lookup resolves a catalog entry for spec, returning ok=false if absent.
func (c *Calculator) lookup(spec models.ModelSpec) (models.CatalogEntry, bool) {
	entry, ok := c.catalog[spec]
	return entry, ok
}

// ContextLimit returns the context window for model_spec, defaulting to
// 128,000 for unknown models (spec.md §4.1). Never panics.
func (c *Calculator) ContextLimit(spec models.ModelSpec) int {
	if entry, ok := c.lookup(spec); ok && entry.ContextWindow > 0 {
		return entry.ContextWindow
	}
	return models.DefaultContextWindow
}

// OutputLimit returns the output token limit for model_spec, defaulting to
// 128,000 for unknown models (spec.md §4.1). Never panics.
func (c *Calculator) OutputLimit(spec models.ModelSpec) int {
	if entry, ok := c.lookup(spec); ok && entry.OutputLimit > 0 {
		return entry.OutputLimit
	}
	return models.DefaultOutputLimit
}

// MaxTokensFor computes min(context_window - input_tokens, output_limit),
// floored at 1 (spec.md §4.2 Reflector protocol, §4.6 per-model query
// build both use this exact formula).
func (c *Calculator) MaxTokensFor(spec models.ModelSpec, inputTokens int) int {
	remaining := c.ContextLimit(spec) - inputTokens
	outLimit := c.OutputLimit(spec)
	max := remaining
	if outLimit < max {
		max = outLimit
	}
	if max < 1 {
		max = 1
	}
	return max
}

// CatalogEntry exposes the raw catalog entry for a model, if present.
func (c *Calculator) CatalogEntry(spec models.ModelSpec) (models.CatalogEntry, bool) {
	return c.lookup(spec)
}
