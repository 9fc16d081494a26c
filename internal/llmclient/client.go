// Package llmclient defines the opaque wire contracts the runtime uses to
// talk to LLM and embedding backends (spec.md §1: "the LLM wire protocols
// (treated as opaque Generate(messages, model_spec, opts) → Response and
// Embed(text, model_spec) → vector") are out of scope — this package is
// only the interface boundary and a handful of concrete provider adapters
// that exercise it).
package llmclient

import (
	"context"
	"time"

	"github.com/quoracle/quoracle/pkg/models"
)

// Message is one chat turn in a Generate request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries per-request generation parameters, including the
// provider-specific knobs the Multi-LLM Query Layer builds per model
// family (spec.md §4.5: "reasoning_effort, prompt_cache hints, thinking
// config for applicable model families").
type Options struct {
	MaxTokens            int
	Temperature          float64
	ReasoningEffort      string
	EnablePromptCache    bool
	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Response is a single LLM completion result.
type Response struct {
	Text  string
	Usage models.Usage
	// RetryAfter is populated by the provider adapter when the backend
	// returned a Retry-After header on a 429/5xx (spec.md §4.5).
	RetryAfter time.Duration
}

// ErrorKind classifies a provider error for the Multi-LLM Query Layer's
// retry policy (spec.md §4.5: "401/403 short-circuit", "429 or 5xx
// retries").
type ErrorKind int

const (
	ErrorTransient ErrorKind = iota
	ErrorPermanent
)

// ProviderError wraps a backend failure with its retry classification and
// any Retry-After the backend supplied.
type ProviderError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string { return e.Err.Error() }
func (e *ProviderError) Unwrap() error { return e.Err }

// Provider generates a completion from a specific model_spec. Concrete
// adapters (Anthropic, OpenAI, Gemini) implement this by translating
// Message/Options into their own wire format.
type Provider interface {
	Generate(ctx context.Context, messages []Message, system string, spec models.ModelSpec, opts Options) (Response, error)
}

// Embedder computes an embedding vector for text against a specific
// embedding model_spec (spec.md §4.3 Lesson Manager).
type Embedder interface {
	Embed(ctx context.Context, text string, spec models.ModelSpec) ([]float32, error)
}
