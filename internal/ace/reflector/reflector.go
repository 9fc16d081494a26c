// Package reflector implements the Reflector (spec.md §4.2): given a slice
// of history about to be dropped and the owning model_spec, it produces
// reusable lessons plus a situational summary. Grounded on
// internal/agent/failover.go's exponential-backoff retry loop (100ms
// doubling) and internal/agent/transcript_repair.go's JSON-parse-then-retry
// convention, reusing the llmclient.Provider/llmclient.Message contract.
package reflector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/internal/tokens"
	"github.com/quoracle/quoracle/pkg/models"
)

// ErrMalformedResponse is returned after retries are exhausted and the
// model's response never parsed as valid JSON in the required shape
// (spec.md §4.2: "malformed_response_after_retries").
var ErrMalformedResponse = errors.New("malformed_response_after_retries")

// ErrReflectionFailed wraps a transport-level failure (spec.md §4.2:
// "reflection_failed"). Both errors get the same treatment from the
// condenser: drop the slice, emit no lessons.
var ErrReflectionFailed = errors.New("reflection_failed")

const promptTemplate = `Extract specific, actionable information from the following agent history. Respond with JSON only, matching this shape exactly:
{"lessons": [{"type": "factual"|"behavioral", "content": "..."}], "state": [{"summary": "..."}]}

History:
%s`

// maxRetries is the number of additional attempts after the first, per
// spec.md §4.2 ("up to 2 additional attempts").
const maxRetries = 2

// initialBackoff is the first retry delay (spec.md §4.2: "100ms, 200ms, …").
const initialBackoff = 100 * time.Millisecond

// Result is the Reflector's output (spec.md §4.2).
type Result struct {
	Lessons []models.Lesson
	State   string
}

type wireResponse struct {
	Lessons []wireLesson `json:"lessons"`
	State   []wireState  `json:"state"`
}

type wireLesson struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type wireState struct {
	Summary string `json:"summary"`
}

// Reflector runs the self-reflection protocol against a Calculator-bound
// model pool.
type Reflector struct {
	calculator *tokens.Calculator
}

func New(calculator *tokens.Calculator) *Reflector {
	return &Reflector{calculator: calculator}
}

// Reflect builds the reflection prompt from history, queries provider under
// model_spec with a dynamic max_tokens, and parses+validates the response,
// retrying on malformed JSON with exponential backoff (spec.md §4.2).
func (r *Reflector) Reflect(ctx context.Context, provider llmclient.Provider, spec models.ModelSpec, history []models.HistoryEntry) (Result, error) {
	prompt := buildPrompt(history)
	inputTokens := r.calculator.EstimateTokens(prompt)
	maxTokens := r.calculator.MaxTokensFor(spec, inputTokens)

	backoff := initialBackoff
	var lastParseErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := provider.Generate(ctx, []llmclient.Message{{Role: "user", Content: prompt}}, "", spec, llmclient.Options{MaxTokens: maxTokens})
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrReflectionFailed, err)
		}

		result, parseErr := parseResponse(resp.Text)
		if parseErr == nil {
			return result, nil
		}
		lastParseErr = parseErr

		if attempt == maxRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %v", ErrReflectionFailed, ctx.Err())
		}
		backoff *= 2
	}

	return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, lastParseErr)
}

func buildPrompt(history []models.HistoryEntry) string {
	var sb strings.Builder
	for _, e := range history {
		fmt.Fprintf(&sb, "[%s] %s\n", e.Type, e.Content)
	}
	return fmt.Sprintf(promptTemplate, sb.String())
}

func parseResponse(text string) (Result, error) {
	var wire wireResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &wire); err != nil {
		return Result{}, err
	}

	lessons := make([]models.Lesson, 0, len(wire.Lessons))
	for _, l := range wire.Lessons {
		lessonType, ok := validateLessonType(l.Type)
		if !ok {
			return Result{}, fmt.Errorf("invalid lesson type %q", l.Type)
		}
		lessons = append(lessons, models.Lesson{Type: lessonType, Content: l.Content, Confidence: 1})
	}

	var state string
	if len(wire.State) > 0 {
		state = wire.State[len(wire.State)-1].Summary
	}

	return Result{Lessons: lessons, State: state}, nil
}

func validateLessonType(s string) (models.LessonType, bool) {
	switch models.LessonType(s) {
	case models.LessonFactual, models.LessonBehavioral:
		return models.LessonType(s), true
	default:
		return "", false
	}
}
