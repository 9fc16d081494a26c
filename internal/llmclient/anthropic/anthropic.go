// Package anthropic adapts the Anthropic Messages API to the llmclient.Provider
// contract, grounded on internal/agent/providers/anthropic.go's AnthropicProvider
// (client construction, convertMessages, isRetryableError/wrapError classification).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/pkg/models"
)

// Config carries the per-client settings for the Anthropic backend.
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider implements llmclient.Provider against the Anthropic Messages API.
type Provider struct {
	client anthropic.Client
}

// New constructs a Provider. Matches the teacher's NewAnthropicProvider
// constructor shape: options are built up conditionally, never panics on a
// missing BaseURL.
func New(cfg Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...)}
}

// Generate implements llmclient.Provider. Non-streaming: the Multi-LLM Query
// Layer treats Generate as a single request/response (spec.md §4.5), unlike
// the teacher's streaming agent loop.
func (p *Provider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(string(spec)),
		Messages:  convertMessages(messages),
		MaxTokens: int64(opts.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.EnableThinking && opts.ThinkingBudgetTokens > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(opts.ThinkingBudgetTokens))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llmclient.Response{}, wrapError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := models.Usage{
		InputTokens:         int(msg.Usage.InputTokens),
		OutputTokens:        int(msg.Usage.OutputTokens),
		CachedTokens:        int(msg.Usage.CacheReadInputTokens),
		CacheCreationTokens: int(msg.Usage.CacheCreationInputTokens),
	}

	return llmclient.Response{Text: text.String(), Usage: usage}, nil
}

func convertMessages(messages []llmclient.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError classifies an Anthropic API error into llmclient's transient/
// permanent taxonomy (spec.md §7: "429 or 5xx -> retry with Retry-After /
// exponential backoff", "401/403 -> short-circuit that model"), mirroring
// the teacher's isRetryableError/wrapError split.
func wrapError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		if isNetworkRetryable(err) {
			return &llmclient.ProviderError{Kind: llmclient.ErrorTransient, Err: err}
		}
		return &llmclient.ProviderError{Kind: llmclient.ErrorPermanent, Err: err}
	}

	var payload errorPayload
	msg := apiErr.Error()
	if raw := apiErr.RawJSON(); raw != "" {
		if jsonErr := json.Unmarshal([]byte(raw), &payload); jsonErr == nil && payload.Error.Message != "" {
			msg = payload.Error.Message
		}
	}
	wrapped := fmt.Errorf("anthropic: %s (status %d, request %s)", msg, apiErr.StatusCode, payload.RequestID)

	kind := llmclient.ErrorPermanent
	var retryAfter time.Duration
	switch {
	case apiErr.StatusCode == 429:
		kind = llmclient.ErrorTransient
	case apiErr.StatusCode >= 500:
		kind = llmclient.ErrorTransient
	case apiErr.StatusCode == 401, apiErr.StatusCode == 403:
		kind = llmclient.ErrorPermanent
	}

	if ra := apiErr.Response.Header.Get("Retry-After"); ra != "" {
		if d, parseErr := time.ParseDuration(ra + "s"); parseErr == nil {
			retryAfter = d
		}
	}

	return &llmclient.ProviderError{Kind: kind, RetryAfter: retryAfter, Err: wrapped}
}

func isNetworkRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
