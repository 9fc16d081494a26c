// Package gemini adapts google.golang.org/genai to the llmclient.Provider
// contract. It demonstrates provider-specific option building for
// reasoning/thinking config (SPEC_FULL.md §3) alongside the Anthropic and
// OpenAI adapters.
package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/pkg/models"
)

// Config carries the per-client settings for the Gemini backend.
type Config struct {
	APIKey string
}

// Provider implements llmclient.Provider against the Gemini API.
type Provider struct {
	client *genai.Client
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	contents := convertMessages(messages)

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(opts.MaxTokens),
	}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		config.Temperature = &t
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.EnableThinking && opts.ThinkingBudgetTokens > 0 {
		budget := int32(opts.ThinkingBudgetTokens)
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}

	resp, err := p.client.Models.GenerateContent(ctx, string(spec), contents, config)
	if err != nil {
		return llmclient.Response{}, wrapError(err)
	}

	text := resp.Text()
	usage := models.Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.ReasoningTokens = int(resp.UsageMetadata.ThoughtsTokenCount)
		usage.CachedTokens = int(resp.UsageMetadata.CachedContentTokenCount)
	}

	return llmclient.Response{Text: text, Usage: usage}, nil
}

func convertMessages(messages []llmclient.Message) []*genai.Content {
	result := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		result = append(result, genai.NewContentFromText(m.Content, role))
	}
	return result
}

// wrapError classifies a genai error the same way the other adapters do
// (spec.md §7): 429/5xx transient, 401/403 permanent.
func wrapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		if isNetworkRetryable(err) {
			return &llmclient.ProviderError{Kind: llmclient.ErrorTransient, Err: err}
		}
		return &llmclient.ProviderError{Kind: llmclient.ErrorPermanent, Err: err}
	}

	kind := llmclient.ErrorPermanent
	switch {
	case apiErr.Code == 429:
		kind = llmclient.ErrorTransient
	case apiErr.Code >= 500:
		kind = llmclient.ErrorTransient
	case apiErr.Code == 401, apiErr.Code == 403:
		kind = llmclient.ErrorPermanent
	}

	return &llmclient.ProviderError{Kind: kind, RetryAfter: 0 * time.Second, Err: apiErr}
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
