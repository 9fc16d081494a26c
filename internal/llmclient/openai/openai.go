// Package openai adapts github.com/sashabaranov/go-openai to the
// llmclient.Provider contract, following the same construction and error
// classification shape as internal/llmclient/anthropic.
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/quoracle/quoracle/internal/llmclient"
	"github.com/quoracle/quoracle/pkg/models"
)

// Config carries the per-client settings for the OpenAI backend.
type Config struct {
	APIKey  string
	BaseURL string
}

// Provider implements llmclient.Provider against the OpenAI Chat Completions API.
type Provider struct {
	client *openai.Client
}

func New(cfg Config) *Provider {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &Provider{client: openai.NewClientWithConfig(conf)}
}

func (p *Provider) Generate(ctx context.Context, messages []llmclient.Message, system string, spec models.ModelSpec, opts llmclient.Options) (llmclient.Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       string(spec),
		Messages:    convertMessages(messages, system),
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	}
	if opts.ReasoningEffort != "" {
		req.ReasoningEffort = opts.ReasoningEffort
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return llmclient.Response{}, wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return llmclient.Response{}, &llmclient.ProviderError{
			Kind: llmclient.ErrorPermanent,
			Err:  errors.New("openai: empty choices in response"),
		}
	}

	usage := models.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if resp.Usage.PromptTokensDetails != nil {
		usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
	}

	return llmclient.Response{Text: resp.Choices[0].Message.Content, Usage: usage}, nil
}

func convertMessages(messages []llmclient.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return result
}

// wrapError classifies an OpenAI API error the same way the Anthropic
// adapter does: 429/5xx transient, 401/403 permanent, everything else
// permanent by default (spec.md §7).
func wrapError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		if isNetworkRetryable(err) {
			return &llmclient.ProviderError{Kind: llmclient.ErrorTransient, Err: err}
		}
		return &llmclient.ProviderError{Kind: llmclient.ErrorPermanent, Err: err}
	}

	kind := llmclient.ErrorPermanent
	switch {
	case apiErr.HTTPStatusCode == 429:
		kind = llmclient.ErrorTransient
	case apiErr.HTTPStatusCode >= 500:
		kind = llmclient.ErrorTransient
	case apiErr.HTTPStatusCode == 401, apiErr.HTTPStatusCode == 403:
		kind = llmclient.ErrorPermanent
	}

	var retryAfter time.Duration
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == 429 {
		kind = llmclient.ErrorTransient
	}

	return &llmclient.ProviderError{Kind: kind, RetryAfter: retryAfter, Err: apiErr}
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
