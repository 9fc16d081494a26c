package openai

import (
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/quoracle/quoracle/internal/llmclient"
)

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantKind   llmclient.ErrorKind
	}{
		{name: "rate limit", statusCode: 429, wantKind: llmclient.ErrorTransient},
		{name: "server error", statusCode: 500, wantKind: llmclient.ErrorTransient},
		{name: "unauthorized", statusCode: 401, wantKind: llmclient.ErrorPermanent},
		{name: "forbidden", statusCode: 403, wantKind: llmclient.ErrorPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &openai.APIError{HTTPStatusCode: tt.statusCode, Message: "boom"}
			wrapped := wrapError(apiErr)

			var providerErr *llmclient.ProviderError
			if !errors.As(wrapped, &providerErr) {
				t.Fatalf("expected *llmclient.ProviderError, got %T", wrapped)
			}
			if providerErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", providerErr.Kind, tt.wantKind)
			}
		})
	}
}

func TestConvertMessagesPrependsSystem(t *testing.T) {
	msgs := []llmclient.Message{{Role: "user", Content: "hello"}}
	got := convertMessages(msgs, "be concise")
	if len(got) != 2 {
		t.Fatalf("convertMessages() returned %d messages, want 2", len(got))
	}
	if got[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first message role = %q, want system", got[0].Role)
	}
}
