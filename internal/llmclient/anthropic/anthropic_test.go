package anthropic

import (
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/quoracle/quoracle/internal/llmclient"
)

func TestWrapErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int64
		wantKind   llmclient.ErrorKind
	}{
		{name: "rate limit", statusCode: 429, wantKind: llmclient.ErrorTransient},
		{name: "server error", statusCode: 500, wantKind: llmclient.ErrorTransient},
		{name: "bad gateway", statusCode: 502, wantKind: llmclient.ErrorTransient},
		{name: "unauthorized", statusCode: 401, wantKind: llmclient.ErrorPermanent},
		{name: "forbidden", statusCode: 403, wantKind: llmclient.ErrorPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &anthropic.Error{StatusCode: tt.statusCode, RequestID: "req_123"}
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

func TestWrapErrorNetwork(t *testing.T) {
	wrapped := wrapError(errors.New("dial tcp: connection refused"))
	var providerErr *llmclient.ProviderError
	if !errors.As(wrapped, &providerErr) {
		t.Fatalf("expected *llmclient.ProviderError, got %T", wrapped)
	}
	if providerErr.Kind != llmclient.ErrorTransient {
		t.Errorf("Kind = %v, want ErrorTransient", providerErr.Kind)
	}
}

func TestConvertMessagesSkipsSystem(t *testing.T) {
	msgs := []llmclient.Message{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	got := convertMessages(msgs)
	if len(got) != 2 {
		t.Fatalf("convertMessages() returned %d messages, want 2", len(got))
	}
}
