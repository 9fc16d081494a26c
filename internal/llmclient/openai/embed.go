package openai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/quoracle/quoracle/pkg/models"
)

// Embedder implements llmclient.Embedder against OpenAI's embedding models,
// adapted from internal/memory/embeddings/openai's Provider (the teacher's
// single-text Embed delegates to the batch endpoint with input length 1).
type Embedder struct {
	client *openai.Client
}

func NewEmbedder(cfg Config) *Embedder {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return &Embedder{client: openai.NewClientWithConfig(conf)}
}

// Embed satisfies llmclient.Embedder (spec.md §4.3 Lesson Manager).
func (e *Embedder) Embed(ctx context.Context, text string, spec models.ModelSpec) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(string(spec)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}
