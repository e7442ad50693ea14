package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to an OpenAI-compatible /v1/embeddings endpoint.
// It works against the hosted API as well as local servers (Ollama,
// LM Studio) that expose the same surface.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	dimensions int
	timeout    time.Duration
}

// NewOpenAIClient builds a client for the given endpoint. baseURL may be
// empty for the hosted API. dimensions must match what the model produces;
// it is fixed for the lifetime of any store fed by this client.
func NewOpenAIClient(baseURL, apiKey, model string, dimensions int, timeout time.Duration) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
		timeout:    timeout,
	}
}

// Embed requests an embedding for a single text, bounded by the client
// timeout on top of whatever deadline the caller already set.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding service returned no data")
	}

	vec := resp.Data[0].Embedding
	if c.dimensions > 0 && len(vec) != c.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), c.dimensions)
	}
	return vec, nil
}

// Dimensions returns the configured embedding size.
func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}
