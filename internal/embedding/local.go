package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalClient is a deterministic, dependency-free embedder. Each token is
// hashed onto a handful of vector dimensions and the result is normalized,
// so texts sharing vocabulary produce similar vectors and identical text
// produces an identical vector. It exists for offline operation and tests;
// production deployments should use OpenAIClient.
type LocalClient struct {
	dimensions int
}

const defaultLocalDimensions = 384

// NewLocalClient creates a local embedder. dimensions <= 0 selects the
// default of 384, matching common small sentence-embedding models.
func NewLocalClient(dimensions int) *LocalClient {
	if dimensions <= 0 {
		dimensions = defaultLocalDimensions
	}
	return &LocalClient{dimensions: dimensions}
}

// Embed produces a normalized bag-of-tokens hash vector. It never fails
// and ignores the context; it is pure in-memory computation.
func (c *LocalClient) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, c.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		// Spread each token across three dimensions to soften collisions.
		for i := 0; i < 3; i++ {
			idx := int((sum >> (i * 16)) % uint64(c.dimensions))
			sign := float32(1)
			if (sum>>(i*16+15))&1 == 1 {
				sign = -1
			}
			vec[idx] += sign
		}
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding vector size.
func (c *LocalClient) Dimensions() int {
	return c.dimensions
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"()[]{}")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
