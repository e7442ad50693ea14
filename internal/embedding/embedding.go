// Package embedding wraps the external embedding service behind a small
// client interface and provides the vector math shared by the scorer,
// the deduplication gate and the compressor.
package embedding

import (
	"context"
	"math"
)

// Client converts text into a fixed-length vector. The dimension is fixed
// for the lifetime of a store instance; the only contract beyond that is
// "same text yields a similar vector".
type Client interface {
	// Embed converts a single text to an embedding vector. Implementations
	// must honor the context deadline; the call dominates pipeline latency.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|) in [-1,1].
// Mismatched lengths or a zero-norm vector yield 0 rather than an error,
// so degenerate embeddings never poison a ranking pass.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ClampedSimilarity maps cosine similarity into [0,1] for blending with
// the other scoring terms.
func ClampedSimilarity(a, b []float32) float64 {
	sim := CosineSimilarity(a, b)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
