package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity(a, []float32{-1, 0, 0}), 1e-9)
}

func TestCosineSimilarityDegenerateInputs(t *testing.T) {
	// Mismatched lengths and zero vectors must yield 0, not panic or NaN.
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestClampedSimilarity(t *testing.T) {
	a := []float32{1, 0}
	opposite := []float32{-1, 0}

	assert.Equal(t, 0.0, ClampedSimilarity(a, opposite))
	assert.InDelta(t, 1.0, ClampedSimilarity(a, a), 1e-9)
}

func TestLocalClientDeterministic(t *testing.T) {
	client := NewLocalClient(0)
	ctx := context.Background()

	v1, err := client.Embed(ctx, "My favorite color is blue")
	require.NoError(t, err)
	v2, err := client.Embed(ctx, "My favorite color is blue")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.InDelta(t, 1.0, CosineSimilarity(v1, v2), 1e-9)
	assert.Len(t, v1, client.Dimensions())
}

func TestLocalClientSharedVocabulary(t *testing.T) {
	client := NewLocalClient(0)
	ctx := context.Background()

	base, err := client.Embed(ctx, "my favorite color is blue")
	require.NoError(t, err)
	similar, err := client.Embed(ctx, "my favorite color is green")
	require.NoError(t, err)
	unrelated, err := client.Embed(ctx, "rainfall totals across northern scotland")
	require.NoError(t, err)

	simClose := CosineSimilarity(base, similar)
	simFar := CosineSimilarity(base, unrelated)
	assert.Greater(t, simClose, simFar)
}

func TestLocalClientEmptyText(t *testing.T) {
	client := NewLocalClient(64)

	vec, err := client.Embed(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, vec, 64)
}
