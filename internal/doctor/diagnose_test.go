package doctor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/daverage/mnemo/internal/config"
	"github.com/daverage/mnemo/internal/embedding"
	"github.com/daverage/mnemo/internal/score"
	"github.com/daverage/mnemo/internal/store"
)

type brokenEmbedder struct{}

func (brokenEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func (brokenEmbedder) Dimensions() int { return 0 }

func TestRunAllHealthy(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "doctor.sqlite3")
	require.NoError(t, cfg.Validate())

	embedder := embedding.NewLocalClient(0)
	st, err := store.New(cfg, embedder, score.New(cfg), zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	diag := NewRunner(cfg, st, embedder).RunAll(context.Background())
	assert.Equal(t, "healthy", diag.Status)
	assert.Empty(t, diag.Issues)
}

func TestRunAllReportsEmbedderFailure(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "doctor.sqlite3")
	require.NoError(t, cfg.Validate())

	st, err := store.New(cfg, embedding.NewLocalClient(0), score.New(cfg), zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	diag := NewRunner(cfg, st, brokenEmbedder{}).RunAll(context.Background())
	assert.Equal(t, "issues_found", diag.Status)
	assert.NotEmpty(t, diag.Issues)

	var found bool
	for _, check := range diag.Checks {
		if check.Name == "embedding_service" && check.Status == "fail" {
			found = true
		}
	}
	assert.True(t, found)
}