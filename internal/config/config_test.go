package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.95, cfg.DedupThreshold)
	assert.Equal(t, "hybrid", cfg.PlannerMode)
	assert.Equal(t, "local", cfg.EmbeddingProvider)
}

func TestLoadAppliesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.toml")
	content := `
[logging]
level = "debug"

[store]
path = "custom.sqlite3"
dedup_threshold = 0.9

[planner]
mode = "static"
fallback_to_static = false

[router]
refinement = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "custom.sqlite3", cfg.DBPath)
	assert.Equal(t, 0.9, cfg.DedupThreshold)
	assert.Equal(t, "static", cfg.PlannerMode)
	assert.False(t, cfg.FallbackToStatic)
	assert.False(t, cfg.RouterRefinement)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultSemanticWeight, cfg.SemanticWeight)
}

func TestLoadAppliesEnvOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.toml")
	require.NoError(t, os.WriteFile(path, []byte("[planner]\nmode = \"static\"\n"), 0o644))

	t.Setenv("MNEMO_PLANNER_MODE", "dynamic")
	t.Setenv("MNEMO_DB_PATH", "/tmp/env.sqlite3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dynamic", cfg.PlannerMode)
	assert.Equal(t, "/tmp/env.sqlite3", cfg.DBPath)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.SemanticWeight = 0.9 // sum now exceeds 1.0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.TagWeight = -0.2
	cfg.SemanticWeight = 0.8
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadEnums(t *testing.T) {
	cfg := Default()
	cfg.PlannerMode = "adaptive"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.EmbeddingProvider = "anthropic"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cfg := Default()
	cfg.DedupThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MinMemories = 50
	cfg.MaxMemories = 10
	assert.Error(t, cfg.Validate())

	cfg = Default()
	delete(cfg.StaticRecent, "full")
	assert.Error(t, cfg.Validate())
}
