package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "none", cfg.Vector.Provider)
	assert.Equal(t, 6, cfg.Pipeline.AnalyzerHistoryTurns)
	assert.Equal(t, 10, cfg.Pipeline.ExtractionTurns)
	assert.Equal(t, 5, cfg.Rerank.TimeoutSec)
	assert.Equal(t, 6000, cfg.Pipeline.EvidenceCharBudget)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := chdirTemp(t)

	yaml := []byte("vector:\n  provider: pgvector\npipeline:\n  memoryTokenBudget: 250\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("SUPPORT_RAG_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "pgvector", cfg.Vector.Provider)
	assert.Equal(t, 250, cfg.Pipeline.MemoryTokenBudget)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("vector:\n  provider: faiss\n"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}
