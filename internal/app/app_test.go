package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"labrag/internal/agent"
	"labrag/internal/config"
	"labrag/internal/logger"
	"labrag/internal/models"
	"labrag/internal/util"
	"labrag/internal/vector"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Load()
	cfg.LedgerBackend = "sqlite"
	cfg.LedgerPath = filepath.Join(dir, "cache", "processed_docs.db")
	cfg.VectorBackend = "file"
	cfg.VectorStorePath = filepath.Join(dir, "vector_store")
	cfg.SessionBackend = "sqlite"
	cfg.SessionPath = filepath.Join(dir, "cache", "sessions.db")
	cfg.LLMProviders = "mock"
	cfg.EmbedProviders = "mock"
	cfg.EmbedDim = 16
	cfg.PromptsFile = ""
	cfg.SourcesFile = filepath.Join(dir, "absent.yml")
	return cfg
}

func TestNewWiresLocalBackends(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	rep, err := a.Builder.BuildFromSources(ctx, nil, false)
	require.NoError(t, err)
	require.Equal(t, 0, rep.Processed)

	res, err := a.Agent.RunTurn(ctx, "s1", "Hi")
	require.NoError(t, err)
	require.Equal(t, agent.IntentChat, res.State.Intent)
	require.Equal(t, "Mock response.", res.Reply)

	res, err = a.Agent.RunTurn(ctx, "s1", "What genes matter in adaptation?")
	require.NoError(t, err)
	require.Equal(t, agent.IntentResearch, res.State.Intent)
	require.Contains(t, res.Reply, "## References\n- mock reference\n")
	require.Contains(t, res.State.Trace.String(), "Retrieved 0 documents chunks from 0 sources")

	msgs, err := a.Agent.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChunkOverlap = cfg.ChunkSize
	_, err := New(context.Background(), cfg, logger.Discard())
	require.ErrorIs(t, err, util.ErrConfiguration)
}

func TestNewAppliesSourcesFile(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	store := filepath.Join(dir, "vs2")
	cfg.SourcesFile = filepath.Join(dir, "default.yml")
	require.NoError(t, os.WriteFile(cfg.SourcesFile, []byte(`
vector_store:
  store_path: `+store+`
  chunk_size: 800
  chunk_overlap: 0
`), 0o644))

	a, err := New(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.Equal(t, store, a.Cfg.VectorStorePath)
	require.Equal(t, 800, a.Cfg.ChunkSize)
	require.Equal(t, 0, a.Cfg.ChunkOverlap)
}

func TestNewRejectsMalformedSourcesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SourcesFile = filepath.Join(t.TempDir(), "default.yml")
	require.NoError(t, os.WriteFile(cfg.SourcesFile, []byte("vector_store: [oops"), 0o644))
	_, err := New(context.Background(), cfg, logger.Discard())
	require.ErrorIs(t, err, util.ErrConfiguration)
}

func TestNewNormalizesBackendNames(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorBackend = " File "
	cfg.SessionBackend = "SQLite"
	a, err := New(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.Equal(t, "file", a.Cfg.VectorBackend)
	require.IsType(t, &vector.FileIndex{}, a.Index)
	require.Equal(t, "sqlite", a.Cfg.SessionBackend)
}
