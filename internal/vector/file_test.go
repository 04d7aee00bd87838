package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"labrag/internal/logger"
	"labrag/internal/models"
	"labrag/internal/providers"
	"labrag/internal/util"

	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text onto counts of a fixed vocabulary, so chunk
// ranking in tests is predictable.
type keywordEmbedder struct {
	vocab []string
	calls atomic.Int32
}

func (k *keywordEmbedder) Embed(_ context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	k.calls.Add(1)
	out := make([][]float32, len(req.Inputs))
	for i, in := range req.Inputs {
		v := make([]float32, len(k.vocab))
		low := strings.ToLower(in)
		for j, w := range k.vocab {
			v[j] = float32(strings.Count(low, w))
		}
		out[i] = v
	}
	return out, providers.ProviderInfo{Name: "keyword"}, nil
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{vocab: []string{"gene", "protein", "climate", "ocean"}}
}

func chunk(id, source, content string) models.Chunk {
	return models.Chunk{ID: id, Content: content, Metadata: models.ChunkMetadata{Source: source, SourceType: models.SourceURL}}
}

func openTestIndex(t *testing.T, dir string, emb providers.EmbeddingProvider) *FileIndex {
	t.Helper()
	idx, err := OpenFileIndex(dir, MetricInnerProduct, EmbedOptions{Embedder: emb, BatchSize: 2}, logger.Discard())
	require.NoError(t, err)
	return idx
}

func TestSearchOnEmptyIndexReturnsNothing(t *testing.T) {
	emb := newKeywordEmbedder()
	idx := openTestIndex(t, t.TempDir(), emb)

	got, err := idx.Search(context.Background(), "gene", 30)
	require.NoError(t, err)
	require.Empty(t, got)
	scored, err := idx.SearchWithScores(context.Background(), "gene", 30)
	require.NoError(t, err)
	require.Empty(t, scored)
	require.Equal(t, int32(0), emb.calls.Load())
}

func TestAddThenSearchRanksByInnerProduct(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), newKeywordEmbedder())
	require.NoError(t, idx.Add(ctx, []models.Chunk{
		chunk("0-a", "a", "climate and ocean currents"),
		chunk("0-b", "b", "gene gene protein"),
		chunk("1-b", "b", "protein folding"),
	}))

	got, err := idx.SearchWithScores(ctx, "which gene?", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "0-b", got[0].Chunk.ID)
	require.InDelta(t, 2.0, got[0].Score, 1e-9)

	sources, err := idx.Sources(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, sources)
}

func TestAddPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	emb := newKeywordEmbedder()
	idx := openTestIndex(t, dir, emb)
	require.NoError(t, idx.Add(ctx, []models.Chunk{chunk("0-a", "a", "ocean ocean")}))
	require.FileExists(t, filepath.Join(dir, indexFile))

	reopened := openTestIndex(t, dir, emb)
	require.Equal(t, 1, reopened.Len())
	got, err := reopened.Search(ctx, "ocean", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].Metadata.Source)
}

func TestAddOverwritesByID(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), newKeywordEmbedder())
	require.NoError(t, idx.Add(ctx, []models.Chunk{chunk("0-a", "a", "gene")}))
	require.NoError(t, idx.Add(ctx, []models.Chunk{chunk("0-a", "a", "protein")}))
	require.Equal(t, 1, idx.Len())

	got, err := idx.Search(ctx, "protein", 5)
	require.NoError(t, err)
	require.Equal(t, "protein", got[0].Content)
}

func TestCosineMetricNormalizesLength(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenFileIndex(t.TempDir(), MetricCosine, EmbedOptions{Embedder: newKeywordEmbedder()}, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []models.Chunk{
		chunk("0-long", "long", "gene gene gene gene protein protein protein protein climate"),
		chunk("0-pure", "pure", "gene"),
	}))
	got, err := idx.SearchWithScores(ctx, "gene", 2)
	require.NoError(t, err)
	require.Equal(t, "0-pure", got[0].Chunk.ID)
	require.InDelta(t, 1.0, got[0].Score, 1e-9)
}

func TestOpenRejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644))
	_, err := OpenFileIndex(dir, MetricInnerProduct, EmbedOptions{Embedder: newKeywordEmbedder()}, logger.Discard())
	require.ErrorIs(t, err, util.ErrStorage)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	return nil, providers.ProviderInfo{Name: "down"}, fmt.Errorf("503 unavailable")
}

func TestAddEmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := openTestIndex(t, dir, failingEmbedder{})
	require.Error(t, idx.Add(ctx, []models.Chunk{chunk("0-a", "a", "gene")}))
	require.Equal(t, 0, idx.Len())
	require.NoFileExists(t, filepath.Join(dir, indexFile))
}

func TestConcurrentAddAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), newKeywordEmbedder())
	require.NoError(t, idx.Add(ctx, []models.Chunk{chunk("seed", "seed", "gene")}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("s%d", i)
			_ = idx.Add(ctx, []models.Chunk{chunk(models.ChunkID(0, src), src, "protein ocean")})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = idx.Search(ctx, "gene", 3)
		}()
	}
	wg.Wait()
	require.Equal(t, 9, idx.Len())
}

func TestSearchAsync(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, t.TempDir(), newKeywordEmbedder())
	require.NoError(t, idx.Add(ctx, []models.Chunk{chunk("0-a", "a", "climate")}))

	out := <-SearchAsync(ctx, idx, "climate", 1)
	require.NoError(t, out.Err)
	require.Len(t, out.Chunks, 1)
}

func TestSearchSQLUsesMetricOperator(t *testing.T) {
	require.Contains(t, searchSQL(MetricCosine), "<=>")
	require.Contains(t, searchSQL(MetricInnerProduct), "<#>")
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	require.Equal(t, MetricInnerProduct, m)
	_, err = ParseMetric("l2")
	require.Error(t, err)
}
