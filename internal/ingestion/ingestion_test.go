package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"labrag/internal/config"
	"labrag/internal/ledger"
	"labrag/internal/logger"
	"labrag/internal/models"
	"labrag/internal/parsers"
	"labrag/internal/providers"
	"labrag/internal/util"
	"labrag/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubURLParser struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	empty map[string]bool
	delay time.Duration
}

func newStubURLParser() *stubURLParser {
	return &stubURLParser{calls: map[string]int{}, fail: map[string]error{}, empty: map[string]bool{}}
}

func (s *stubURLParser) Parse(_ context.Context, url string) (*parsers.URLResult, error) {
	s.mu.Lock()
	s.calls[url]++
	err, empty := s.fail[url], s.empty[url]
	s.mu.Unlock()
	time.Sleep(s.delay)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, nil
	}
	return &parsers.URLResult{
		Content: "Article about gene regulation at " + url,
		Metadata: models.DocumentMetadata{
			Source: url, SourceType: models.SourceURL, SourceURL: url,
			Title: "Title " + url, ParsingMethod: parsers.URLParsingMethod,
			Extra: map[string]any{"lang": "en"},
		},
	}, nil
}

func (s *stubURLParser) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

type stubPDFParser struct {
	calls int
}

func (s *stubPDFParser) Parse(_ context.Context, path string) (parsers.PDFResult, error) {
	s.calls++
	if strings.Contains(path, "broken") {
		return parsers.PDFResult{}, util.ErrParse
	}
	return parsers.PDFResult{
		Content: "page one\n\npage two",
		Metadata: models.DocumentMetadata{
			Source: filepath.Base(path), SourceType: models.SourcePDF,
			Title: "A title", ParsingMethod: parsers.PDFParsingMethod,
			Extra: map[string]any{"authors": "A. Author"},
		},
		Chunks: []models.PageChunk{{Content: "page one", Page: 1}, {Content: "page two", Page: 2}},
	}, nil
}

type fixture struct {
	builder *Builder
	ledger  *ledger.SQLiteLedger
	index   *vector.FileIndex
	urls    *stubURLParser
	pdfs    *stubPDFParser
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	led, err := ledger.OpenSQLite(context.Background(), filepath.Join(dir, "processed_docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	idx, err := vector.OpenFileIndex(filepath.Join(dir, "vector_store"), vector.MetricInnerProduct,
		vector.EmbedOptions{Embedder: providers.NewMockProvider(8), Dimension: 8}, logger.Discard())
	require.NoError(t, err)

	sp, err := util.NewSplitter(5000, 200)
	require.NoError(t, err)
	f := fixture{ledger: led, index: idx, urls: newStubURLParser(), pdfs: &stubPDFParser{}}
	f.builder, err = NewBuilder(BuilderOptions{
		Ledger: led,
		Loader: NewLoader(idx, sp, logger.Discard()),
		PDF:    f.pdfs,
		URL:    f.urls,
		Log:    logger.Discard(),
	})
	require.NoError(t, err)
	return f
}

func urlSources(urls ...string) []models.Source {
	out := make([]models.Source, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.Source{ID: u, Kind: models.SourceURL})
	}
	return out
}

func TestBuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := urlSources("https://example.com/a")

	rep, err := f.builder.BuildFromSources(ctx, src, false)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Processed)

	rep, err = f.builder.BuildFromSources(ctx, src, false)
	require.NoError(t, err)
	require.Equal(t, 0, rep.Processed)
	require.Equal(t, 1, rep.Skipped)
	require.Equal(t, 1, f.urls.count("https://example.com/a"))

	entries, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, util.Fingerprint("https://example.com/a"), entries[0].Fingerprint)
}

func TestBuildIngestsRepeatedSourceOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.urls.delay = 50 * time.Millisecond

	rep, err := f.builder.BuildFromSources(ctx, append(
		urlSources("https://example.com/a", "https://example.com/a"),
		models.Source{ID: "papers/good.pdf", Kind: models.SourcePDF},
		models.Source{ID: "papers/good.pdf", Kind: models.SourcePDF},
	), false)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Processed)
	require.Equal(t, 2, rep.Skipped)
	require.Len(t, rep.Results, 4)
	require.Equal(t, 1, f.urls.count("https://example.com/a"))
	require.Equal(t, 1, f.pdfs.calls)

	entries, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestBuildForceReprocesses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := urlSources("https://example.com/a")

	_, err := f.builder.BuildFromSources(ctx, src, false)
	require.NoError(t, err)
	rep, err := f.builder.BuildFromSources(ctx, src, true)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Processed)
	require.Equal(t, 2, f.urls.count("https://example.com/a"))
	require.Equal(t, 1, f.index.Len())

	entries, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestBuildIsolatesURLFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.urls.fail["https://example.com/2"] = errors.New("connection reset")

	rep, err := f.builder.BuildFromSources(ctx, urlSources(
		"https://example.com/1", "https://example.com/2", "https://example.com/3",
	), false)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Processed)
	require.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Results, 3)
	require.Equal(t, OutcomeFailed, rep.Results[1].Outcome)
	require.Contains(t, rep.Results[1].Error, "connection reset")
	require.Equal(t, OutcomeProcessed, rep.Results[2].Outcome)

	done, err := f.ledger.IsProcessed(ctx, util.Fingerprint("https://example.com/2"))
	require.NoError(t, err)
	require.False(t, done)
}

func TestBuildEmptyURLStaysUnprocessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.urls.empty["https://example.com/blank"] = true

	rep, err := f.builder.BuildFromSources(ctx, urlSources("https://example.com/blank"), false)
	require.NoError(t, err)
	require.Equal(t, 0, rep.Processed)
	require.Equal(t, OutcomeEmpty, rep.Results[0].Outcome)

	done, err := f.ledger.IsProcessed(ctx, util.Fingerprint("https://example.com/blank"))
	require.NoError(t, err)
	require.False(t, done)
}

func TestBuildPDFsSequentiallyWithPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rep, err := f.builder.BuildFromSources(ctx, []models.Source{
		{ID: "papers/good.pdf", Kind: models.SourcePDF},
		{ID: "papers/broken.pdf", Kind: models.SourcePDF},
	}, false)
	require.NoError(t, err)
	require.Equal(t, 1, rep.Processed)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, 2, f.pdfs.calls)

	got, err := f.index.Search(ctx, "page one", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		require.NotNil(t, c.Metadata.Page)
		require.Equal(t, "good.pdf", c.Metadata.Source)
	}
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.builder.BuildFromSources(context.Background(), []models.Source{{ID: "x", Kind: "docx"}}, false)
	require.ErrorIs(t, err, util.ErrConfiguration)
}

func TestPDFChunksWhitelistMetadata(t *testing.T) {
	res, err := (&stubPDFParser{}).Parse(context.Background(), "papers/good.pdf")
	require.NoError(t, err)
	res.Metadata.SourceURL = "https://doi.org/x"

	chunks := PDFChunks(res)
	require.Len(t, chunks, 2)
	assert.Equal(t, "1-good.pdf", chunks[1].ID)
	m := chunks[1].Metadata
	assert.Equal(t, "good.pdf", m.Source)
	assert.Equal(t, models.SourcePDF, m.SourceType)
	assert.Equal(t, "https://doi.org/x", m.SourceURL)
	assert.Equal(t, parsers.PDFParsingMethod, m.ParsingMethod)
	assert.Equal(t, 2, *m.Page)
	assert.Equal(t, 1, m.ChunkIndex)
	assert.Equal(t, 2, m.TotalChunks)
	assert.Empty(t, m.Title)
	assert.Nil(t, m.Extra)
}

func TestURLChunksInheritMetadata(t *testing.T) {
	sp, err := util.NewSplitter(5000, 200)
	require.NoError(t, err)
	body := strings.Repeat("Gene flow shapes adaptation in island populations. ", 240)
	res := parsers.URLResult{
		Content: body,
		Metadata: models.DocumentMetadata{
			Source: "https://example.com/a", SourceType: models.SourceURL, SourceURL: "https://example.com/a",
			Title: "Gene flow", ParsingMethod: parsers.URLParsingMethod, Extra: map[string]any{"lang": "en"},
		},
	}
	chunks := URLChunks(res, sp)
	require.Greater(t, len(chunks), 2)
	for i, c := range chunks {
		assert.Equal(t, models.ChunkID(i, "https://example.com/a"), c.ID)
		assert.LessOrEqual(t, len([]rune(c.Content)), 5000)
		assert.Nil(t, c.Metadata.Page)
		assert.Equal(t, "Gene flow", c.Metadata.Title)
		assert.Equal(t, "en", c.Metadata.Extra["lang"])
		assert.Equal(t, i, c.Metadata.ChunkIndex)
		assert.Equal(t, len(chunks), c.Metadata.TotalChunks)
	}
}

func TestBuildFromConfig(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dir := t.TempDir()
	papers := filepath.Join(dir, "papers")
	require.NoError(t, os.MkdirAll(papers, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(papers, "b.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(papers, "notes.txt"), []byte("x"), 0o644))
	cfgPath := filepath.Join(dir, "sources.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
data_sources:
  papers_dir: `+papers+`
  media_urls:
    - https://example.com/a
    - "  "
`), 0o644))

	sf, err := config.LoadSources(cfgPath)
	require.NoError(t, err)
	sources, err := DiscoverSources(sf)
	require.NoError(t, err)
	require.Equal(t, []models.Source{
		{ID: filepath.Join(papers, "b.pdf"), Kind: models.SourcePDF},
		{ID: "https://example.com/a", Kind: models.SourceURL},
	}, sources)

	rep, err := f.builder.BuildFromConfig(ctx, cfgPath, false)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Processed)
}
