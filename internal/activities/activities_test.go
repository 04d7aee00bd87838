package activities

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"labrag/internal/ingestion"
	"labrag/internal/ledger"
	"labrag/internal/logger"
	"labrag/internal/models"
	"labrag/internal/parsers"
	"labrag/internal/providers"
	"labrag/internal/util"
	"labrag/internal/vector"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

type urlStub struct{}

func (urlStub) Parse(_ context.Context, url string) (*parsers.URLResult, error) {
	if url == "https://bad.example" {
		return nil, fmt.Errorf("%w: status 404", util.ErrParse)
	}
	return &parsers.URLResult{Content: "text about " + url, Metadata: models.DocumentMetadata{
		Source: url, SourceType: models.SourceURL, SourceURL: url, ParsingMethod: parsers.URLParsingMethod,
	}}, nil
}

type pdfStub struct{}

func (pdfStub) Parse(context.Context, string) (parsers.PDFResult, error) {
	return parsers.PDFResult{}, util.ErrNoExtractableText
}

func newTestActivities(t *testing.T) (*Activities, string) {
	t.Helper()
	dir := t.TempDir()
	led, err := ledger.OpenSQLite(context.Background(), filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })
	idx, err := vector.OpenFileIndex(filepath.Join(dir, "index"), vector.MetricInnerProduct,
		vector.EmbedOptions{Embedder: providers.NewMockProvider(4), Dimension: 4}, logger.Discard())
	require.NoError(t, err)
	sp, err := util.NewSplitter(5000, 200)
	require.NoError(t, err)
	b, err := ingestion.NewBuilder(ingestion.BuilderOptions{
		Ledger: led, Loader: ingestion.NewLoader(idx, sp, logger.Discard()),
		PDF: pdfStub{}, URL: urlStub{}, Log: logger.Discard(),
	})
	require.NoError(t, err)
	out := filepath.Join(dir, "out")
	return New(b, out), out
}

func TestListPDFsActivity(t *testing.T) {
	a, _ := newTestActivities(t)
	papers := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(papers, "b.PDF"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(papers, "a.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(papers, "c.txt"), []byte("x"), 0o644))

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)
	val, err := env.ExecuteActivity(a.ListPDFsActivity, ListPDFsInput{PapersDir: papers})
	require.NoError(t, err)
	var out ListPDFsOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, []string{filepath.Join(papers, "a.pdf"), filepath.Join(papers, "b.PDF")}, out.Paths)

	val, err = env.ExecuteActivity(a.ListPDFsActivity, ListPDFsInput{PapersDir: filepath.Join(papers, "missing")})
	require.NoError(t, err)
	require.NoError(t, val.Get(&out))
	require.Empty(t, out.Paths)
}

func TestIngestURLActivity(t *testing.T) {
	a, _ := newTestActivities(t)
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.IngestURLActivity, IngestSourceInput{Source: "https://good.example"})
	require.NoError(t, err)
	var out IngestSourceOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, ingestion.OutcomeProcessed, out.Result.Outcome)

	val, err = env.ExecuteActivity(a.IngestURLActivity, IngestSourceInput{Source: "https://good.example"})
	require.NoError(t, err)
	require.NoError(t, val.Get(&out))
	require.Equal(t, ingestion.OutcomeSkipped, out.Result.Outcome)

	_, err = env.ExecuteActivity(a.IngestURLActivity, IngestSourceInput{Source: "https://bad.example"})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.True(t, appErr.NonRetryable())
}

func TestIngestPDFActivityWithoutTextIsNonRetryable(t *testing.T) {
	a, _ := newTestActivities(t)
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.IngestPDFActivity, IngestSourceInput{Source: "papers/scan.pdf"})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.True(t, appErr.NonRetryable())
}

func TestWriteBuildSummaryActivity(t *testing.T) {
	a, outRoot := newTestActivities(t)
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.WriteBuildSummaryActivity, WriteBuildSummaryInput{
		BuildID: "b1", Report: ingestion.Report{Processed: 2},
	})
	require.NoError(t, err)
	var out WriteBuildSummaryOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, filepath.Join(outRoot, "builds", "b1", "build_summary.json"), out.OutPath)
	require.FileExists(t, out.OutPath)
}
