package workflows

import (
	"context"
	"testing"

	"labrag/internal/activities"
	"labrag/internal/ingestion"
	"labrag/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func registerBuildActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityName(env, "ListPDFsActivity", func(context.Context, activities.ListPDFsInput) (activities.ListPDFsOutput, error) {
		return activities.ListPDFsOutput{}, nil
	})
	registerActivityName(env, "IngestPDFActivity", func(context.Context, activities.IngestSourceInput) (activities.IngestSourceOutput, error) {
		return activities.IngestSourceOutput{}, nil
	})
	registerActivityName(env, "IngestURLActivity", func(context.Context, activities.IngestSourceInput) (activities.IngestSourceOutput, error) {
		return activities.IngestSourceOutput{}, nil
	})
	registerActivityName(env, "WriteBuildSummaryActivity", func(context.Context, activities.WriteBuildSummaryInput) (activities.WriteBuildSummaryOutput, error) {
		return activities.WriteBuildSummaryOutput{}, nil
	})
}

func processed(id string, kind models.SourceKind) activities.IngestSourceOutput {
	return activities.IngestSourceOutput{Result: ingestion.SourceResult{
		Source: models.Source{ID: id, Kind: kind}, Outcome: ingestion.OutcomeProcessed, Chunks: 2,
	}}
}

func TestKnowledgeBaseBuildIsolatesURLFailure(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(KnowledgeBaseBuildWorkflow)
	registerBuildActivities(env)

	urls := []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"}
	env.OnActivity("ListPDFsActivity", mock.Anything, activities.ListPDFsInput{PapersDir: "papers"}).
		Return(activities.ListPDFsOutput{Paths: []string{"papers/x.pdf"}}, nil)
	env.OnActivity("IngestPDFActivity", mock.Anything, activities.IngestSourceInput{Source: "papers/x.pdf"}).
		Return(processed("papers/x.pdf", models.SourcePDF), nil)
	env.OnActivity("IngestURLActivity", mock.Anything, activities.IngestSourceInput{Source: urls[0]}).
		Return(processed(urls[0], models.SourceURL), nil)
	env.OnActivity("IngestURLActivity", mock.Anything, activities.IngestSourceInput{Source: urls[1]}).
		Return(activities.IngestSourceOutput{}, temporal.NewNonRetryableApplicationError("fetch failed", "SourceParseError", nil))
	env.OnActivity("IngestURLActivity", mock.Anything, activities.IngestSourceInput{Source: urls[2]}).
		Return(processed(urls[2], models.SourceURL), nil)
	env.OnActivity("WriteBuildSummaryActivity", mock.Anything, mock.Anything).
		Return(activities.WriteBuildSummaryOutput{OutPath: "out/builds/b1/build_summary.json"}, nil)

	env.ExecuteWorkflow(KnowledgeBaseBuildWorkflow, KnowledgeBaseBuildInput{BuildID: "b1", PapersDir: "papers", URLs: urls})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var report ingestion.Report
	require.NoError(t, env.GetWorkflowResult(&report))
	require.Equal(t, 3, report.Processed)
	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 4)
	require.Equal(t, ingestion.OutcomeFailed, report.Results[2].Outcome)
	require.Equal(t, urls[1], report.Results[2].Source.ID)
	require.Contains(t, report.Results[2].Error, "fetch failed")
	require.Equal(t, ingestion.OutcomeProcessed, report.Results[3].Outcome)

	val, err := env.QueryWorkflow(QueryGetProgress)
	require.NoError(t, err)
	var progress KnowledgeBaseBuildProgress
	require.NoError(t, val.Get(&progress))
	require.Equal(t, 4, progress.Total)
	require.Equal(t, 4, progress.Done)
	require.Equal(t, "failed", progress.PerSource[urls[1]])
	require.Equal(t, "processed", progress.PerSource["papers/x.pdf"])
}

func TestKnowledgeBaseBuildCountsSkipped(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(KnowledgeBaseBuildWorkflow)
	registerBuildActivities(env)

	env.OnActivity("ListPDFsActivity", mock.Anything, mock.Anything).Return(activities.ListPDFsOutput{Paths: []string{}}, nil)
	env.OnActivity("IngestURLActivity", mock.Anything, activities.IngestSourceInput{Source: "https://b.example", Force: false}).
		Return(activities.IngestSourceOutput{Result: ingestion.SourceResult{
			Source: models.Source{ID: "https://b.example", Kind: models.SourceURL}, Outcome: ingestion.OutcomeSkipped,
		}}, nil)
	env.OnActivity("WriteBuildSummaryActivity", mock.Anything, mock.Anything).Return(activities.WriteBuildSummaryOutput{}, nil)

	env.ExecuteWorkflow(KnowledgeBaseBuildWorkflow, KnowledgeBaseBuildInput{BuildID: "b2", URLs: []string{"https://b.example"}, MaxConcurrentURLs: 2})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var report ingestion.Report
	require.NoError(t, env.GetWorkflowResult(&report))
	require.Equal(t, 0, report.Processed)
	require.Equal(t, 1, report.Skipped)
}

func TestKnowledgeBaseBuildIngestsRepeatedSourceOnce(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(KnowledgeBaseBuildWorkflow)
	registerBuildActivities(env)

	u := "https://c.example/a"
	env.OnActivity("ListPDFsActivity", mock.Anything, mock.Anything).
		Return(activities.ListPDFsOutput{Paths: []string{"papers/x.pdf", "papers/x.pdf"}}, nil)
	env.OnActivity("IngestPDFActivity", mock.Anything, activities.IngestSourceInput{Source: "papers/x.pdf"}).
		Return(processed("papers/x.pdf", models.SourcePDF), nil).Once()
	env.OnActivity("IngestURLActivity", mock.Anything, activities.IngestSourceInput{Source: u}).
		Return(processed(u, models.SourceURL), nil).Once()
	env.OnActivity("WriteBuildSummaryActivity", mock.Anything, mock.Anything).Return(activities.WriteBuildSummaryOutput{}, nil)

	env.ExecuteWorkflow(KnowledgeBaseBuildWorkflow, KnowledgeBaseBuildInput{BuildID: "b3", URLs: []string{u, u}})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)

	var report ingestion.Report
	require.NoError(t, env.GetWorkflowResult(&report))
	require.Equal(t, 2, report.Processed)
	require.Equal(t, 2, report.Skipped)
	require.Len(t, report.Results, 4)

	val, err := env.QueryWorkflow(QueryGetProgress)
	require.NoError(t, err)
	var progress KnowledgeBaseBuildProgress
	require.NoError(t, val.Get(&progress))
	require.Equal(t, 4, progress.Done)
	require.Equal(t, "processed", progress.PerSource[u])
}
