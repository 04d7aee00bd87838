// Package workflows holds the durable knowledge base build.
package workflows

import (
	"time"

	"labrag/internal/activities"
	"labrag/internal/ingestion"
	"labrag/internal/models"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const QueryGetProgress = "GetProgress"

// KnowledgeBaseBuildWorkflow ingests PDFs one activity at a time and then
// starts every URL activity before awaiting each one. A failed source is
// counted and never fails the workflow.
func KnowledgeBaseBuildWorkflow(ctx workflow.Context, input KnowledgeBaseBuildInput) (ingestion.Report, error) {
	progress := KnowledgeBaseBuildProgress{BuildID: input.BuildID, PerSource: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (KnowledgeBaseBuildProgress, error) {
		return progress, nil
	}); err != nil {
		return ingestion.Report{}, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var listOut activities.ListPDFsOutput
	if err := workflow.ExecuteActivity(ctx, "ListPDFsActivity", activities.ListPDFsInput{PapersDir: input.PapersDir}).Get(ctx, &listOut); err != nil {
		return ingestion.Report{}, err
	}
	paths, urls, repeats := dedupeSources(listOut.Paths, input.URLs)
	progress.Total = len(paths) + len(urls) + len(repeats)
	for _, p := range paths {
		progress.PerSource[p] = "pending"
	}
	for _, u := range urls {
		progress.PerSource[u] = "pending"
	}

	report := ingestion.Report{Results: make([]ingestion.SourceResult, 0, progress.Total)}
	record := func(res ingestion.SourceResult) {
		switch res.Outcome {
		case ingestion.OutcomeProcessed:
			report.Processed++
			progress.Processed++
		case ingestion.OutcomeSkipped:
			report.Skipped++
			progress.Skipped++
		case ingestion.OutcomeFailed:
			report.Failed++
			progress.Failed++
		}
		report.Results = append(report.Results, res)
		progress.Done++
		progress.PerSource[res.Source.ID] = string(res.Outcome)
	}

	for _, path := range paths {
		progress.PerSource[path] = "processing"
		var out activities.IngestSourceOutput
		err := workflow.ExecuteActivity(ctx, "IngestPDFActivity", activities.IngestSourceInput{Source: path, Force: input.Force}).Get(ctx, &out)
		if err != nil {
			logger.Warn("pdf ingestion failed", "source", path, "error", err)
			out.Result = failedResult(path, models.SourcePDF, err)
		}
		record(out.Result)
	}

	batch := input.MaxConcurrentURLs
	if batch <= 0 {
		batch = len(urls)
	}
	for i := 0; i < len(urls); i += batch {
		end := min(i+batch, len(urls))
		futures := make([]workflow.Future, 0, end-i)
		for _, u := range urls[i:end] {
			progress.PerSource[u] = "processing"
			futures = append(futures, workflow.ExecuteActivity(ctx, "IngestURLActivity", activities.IngestSourceInput{Source: u, Force: input.Force}))
		}
		for j, f := range futures {
			u := urls[i+j]
			var out activities.IngestSourceOutput
			if err := f.Get(ctx, &out); err != nil {
				logger.Warn("url ingestion failed", "source", u, "error", err)
				out.Result = failedResult(u, models.SourceURL, err)
			}
			record(out.Result)
		}
	}

	// Repeats only count; the first occurrence owns the per-source status.
	for _, r := range repeats {
		logger.Debug("source listed twice in one build", "source", r.ID)
		report.Skipped++
		report.Results = append(report.Results, ingestion.SourceResult{Source: r, Outcome: ingestion.OutcomeSkipped})
		progress.Skipped++
		progress.Done++
	}

	summary := workflow.ExecuteActivity(ctx, "WriteBuildSummaryActivity", activities.WriteBuildSummaryInput{
		BuildID: input.BuildID,
		Report:  report,
	})
	if err := summary.Get(ctx, nil); err != nil {
		logger.Warn("write build summary failed", "error", err)
	}
	return report, nil
}

// dedupeSources keeps the first occurrence of every source id, PDFs before
// URLs, and returns the later occurrences separately.
func dedupeSources(paths, urls []string) (uniquePaths, uniqueURLs []string, repeats []models.Source) {
	seen := make(map[string]bool, len(paths)+len(urls))
	for _, p := range paths {
		if seen[p] {
			repeats = append(repeats, models.Source{ID: p, Kind: models.SourcePDF})
			continue
		}
		seen[p] = true
		uniquePaths = append(uniquePaths, p)
	}
	for _, u := range urls {
		if seen[u] {
			repeats = append(repeats, models.Source{ID: u, Kind: models.SourceURL})
			continue
		}
		seen[u] = true
		uniqueURLs = append(uniqueURLs, u)
	}
	return uniquePaths, uniqueURLs, repeats
}

func failedResult(id string, kind models.SourceKind, err error) ingestion.SourceResult {
	return ingestion.SourceResult{
		Source:  models.Source{ID: id, Kind: kind},
		Outcome: ingestion.OutcomeFailed,
		Error:   err.Error(),
	}
}
