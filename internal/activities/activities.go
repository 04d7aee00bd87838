// Package activities exposes knowledge base ingestion steps as Temporal
// activities.
package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"labrag/internal/ingestion"
	"labrag/internal/util"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Activities wraps a Builder so each source is one activity execution.
type Activities struct {
	builder *ingestion.Builder
	outRoot string
}

func New(builder *ingestion.Builder, outRoot string) *Activities {
	return &Activities{builder: builder, outRoot: outRoot}
}

func (a *Activities) ListPDFsActivity(_ context.Context, in ListPDFsInput) (ListPDFsOutput, error) {
	paths, err := util.ListFiles(in.PapersDir, ".pdf")
	if err != nil {
		return ListPDFsOutput{}, err
	}
	if paths == nil {
		paths = []string{}
	}
	return ListPDFsOutput{Paths: paths}, nil
}

func (a *Activities) IngestPDFActivity(ctx context.Context, in IngestSourceInput) (IngestSourceOutput, error) {
	res := a.builder.IngestPDF(ctx, in.Source, in.Force)
	return IngestSourceOutput{Result: res}, activityError(ctx, res)
}

func (a *Activities) IngestURLActivity(ctx context.Context, in IngestSourceInput) (IngestSourceOutput, error) {
	res := a.builder.IngestURL(ctx, in.Source, in.Force)
	return IngestSourceOutput{Result: res}, activityError(ctx, res)
}

func (a *Activities) WriteBuildSummaryActivity(_ context.Context, in WriteBuildSummaryInput) (WriteBuildSummaryOutput, error) {
	out := filepath.Join(a.outRoot, "builds", in.BuildID, "build_summary.json")
	if err := util.WriteJSONAtomic(out, in.Report); err != nil {
		return WriteBuildSummaryOutput{}, err
	}
	return WriteBuildSummaryOutput{OutPath: out}, nil
}

// activityError turns a failed source into an activity error. Parse problems
// will fail the same way again, so they are marked non-retryable.
func activityError(ctx context.Context, res ingestion.SourceResult) error {
	if res.Outcome != ingestion.OutcomeFailed {
		return nil
	}
	err := res.Err
	if err == nil {
		err = errors.New(res.Error)
	}
	activity.GetLogger(ctx).Warn("source ingestion failed", "source", res.Source.ID, "error", res.Error)
	if errors.Is(err, util.ErrParse) || errors.Is(err, util.ErrNoExtractableText) || errors.Is(err, util.ErrConfiguration) {
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("ingest %s: %s", res.Source.ID, res.Error), "SourceParseError", err)
	}
	return fmt.Errorf("ingest %s: %w", res.Source.ID, err)
}
