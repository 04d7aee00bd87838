package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListPDFsActivity)
	w.RegisterActivity(a.IngestPDFActivity)
	w.RegisterActivity(a.IngestURLActivity)
	w.RegisterActivity(a.WriteBuildSummaryActivity)
}
