package activities

import "labrag/internal/ingestion"

type ListPDFsInput struct {
	PapersDir string `json:"papers_dir"`
}

type ListPDFsOutput struct {
	Paths []string `json:"paths"`
}

type IngestSourceInput struct {
	Source string `json:"source"`
	Force  bool   `json:"force"`
}

type IngestSourceOutput struct {
	Result ingestion.SourceResult `json:"result"`
}

type WriteBuildSummaryInput struct {
	BuildID string           `json:"build_id"`
	Report  ingestion.Report `json:"report"`
}

type WriteBuildSummaryOutput struct {
	OutPath string `json:"out_path"`
}
