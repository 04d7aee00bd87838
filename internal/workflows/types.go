package workflows

type KnowledgeBaseBuildInput struct {
	BuildID   string   `json:"build_id"`
	PapersDir string   `json:"papers_dir"`
	URLs      []string `json:"urls"`
	Force     bool     `json:"force"`
	// MaxConcurrentURLs bounds in-flight URL activities; <= 0 starts them all.
	MaxConcurrentURLs int `json:"max_concurrent_urls"`
}

type KnowledgeBaseBuildProgress struct {
	BuildID   string            `json:"build_id"`
	Total     int               `json:"total"`
	Done      int               `json:"done"`
	Processed int               `json:"processed"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	PerSource map[string]string `json:"per_source"`
}
