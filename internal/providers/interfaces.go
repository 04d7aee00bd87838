package providers

import "context"

// Operation names identify the pipeline stage issuing a call. Providers use
// them for logging and the mock uses them to shape canned output.
const (
	OpIntent     = "intent"
	OpChat       = "chat"
	OpSynthesis  = "synthesis"
	OpClean      = "clean_article"
	OpEmbedDocs  = "embed_documents"
	OpEmbedQuery = "embed_query"
)

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type GenerateRequest struct {
	Operation string `json:"operation"`
	// Model overrides the provider default when the provider accepts it.
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature"`
	// JSON asks for a single JSON object as the reply.
	JSON bool `json:"json,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Model     string   `json:"model,omitempty"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}
