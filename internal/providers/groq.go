package providers

import (
	"context"
	"os"
	"strings"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// GroqProvider generates through Groq's OpenAI-compatible endpoint. Request
// models name OpenAI models, so Groq always uses its own configured model.
type GroqProvider struct {
	chat  *OpenAIProvider
	model string
}

func NewGroqProvider(keyName string) *GroqProvider {
	model := strings.TrimSpace(os.Getenv("LABRAG_GROQ_MODEL"))
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	return &GroqProvider{
		chat:  newOpenAICompatible("groq", keyName, resolveKey("GROQ", keyName), groqBaseURL),
		model: model,
	}
}

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	return g.chat.complete(ctx, g.model, req)
}
