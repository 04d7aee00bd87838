package parsers

import (
	"context"
	"fmt"
	"strings"

	"labrag/internal/config"
	"labrag/internal/providers"
)

// LLMCleaner asks a chat model to strip ads and boilerplate from an article.
type LLMCleaner struct {
	llm     providers.LLMProvider
	prompts *config.Prompts
	model   string
}

func NewLLMCleaner(llm providers.LLMProvider, prompts *config.Prompts, model string) *LLMCleaner {
	return &LLMCleaner{llm: llm, prompts: prompts, model: model}
}

func (c *LLMCleaner) Clean(ctx context.Context, article string) (string, error) {
	system, err := c.prompts.Render(config.PromptCleanArticle, nil)
	if err != nil {
		return "", err
	}
	resp, _, err := c.llm.Generate(ctx, providers.GenerateRequest{
		Operation: providers.OpClean,
		Model:     c.model,
		System:    system,
		Prompt:    article,
	})
	if err != nil {
		return "", fmt.Errorf("clean article: %w", err)
	}
	return strings.TrimSpace(stripFence(resp.Text)), nil
}

// stripFence drops a surrounding ``` or ```markdown fence.
func stripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "```"))
}
