package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"labrag/internal/util"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yml
var defaultPrompts []byte

const (
	PromptRouteIntent  = "route_intent_system_prompt"
	PromptChatAgent    = "chat_agent_system_prompt"
	PromptSynthesis    = "research_synthesis_prompt"
	PromptCleanArticle = "clean_article_prompt"
)

var requiredPrompts = []string{PromptRouteIntent, PromptChatAgent, PromptSynthesis, PromptCleanArticle}

// Prompts holds parsed prompt templates keyed by name.
type Prompts struct {
	templates map[string]*template.Template
}

// LoadPrompts parses the embedded defaults and, when overridePath is set,
// replaces any template the override file defines.
func LoadPrompts(overridePath string) (*Prompts, error) {
	raw := map[string]string{}
	if err := yaml.Unmarshal(defaultPrompts, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse default prompts: %v", util.ErrConfiguration, err)
	}
	if strings.TrimSpace(overridePath) != "" {
		b, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("%w: read prompts file %s: %v", util.ErrConfiguration, overridePath, err)
		}
		override := map[string]string{}
		if err := yaml.Unmarshal(b, &override); err != nil {
			return nil, fmt.Errorf("%w: parse prompts file %s: %v", util.ErrConfiguration, overridePath, err)
		}
		for k, v := range override {
			raw[k] = v
		}
	}

	p := &Prompts{templates: map[string]*template.Template{}}
	for _, name := range requiredPrompts {
		body, ok := raw[name]
		if !ok || strings.TrimSpace(body) == "" {
			return nil, fmt.Errorf("%w: prompt %q is missing", util.ErrConfiguration, name)
		}
		t, err := template.New(name).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("%w: prompt %q: %v", util.ErrConfiguration, name, err)
		}
		p.templates[name] = t
	}
	return p, nil
}

// MustDefaultPrompts returns the embedded prompts and panics if they do not parse.
func MustDefaultPrompts() *Prompts {
	p, err := LoadPrompts("")
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Prompts) Render(name string, data any) (string, error) {
	t, ok := p.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown prompt %q", util.ErrConfiguration, name)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return b.String(), nil
}
