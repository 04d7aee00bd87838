package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"labrag/internal/config"
	"labrag/internal/models"
	"labrag/internal/providers"
	"labrag/internal/util"
	"labrag/internal/vector"
)

const (
	intentTemperature    = 0
	chatTemperature      = 0.5
	synthesisTemperature = 0.7
)

// Models names the completion model used by each node.
type Models struct {
	Intent    string
	Chat      string
	Synthesis string
}

type promptData struct {
	ConversationContext string
	LatestMessage       string
	Query               string
	Sources             []string
	Context             string
}

// Nodes holds the collaborators shared by the graph handlers.
type Nodes struct {
	llm           providers.LLMProvider
	index         vector.Index
	prompts       *config.Prompts
	models        Models
	topK          int
	historyWindow int
	now           func() time.Time
	log           *slog.Logger
}

func (n *Nodes) handlers() map[Node]Handler {
	return map[Node]Handler{
		NodeIntentClassifier: n.classifyIntent,
		NodeChatAgent:        n.chat,
		NodeRetriever:        n.retrieve,
		NodeSynthesizer:      n.synthesize,
	}
}

// classifyIntent never fails: any call or parse problem routes to chat.
func (n *Nodes) classifyIntent(ctx context.Context, st State) (Update, error) {
	n.log.InfoContext(ctx, "intent classifier node", "session_id", st.SessionID)
	intent := n.intentOf(ctx, st)
	return Update{
		Intent: &intent,
		Trace:  fmt.Sprintf("**Step 1. Intent classification** — %s\n\n", intent),
	}, nil
}

func (n *Nodes) intentOf(ctx context.Context, st State) Intent {
	prompt, err := n.prompts.Render(config.PromptRouteIntent, promptData{
		ConversationContext: ChatHistory(st.Messages, n.historyWindow),
		LatestMessage:       st.Messages.Latest(),
	})
	if err != nil {
		n.log.ErrorContext(ctx, "render intent prompt", "err", err)
		return IntentChat
	}
	resp, info, err := n.llm.Generate(ctx, providers.GenerateRequest{
		Operation:   providers.OpIntent,
		Model:       n.models.Intent,
		Prompt:      prompt,
		Temperature: intentTemperature,
		JSON:        true,
	})
	if err != nil {
		n.log.ErrorContext(ctx, "intent classification call failed", "provider", info.Name, "err", err)
		return IntentChat
	}
	var out struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &out); err != nil {
		n.log.ErrorContext(ctx, "parse intent classifier response", "err", err, "response", util.Preview(resp.Text, 200))
		return IntentChat
	}
	intent, ok := ParseIntent(strings.ToLower(strings.TrimSpace(out.Intent)))
	if !ok {
		n.log.WarnContext(ctx, "unexpected intent label", "intent", out.Intent)
	}
	return intent
}

func (n *Nodes) chat(ctx context.Context, st State) (Update, error) {
	n.log.InfoContext(ctx, "chat agent node", "session_id", st.SessionID)
	prompt, err := n.prompts.Render(config.PromptChatAgent, promptData{
		ConversationContext: ChatHistory(st.Messages, n.historyWindow),
		LatestMessage:       st.Messages.Latest(),
	})
	if err != nil {
		return Update{}, err
	}
	resp, info, err := n.llm.Generate(ctx, providers.GenerateRequest{
		Operation:   providers.OpChat,
		Model:       n.models.Chat,
		Prompt:      prompt,
		Temperature: chatTemperature,
	})
	if err != nil {
		return Update{}, fmt.Errorf("%w: chat completion via %s: %w", util.ErrCallFailed, info.Name, err)
	}
	return Update{Messages: []models.Message{newMessage(models.RoleAssistant, resp.Text, n.now())}}, nil
}

func (n *Nodes) retrieve(ctx context.Context, st State) (Update, error) {
	query := st.Messages.Latest()
	n.log.InfoContext(ctx, "document retrieval node", "session_id", st.SessionID, "query", util.Preview(query, 50))

	var out vector.SearchOutcome
	select {
	case out = <-vector.SearchAsync(ctx, n.index, query, n.topK):
	case <-ctx.Done():
		return Update{}, ctx.Err()
	}
	if out.Err != nil {
		return Update{}, fmt.Errorf("retrieve documents: %w", out.Err)
	}
	docs := out.Chunks
	if docs == nil {
		docs = []models.Chunk{}
	}
	sources := FormatSources(docs)
	n.log.DebugContext(ctx, "document retrieval result", "docs", len(docs), "sources", len(sources))
	return Update{
		Docs:    docs,
		Sources: sources,
		Trace:   fmt.Sprintf("**Step 2. Document Retrieval** — Retrieved %d documents chunks from %d sources\n", len(docs), len(sources)),
	}, nil
}

func (n *Nodes) synthesize(ctx context.Context, st State) (Update, error) {
	n.log.InfoContext(ctx, "response synthesis node", "session_id", st.SessionID)
	prompt, err := n.prompts.Render(config.PromptSynthesis, promptData{
		ConversationContext: ChatHistory(st.Messages, n.historyWindow),
		Query:               st.Messages.Latest(),
		Sources:             st.Sources,
		Context:             FormatContext(st.Docs),
	})
	if err != nil {
		return Update{}, err
	}
	resp, info, err := n.llm.Generate(ctx, providers.GenerateRequest{
		Operation:   providers.OpSynthesis,
		Model:       n.models.Synthesis,
		Prompt:      prompt,
		Temperature: synthesisTemperature,
		JSON:        true,
	})
	if err != nil {
		return Update{}, fmt.Errorf("%w: synthesis via %s: %w", util.ErrCallFailed, info.Name, err)
	}
	ans, err := parseSynthesis(resp.Text)
	if err != nil {
		n.log.ErrorContext(ctx, "malformed synthesis response", "err", err, "response", util.Preview(resp.Text, 300))
		return Update{}, err
	}

	step := fmt.Sprintf(
		"\n**Step 3. Response Synthesis:** Synthesized response based on %d document chunks with proper citations.\n\n",
		len(ans.DocumentAnalysis))
	answer := assembleAnswer(ans, st.Trace.Append(step))
	return Update{
		Messages: []models.Message{newMessage(models.RoleAssistant, answer, n.now())},
		Answer:   &answer,
		Trace:    step + fmt.Sprintf("Synthesized response from %d documents with proper citations", len(st.Docs)),
	}, nil
}

type docAnalysis struct {
	Source    scalar `json:"source"`
	Page      scalar `json:"page"`
	Reasoning scalar `json:"reasoning"`
}

type synthesis struct {
	MainAnswer       *string       `json:"main_answer"`
	References       []string      `json:"references"`
	DocumentAnalysis []docAnalysis `json:"document_analysis"`
}

func parseSynthesis(raw string) (synthesis, error) {
	var out synthesis
	// Unmarshal rejects trailing content, so a doubled or cut-off reply fails.
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return synthesis{}, fmt.Errorf("%w: %v", util.ErrMalformedAnswer, err)
	}
	if out.MainAnswer == nil {
		return synthesis{}, fmt.Errorf("%w: main_answer is missing", util.ErrMalformedAnswer)
	}
	return out, nil
}

func assembleAnswer(s synthesis, trace Trace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Final Answer\n%s\n\n", *s.MainAnswer)
	if len(s.References) > 0 {
		b.WriteString("## References\n")
		for _, ref := range s.References {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
		b.WriteString("\n")
	}
	if len(s.DocumentAnalysis) > 0 {
		b.WriteString("## Reasoning\n\n")
		b.WriteString(trace.String())
		for _, a := range s.DocumentAnalysis {
			fmt.Fprintf(&b, "- **Source**: %s, page: %s: %s\n",
				a.Source.or("N/A"), a.Page.or("N/A"), a.Reasoning.or("No reasoning provided."))
		}
	}
	return b.String()
}

// scalar accepts a JSON string, number or bool. Null and absent values are
// unset.
type scalar struct {
	set  bool
	text string
}

func (s *scalar) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*s = scalar{}
		return nil
	case len(b) > 0 && b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = scalar{set: true, text: v}
		return nil
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*s = scalar{set: true, text: string(b)}
		return nil
	default:
		if _, err := strconv.ParseFloat(string(b), 64); err != nil {
			return fmt.Errorf("expected a scalar, got %s", util.Preview(string(b), 40))
		}
		*s = scalar{set: true, text: string(b)}
		return nil
	}
}

func (s scalar) or(def string) string {
	if !s.set {
		return def
	}
	return s.text
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
