package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"labrag/internal/config"
	"labrag/internal/util"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// CallRecord describes one attempt against one LLM provider.
type CallRecord struct {
	Operation string
	Provider  string
	KeyAlias  string
	Model     string
	Status    string
	ErrorType ErrorType
	Latency   time.Duration
}

// CallRecorder receives every LLM attempt made through the failover chain.
// Recording errors are logged and never fail the call.
type CallRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord) error
}

type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	recorder       CallRecorder
	log            *slog.Logger
}

func NewManager(cfg config.Config, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{log: log}
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	if len(m.llmProviders) == 0 || len(m.embedProviders) == 0 {
		return nil, fmt.Errorf("%w: at least one llm and one embedding provider are required", util.ErrConfiguration)
	}
	return m, nil
}

// SetRecorder audits LLM calls made through providers returned by LLM
// afterwards.
func (m *Manager) SetRecorder(r CallRecorder) {
	m.recorder = r
}

// Embedder returns the preferred embedding provider. Embeddings never fail
// over: vectors from different models are not comparable within one index.
func (m *Manager) Embedder() EmbeddingProvider {
	order := preferredOrder(len(m.embedProviders), func(i int) string { return m.embedProviders[i].Ref.Name })
	return m.embedProviders[order[0]].Provider
}

// LLM returns a provider that tries every configured LLM in preferred order,
// moving on only for quota, rate and transient failures.
func (m *Manager) LLM() LLMProvider {
	order := preferredOrder(len(m.llmProviders), func(i int) string { return m.llmProviders[i].Ref.Name })
	chain := make([]NamedLLMProvider, 0, len(order))
	for _, i := range order {
		chain = append(chain, m.llmProviders[i])
	}
	return &failoverLLM{chain: chain, recorder: m.recorder, log: m.log}
}

func (m *Manager) FindLLMProviderByName(name string) (LLMProvider, ProviderRef, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return nil, ProviderRef{}, false
	}
	for i := range m.llmProviders {
		if strings.ToLower(m.llmProviders[i].Ref.Name) == target {
			return m.llmProviders[i].Provider, m.llmProviders[i].Ref, true
		}
	}
	return nil, ProviderRef{}, false
}

// preferredOrder puts real providers ahead of mocks, keeping list order.
func preferredOrder(n int, nameAt func(i int) string) []int {
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if !strings.EqualFold(nameAt(i), "mock") {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if strings.EqualFold(nameAt(i), "mock") {
			out = append(out, i)
		}
	}
	return out
}

type failoverLLM struct {
	chain    []NamedLLMProvider
	recorder CallRecorder
	log      *slog.Logger
}

func (f *failoverLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	var (
		lastErr  error
		lastInfo ProviderInfo
	)
	for _, p := range f.chain {
		start := time.Now()
		resp, info, err := p.Provider.Generate(ctx, req)
		f.record(ctx, p.Ref, req, info, err, time.Since(start))
		if err == nil {
			return resp, info, nil
		}
		kind := ClassifyError(err)
		f.log.WarnContext(ctx, "llm call failed", "provider", p.Ref.Raw, "operation", req.Operation, "error_type", kind, "error", err)
		lastErr, lastInfo = fmt.Errorf("%w: %w", Sentinel(kind), err), info
		if !Retryable(kind) || ctx.Err() != nil {
			break
		}
	}
	return GenerateResponse{}, lastInfo, lastErr
}

func (f *failoverLLM) record(ctx context.Context, ref ProviderRef, req GenerateRequest, info ProviderInfo, err error, took time.Duration) {
	if f.recorder == nil {
		return
	}
	rec := CallRecord{
		Operation: req.Operation,
		Provider:  ref.Name,
		KeyAlias:  ref.KeyAlias,
		Model:     info.Model,
		Status:    "ok",
		Latency:   took,
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = ClassifyError(err)
	}
	if rerr := f.recorder.RecordCall(ctx, rec); rerr != nil {
		f.log.WarnContext(ctx, "record llm call", "operation", req.Operation, "err", rerr)
	}
}

func buildProvider(ref ProviderRef, dim int) (any, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
