package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIChatModel  = "gpt-4.1"
	defaultOpenAIEmbedModel = "text-embedding-3-small"
)

// OpenAIProvider talks to the OpenAI API through go-openai.
type OpenAIProvider struct {
	name    string
	keyName string
	apiKey  string
	client  *openai.Client
}

func NewOpenAIProvider(keyName string) *OpenAIProvider {
	return newOpenAICompatible("openai", keyName, resolveKey("OPENAI", keyName), os.Getenv("LABRAG_OPENAI_BASE_URL"))
}

func newOpenAICompatible(name, keyName, apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	return &OpenAIProvider{
		name:    name,
		keyName: keyName,
		apiKey:  apiKey,
		client:  openai.NewClientWithConfig(cfg),
	}
}

func (o *OpenAIProvider) info(model string) ProviderInfo {
	return ProviderInfo{Name: o.name, Model: model, Key: o.keyName}
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	model := req.Model
	if model == "" {
		model = defaultOpenAIEmbedModel
	}
	if o.apiKey == "" {
		return nil, o.info(model), fmt.Errorf("%s key missing for alias %q", o.name, o.keyName)
	}
	if len(req.Inputs) == 0 {
		return nil, o.info(model), nil
	}
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: req.Inputs,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, o.info(model), fmt.Errorf("%s embedding request failed: %w", o.name, err)
	}
	if len(resp.Data) != len(req.Inputs) {
		return nil, o.info(model), fmt.Errorf("%s returned %d embeddings for %d inputs", o.name, len(resp.Data), len(req.Inputs))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, matchDimension(d.Embedding, req.Dimension))
	}
	return out, o.info(model), nil
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	model := req.Model
	if model == "" {
		model = defaultOpenAIChatModel
	}
	return o.complete(ctx, model, req)
}

func (o *OpenAIProvider) complete(ctx context.Context, model string, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if o.apiKey == "" {
		return GenerateResponse{}, o.info(model), fmt.Errorf("%s key missing for alias %q", o.name, o.keyName)
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	temp := req.Temperature
	if temp == 0 {
		// go-openai omits a zero temperature, which the API reads as 1.
		temp = math.SmallestNonzeroFloat32
	}
	creq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temp,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return GenerateResponse{}, o.info(model), fmt.Errorf("%s completion request failed: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, o.info(model), fmt.Errorf("%s returned empty choices", o.name)
	}
	return GenerateResponse{Text: resp.Choices[0].Message.Content}, o.info(model), nil
}

// resolveKey looks up LABRAG_<VENDOR>_KEY_<ALIAS> before <VENDOR>_API_KEY.
func resolveKey(vendor, alias string) string {
	if alias != "" {
		if k := os.Getenv("LABRAG_" + vendor + "_KEY_" + sanitizeEnvToken(alias)); k != "" {
			return k
		}
	}
	return os.Getenv(vendor + "_API_KEY")
}
