package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompatibleGenerateJSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": `{"intent":"chat"}`}}},
		})
	}))
	defer srv.Close()

	p := newOpenAICompatible("openai", "", "test-key", srv.URL)
	resp, info, err := p.Generate(context.Background(), GenerateRequest{
		Operation: OpIntent,
		Model:     "gpt-4.1-mini",
		System:    "route",
		Prompt:    "hello",
		JSON:      true,
	})
	require.NoError(t, err)
	require.Equal(t, `{"intent":"chat"}`, resp.Text)
	require.Equal(t, "gpt-4.1-mini", info.Model)
	require.Equal(t, "gpt-4.1-mini", got["model"])
	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "json_object", format["type"])
	require.Len(t, got["messages"], 2)
}

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1}},
				{"index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	p := newOpenAICompatible("openai", "", "test-key", srv.URL)
	vecs, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"first", "second"}})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIMissingKey(t *testing.T) {
	p := newOpenAICompatible("openai", "nokey", "", "http://127.0.0.1:1")
	_, _, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.Error(t, err)
}
