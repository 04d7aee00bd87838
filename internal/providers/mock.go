package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// MockProvider answers offline with deterministic output. Embeddings are
// seeded by the input text; generations follow the operation.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(_ context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

func (m *MockProvider) Generate(_ context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	var text string
	switch req.Operation {
	case OpIntent:
		intent := "chat"
		if strings.Contains(req.Prompt, "?") {
			intent = "research"
		}
		text = fmt.Sprintf(`{"intent": %q}`, intent)
	case OpSynthesis:
		b, _ := json.Marshal(map[string]any{
			"main_answer":       "Deterministic answer based on the retrieved documents.",
			"references":        []string{"mock reference"},
			"document_analysis": []map[string]any{{"source": "mock", "page": nil, "reasoning": "Mock analysis only."}},
		})
		text = string(b)
	case OpClean:
		text = req.Prompt
	default:
		text = "Mock response."
	}
	return GenerateResponse{Text: text}, info, nil
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251), byte(i/251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return Normalize(vec)
}

// Normalize scales v to unit length in place.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
