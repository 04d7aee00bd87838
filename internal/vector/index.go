// Package vector stores chunk embeddings and answers nearest-neighbour
// queries over them.
package vector

import (
	"context"
	"fmt"
	"math"

	"labrag/internal/models"
	"labrag/internal/providers"
)

type Metric string

const (
	MetricInnerProduct Metric = "inner_product"
	MetricCosine       Metric = "cosine"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricInnerProduct, "":
		return MetricInnerProduct, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown vector metric %q", s)
	}
}

// Index is the retrieval store shared by ingestion and the conversation
// workflow. Searching an index that has never received chunks returns an
// empty result, not an error.
type Index interface {
	// Add embeds and upserts chunks by ID. It returns after the write is durable.
	Add(ctx context.Context, chunks []models.Chunk) error
	Search(ctx context.Context, query string, k int) ([]models.Chunk, error)
	SearchWithScores(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
	// Sources lists distinct chunk sources in first-indexed order.
	Sources(ctx context.Context) ([]string, error)
}

type SearchOutcome struct {
	Chunks []models.Chunk
	Err    error
}

// SearchAsync runs Search on its own goroutine. The channel receives exactly
// one outcome and is then closed.
func SearchAsync(ctx context.Context, idx Index, query string, k int) <-chan SearchOutcome {
	out := make(chan SearchOutcome, 1)
	go func() {
		defer close(out)
		chunks, err := idx.Search(ctx, query, k)
		out <- SearchOutcome{Chunks: chunks, Err: err}
	}()
	return out
}

// EmbedOptions configures how chunk text becomes vectors.
type EmbedOptions struct {
	Embedder  providers.EmbeddingProvider
	Model     string
	Dimension int
	BatchSize int
}

func (o EmbedOptions) embed(ctx context.Context, op string, texts []string) ([][]float32, error) {
	batch := o.BatchSize
	if batch <= 0 {
		batch = 64
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batch {
		end := min(i+batch, len(texts))
		vecs, info, err := o.Embedder.Embed(ctx, providers.EmbedRequest{
			Operation: op,
			Model:     o.Model,
			Inputs:    texts[i:end],
			Dimension: o.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d with %s: %w", i, end, info.Name, err)
		}
		if len(vecs) != end-i {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors", i, end, len(vecs))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func score(m Metric, q, v []float32) float64 {
	var dot, qq, vv float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		qq += float64(q[i]) * float64(q[i])
		vv += float64(v[i]) * float64(v[i])
	}
	if m == MetricCosine {
		if qq == 0 || vv == 0 {
			return 0
		}
		return dot / (math.Sqrt(qq) * math.Sqrt(vv))
	}
	return dot
}
