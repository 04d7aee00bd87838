package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"labrag/internal/models"
	"labrag/internal/providers"
	"labrag/internal/storage"
	"labrag/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// Queryer is the read side of a pgx pool.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGIndex keeps chunks in Postgres with a pgvector column.
type PGIndex struct {
	db     *storage.DB
	q      Queryer
	metric Metric
	opts   EmbedOptions
	log    *slog.Logger
}

func NewPGIndex(ctx context.Context, db *storage.DB, metric Metric, opts EmbedOptions, log *slog.Logger) (*PGIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	// storage.NewDB has created the vector extension by now.
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS rag_chunks (
  seq        BIGSERIAL,
  chunk_id   TEXT PRIMARY KEY,
  source     TEXT NOT NULL,
  content    TEXT NOT NULL,
  metadata   JSONB NOT NULL,
  embedding  vector(%d) NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_rag_chunks_source ON rag_chunks (source);`, opts.Dimension)
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("%w: create chunk table: %v", util.ErrStorage, err)
	}
	return &PGIndex{db: db, q: db.Pool, metric: metric, opts: opts, log: log}, nil
}

func (p *PGIndex) Add(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := p.opts.embed(ctx, providers.OpEmbedDocs, texts)
	if err != nil {
		return err
	}

	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx upsert chunks: %v", util.ErrStorage, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", c.ID, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO rag_chunks (chunk_id, source, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (chunk_id)
DO UPDATE SET
  source = EXCLUDED.source,
  content = EXCLUDED.content,
  metadata = EXCLUDED.metadata,
  embedding = EXCLUDED.embedding,
  updated_at = NOW()`,
			c.ID, c.Metadata.Source, util.SanitizeText(c.Content), meta, pgvector.NewVector(vecs[i]),
		)
		if err != nil {
			return fmt.Errorf("%w: upsert chunk %s: %v", util.ErrStorage, c.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit chunks tx: %v", util.ErrStorage, err)
	}
	p.log.Info("added chunks to pgvector index", "chunks", len(chunks))
	return nil
}

func (p *PGIndex) Search(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	scored, err := p.SearchWithScores(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]models.Chunk, len(scored))
	for i, s := range scored {
		out[i] = s.Chunk
	}
	return out, nil
}

func (p *PGIndex) SearchWithScores(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	var hasRows bool
	if err := p.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rag_chunks)`).Scan(&hasRows); err != nil {
		return nil, fmt.Errorf("%w: probe chunk table: %v", util.ErrStorage, err)
	}
	if !hasRows {
		p.log.WarnContext(ctx, "no vector index available", "backend", "pgvector")
		return []models.ScoredChunk{}, nil
	}

	vecs, err := p.opts.embed(ctx, providers.OpEmbedQuery, []string{query})
	if err != nil {
		return nil, err
	}
	rows, err := p.q.Query(ctx, searchSQL(p.metric), pgvector.NewVector(vecs[0]), k)
	if err != nil {
		return nil, fmt.Errorf("%w: query vector search: %v", util.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]models.ScoredChunk, 0, k)
	for rows.Next() {
		var (
			sc   models.ScoredChunk
			meta []byte
		)
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.Content, &meta, &sc.Score); err != nil {
			return nil, fmt.Errorf("%w: scan chunk result: %v", util.ErrStorage, err)
		}
		if err := json.Unmarshal(meta, &sc.Chunk.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", sc.Chunk.ID, err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate search rows: %v", util.ErrStorage, err)
	}
	return out, nil
}

// searchSQL orders by the pgvector operator matching metric: <#> is negative
// inner product, <=> is cosine distance.
func searchSQL(m Metric) string {
	if m == MetricCosine {
		return `
SELECT chunk_id, content, metadata, 1 - (embedding <=> $1) AS score
FROM rag_chunks
ORDER BY embedding <=> $1, seq
LIMIT $2`
	}
	return `
SELECT chunk_id, content, metadata, (embedding <#> $1) * -1 AS score
FROM rag_chunks
ORDER BY embedding <#> $1, seq
LIMIT $2`
}

func (p *PGIndex) Sources(ctx context.Context) ([]string, error) {
	rows, err := p.q.Query(ctx, `SELECT source FROM rag_chunks GROUP BY source ORDER BY MIN(seq)`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sources: %v", util.ErrStorage, err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("%w: scan source: %v", util.ErrStorage, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sources: %v", util.ErrStorage, err)
	}
	return out, nil
}
