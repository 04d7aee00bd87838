package storage

import (
	"context"
	"fmt"
)

const llmAuditSchema = `
CREATE TABLE IF NOT EXISTS llm_calls (
  call_id     BIGSERIAL PRIMARY KEY,
  operation   TEXT NOT NULL,
  provider    TEXT NOT NULL,
  key_alias   TEXT,
  model       TEXT,
  status      TEXT NOT NULL,
  error_type  TEXT,
  latency_ms  BIGINT NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_created ON llm_calls (created_at);`

type LLMCallRecord struct {
	Operation string
	Provider  string
	KeyAlias  string
	Model     string
	Status    string
	ErrorType string
	LatencyMS int64
}

type LLMAuditRepo struct {
	db *DB
}

// NewLLMAuditRepo creates the llm_calls table when it is missing.
func NewLLMAuditRepo(ctx context.Context, db *DB) (*LLMAuditRepo, error) {
	if _, err := db.Pool.Exec(ctx, llmAuditSchema); err != nil {
		return nil, fmt.Errorf("create llm_calls table: %w", err)
	}
	return &LLMAuditRepo{db: db}, nil
}

func (r *LLMAuditRepo) Insert(ctx context.Context, rec LLMCallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls(operation, provider, key_alias, model, status, error_type, latency_ms)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), $5, NULLIF($6,''), $7)`,
		rec.Operation, rec.Provider, rec.KeyAlias, rec.Model, rec.Status, rec.ErrorType, rec.LatencyMS)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}
