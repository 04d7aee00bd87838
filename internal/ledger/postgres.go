package ledger

import (
	"context"
	"errors"
	"fmt"

	"labrag/internal/models"
	"labrag/internal/storage"
	"labrag/internal/util"

	"github.com/jackc/pgx/v5"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS processed_documents (
  document_id     TEXT PRIMARY KEY,
  document_source TEXT NOT NULL UNIQUE,
  document_type   TEXT NOT NULL CHECK (document_type IN ('url', 'pdf')),
  processed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresLedger shares the pool used by the pgvector index.
type PostgresLedger struct {
	db *storage.DB
}

func NewPostgres(ctx context.Context, db *storage.DB) (*PostgresLedger, error) {
	if _, err := db.Pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("%w: create ledger table: %v", util.ErrStorage, err)
	}
	return &PostgresLedger{db: db}, nil
}

func (l *PostgresLedger) IsProcessed(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := l.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_documents WHERE document_id=$1)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: query ledger: %v", util.ErrStorage, err)
	}
	return exists, nil
}

func (l *PostgresLedger) Add(ctx context.Context, fingerprint, source string, kind models.SourceKind) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid document type %q", kind)
	}
	_, err := l.db.Pool.Exec(ctx, `
INSERT INTO processed_documents (document_id, document_source, document_type)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`, fingerprint, source, string(kind))
	if err != nil {
		return fmt.Errorf("%w: insert ledger entry: %v", util.ErrStorage, err)
	}
	return nil
}

func (l *PostgresLedger) Remove(ctx context.Context, fingerprint string) (bool, error) {
	tag, err := l.db.Pool.Exec(ctx, `DELETE FROM processed_documents WHERE document_id=$1`, fingerprint)
	if err != nil {
		return false, fmt.Errorf("%w: delete ledger entry: %v", util.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (l *PostgresLedger) Source(ctx context.Context, fingerprint string) (string, bool, error) {
	var src string
	err := l.db.Pool.QueryRow(ctx, `SELECT document_source FROM processed_documents WHERE document_id=$1`, fingerprint).Scan(&src)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: query ledger source: %v", util.ErrStorage, err)
	}
	return src, true, nil
}

func (l *PostgresLedger) ListAll(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := l.db.Pool.Query(ctx, `
SELECT document_id, document_source, document_type, processed_at
FROM processed_documents
ORDER BY processed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list ledger: %v", util.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var (
			e    models.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.Fingerprint, &e.Source, &kind, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("%w: scan ledger entry: %v", util.ErrStorage, err)
		}
		e.Kind = models.SourceKind(kind)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate ledger: %v", util.ErrStorage, err)
	}
	return out, nil
}

// Close is a no-op; the pool belongs to the caller.
func (l *PostgresLedger) Close() error {
	return nil
}
