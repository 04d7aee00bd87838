package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"labrag/internal/models"
	"labrag/internal/storage"
	"labrag/internal/util"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processed_documents (
  document_id     TEXT PRIMARY KEY,
  document_source TEXT NOT NULL UNIQUE,
  document_type   TEXT NOT NULL CHECK (document_type IN ('url', 'pdf')),
  processed_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_documents_at ON processed_documents (processed_at);`

// Fixed-width UTC timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteLedger, error) {
	db, err := storage.OpenSQLite(ctx, path, sqliteSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger: %v", util.ErrStorage, err)
	}
	return &SQLiteLedger{db: db, now: time.Now}, nil
}

func (l *SQLiteLedger) IsProcessed(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM processed_documents WHERE document_id = ?`, fingerprint).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: query ledger: %v", util.ErrStorage, err)
	}
	return true, nil
}

func (l *SQLiteLedger) Add(ctx context.Context, fingerprint, source string, kind models.SourceKind) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid document type %q", kind)
	}
	at := l.now().UTC().Format(timeLayout)
	_, err := l.db.ExecContext(ctx, `
INSERT OR IGNORE INTO processed_documents (document_id, document_source, document_type, processed_at)
VALUES (?, ?, ?, ?)`, fingerprint, source, string(kind), at)
	if err != nil {
		return fmt.Errorf("%w: insert ledger entry: %v", util.ErrStorage, err)
	}
	return nil
}

func (l *SQLiteLedger) Remove(ctx context.Context, fingerprint string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM processed_documents WHERE document_id = ?`, fingerprint)
	if err != nil {
		return false, fmt.Errorf("%w: delete ledger entry: %v", util.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete ledger entry: %v", util.ErrStorage, err)
	}
	return n > 0, nil
}

func (l *SQLiteLedger) Source(ctx context.Context, fingerprint string) (string, bool, error) {
	var src string
	err := l.db.QueryRowContext(ctx, `SELECT document_source FROM processed_documents WHERE document_id = ?`, fingerprint).Scan(&src)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: query ledger source: %v", util.ErrStorage, err)
	}
	return src, true, nil
}

func (l *SQLiteLedger) ListAll(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT document_id, document_source, document_type, processed_at
FROM processed_documents
ORDER BY processed_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list ledger: %v", util.ErrStorage, err)
	}
	defer rows.Close()

	out := make([]models.LedgerEntry, 0)
	for rows.Next() {
		var (
			e    models.LedgerEntry
			kind string
			at   string
		)
		if err := rows.Scan(&e.Fingerprint, &e.Source, &kind, &at); err != nil {
			return nil, fmt.Errorf("%w: scan ledger entry: %v", util.ErrStorage, err)
		}
		e.Kind = models.SourceKind(kind)
		if e.ProcessedAt, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("%w: parse processed_at %q: %v", util.ErrStorage, at, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate ledger: %v", util.ErrStorage, err)
	}
	return out, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
