package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"labrag/internal/util"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) a WAL-mode SQLite file and applies
// schema. A single connection keeps writers serialized.
func OpenSQLite(ctx context.Context, path string, schema string) (*sql.DB, error) {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if schema != "" {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return db, nil
}
