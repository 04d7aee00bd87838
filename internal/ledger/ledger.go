// Package ledger records which sources have already been ingested so builds
// can skip them.
package ledger

import (
	"context"

	"labrag/internal/models"
)

type Ledger interface {
	IsProcessed(ctx context.Context, fingerprint string) (bool, error)
	// Add records a processed source. A second Add for the same fingerprint or
	// source is a no-op.
	Add(ctx context.Context, fingerprint, source string, kind models.SourceKind) error
	// Remove reports whether an entry existed.
	Remove(ctx context.Context, fingerprint string) (bool, error)
	Source(ctx context.Context, fingerprint string) (string, bool, error)
	// ListAll returns entries newest first.
	ListAll(ctx context.Context) ([]models.LedgerEntry, error)
	Close() error
}
