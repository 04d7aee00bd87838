package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

type DB struct {
	Pool *pgxpool.Pool
}

// NewDB connects to Postgres. With vectors set, the vector extension is
// created first on a standalone connection, then every pooled connection
// registers the pgvector types.
func NewDB(ctx context.Context, dsn string, vectors bool) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if vectors {
		if err := ensureVectorExtension(ctx, cfg.ConnConfig); err != nil {
			return nil, err
		}
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvector.RegisterTypes(ctx, conn)
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// RegisterTypes fails on a database without the extension, so it cannot run
// through the pool.
func ensureVectorExtension(ctx context.Context, cc *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, cc.Copy())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	return nil
}

func (d *DB) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}
