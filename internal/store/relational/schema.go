package relational

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"datavault/internal/store"
)

// PoolConfig bounds the backend's connection pool.
type PoolConfig struct {
	MinConns int32
	MaxConns int32
}

// Connect opens a bounded pgx pool, verifies connectivity, and applies the
// schema idempotently.
func Connect(ctx context.Context, databaseURL string, pool PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}
	if pool.MinConns > 0 {
		cfg.MinConns = pool.MinConns
	}
	if pool.MaxConns > 0 {
		cfg.MaxConns = pool.MaxConns
	}

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open db pool: %v", store.ErrUnavailable, err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: ping db: %v", store.ErrUnavailable, err)
	}
	if err := ensureSchema(ctx, p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// ensureSchema creates the tables on first use. Statements are idempotent;
// there is no migration history to track yet.
func ensureSchema(ctx context.Context, p *pgxpool.Pool) error {
	_, err := p.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS datasets (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			row_count BIGINT NOT NULL,
			column_count INT NOT NULL,
			schema JSONB NOT NULL,
			preview BYTEA NOT NULL,
			placement TEXT NOT NULL,
			inline_data BYTEA,
			blob_key TEXT,
			blob_length BIGINT,
			blob_chunks INT,
			original_size BIGINT NOT NULL,
			compressed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS workspaces (
			id UUID PRIMARY KEY,
			dataset_id UUID NOT NULL REFERENCES datasets (id),
			name TEXT NOT NULL,
			placement TEXT NOT NULL,
			inline_data BYTEA,
			blob_key TEXT,
			blob_length BIGINT,
			blob_chunks INT,
			original_size BIGINT NOT NULL,
			compressed BOOLEAN NOT NULL DEFAULT FALSE,
			size_bytes BIGINT NOT NULL,
			compressed_size_bytes BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (dataset_id, name)
		);

		CREATE TABLE IF NOT EXISTS training_records (
			id UUID PRIMARY KEY,
			dataset_id UUID NOT NULL REFERENCES datasets (id),
			model TEXT NOT NULL,
			metrics JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS feedback (
			id UUID PRIMARY KEY,
			dataset_id UUID NOT NULL REFERENCES datasets (id),
			prediction_id TEXT NOT NULL UNIQUE,
			predicted TEXT NOT NULL,
			actual TEXT NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS blobs (
			id UUID PRIMARY KEY,
			data BYTEA NOT NULL,
			byte_length BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
