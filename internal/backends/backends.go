// Package backends wires configuration to concrete backend constructors.
// Each builder fully initializes its family (opens the store, verifies
// connectivity) so the factory never publishes a half-built backend.
package backends

import (
	"context"

	"datavault/internal/config"
	"datavault/internal/store"
	"datavault/internal/store/document"
	"datavault/internal/store/object"
	"datavault/internal/store/relational"
)

// Document builds the badger-backed document family backend.
func Document(cfg config.Config) store.Builder {
	return store.NewBuilder(store.KindDocument, func(ctx context.Context) (*store.Backend, error) {
		db, err := document.Open(cfg.DataDir, false)
		if err != nil {
			return nil, err
		}
		return store.NewBackend(
			store.KindDocument,
			document.NewStore(db),
			document.NewBlobs(db, cfg.ChunkSize),
			db.Close,
		), nil
	})
}

// Relational builds the Postgres backend: metadata and blobs in one pool.
func Relational(cfg config.Config) store.Builder {
	return store.NewBuilder(store.KindRelational, func(ctx context.Context) (*store.Backend, error) {
		pool, err := relational.Connect(ctx, cfg.DatabaseURL, relational.PoolConfig{
			MinConns: cfg.PoolMinConns,
			MaxConns: cfg.PoolMaxConns,
		})
		if err != nil {
			return nil, err
		}
		return store.NewBackend(
			store.KindRelational,
			relational.NewStore(pool),
			relational.NewBlobs(pool),
			func() error { pool.Close(); return nil },
		), nil
	})
}

// Hybrid builds the mixed backend: metadata in Postgres, blobs in S3.
func Hybrid(cfg config.Config) store.Builder {
	return store.NewBuilder(store.KindHybrid, func(ctx context.Context) (*store.Backend, error) {
		pool, err := relational.Connect(ctx, cfg.DatabaseURL, relational.PoolConfig{
			MinConns: cfg.PoolMinConns,
			MaxConns: cfg.PoolMaxConns,
		})
		if err != nil {
			return nil, err
		}
		blobs, err := object.New(ctx, object.Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store.NewBackend(
			store.KindHybrid,
			relational.NewStore(pool),
			blobs,
			func() error { pool.Close(); return nil },
		), nil
	})
}

// All returns builders for every configured family.
func All(cfg config.Config) []store.Builder {
	return []store.Builder{Document(cfg), Relational(cfg), Hybrid(cfg)}
}
