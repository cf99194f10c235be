package config

import (
	"testing"

	"datavault/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend != store.KindDocument {
		t.Fatalf("Backend = %q, want document", cfg.Backend)
	}
	if cfg.InlineThreshold != 4*1024*1024 {
		t.Fatalf("InlineThreshold = %d, want 4 MiB", cfg.InlineThreshold)
	}
	if cfg.ChunkSize != 256*1024 {
		t.Fatalf("ChunkSize = %d, want 256 KiB", cfg.ChunkSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BACKEND", "relational")
	t.Setenv("INLINE_THRESHOLD_BYTES", "65536")
	t.Setenv("COMPRESS_THRESHOLD_BYTES", "32768")
	t.Setenv("DB_POOL_MAX_CONNS", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend != store.KindRelational {
		t.Fatalf("Backend = %q, want relational", cfg.Backend)
	}
	if cfg.InlineThreshold != 65536 {
		t.Fatalf("InlineThreshold = %d, want 65536", cfg.InlineThreshold)
	}
	if cfg.PoolMaxConns != 16 {
		t.Fatalf("PoolMaxConns = %d, want 16", cfg.PoolMaxConns)
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	t.Setenv("BACKEND", "etched-stone-tablets")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject an unknown backend kind")
	}
}

func TestLoadRejectsHybridWithoutBucket(t *testing.T) {
	t.Setenv("BACKEND", "hybrid")
	t.Setenv("S3_BUCKET", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should require S3_BUCKET for the hybrid backend")
	}
}

func TestLoadRejectsInvertedPoolBounds(t *testing.T) {
	t.Setenv("DB_POOL_MIN_CONNS", "10")
	t.Setenv("DB_POOL_MAX_CONNS", "2")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject min conns > max conns")
	}
}
