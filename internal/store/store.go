package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// BlobStore is the family-specific chunked/binary object store. Payloads of
// any size from zero bytes up are supported; implementations must not impose
// a ceiling below what the placement thresholds imply.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (BlobRef, error)
	Get(ctx context.Context, ref BlobRef) ([]byte, error)
	Delete(ctx context.Context, ref BlobRef) error

	// List enumerates every blob ref the store holds. Used only by the
	// out-of-band orphan audit, never on the hot path.
	List(ctx context.Context) ([]BlobRef, error)
}

// MetadataStore is the family-specific structured-record store. The tagged
// Placement union is persisted losslessly: a discriminator plus nullable
// inline/blob-ref fields.
type MetadataStore interface {
	InsertDataset(ctx context.Context, d Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID) (Dataset, error)
	ListDatasets(ctx context.Context) ([]Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error

	InsertWorkspace(ctx context.Context, w Workspace) error
	GetWorkspace(ctx context.Context, id uuid.UUID) (Workspace, error)
	GetWorkspaceByName(ctx context.Context, datasetID uuid.UUID, name string) (Workspace, error)
	ListWorkspacesByDataset(ctx context.Context, datasetID uuid.UUID) ([]Workspace, error)
	UpdateWorkspace(ctx context.Context, w Workspace) error
	DeleteWorkspace(ctx context.Context, id uuid.UUID) error

	InsertTrainingRecord(ctx context.Context, r TrainingRecord) error
	ListTrainingByDataset(ctx context.Context, datasetID uuid.UUID) ([]TrainingRecord, error)
	DeleteTrainingRecord(ctx context.Context, id uuid.UUID) error

	InsertFeedback(ctx context.Context, f Feedback) error
	GetFeedbackByPrediction(ctx context.Context, predictionID string) (Feedback, error)
	ListFeedbackByDataset(ctx context.Context, datasetID uuid.UUID) ([]Feedback, error)
	DeleteFeedback(ctx context.Context, id uuid.UUID) error
}

// Backend pairs one MetadataStore with one BlobStore implementing a common
// storage family. Callers obtain it from the Factory, which tracks in-flight
// references so a swapped-out backend is only closed once drained.
type Backend struct {
	Kind  Kind
	Meta  MetadataStore
	Blobs BlobStore

	closer func() error

	mu       sync.Mutex
	refs     int
	draining bool
	idle     chan struct{}
}

// NewBackend wires a metadata and blob store pair. closer releases the
// underlying resources (connection pool, database handle) and may be nil.
func NewBackend(kind Kind, meta MetadataStore, blobs BlobStore, closer func() error) *Backend {
	return &Backend{
		Kind:   kind,
		Meta:   meta,
		Blobs:  blobs,
		closer: closer,
		idle:   make(chan struct{}),
	}
}

// acquire registers an in-flight operation. Fails with ErrClosed once the
// backend is draining after a switch.
func (b *Backend) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return ErrClosed
	}
	b.refs++
	return nil
}

func (b *Backend) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs--
	if b.draining && b.refs == 0 {
		close(b.idle)
	}
}

// drainAndClose blocks new acquisitions, waits for in-flight operations to
// release, then closes the underlying resources.
func (b *Backend) drainAndClose() error {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return nil
	}
	b.draining = true
	wait := b.refs > 0
	if !wait {
		close(b.idle)
	}
	b.mu.Unlock()

	if wait {
		<-b.idle
	}
	if b.closer != nil {
		return b.closer()
	}
	return nil
}
