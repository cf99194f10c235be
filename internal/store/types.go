package store

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies a backend family.
type Kind string

const (
	// KindDocument pairs the badger document store with its chunked blob store.
	KindDocument Kind = "document"
	// KindRelational keeps both metadata and blobs in Postgres.
	KindRelational Kind = "relational"
	// KindHybrid keeps metadata in Postgres and blobs in S3.
	KindHybrid Kind = "hybrid"
)

// PlacementKind discriminates where an entity payload physically lives.
type PlacementKind string

const (
	PlacementInline PlacementKind = "inline"
	PlacementBlob   PlacementKind = "blob"
)

// BlobRef is a backend-opaque handle to a stored blob. A ref is only
// meaningful to the backend that produced it; it must never be dereferenced
// against a different backend.
type BlobRef struct {
	Key        string
	ByteLength int64
	// ChunkCount is 0 when the backend stores the object monolithically.
	ChunkCount int
}

// Placement records where a payload was stored. Exactly one of Inline/Ref is
// populated, selected by Kind.
type Placement struct {
	Kind         PlacementKind
	Inline       []byte
	Ref          BlobRef
	OriginalSize int64
	Compressed   bool
}

// Column is one entry of a dataset's ordered schema.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Dataset is the root entity. All other entities reference it by id and are
// removed when it is deleted.
type Dataset struct {
	ID          uuid.UUID
	Name        string
	RowCount    int64
	ColumnCount int
	Schema      []Column
	// Preview is a bounded row sample, always inlined regardless of where
	// the full payload lives.
	Preview   []byte
	Placement Placement
	CreatedAt time.Time
}

// Workspace is a saved analysis state bound to a dataset. Saves are keyed on
// (DatasetID, Name): saving under an existing name overwrites.
type Workspace struct {
	ID                  uuid.UUID
	DatasetID           uuid.UUID
	Name                string
	Placement           Placement
	SizeBytes           int64
	CompressedSizeBytes *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TrainingRecord holds scalar metrics from one model training run. Never
// blob-eligible.
type TrainingRecord struct {
	ID        uuid.UUID
	DatasetID uuid.UUID
	Model     string
	Metrics   map[string]float64
	CreatedAt time.Time
}

// Feedback is a user correction for a single prediction.
type Feedback struct {
	ID           uuid.UUID
	DatasetID    uuid.UUID
	PredictionID string
	Predicted    string
	Actual       string
	Comment      string
	CreatedAt    time.Time
}

// WorkspaceSummary is the listing view of a workspace, without its payload.
type WorkspaceSummary struct {
	ID        uuid.UUID
	Name      string
	SizeBytes int64
	CreatedAt time.Time
}
