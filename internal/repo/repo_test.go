package repo_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"datavault/internal/placement"
	"datavault/internal/repo"
	"datavault/internal/store"
	"datavault/internal/store/document"
)

// Test thresholds are scaled down so every placement path is exercised with
// small payloads: <64 bytes inline, >=64 blob, >=128 compressed blob.
const (
	testInlineThreshold   = 64
	testCompressThreshold = 128
	testChunkSize         = 8
)

var testSchema = []store.Column{
	{Name: "id", Type: "int"},
	{Name: "label", Type: "string"},
}

// newTestRepo stands up a repository over a single in-memory document
// backend and hands back the raw blob store for direct inspection.
func newTestRepo(t *testing.T) (*repo.Repository, *document.Blobs) {
	t.Helper()

	db, meta, blobs, err := document.NewMemory(testChunkSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	builder := store.NewBuilder(store.KindDocument, func(context.Context) (*store.Backend, error) {
		return store.NewBackend(store.KindDocument, meta, blobs, nil), nil
	})
	factory, err := store.NewFactory(context.Background(), store.KindDocument, builder)
	require.NoError(t, err)

	router := placement.Router{
		InlineThreshold:   testInlineThreshold,
		CompressThreshold: testCompressThreshold,
	}
	return repo.New(factory, router, 2), blobs
}

func blobCount(t *testing.T, blobs *document.Blobs) int {
	t.Helper()
	refs, err := blobs.List(context.Background())
	require.NoError(t, err)
	return len(refs)
}

func TestDatasetRoundTripInline(t *testing.T) {
	r, blobs := newTestRepo(t)
	ctx := context.Background()

	payload := []byte("1,cat\n2,dog\n3,bird\n")
	d, err := r.SaveDataset(ctx, "animals", testSchema, payload)
	require.NoError(t, err)
	require.Equal(t, store.PlacementInline, d.Placement.Kind)
	require.False(t, d.Placement.Compressed)
	require.Equal(t, int64(3), d.RowCount)
	require.Equal(t, 2, d.ColumnCount)
	require.Equal(t, 0, blobCount(t, blobs))

	got, schema, err := r.LoadDataset(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, testSchema, schema)
}

func TestDatasetRoundTripBlob(t *testing.T) {
	r, blobs := newTestRepo(t)
	ctx := context.Background()

	// At the inline threshold but below the compress threshold.
	payload := make([]byte, testInlineThreshold)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	d, err := r.SaveDataset(ctx, "raw", testSchema, payload)
	require.NoError(t, err)
	require.Equal(t, store.PlacementBlob, d.Placement.Kind)
	require.False(t, d.Placement.Compressed)
	require.Equal(t, 1, blobCount(t, blobs))

	got, _, err := r.LoadDataset(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDatasetBlobCompressed(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("row,row,row\n"), 64)
	require.GreaterOrEqual(t, len(payload), testCompressThreshold)

	d, err := r.SaveDataset(ctx, "compressible", testSchema, payload)
	require.NoError(t, err)
	require.Equal(t, store.PlacementBlob, d.Placement.Kind)
	require.True(t, d.Placement.Compressed)
	require.Equal(t, int64(len(payload)), d.Placement.OriginalSize)
	require.Less(t, d.Placement.Ref.ByteLength, int64(len(payload)))

	got, _, err := r.LoadDataset(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPlacementThresholdBoundary(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	under, err := r.SaveDataset(ctx, "under", testSchema, make([]byte, testInlineThreshold-1))
	require.NoError(t, err)
	require.Equal(t, store.PlacementInline, under.Placement.Kind)

	at, err := r.SaveDataset(ctx, "at", testSchema, make([]byte, testInlineThreshold))
	require.NoError(t, err)
	require.Equal(t, store.PlacementBlob, at.Placement.Kind)
}

func TestDatasetPreview(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	payload := []byte("1,a\n2,b\n3,c\n4,d\n5,e\n")
	d, err := r.SaveDataset(ctx, "previewed", testSchema, payload)
	require.NoError(t, err)
	// Repository was built with previewRows=2.
	require.Equal(t, []byte("1,a\n2,b\n"), d.Preview)

	fetched, err := r.GetDataset(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, d.Preview, fetched.Preview)
}

func TestLoadDatasetNotFound(t *testing.T) {
	r, _ := newTestRepo(t)

	_, _, err := r.LoadDataset(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveWorkspaceBadReference(t *testing.T) {
	r, _ := newTestRepo(t)

	_, err := r.SaveWorkspace(context.Background(), uuid.New(), "orphan", []byte("state"))
	require.ErrorIs(t, err, store.ErrBadReference)
}

func TestWorkspaceRoundTrip(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	d, err := r.SaveDataset(ctx, "base", testSchema, []byte("1,a\n"))
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("filter=active;"), 16)
	w, err := r.SaveWorkspace(ctx, d.ID, "analysis", payload)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), w.SizeBytes)
	require.NotNil(t, w.CompressedSizeBytes)
	require.Less(t, *w.CompressedSizeBytes, w.SizeBytes)

	got, err := r.LoadWorkspace(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWorkspaceOverwrite(t *testing.T) {
	r, blobs := newTestRepo(t)
	ctx := context.Background()

	d, err := r.SaveDataset(ctx, "base", testSchema, []byte("1,a\n"))
	require.NoError(t, err)

	big := bytes.Repeat([]byte("x"), testInlineThreshold*2)
	first, err := r.SaveWorkspace(ctx, d.ID, "session", big)
	require.NoError(t, err)
	require.Equal(t, store.PlacementBlob, first.Placement.Kind)
	require.Equal(t, 1, blobCount(t, blobs))

	small := []byte("trimmed state")
	second, err := r.SaveWorkspace(ctx, d.ID, "session", small)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, store.PlacementInline, second.Placement.Kind)

	// Superseded blob is gone, and the name maps to exactly one workspace.
	require.Equal(t, 0, blobCount(t, blobs))
	summaries, err := r.ListWorkspaces(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	got, err := r.LoadWorkspace(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, small, got)
}

func TestDeleteWorkspace(t *testing.T) {
	r, blobs := newTestRepo(t)
	ctx := context.Background()

	d, err := r.SaveDataset(ctx, "base", testSchema, []byte("1,a\n"))
	require.NoError(t, err)
	w, err := r.SaveWorkspace(ctx, d.ID, "doomed", bytes.Repeat([]byte("y"), testInlineThreshold))
	require.NoError(t, err)
	require.Equal(t, 1, blobCount(t, blobs))

	require.NoError(t, r.DeleteWorkspace(ctx, w.ID))
	require.Equal(t, 0, blobCount(t, blobs))
	_, err = r.LoadWorkspace(ctx, w.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCascadeDelete(t *testing.T) {
	r, blobs := newTestRepo(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("1,a\n"), 64)
	d, err := r.SaveDataset(ctx, "root", testSchema, payload)
	require.NoError(t, err)
	require.Equal(t, store.PlacementBlob, d.Placement.Kind)

	for _, name := range []string{"first", "second", "third"} {
		_, err := r.SaveWorkspace(ctx, d.ID, name, bytes.Repeat([]byte(name), 32))
		require.NoError(t, err)
	}
	_, err = r.RecordTraining(ctx, d.ID, "classifier-v1", map[string]float64{"accuracy": 0.91})
	require.NoError(t, err)
	_, err = r.RecordFeedback(ctx, d.ID, "pred-1", "cat", "dog", "mislabelled")
	require.NoError(t, err)

	require.NoError(t, r.DeleteDataset(ctx, d.ID))

	_, err = r.GetDataset(ctx, d.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	summaries, err := r.ListWorkspaces(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, summaries)

	training, err := r.ListTraining(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, training)

	feedback, err := r.ListFeedback(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, feedback)

	require.Equal(t, 0, blobCount(t, blobs))
}

func TestTrainingRecords(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	d, err := r.SaveDataset(ctx, "base", testSchema, []byte("1,a\n"))
	require.NoError(t, err)

	_, err = r.RecordTraining(ctx, uuid.New(), "ghost", nil)
	require.ErrorIs(t, err, store.ErrBadReference)

	first, err := r.RecordTraining(ctx, d.ID, "model-a", map[string]float64{"loss": 0.2})
	require.NoError(t, err)
	_, err = r.RecordTraining(ctx, d.ID, "model-b", map[string]float64{"loss": 0.1})
	require.NoError(t, err)

	records, err := r.ListTraining(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var models []string
	for _, rec := range records {
		models = append(models, rec.Model)
	}
	require.Contains(t, models, "model-a")
	require.Contains(t, models, "model-b")
	require.Equal(t, first.DatasetID, d.ID)
}

func TestFeedbackUniquePrediction(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	d, err := r.SaveDataset(ctx, "base", testSchema, []byte("1,a\n"))
	require.NoError(t, err)

	_, err = r.RecordFeedback(ctx, d.ID, "pred-7", "spam", "ham", "")
	require.NoError(t, err)

	_, err = r.RecordFeedback(ctx, d.ID, "pred-7", "spam", "spam", "second opinion")
	require.ErrorIs(t, err, store.ErrConflict)

	all, err := r.ListFeedback(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
