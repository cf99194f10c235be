package repo_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"datavault/internal/store"
)

func TestAuditCleanStore(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.SaveDataset(ctx, "clean", testSchema, bytes.Repeat([]byte("1,a\n"), 64))
	require.NoError(t, err)

	report, err := r.Audit(ctx, false)
	require.NoError(t, err)
	require.Empty(t, report.Orphans)
	require.Zero(t, report.Removed)
}

// The sweep scans workspaces concurrently while it also tabulates dataset
// blob refs; with many datasets this only stays safe if the dataset refs
// are collected before the workspace goroutines start. Run under -race.
func TestAuditManyBlobDatasets(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	const n = 64
	payload := bytes.Repeat([]byte("1,a\n"), 64)
	for i := 0; i < n; i++ {
		d, err := r.SaveDataset(ctx, fmt.Sprintf("batch-%d", i), testSchema, payload)
		require.NoError(t, err)
		require.Equal(t, store.PlacementBlob, d.Placement.Kind)
		_, err = r.SaveWorkspace(ctx, d.ID, "state", bytes.Repeat([]byte("x"), testInlineThreshold*2))
		require.NoError(t, err)
	}

	report, err := r.Audit(ctx, false)
	require.NoError(t, err)
	require.Empty(t, report.Orphans)
}

func TestAuditDetectsAndRemovesOrphans(t *testing.T) {
	r, blobs := newTestRepo(t)
	ctx := context.Background()

	d, err := r.SaveDataset(ctx, "root", testSchema, bytes.Repeat([]byte("1,a\n"), 64))
	require.NoError(t, err)
	require.Equal(t, store.PlacementBlob, d.Placement.Kind)
	_, err = r.SaveWorkspace(ctx, d.ID, "kept", bytes.Repeat([]byte("state"), 32))
	require.NoError(t, err)

	// Write a blob no metadata record points at, simulating a crashed
	// save that never reached its metadata write.
	orphan, err := blobs.Put(ctx, bytes.Repeat([]byte("lost"), 40))
	require.NoError(t, err)

	report, err := r.Audit(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	require.Equal(t, orphan.Key, report.Orphans[0].Key)
	require.Zero(t, report.Removed)

	// Reporting alone must not delete anything.
	require.Equal(t, 3, blobCount(t, blobs))

	report, err = r.Audit(ctx, true)
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	require.Equal(t, 1, report.Removed)

	// Referenced blobs survive the sweep.
	require.Equal(t, 2, blobCount(t, blobs))
	payload, _, err := r.LoadDataset(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte("1,a\n"), 64), payload)
}
