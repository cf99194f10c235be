package document

import (
	"bytes"
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datavault/internal/store"
)

const testChunkSize = 8

func newTestBlobs(t *testing.T) *Blobs {
	t.Helper()
	db, _, blobs, err := NewMemory(testChunkSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return blobs
}

func TestBlobRoundTrip(t *testing.T) {
	blobs := newTestBlobs(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		payload    []byte
		wantChunks int
	}{
		{name: "empty", payload: []byte{}, wantChunks: 0},
		{name: "single partial chunk", payload: []byte("abc"), wantChunks: 1},
		{name: "exact chunk boundary", payload: bytes.Repeat([]byte("x"), testChunkSize*3), wantChunks: 3},
		{name: "five chunks", payload: bytes.Repeat([]byte("y"), testChunkSize*4+1), wantChunks: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := blobs.Put(ctx, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChunks, ref.ChunkCount)
			assert.Equal(t, int64(len(tt.payload)), ref.ByteLength)

			got, err := blobs.Get(ctx, ref)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(got, tt.payload), "reconstructed payload differs")
		})
	}
}

func TestBlobFiveChunkReconstruction(t *testing.T) {
	blobs := newTestBlobs(t)
	ctx := context.Background()

	// chunk size x 4 + 1 byte forces exactly 5 chunks, the last holding a
	// single byte.
	payload := make([]byte, testChunkSize*4+1)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	ref, err := blobs.Put(ctx, payload)
	require.NoError(t, err)
	require.Equal(t, 5, ref.ChunkCount)

	got, err := blobs.Get(ctx, ref)
	require.NoError(t, err)
	require.True(t, bytes.Equal(got, payload), "byte-for-byte reconstruction failed")
}

func TestBlobMissingChunkIsCorrupt(t *testing.T) {
	blobs := newTestBlobs(t)
	ctx := context.Background()

	ref, err := blobs.Put(ctx, bytes.Repeat([]byte("z"), testChunkSize*3))
	require.NoError(t, err)

	// Knock out the middle chunk behind the store's back.
	require.NoError(t, blobs.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(blobChunkKey(ref.Key, 1))
	}))

	_, err = blobs.Get(ctx, ref)
	require.ErrorIs(t, err, store.ErrCorruptBlob)
}

func TestBlobDelete(t *testing.T) {
	blobs := newTestBlobs(t)
	ctx := context.Background()

	ref, err := blobs.Put(ctx, []byte("to be removed"))
	require.NoError(t, err)
	require.NoError(t, blobs.Delete(ctx, ref))

	_, err = blobs.Get(ctx, ref)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, blobs.Delete(ctx, ref), store.ErrNotFound)
}

func TestBlobList(t *testing.T) {
	blobs := newTestBlobs(t)
	ctx := context.Background()

	refA, err := blobs.Put(ctx, []byte("aaaa"))
	require.NoError(t, err)
	refB, err := blobs.Put(ctx, bytes.Repeat([]byte("b"), testChunkSize*2))
	require.NoError(t, err)

	refs, err := blobs.List(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	keys := map[string]store.BlobRef{}
	for _, r := range refs {
		keys[r.Key] = r
	}
	assert.Equal(t, refA.ByteLength, keys[refA.Key].ByteLength)
	assert.Equal(t, refB.ChunkCount, keys[refB.Key].ChunkCount)
}

func TestBlobPutCancelled(t *testing.T) {
	blobs := newTestBlobs(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := blobs.Put(ctx, bytes.Repeat([]byte("c"), testChunkSize*10))
	require.ErrorIs(t, err, context.Canceled)

	refs, err := blobs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs, "cancelled write must not leave blobs behind")
}
