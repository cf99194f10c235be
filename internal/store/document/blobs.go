package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"datavault/internal/store"
)

// DefaultChunkSize splits blob payloads into 256 KiB chunks, well under
// badger's per-entry value limits.
const DefaultChunkSize = 256 * 1024

// Blobs is the document-family chunked blob store. A blob is one parent
// record holding total length and chunk count, plus an ordered run of
// fixed-size chunk entries. Reconstruction is byte-exact or fails with
// ErrCorruptBlob; a missing chunk is never papered over.
type Blobs struct {
	db        *badger.DB
	chunkSize int
}

var _ store.BlobStore = (*Blobs)(nil)

func NewBlobs(d *DB, chunkSize int) *Blobs {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Blobs{db: d.db, chunkSize: chunkSize}
}

type blobParent struct {
	Length    int64     `json:"length"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Blobs) Put(ctx context.Context, data []byte) (store.BlobRef, error) {
	key := uuid.NewString()
	chunks := chunkCount(len(data), b.chunkSize)

	parent, err := json.Marshal(blobParent{
		Length:    int64(len(data)),
		Chunks:    chunks,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return store.BlobRef{}, err
	}

	// Chunks go through a write batch so a large payload streams to disk
	// in bounded pieces instead of one oversized transaction.
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	if err := wb.Set(blobParentKey(key), parent); err != nil {
		return store.BlobRef{}, err
	}
	for seq := 0; seq < chunks; seq++ {
		if err := ctx.Err(); err != nil {
			b.cleanup(key, chunks)
			return store.BlobRef{}, err
		}
		start := seq * b.chunkSize
		end := min(start+b.chunkSize, len(data))
		chunk := make([]byte, end-start)
		copy(chunk, data[start:end])
		if err := wb.Set(blobChunkKey(key, uint32(seq)), chunk); err != nil {
			b.cleanup(key, chunks)
			return store.BlobRef{}, err
		}
	}
	if err := wb.Flush(); err != nil {
		b.cleanup(key, chunks)
		return store.BlobRef{}, err
	}

	return store.BlobRef{Key: key, ByteLength: int64(len(data)), ChunkCount: chunks}, nil
}

func (b *Blobs) Get(ctx context.Context, ref store.BlobRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	err := b.db.View(func(tx *badger.Txn) error {
		var parent blobParent
		if err := getJSON(tx, blobParentKey(ref.Key), &parent); err != nil {
			return err
		}

		buf := bytes.NewBuffer(make([]byte, 0, parent.Length))
		for seq := 0; seq < parent.Chunks; seq++ {
			item, err := tx.Get(blobChunkKey(ref.Key, uint32(seq)))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: blob %s missing chunk %d of %d",
						store.ErrCorruptBlob, ref.Key, seq, parent.Chunks)
				}
				return err
			}
			if err := item.Value(func(v []byte) error {
				buf.Write(v)
				return nil
			}); err != nil {
				return err
			}
		}
		if int64(buf.Len()) != parent.Length {
			return fmt.Errorf("%w: blob %s reassembled to %d bytes, expected %d",
				store.ErrCorruptBlob, ref.Key, buf.Len(), parent.Length)
		}
		out = buf.Bytes()
		return nil
	})
	return out, err
}

func (b *Blobs) Delete(ctx context.Context, ref store.BlobRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *badger.Txn) error {
		var parent blobParent
		if err := getJSON(tx, blobParentKey(ref.Key), &parent); err != nil {
			return err
		}
		for seq := 0; seq < parent.Chunks; seq++ {
			if err := tx.Delete(blobChunkKey(ref.Key, uint32(seq))); err != nil {
				return err
			}
		}
		return tx.Delete(blobParentKey(ref.Key))
	})
}

func (b *Blobs) List(ctx context.Context) ([]store.BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var refs []store.BlobRef
	err := b.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(blobParentPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := strings.TrimPrefix(string(it.Item().Key()), blobParentPrefix)
			var parent blobParent
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &parent)
			}); err != nil {
				return err
			}
			refs = append(refs, store.BlobRef{
				Key:        key,
				ByteLength: parent.Length,
				ChunkCount: parent.Chunks,
			})
		}
		return nil
	})
	return refs, err
}

// cleanup removes whatever parts of a failed or cancelled write made it to
// disk. Best effort: the audit sweep catches anything left behind.
func (b *Blobs) cleanup(key string, chunks int) {
	_ = b.db.Update(func(tx *badger.Txn) error {
		_ = tx.Delete(blobParentKey(key))
		for seq := 0; seq < chunks; seq++ {
			_ = tx.Delete(blobChunkKey(key, uint32(seq)))
		}
		return nil
	})
}

func chunkCount(length, chunkSize int) int {
	if length == 0 {
		return 0
	}
	return (length + chunkSize - 1) / chunkSize
}
