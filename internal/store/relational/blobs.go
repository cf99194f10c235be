package relational

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"datavault/internal/store"
)

// Blobs stores each payload as a single BYTEA row. Postgres handles large
// values via TOAST, so no chunking is needed on this family; ChunkCount is
// always 0.
type Blobs struct {
	db *pgxpool.Pool
}

var _ store.BlobStore = (*Blobs)(nil)

func NewBlobs(db *pgxpool.Pool) *Blobs {
	return &Blobs{db: db}
}

// notNull keeps a zero-byte payload distinct from SQL NULL: pgx encodes a
// nil slice as NULL, which the NOT NULL data column rejects.
func notNull(data []byte) []byte {
	if data == nil {
		return []byte{}
	}
	return data
}

func (b *Blobs) Put(ctx context.Context, data []byte) (store.BlobRef, error) {
	id := uuid.New()
	_, err := b.db.Exec(ctx, `
		INSERT INTO blobs (id, data, byte_length)
		VALUES ($1, $2, $3)
	`, id, notNull(data), int64(len(data)))
	if err != nil {
		return store.BlobRef{}, wrapErr(err)
	}
	return store.BlobRef{Key: id.String(), ByteLength: int64(len(data))}, nil
}

func (b *Blobs) Get(ctx context.Context, ref store.BlobRef) ([]byte, error) {
	id, err := uuid.Parse(ref.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed blob key %q", store.ErrCorruptBlob, ref.Key)
	}
	var (
		data   []byte
		length int64
	)
	if err := b.db.QueryRow(ctx, `
		SELECT data, byte_length FROM blobs WHERE id = $1
	`, id).Scan(&data, &length); err != nil {
		return nil, wrapErr(err)
	}
	if int64(len(data)) != length {
		return nil, fmt.Errorf("%w: blob %s holds %d bytes, expected %d",
			store.ErrCorruptBlob, ref.Key, len(data), length)
	}
	return data, nil
}

func (b *Blobs) Delete(ctx context.Context, ref store.BlobRef) error {
	id, err := uuid.Parse(ref.Key)
	if err != nil {
		return fmt.Errorf("%w: malformed blob key %q", store.ErrCorruptBlob, ref.Key)
	}
	ct, err := b.db.Exec(ctx, `DELETE FROM blobs WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Blobs) List(ctx context.Context) ([]store.BlobRef, error) {
	rows, err := b.db.Query(ctx, `SELECT id, byte_length FROM blobs ORDER BY created_at`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var refs []store.BlobRef
	for rows.Next() {
		var (
			id     uuid.UUID
			length int64
		)
		if err := rows.Scan(&id, &length); err != nil {
			return nil, wrapErr(err)
		}
		refs = append(refs, store.BlobRef{Key: id.String(), ByteLength: length})
	}
	return refs, wrapErr(rows.Err())
}
