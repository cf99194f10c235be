// Package relational implements the relational backend family over
// Postgres: typed metadata columns with JSONB for the dataset schema, and a
// BYTEA blob table for offloaded payloads.
package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"datavault/internal/store"
)

// Store is the relational-family MetadataStore. The tagged placement union
// maps to a discriminator column plus nullable inline/blob-ref columns.
type Store struct {
	db *pgxpool.Pool
}

var _ store.MetadataStore = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// placementRow is the flattened column set shared by datasets and
// workspaces.
type placementRow struct {
	Kind         string
	Inline       []byte
	BlobKey      *string
	BlobLength   *int64
	BlobChunks   *int
	OriginalSize int64
	Compressed   bool
}

func toPlacementRow(p store.Placement) placementRow {
	row := placementRow{
		Kind:         string(p.Kind),
		OriginalSize: p.OriginalSize,
		Compressed:   p.Compressed,
	}
	switch p.Kind {
	case store.PlacementInline:
		row.Inline = p.Inline
	case store.PlacementBlob:
		row.BlobKey = &p.Ref.Key
		row.BlobLength = &p.Ref.ByteLength
		row.BlobChunks = &p.Ref.ChunkCount
	}
	return row
}

func fromPlacementRow(row placementRow) (store.Placement, error) {
	p := store.Placement{
		Kind:         store.PlacementKind(row.Kind),
		OriginalSize: row.OriginalSize,
		Compressed:   row.Compressed,
	}
	switch p.Kind {
	case store.PlacementInline:
		p.Inline = row.Inline
	case store.PlacementBlob:
		if row.BlobKey == nil || row.BlobLength == nil || row.BlobChunks == nil {
			return store.Placement{}, fmt.Errorf("%w: blob placement row missing blob columns", store.ErrCorruptBlob)
		}
		p.Ref = store.BlobRef{
			Key:        *row.BlobKey,
			ByteLength: *row.BlobLength,
			ChunkCount: *row.BlobChunks,
		}
	default:
		return store.Placement{}, fmt.Errorf("unknown placement kind %q", row.Kind)
	}
	return p, nil
}

// wrapErr maps pgx/pgconn errors into the storage taxonomy so callers never
// see backend-native error types.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Detail)
		case pgErr.Code == "23503":
			return fmt.Errorf("%w: %s", store.ErrBadReference, pgErr.Detail)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

// ---- Datasets ----

func (s *Store) InsertDataset(ctx context.Context, d store.Dataset) error {
	schema, err := json.Marshal(d.Schema)
	if err != nil {
		return err
	}
	row := toPlacementRow(d.Placement)
	_, err = s.db.Exec(ctx, `
		INSERT INTO datasets (
			id, name, row_count, column_count, schema, preview,
			placement, inline_data, blob_key, blob_length, blob_chunks,
			original_size, compressed, created_at
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, d.ID, d.Name, d.RowCount, d.ColumnCount, schema, d.Preview,
		row.Kind, row.Inline, row.BlobKey, row.BlobLength, row.BlobChunks,
		row.OriginalSize, row.Compressed, d.CreatedAt)
	return wrapErr(err)
}

func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (store.Dataset, error) {
	var (
		d      store.Dataset
		schema []byte
		row    placementRow
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, name, row_count, column_count, schema, preview,
			placement, inline_data, blob_key, blob_length, blob_chunks,
			original_size, compressed, created_at
		FROM datasets
		WHERE id = $1
	`, id).Scan(
		&d.ID, &d.Name, &d.RowCount, &d.ColumnCount, &schema, &d.Preview,
		&row.Kind, &row.Inline, &row.BlobKey, &row.BlobLength, &row.BlobChunks,
		&row.OriginalSize, &row.Compressed, &d.CreatedAt,
	)
	if err != nil {
		return store.Dataset{}, wrapErr(err)
	}
	if err := json.Unmarshal(schema, &d.Schema); err != nil {
		return store.Dataset{}, fmt.Errorf("decode dataset schema: %w", err)
	}
	if d.Placement, err = fromPlacementRow(row); err != nil {
		return store.Dataset{}, err
	}
	return d, nil
}

func (s *Store) ListDatasets(ctx context.Context) ([]store.Dataset, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, row_count, column_count, schema, preview,
			placement, inline_data, blob_key, blob_length, blob_chunks,
			original_size, compressed, created_at
		FROM datasets
		ORDER BY created_at
	`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []store.Dataset
	for rows.Next() {
		var (
			d      store.Dataset
			schema []byte
			row    placementRow
		)
		if err := rows.Scan(
			&d.ID, &d.Name, &d.RowCount, &d.ColumnCount, &schema, &d.Preview,
			&row.Kind, &row.Inline, &row.BlobKey, &row.BlobLength, &row.BlobChunks,
			&row.OriginalSize, &row.Compressed, &d.CreatedAt,
		); err != nil {
			return nil, wrapErr(err)
		}
		if err := json.Unmarshal(schema, &d.Schema); err != nil {
			return nil, fmt.Errorf("decode dataset schema: %w", err)
		}
		if d.Placement, err = fromPlacementRow(row); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- Workspaces ----

const workspaceColumns = `
	id, dataset_id, name,
	placement, inline_data, blob_key, blob_length, blob_chunks,
	original_size, compressed,
	size_bytes, compressed_size_bytes, created_at, updated_at`

func (s *Store) InsertWorkspace(ctx context.Context, w store.Workspace) error {
	row := toPlacementRow(w.Placement)
	_, err := s.db.Exec(ctx, `
		INSERT INTO workspaces (`+workspaceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, w.ID, w.DatasetID, w.Name,
		row.Kind, row.Inline, row.BlobKey, row.BlobLength, row.BlobChunks,
		row.OriginalSize, row.Compressed,
		w.SizeBytes, w.CompressedSizeBytes, w.CreatedAt, w.UpdatedAt)
	return wrapErr(err)
}

func (s *Store) GetWorkspace(ctx context.Context, id uuid.UUID) (store.Workspace, error) {
	return s.scanWorkspace(s.db.QueryRow(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE id = $1
	`, id))
}

func (s *Store) GetWorkspaceByName(ctx context.Context, datasetID uuid.UUID, name string) (store.Workspace, error) {
	return s.scanWorkspace(s.db.QueryRow(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE dataset_id = $1 AND name = $2
	`, datasetID, name))
}

func (s *Store) ListWorkspacesByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.Workspace, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces
		WHERE dataset_id = $1
		ORDER BY created_at
	`, datasetID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []store.Workspace
	for rows.Next() {
		w, err := s.scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) UpdateWorkspace(ctx context.Context, w store.Workspace) error {
	row := toPlacementRow(w.Placement)
	ct, err := s.db.Exec(ctx, `
		UPDATE workspaces
		SET placement = $2, inline_data = $3, blob_key = $4, blob_length = $5,
			blob_chunks = $6, original_size = $7, compressed = $8,
			size_bytes = $9, compressed_size_bytes = $10, updated_at = $11
		WHERE id = $1
	`, w.ID,
		row.Kind, row.Inline, row.BlobKey, row.BlobLength, row.BlobChunks,
		row.OriginalSize, row.Compressed,
		w.SizeBytes, w.CompressedSizeBytes, w.UpdatedAt)
	if err != nil {
		return wrapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) scanWorkspace(r pgx.Row) (store.Workspace, error) {
	var (
		w   store.Workspace
		row placementRow
	)
	err := r.Scan(
		&w.ID, &w.DatasetID, &w.Name,
		&row.Kind, &row.Inline, &row.BlobKey, &row.BlobLength, &row.BlobChunks,
		&row.OriginalSize, &row.Compressed,
		&w.SizeBytes, &w.CompressedSizeBytes, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return store.Workspace{}, wrapErr(err)
	}
	if w.Placement, err = fromPlacementRow(row); err != nil {
		return store.Workspace{}, err
	}
	return w, nil
}

// ---- Training records ----

func (s *Store) InsertTrainingRecord(ctx context.Context, r store.TrainingRecord) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO training_records (id, dataset_id, model, metrics, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
	`, r.ID, r.DatasetID, r.Model, metrics, r.CreatedAt)
	return wrapErr(err)
}

func (s *Store) ListTrainingByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.TrainingRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dataset_id, model, metrics, created_at
		FROM training_records
		WHERE dataset_id = $1
		ORDER BY created_at
	`, datasetID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []store.TrainingRecord
	for rows.Next() {
		var (
			r       store.TrainingRecord
			metrics []byte
		)
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.Model, &metrics, &r.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
			return nil, fmt.Errorf("decode training metrics: %w", err)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) DeleteTrainingRecord(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM training_records WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- Feedback ----

func (s *Store) InsertFeedback(ctx context.Context, f store.Feedback) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback (id, dataset_id, prediction_id, predicted, actual, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.DatasetID, f.PredictionID, f.Predicted, f.Actual, f.Comment, f.CreatedAt)
	return wrapErr(err)
}

func (s *Store) GetFeedbackByPrediction(ctx context.Context, predictionID string) (store.Feedback, error) {
	var f store.Feedback
	err := s.db.QueryRow(ctx, `
		SELECT id, dataset_id, prediction_id, predicted, actual, comment, created_at
		FROM feedback
		WHERE prediction_id = $1
	`, predictionID).Scan(
		&f.ID, &f.DatasetID, &f.PredictionID, &f.Predicted, &f.Actual, &f.Comment, &f.CreatedAt,
	)
	if err != nil {
		return store.Feedback{}, wrapErr(err)
	}
	return f, nil
}

func (s *Store) ListFeedbackByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.Feedback, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dataset_id, prediction_id, predicted, actual, comment, created_at
		FROM feedback
		WHERE dataset_id = $1
		ORDER BY created_at
	`, datasetID)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []store.Feedback
	for rows.Next() {
		var f store.Feedback
		if err := rows.Scan(&f.ID, &f.DatasetID, &f.PredictionID, &f.Predicted, &f.Actual, &f.Comment, &f.CreatedAt); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, f)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) DeleteFeedback(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `DELETE FROM feedback WHERE id = $1`, id)
	if err != nil {
		return wrapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
