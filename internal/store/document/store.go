// Package document implements the document backend family: entity metadata
// as JSON records in badger, large payloads in a companion chunked blob
// store over the same database. Cascade behavior is provided by the
// repository layer; badger itself has no foreign keys.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"datavault/internal/store"
)

// DB wraps a badger instance shared by the metadata and blob stores.
type DB struct {
	db *badger.DB
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any)   { l.logger.Error(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Warningf(msg string, items ...any) { l.logger.Warn(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Infof(msg string, items ...any)    { l.logger.Debug(fmt.Sprintf(msg, items...)) }
func (l *badgerLogger) Debugf(msg string, items ...any)   { l.logger.Debug(fmt.Sprintf(msg, items...)) }

// Open opens (creating if needed) a badger database at path. An empty path
// with inMemory set opens an ephemeral database for tests.
func Open(path string, inMemory bool) (*DB, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create document store dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLogger{logger: slog.Default()}
	// Payloads are compressed upstream by the placement router when large
	// enough to matter.
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open document store: %v", store.ErrUnavailable, err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Store is the document-family MetadataStore.
type Store struct {
	db *badger.DB
}

var _ store.MetadataStore = (*Store)(nil)

func NewStore(d *DB) *Store {
	return &Store{db: d.db}
}

// placementRecord flattens the tagged Placement union for JSON storage.
// Kind is the discriminator; inline and blob fields are mutually exclusive.
type placementRecord struct {
	Kind         string `json:"kind"`
	Inline       []byte `json:"inline,omitempty"`
	BlobKey      string `json:"blob_key,omitempty"`
	BlobLength   int64  `json:"blob_length,omitempty"`
	BlobChunks   int    `json:"blob_chunks,omitempty"`
	OriginalSize int64  `json:"original_size"`
	Compressed   bool   `json:"compressed"`
}

func toPlacementRecord(p store.Placement) placementRecord {
	rec := placementRecord{
		Kind:         string(p.Kind),
		OriginalSize: p.OriginalSize,
		Compressed:   p.Compressed,
	}
	switch p.Kind {
	case store.PlacementInline:
		rec.Inline = p.Inline
	case store.PlacementBlob:
		rec.BlobKey = p.Ref.Key
		rec.BlobLength = p.Ref.ByteLength
		rec.BlobChunks = p.Ref.ChunkCount
	}
	return rec
}

func fromPlacementRecord(rec placementRecord) (store.Placement, error) {
	p := store.Placement{
		Kind:         store.PlacementKind(rec.Kind),
		OriginalSize: rec.OriginalSize,
		Compressed:   rec.Compressed,
	}
	switch p.Kind {
	case store.PlacementInline:
		p.Inline = rec.Inline
	case store.PlacementBlob:
		p.Ref = store.BlobRef{
			Key:        rec.BlobKey,
			ByteLength: rec.BlobLength,
			ChunkCount: rec.BlobChunks,
		}
	default:
		return store.Placement{}, fmt.Errorf("unknown placement kind %q", rec.Kind)
	}
	return p, nil
}

type datasetRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	RowCount    int64           `json:"row_count"`
	ColumnCount int             `json:"column_count"`
	Schema      []store.Column  `json:"schema"`
	Preview     []byte          `json:"preview"`
	Placement   placementRecord `json:"placement"`
	CreatedAt   time.Time       `json:"created_at"`
}

type workspaceRecord struct {
	ID                  string          `json:"id"`
	DatasetID           string          `json:"dataset_id"`
	Name                string          `json:"name"`
	Placement           placementRecord `json:"placement"`
	SizeBytes           int64           `json:"size_bytes"`
	CompressedSizeBytes *int64          `json:"compressed_size_bytes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type trainingRecord struct {
	ID        string             `json:"id"`
	DatasetID string             `json:"dataset_id"`
	Model     string             `json:"model"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

type feedbackRecord struct {
	ID           string    `json:"id"`
	DatasetID    string    `json:"dataset_id"`
	PredictionID string    `json:"prediction_id"`
	Predicted    string    `json:"predicted"`
	Actual       string    `json:"actual"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"created_at"`
}

func mapErr(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	return err
}

func getJSON(tx *badger.Txn, key []byte, out any) error {
	item, err := tx.Get(key)
	if err != nil {
		return mapErr(err)
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func setJSON(tx *badger.Txn, key []byte, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return tx.Set(key, raw)
}

// ---- Datasets ----

func (s *Store) InsertDataset(ctx context.Context, d store.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		rec := datasetRecord{
			ID:          d.ID.String(),
			Name:        d.Name,
			RowCount:    d.RowCount,
			ColumnCount: d.ColumnCount,
			Schema:      d.Schema,
			Preview:     d.Preview,
			Placement:   toPlacementRecord(d.Placement),
			CreatedAt:   d.CreatedAt,
		}
		return setJSON(tx, datasetKey(d.ID), rec)
	})
}

func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (store.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return store.Dataset{}, err
	}
	var out store.Dataset
	err := s.db.View(func(tx *badger.Txn) error {
		var rec datasetRecord
		if err := getJSON(tx, datasetKey(id), &rec); err != nil {
			return err
		}
		d, err := datasetFromRecord(rec)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	return out, err
}

func (s *Store) ListDatasets(ctx context.Context) ([]store.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []store.Dataset
	err := s.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(datasetPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec datasetRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			d, err := datasetFromRecord(rec)
			if err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		if _, err := tx.Get(datasetKey(id)); err != nil {
			return mapErr(err)
		}
		return tx.Delete(datasetKey(id))
	})
}

func datasetFromRecord(rec datasetRecord) (store.Dataset, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return store.Dataset{}, fmt.Errorf("parse dataset id: %w", err)
	}
	p, err := fromPlacementRecord(rec.Placement)
	if err != nil {
		return store.Dataset{}, err
	}
	return store.Dataset{
		ID:          id,
		Name:        rec.Name,
		RowCount:    rec.RowCount,
		ColumnCount: rec.ColumnCount,
		Schema:      rec.Schema,
		Preview:     rec.Preview,
		Placement:   p,
		CreatedAt:   rec.CreatedAt,
	}, nil
}

// ---- Workspaces ----

func (s *Store) InsertWorkspace(ctx context.Context, w store.Workspace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		if err := setJSON(tx, workspaceKey(w.ID), workspaceToRecord(w)); err != nil {
			return err
		}
		if err := tx.Set(workspaceDatasetKey(w.DatasetID, w.ID), []byte(w.ID.String())); err != nil {
			return err
		}
		return tx.Set(workspaceNameKey(w.DatasetID, w.Name), []byte(w.ID.String()))
	})
}

func (s *Store) GetWorkspace(ctx context.Context, id uuid.UUID) (store.Workspace, error) {
	if err := ctx.Err(); err != nil {
		return store.Workspace{}, err
	}
	var out store.Workspace
	err := s.db.View(func(tx *badger.Txn) error {
		return getWorkspace(tx, id, &out)
	})
	return out, err
}

func (s *Store) GetWorkspaceByName(ctx context.Context, datasetID uuid.UUID, name string) (store.Workspace, error) {
	if err := ctx.Err(); err != nil {
		return store.Workspace{}, err
	}
	var out store.Workspace
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(workspaceNameKey(datasetID, name))
		if err != nil {
			return mapErr(err)
		}
		var id uuid.UUID
		if err := item.Value(func(v []byte) error {
			parsed, perr := uuid.Parse(string(v))
			id = parsed
			return perr
		}); err != nil {
			return err
		}
		return getWorkspace(tx, id, &out)
	})
	return out, err
}

func (s *Store) ListWorkspacesByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []store.Workspace
	err := s.db.View(func(tx *badger.Txn) error {
		ids, err := idsByIndex(tx, []byte(workspaceByDataset+datasetID.String()+":"))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var w store.Workspace
			if err := getWorkspace(tx, id, &w); err != nil {
				return err
			}
			out = append(out, w)
		}
		return nil
	})
	return out, err
}

func (s *Store) UpdateWorkspace(ctx context.Context, w store.Workspace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		if _, err := tx.Get(workspaceKey(w.ID)); err != nil {
			return mapErr(err)
		}
		return setJSON(tx, workspaceKey(w.ID), workspaceToRecord(w))
	})
}

func (s *Store) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		var w store.Workspace
		if err := getWorkspace(tx, id, &w); err != nil {
			return err
		}
		if err := tx.Delete(workspaceKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(workspaceDatasetKey(w.DatasetID, id)); err != nil {
			return err
		}
		return tx.Delete(workspaceNameKey(w.DatasetID, w.Name))
	})
}

func getWorkspace(tx *badger.Txn, id uuid.UUID, out *store.Workspace) error {
	var rec workspaceRecord
	if err := getJSON(tx, workspaceKey(id), &rec); err != nil {
		return err
	}
	w, err := workspaceFromRecord(rec)
	if err != nil {
		return err
	}
	*out = w
	return nil
}

func workspaceToRecord(w store.Workspace) workspaceRecord {
	return workspaceRecord{
		ID:                  w.ID.String(),
		DatasetID:           w.DatasetID.String(),
		Name:                w.Name,
		Placement:           toPlacementRecord(w.Placement),
		SizeBytes:           w.SizeBytes,
		CompressedSizeBytes: w.CompressedSizeBytes,
		CreatedAt:           w.CreatedAt,
		UpdatedAt:           w.UpdatedAt,
	}
}

func workspaceFromRecord(rec workspaceRecord) (store.Workspace, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("parse workspace id: %w", err)
	}
	datasetID, err := uuid.Parse(rec.DatasetID)
	if err != nil {
		return store.Workspace{}, fmt.Errorf("parse workspace dataset id: %w", err)
	}
	p, err := fromPlacementRecord(rec.Placement)
	if err != nil {
		return store.Workspace{}, err
	}
	return store.Workspace{
		ID:                  id,
		DatasetID:           datasetID,
		Name:                rec.Name,
		Placement:           p,
		SizeBytes:           rec.SizeBytes,
		CompressedSizeBytes: rec.CompressedSizeBytes,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}, nil
}

// ---- Training records ----

func (s *Store) InsertTrainingRecord(ctx context.Context, r store.TrainingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		rec := trainingRecord{
			ID:        r.ID.String(),
			DatasetID: r.DatasetID.String(),
			Model:     r.Model,
			Metrics:   r.Metrics,
			CreatedAt: r.CreatedAt,
		}
		if err := setJSON(tx, trainingKey(r.ID), rec); err != nil {
			return err
		}
		return tx.Set(trainingDatasetKey(r.DatasetID, r.ID), []byte(r.ID.String()))
	})
}

func (s *Store) ListTrainingByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.TrainingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []store.TrainingRecord
	err := s.db.View(func(tx *badger.Txn) error {
		ids, err := idsByIndex(tx, []byte(trainingByDataset+datasetID.String()+":"))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var rec trainingRecord
			if err := getJSON(tx, trainingKey(id), &rec); err != nil {
				return err
			}
			r, err := trainingFromRecord(rec)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteTrainingRecord(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		var rec trainingRecord
		if err := getJSON(tx, trainingKey(id), &rec); err != nil {
			return err
		}
		datasetID, err := uuid.Parse(rec.DatasetID)
		if err != nil {
			return err
		}
		if err := tx.Delete(trainingKey(id)); err != nil {
			return err
		}
		return tx.Delete(trainingDatasetKey(datasetID, id))
	})
}

func trainingFromRecord(rec trainingRecord) (store.TrainingRecord, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return store.TrainingRecord{}, fmt.Errorf("parse training record id: %w", err)
	}
	datasetID, err := uuid.Parse(rec.DatasetID)
	if err != nil {
		return store.TrainingRecord{}, fmt.Errorf("parse training dataset id: %w", err)
	}
	return store.TrainingRecord{
		ID:        id,
		DatasetID: datasetID,
		Model:     rec.Model,
		Metrics:   rec.Metrics,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// ---- Feedback ----

func (s *Store) InsertFeedback(ctx context.Context, f store.Feedback) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		// prediction_id is unique across all feedback.
		if _, err := tx.Get(feedbackPredictionKey(f.PredictionID)); err == nil {
			return fmt.Errorf("%w: feedback for prediction %q already exists",
				store.ErrConflict, f.PredictionID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		rec := feedbackRecord{
			ID:           f.ID.String(),
			DatasetID:    f.DatasetID.String(),
			PredictionID: f.PredictionID,
			Predicted:    f.Predicted,
			Actual:       f.Actual,
			Comment:      f.Comment,
			CreatedAt:    f.CreatedAt,
		}
		if err := setJSON(tx, feedbackKey(f.ID), rec); err != nil {
			return err
		}
		if err := tx.Set(feedbackDatasetKey(f.DatasetID, f.ID), []byte(f.ID.String())); err != nil {
			return err
		}
		return tx.Set(feedbackPredictionKey(f.PredictionID), []byte(f.ID.String()))
	})
}

func (s *Store) GetFeedbackByPrediction(ctx context.Context, predictionID string) (store.Feedback, error) {
	if err := ctx.Err(); err != nil {
		return store.Feedback{}, err
	}
	var out store.Feedback
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(feedbackPredictionKey(predictionID))
		if err != nil {
			return mapErr(err)
		}
		var id uuid.UUID
		if err := item.Value(func(v []byte) error {
			parsed, perr := uuid.Parse(string(v))
			id = parsed
			return perr
		}); err != nil {
			return err
		}
		var rec feedbackRecord
		if err := getJSON(tx, feedbackKey(id), &rec); err != nil {
			return err
		}
		f, err := feedbackFromRecord(rec)
		if err != nil {
			return err
		}
		out = f
		return nil
	})
	return out, err
}

func (s *Store) ListFeedbackByDataset(ctx context.Context, datasetID uuid.UUID) ([]store.Feedback, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []store.Feedback
	err := s.db.View(func(tx *badger.Txn) error {
		ids, err := idsByIndex(tx, []byte(feedbackByDataset+datasetID.String()+":"))
		if err != nil {
			return err
		}
		for _, id := range ids {
			var rec feedbackRecord
			if err := getJSON(tx, feedbackKey(id), &rec); err != nil {
				return err
			}
			f, err := feedbackFromRecord(rec)
			if err != nil {
				return err
			}
			out = append(out, f)
		}
		return nil
	})
	return out, err
}

func (s *Store) DeleteFeedback(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *badger.Txn) error {
		var rec feedbackRecord
		if err := getJSON(tx, feedbackKey(id), &rec); err != nil {
			return err
		}
		datasetID, err := uuid.Parse(rec.DatasetID)
		if err != nil {
			return err
		}
		if err := tx.Delete(feedbackKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(feedbackDatasetKey(datasetID, id)); err != nil {
			return err
		}
		return tx.Delete(feedbackPredictionKey(rec.PredictionID))
	})
}

func feedbackFromRecord(rec feedbackRecord) (store.Feedback, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return store.Feedback{}, fmt.Errorf("parse feedback id: %w", err)
	}
	datasetID, err := uuid.Parse(rec.DatasetID)
	if err != nil {
		return store.Feedback{}, fmt.Errorf("parse feedback dataset id: %w", err)
	}
	return store.Feedback{
		ID:           id,
		DatasetID:    datasetID,
		PredictionID: rec.PredictionID,
		Predicted:    rec.Predicted,
		Actual:       rec.Actual,
		Comment:      rec.Comment,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

// idsByIndex collects record ids stored under an index prefix.
func idsByIndex(tx *badger.Txn, prefix []byte) ([]uuid.UUID, error) {
	it := tx.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	var ids []uuid.UUID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var id uuid.UUID
		if err := it.Item().Value(func(v []byte) error {
			parsed, perr := uuid.Parse(string(v))
			id = parsed
			return perr
		}); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
