// Package repo provides domain-level CRUD for datasets, workspaces,
// training records and feedback over the active storage backend. It composes
// placement decisions with the backend's metadata and blob adapters, and
// enforces cascade deletion where the backend has no native support for it.
package repo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"datavault/internal/codec"
	"datavault/internal/placement"
	"datavault/internal/store"
)

// DefaultPreviewRows bounds the inlined dataset sample.
const DefaultPreviewRows = 20

type Repository struct {
	factory     *store.Factory
	router      placement.Router
	previewRows int
	logger      *slog.Logger
}

func New(factory *store.Factory, router placement.Router, previewRows int) *Repository {
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	return &Repository{
		factory:     factory,
		router:      router,
		previewRows: previewRows,
		logger:      slog.Default(),
	}
}

// CurrentBackend reports the active backend kind.
func (r *Repository) CurrentBackend() store.Kind {
	return r.factory.Current()
}

// SwitchBackend activates another backend family. Existing data is not
// migrated: entities written before the switch are only visible again once
// their backend is active.
func (r *Repository) SwitchBackend(ctx context.Context, kind store.Kind) error {
	return r.factory.Switch(ctx, kind)
}

// ---- Datasets ----

// SaveDataset ingests a payload of newline-delimited rows. The preview
// sample is computed before placement so it is available inline even when
// the full payload is offloaded to blob storage.
func (r *Repository) SaveDataset(ctx context.Context, name string, schema []store.Column, payload []byte) (store.Dataset, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return store.Dataset{}, err
	}
	defer release()

	preview := previewSample(payload, r.previewRows, r.router.InlineThreshold)
	decision, err := r.router.Place(payload)
	if err != nil {
		return store.Dataset{}, err
	}

	p, cleanup, err := r.persistPlacement(ctx, b, decision)
	if err != nil {
		return store.Dataset{}, err
	}

	d := store.Dataset{
		ID:          uuid.New(),
		Name:        name,
		RowCount:    countRows(payload),
		ColumnCount: len(schema),
		Schema:      schema,
		Preview:     preview,
		Placement:   p,
		CreatedAt:   time.Now().UTC(),
	}
	if err := b.Meta.InsertDataset(ctx, d); err != nil {
		cleanup(ctx)
		return store.Dataset{}, fmt.Errorf("%w: dataset %s: %v", store.ErrPartialWrite, d.ID, err)
	}
	return d, nil
}

// LoadDataset returns the full original payload and the dataset schema.
func (r *Repository) LoadDataset(ctx context.Context, id uuid.UUID) ([]byte, []store.Column, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return nil, nil, err
	}
	defer release()

	d, err := b.Meta.GetDataset(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payload, err := r.resolvePayload(ctx, b, d.Placement)
	if err != nil {
		return nil, nil, fmt.Errorf("load dataset %s: %w", id, err)
	}
	return payload, d.Schema, nil
}

// GetDataset returns the dataset record without resolving its payload.
func (r *Repository) GetDataset(ctx context.Context, id uuid.UUID) (store.Dataset, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return store.Dataset{}, err
	}
	defer release()
	return b.Meta.GetDataset(ctx, id)
}

// ListDatasets returns all dataset records in the active backend.
func (r *Repository) ListDatasets(ctx context.Context) ([]store.Dataset, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return b.Meta.ListDatasets(ctx)
}

// DeleteDataset cascades: every workspace, training record and feedback
// record referencing the dataset is removed first, each blob before its
// owning metadata record. If any child deletion fails the dataset itself is
// left in place and the error surfaces; the cascade is best-effort
// sequential, not atomic.
func (r *Repository) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return err
	}
	defer release()

	d, err := b.Meta.GetDataset(ctx, id)
	if err != nil {
		return err
	}

	workspaces, err := b.Meta.ListWorkspacesByDataset(ctx, id)
	if err != nil {
		return fmt.Errorf("list workspaces for dataset %s: %w", id, err)
	}
	for _, w := range workspaces {
		if err := r.deleteWorkspaceRecord(ctx, b, w); err != nil {
			return fmt.Errorf("cascade delete workspace %s: %w", w.ID, err)
		}
	}

	training, err := b.Meta.ListTrainingByDataset(ctx, id)
	if err != nil {
		return fmt.Errorf("list training records for dataset %s: %w", id, err)
	}
	for _, t := range training {
		if err := b.Meta.DeleteTrainingRecord(ctx, t.ID); err != nil {
			return fmt.Errorf("cascade delete training record %s: %w", t.ID, err)
		}
	}

	feedback, err := b.Meta.ListFeedbackByDataset(ctx, id)
	if err != nil {
		return fmt.Errorf("list feedback for dataset %s: %w", id, err)
	}
	for _, f := range feedback {
		if err := b.Meta.DeleteFeedback(ctx, f.ID); err != nil {
			return fmt.Errorf("cascade delete feedback %s: %w", f.ID, err)
		}
	}

	if d.Placement.Kind == store.PlacementBlob {
		if err := b.Blobs.Delete(ctx, d.Placement.Ref); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("delete dataset blob %s: %w", d.Placement.Ref.Key, err)
		}
	}
	return b.Meta.DeleteDataset(ctx, id)
}

// ---- Workspaces ----

// SaveWorkspace persists an analysis state for a dataset. Saves are keyed on
// (dataset, name): an existing workspace under the same name is overwritten
// rather than duplicated. Concurrent saves to the same key race at
// last-write-wins granularity.
func (r *Repository) SaveWorkspace(ctx context.Context, datasetID uuid.UUID, name string, payload []byte) (store.Workspace, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return store.Workspace{}, err
	}
	defer release()

	if _, err := b.Meta.GetDataset(ctx, datasetID); err != nil {
		if store.IsNotFound(err) {
			return store.Workspace{}, fmt.Errorf("%w: dataset %s", store.ErrBadReference, datasetID)
		}
		return store.Workspace{}, err
	}

	decision, err := r.router.Place(payload)
	if err != nil {
		return store.Workspace{}, err
	}
	p, cleanup, err := r.persistPlacement(ctx, b, decision)
	if err != nil {
		return store.Workspace{}, err
	}

	var compressedSize *int64
	if decision.Compressed {
		n := int64(len(decision.Bytes))
		compressedSize = &n
	}

	now := time.Now().UTC()
	existing, err := b.Meta.GetWorkspaceByName(ctx, datasetID, name)
	switch {
	case err == nil:
		w := existing
		w.Placement = p
		w.SizeBytes = decision.OriginalSize
		w.CompressedSizeBytes = compressedSize
		w.UpdatedAt = now
		if err := b.Meta.UpdateWorkspace(ctx, w); err != nil {
			cleanup(ctx)
			return store.Workspace{}, fmt.Errorf("%w: workspace %s: %v", store.ErrPartialWrite, w.ID, err)
		}
		// The previous payload's blob is unreachable now; remove it.
		if existing.Placement.Kind == store.PlacementBlob {
			if derr := b.Blobs.Delete(ctx, existing.Placement.Ref); derr != nil && !store.IsNotFound(derr) {
				r.logger.Warn("delete superseded workspace blob",
					"workspace", w.ID.String(), "blob", existing.Placement.Ref.Key, "error", derr)
			}
		}
		return w, nil
	case store.IsNotFound(err):
		w := store.Workspace{
			ID:                  uuid.New(),
			DatasetID:           datasetID,
			Name:                name,
			Placement:           p,
			SizeBytes:           decision.OriginalSize,
			CompressedSizeBytes: compressedSize,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := b.Meta.InsertWorkspace(ctx, w); err != nil {
			cleanup(ctx)
			return store.Workspace{}, fmt.Errorf("%w: workspace %s: %v", store.ErrPartialWrite, w.ID, err)
		}
		return w, nil
	default:
		cleanup(ctx)
		return store.Workspace{}, err
	}
}

// LoadWorkspace returns the workspace's original payload.
func (r *Repository) LoadWorkspace(ctx context.Context, id uuid.UUID) ([]byte, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	w, err := b.Meta.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	payload, err := r.resolvePayload(ctx, b, w.Placement)
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", id, err)
	}
	return payload, nil
}

// ListWorkspaces returns summaries of all workspaces saved for a dataset.
func (r *Repository) ListWorkspaces(ctx context.Context, datasetID uuid.UUID) ([]store.WorkspaceSummary, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	workspaces, err := b.Meta.ListWorkspacesByDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	out := make([]store.WorkspaceSummary, 0, len(workspaces))
	for _, w := range workspaces {
		out = append(out, store.WorkspaceSummary{
			ID:        w.ID,
			Name:      w.Name,
			SizeBytes: w.SizeBytes,
			CreatedAt: w.CreatedAt,
		})
	}
	return out, nil
}

// DeleteWorkspace removes a single workspace: blob first, then metadata.
func (r *Repository) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return err
	}
	defer release()

	w, err := b.Meta.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	return r.deleteWorkspaceRecord(ctx, b, w)
}

func (r *Repository) deleteWorkspaceRecord(ctx context.Context, b *store.Backend, w store.Workspace) error {
	if w.Placement.Kind == store.PlacementBlob {
		if err := b.Blobs.Delete(ctx, w.Placement.Ref); err != nil && !store.IsNotFound(err) {
			return fmt.Errorf("delete workspace blob %s: %w", w.Placement.Ref.Key, err)
		}
	}
	return b.Meta.DeleteWorkspace(ctx, w.ID)
}

// ---- Training records ----

// RecordTraining stores scalar metrics from a model training run. Metrics
// are never blob-eligible; they go straight to metadata.
func (r *Repository) RecordTraining(ctx context.Context, datasetID uuid.UUID, model string, metrics map[string]float64) (store.TrainingRecord, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return store.TrainingRecord{}, err
	}
	defer release()

	if _, err := b.Meta.GetDataset(ctx, datasetID); err != nil {
		if store.IsNotFound(err) {
			return store.TrainingRecord{}, fmt.Errorf("%w: dataset %s", store.ErrBadReference, datasetID)
		}
		return store.TrainingRecord{}, err
	}

	t := store.TrainingRecord{
		ID:        uuid.New(),
		DatasetID: datasetID,
		Model:     model,
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.Meta.InsertTrainingRecord(ctx, t); err != nil {
		return store.TrainingRecord{}, err
	}
	return t, nil
}

// ListTraining returns all training records for a dataset.
func (r *Repository) ListTraining(ctx context.Context, datasetID uuid.UUID) ([]store.TrainingRecord, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return b.Meta.ListTrainingByDataset(ctx, datasetID)
}

// ---- Feedback ----

// RecordFeedback stores a user correction for a prediction. A prediction id
// can carry at most one feedback record.
func (r *Repository) RecordFeedback(ctx context.Context, datasetID uuid.UUID, predictionID, predicted, actual, comment string) (store.Feedback, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return store.Feedback{}, err
	}
	defer release()

	if _, err := b.Meta.GetDataset(ctx, datasetID); err != nil {
		if store.IsNotFound(err) {
			return store.Feedback{}, fmt.Errorf("%w: dataset %s", store.ErrBadReference, datasetID)
		}
		return store.Feedback{}, err
	}

	f := store.Feedback{
		ID:           uuid.New(),
		DatasetID:    datasetID,
		PredictionID: predictionID,
		Predicted:    predicted,
		Actual:       actual,
		Comment:      comment,
		CreatedAt:    time.Now().UTC(),
	}
	if err := b.Meta.InsertFeedback(ctx, f); err != nil {
		return store.Feedback{}, err
	}
	return f, nil
}

// ListFeedback returns all feedback records for a dataset.
func (r *Repository) ListFeedback(ctx context.Context, datasetID uuid.UUID) ([]store.Feedback, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return b.Meta.ListFeedbackByDataset(ctx, datasetID)
}

// ---- placement plumbing ----

// persistPlacement turns a routing decision into a stored Placement,
// writing the blob when required. The returned cleanup removes the blob if
// the subsequent metadata write fails; for inline placements it is a no-op.
func (r *Repository) persistPlacement(ctx context.Context, b *store.Backend, d placement.Decision) (store.Placement, func(context.Context), error) {
	p := store.Placement{
		Kind:         d.Kind,
		OriginalSize: d.OriginalSize,
		Compressed:   d.Compressed,
	}
	noop := func(context.Context) {}

	switch d.Kind {
	case store.PlacementInline:
		p.Inline = d.Bytes
		return p, noop, nil
	case store.PlacementBlob:
		ref, err := b.Blobs.Put(ctx, d.Bytes)
		if err != nil {
			return store.Placement{}, noop, fmt.Errorf("write blob: %w", err)
		}
		p.Ref = ref
		cleanup := func(cctx context.Context) {
			// Best effort; a leftover blob is found by the audit sweep.
			if derr := b.Blobs.Delete(cctx, ref); derr != nil {
				r.logger.Warn("cleanup orphaned blob", "blob", ref.Key, "error", derr)
			}
		}
		return p, cleanup, nil
	default:
		return store.Placement{}, noop, fmt.Errorf("unknown placement kind %q", d.Kind)
	}
}

// resolvePayload reconstructs the original payload bytes from a placement.
func (r *Repository) resolvePayload(ctx context.Context, b *store.Backend, p store.Placement) ([]byte, error) {
	var raw []byte
	switch p.Kind {
	case store.PlacementInline:
		raw = p.Inline
	case store.PlacementBlob:
		data, err := b.Blobs.Get(ctx, p.Ref)
		if err != nil {
			return nil, err
		}
		raw = data
	default:
		return nil, fmt.Errorf("unknown placement kind %q", p.Kind)
	}

	if !p.Compressed {
		return raw, nil
	}
	payload, err := codec.Decompress(raw)
	if err != nil {
		return nil, err
	}
	if int64(len(payload)) != p.OriginalSize {
		return nil, fmt.Errorf("%w: decompressed to %d bytes, expected %d",
			store.ErrCorruptBlob, len(payload), p.OriginalSize)
	}
	return payload, nil
}

// previewSample takes the first rows newline-delimited lines, truncating so
// the sample always stays below the inline threshold.
func previewSample(payload []byte, rows, inlineThreshold int) []byte {
	sample := payload
	if idx := nthLineEnd(payload, rows); idx >= 0 {
		sample = payload[:idx]
	}
	if inlineThreshold > 0 && len(sample) >= inlineThreshold {
		sample = sample[:inlineThreshold-1]
	}
	out := make([]byte, len(sample))
	copy(out, sample)
	return out
}

// nthLineEnd returns the byte offset just past the n-th newline, or -1 if
// the payload has fewer lines.
func nthLineEnd(payload []byte, n int) int {
	offset := 0
	for i := 0; i < n; i++ {
		idx := bytes.IndexByte(payload[offset:], '\n')
		if idx < 0 {
			return -1
		}
		offset += idx + 1
	}
	return offset
}

// countRows counts non-empty newline-delimited rows.
func countRows(payload []byte) int64 {
	var n int64
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
	}
	return n
}
