package repo

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"datavault/internal/store"
)

// AuditReport is the result of an orphan sweep.
type AuditReport struct {
	// Orphans are blobs with no owning metadata record.
	Orphans []store.BlobRef
	// Removed counts orphans deleted when the sweep ran with remove set.
	Removed int
}

// Audit performs the out-of-band orphan sweep: it lists every blob in the
// active backend and diffs against the blob refs held by dataset and
// workspace records. Orphans are only deleted when remove is set; the
// normal write path never cleans up retroactively.
//
// The sweep is advisory. A blob written by an operation that is still in
// flight can be reported as orphaned, so removal is meant for quiesced
// systems (maintenance windows, post-crash cleanup).
func (r *Repository) Audit(ctx context.Context, remove bool) (AuditReport, error) {
	b, release, err := r.factory.Acquire()
	if err != nil {
		return AuditReport{}, err
	}
	defer release()

	referenced := make(map[string]struct{})
	var mu sync.Mutex

	datasets, err := b.Meta.ListDatasets(ctx)
	if err != nil {
		return AuditReport{}, err
	}

	// Dataset refs are collected before any goroutine starts; only the
	// workspace scans touch the map concurrently, under mu.
	for _, d := range datasets {
		if d.Placement.Kind == store.PlacementBlob {
			referenced[d.Placement.Ref.Key] = struct{}{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range datasets {
		d := d
		g.Go(func() error {
			workspaces, err := b.Meta.ListWorkspacesByDataset(gctx, d.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, w := range workspaces {
				if w.Placement.Kind == store.PlacementBlob {
					referenced[w.Placement.Ref.Key] = struct{}{}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return AuditReport{}, err
	}

	all, err := b.Blobs.List(ctx)
	if err != nil {
		return AuditReport{}, err
	}

	var report AuditReport
	for _, ref := range all {
		if _, ok := referenced[ref.Key]; ok {
			continue
		}
		report.Orphans = append(report.Orphans, ref)
	}

	if remove {
		for _, ref := range report.Orphans {
			if err := b.Blobs.Delete(ctx, ref); err != nil && !store.IsNotFound(err) {
				return report, err
			}
			report.Removed++
		}
	}
	return report, nil
}
