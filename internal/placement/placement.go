// Package placement decides, per payload, whether to store it inline with
// its metadata record or offload it to blob storage, and whether to compress
// it first. Decisions are pure; the caller performs the actual write against
// the active backend.
package placement

import (
	"fmt"

	"datavault/internal/codec"
	"datavault/internal/store"
)

// Router holds the deployment-tuned thresholds. Relational backends with
// tight row-size limits typically run with a smaller InlineThreshold.
type Router struct {
	// InlineThreshold is the payload size (bytes) at which storage moves
	// from inline to blob. A payload of exactly this size goes to blob.
	InlineThreshold int

	// CompressThreshold is the blob payload size at or above which the
	// payload is compressed before storage.
	CompressThreshold int
}

// Decision is the router's output, produced before any I/O occurs.
type Decision struct {
	Kind store.PlacementKind

	// Bytes is what the caller persists: the raw payload for inline and
	// uncompressed blob placements, the compressed payload otherwise.
	Bytes        []byte
	Compressed   bool
	OriginalSize int64
}

// Place routes a payload. Never performs I/O.
func (r Router) Place(payload []byte) (Decision, error) {
	if r.InlineThreshold <= 0 || r.CompressThreshold <= 0 {
		return Decision{}, fmt.Errorf("placement thresholds must be positive (inline=%d compress=%d)",
			r.InlineThreshold, r.CompressThreshold)
	}

	d := Decision{OriginalSize: int64(len(payload))}
	if len(payload) < r.InlineThreshold {
		d.Kind = store.PlacementInline
		d.Bytes = payload
		return d, nil
	}

	d.Kind = store.PlacementBlob
	if len(payload) >= r.CompressThreshold {
		compressed, err := codec.Compress(payload)
		if err != nil {
			return Decision{}, fmt.Errorf("compress payload: %w", err)
		}
		d.Bytes = compressed
		d.Compressed = true
		return d, nil
	}
	d.Bytes = payload
	return d, nil
}
