package store

import "errors"

var (
	// ErrNotFound indicates the id has no record in the active backend.
	ErrNotFound = errors.New("record not found")

	// ErrBadReference indicates a required parent entity does not exist,
	// e.g. saving a workspace against a deleted dataset.
	ErrBadReference = errors.New("referenced entity does not exist")

	// ErrCorruptBlob indicates a blob could not be reconstructed: a chunk
	// is missing or out of order, or decompression failed.
	ErrCorruptBlob = errors.New("corrupt blob")

	// ErrPartialWrite indicates a blob was written but the owning metadata
	// record was not. The operation failed; the blob is orphaned until an
	// audit sweep removes it.
	ErrPartialWrite = errors.New("partial write: blob stored without metadata")

	// ErrUnavailable indicates a transient backend connectivity failure.
	// Callers may retry with backoff; this layer never retries internally.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrClosed indicates the backend has been closed or swapped out.
	ErrClosed = errors.New("backend closed")

	// ErrConflict indicates a uniqueness violation, e.g. two feedback
	// records for the same prediction id.
	ErrConflict = errors.New("conflict")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
