// Package codec compresses entity payloads before they are offloaded to
// blob storage. Pure byte-in/byte-out, no I/O.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"datavault/internal/store"
)

// Compress gzips p. Compress(nil) and Compress([]byte{}) both produce a
// valid empty stream that Decompress restores to zero bytes.
func Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Malformed input fails with ErrCorruptBlob.
func Decompress(p []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, fmt.Errorf("%w: open gzip stream: %v", store.ErrCorruptBlob, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read gzip stream: %v", store.ErrCorruptBlob, err)
	}
	return out, nil
}
