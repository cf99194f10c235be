package codec

import (
	"bytes"
	"errors"
	"testing"

	"datavault/internal/store"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: []byte{}},
		{name: "nil", payload: nil},
		{name: "short", payload: []byte("hello")},
		{name: "binary", payload: []byte{0x00, 0xff, 0x13, 0x37, 0x00}},
		{name: "repetitive", payload: bytes.Repeat([]byte(`{"col":"value"},`), 4096)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			compressed, err := Compress(tt.payload)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			got, err := Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if !bytes.Equal(got, tt.payload) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.payload))
			}
		})
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte(`{"region":"eu-west","count":42},`), 8192)
	compressed, err := Compress(payload)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("compressed size %d >= original %d", len(compressed), len(payload))
	}
}

func TestDecompressMalformed(t *testing.T) {
	t.Parallel()

	_, err := Decompress([]byte("definitely not a gzip stream"))
	if !errors.Is(err, store.ErrCorruptBlob) {
		t.Fatalf("Decompress() error = %v, want ErrCorruptBlob", err)
	}
}
