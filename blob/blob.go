// Package blob implements the immutable byte-blob type and the tile
// compression/format tags that sit underneath every container reader
// and writer in this module.
package blob

import "bytes"

// Blob is an owned, immutable byte buffer.
type Blob struct {
	data []byte
}

// New wraps a byte slice as a Blob. The caller must not mutate data
// afterwards.
func New(data []byte) Blob {
	return Blob{data: data}
}

// FromString wraps a string's bytes as a Blob.
func FromString(s string) Blob {
	return Blob{data: []byte(s)}
}

// Len returns the number of bytes in the blob.
func (b Blob) Len() int {
	return len(b.data)
}

// Bytes returns a view of the underlying bytes. Callers must treat the
// result as read-only.
func (b Blob) Bytes() []byte {
	return b.data
}

// Equal reports whether two blobs contain identical bytes.
func (b Blob) Equal(o Blob) bool {
	return bytes.Equal(b.data, o.data)
}

// IsEmpty reports whether the blob has zero length.
func (b Blob) IsEmpty() bool {
	return len(b.data) == 0
}
