package blob

import "errors"

// Error kinds shared by codec and conversion failures (spec.md §7).
var (
	ErrUnsupportedFormat    = errors.New("blob: unsupported format")
	ErrDecodeError          = errors.New("blob: decode error")
	ErrEncodeError          = errors.New("blob: encode error")
	ErrMismatchedCompression = errors.New("blob: mismatched compression")
)
