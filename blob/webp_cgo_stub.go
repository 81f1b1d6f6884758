//go:build !cgo

package blob

import (
	"fmt"
	"image"
)

// encodeWebP is unavailable without cgo; decode still works through
// github.com/gen2brain/webp's WASM runtime.
func encodeWebP(_ image.Image, _ int) ([]byte, error) {
	return nil, fmt.Errorf("%w: webp: native libwebp encoder requires CGO_ENABLED=1 and libwebp-dev", ErrEncodeError)
}
