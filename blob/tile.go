package blob

import (
	"fmt"
	"image"
)

// Tile pairs a Blob with its declared compression, format, and an
// optional re-encode quality hint (0 means "unspecified", handled as
// a sane per-codec default).
type Tile struct {
	data        Blob
	compression TileCompression
	format      TileFormat
	quality     int
}

// FromBlob stores a blob under its declared encoding without decoding it.
func FromBlob(data Blob, compression TileCompression, format TileFormat) Tile {
	return Tile{data: data, compression: compression, format: format}
}

// Format returns the tile's declared format.
func (t Tile) Format() TileFormat { return t.format }

// Compression returns the tile's declared compression.
func (t Tile) Compression() TileCompression { return t.compression }

// WithQuality returns a copy of t carrying a re-encode quality hint.
func (t Tile) WithQuality(q int) Tile {
	t.quality = q
	return t
}

// AsBlob returns the tile's bytes under targetCompression, decompressing
// once if the stored bytes are under a different compression. The
// returned Tile's internal tag reflects the new state.
func (t Tile) AsBlob(target TileCompression) (Tile, error) {
	if target == t.compression {
		return t, nil
	}
	raw, err := Decompress(t.data.Bytes(), t.compression)
	if err != nil {
		return Tile{}, err
	}
	out, err := Compress(raw, target)
	if err != nil {
		return Tile{}, err
	}
	return Tile{data: New(out), compression: target, format: t.format, quality: t.quality}, nil
}

// IntoImage decodes the tile using its format's registered ImageCodec.
// Errors if the format is not raster.
func (t Tile) IntoImage() (image.Image, error) {
	if t.format.Category() != CategoryImage {
		return nil, fmt.Errorf("%w: %s is not a raster format", ErrUnsupportedFormat, t.format)
	}
	raw, err := Decompress(t.data.Bytes(), t.compression)
	if err != nil {
		return nil, err
	}
	codec, err := ImageCodecFor(t.format)
	if err != nil {
		return nil, err
	}
	return codec.Decode(raw)
}

// FromImage encodes img into targetFormat/targetCompression, producing a
// new Tile. Used by format-conversion and by VPL raster operations.
func FromImage(img image.Image, targetFormat TileFormat, targetCompression TileCompression, quality int) (Tile, error) {
	codec, err := ImageCodecFor(targetFormat)
	if err != nil {
		return Tile{}, err
	}
	raw, err := codec.Encode(img, quality)
	if err != nil {
		return Tile{}, err
	}
	out, err := Compress(raw, targetCompression)
	if err != nil {
		return Tile{}, err
	}
	return Tile{data: New(out), compression: targetCompression, format: targetFormat, quality: quality}, nil
}

// IntoBlob consumes the tile, converting format and/or compression.
// Format conversion between the image and vector categories always
// fails: only the decoded representation (image or parsed vector tile)
// may change shape, and this package has no vector-tile transcoder —
// that lives behind the VectorTileCodec collaborator interface used by
// package vpl.
func (t Tile) IntoBlob(targetFormat TileFormat, targetCompression TileCompression) (Tile, error) {
	if targetFormat == t.format {
		return t.AsBlob(targetCompression)
	}

	if t.format.Category() != targetFormat.Category() || t.format.Category() == CategoryUnknown {
		return Tile{}, fmt.Errorf("%w: cannot convert %s to %s", ErrUnsupportedFormat, t.format, targetFormat)
	}

	switch t.format.Category() {
	case CategoryImage:
		img, err := t.IntoImage()
		if err != nil {
			return Tile{}, err
		}
		return FromImage(img, targetFormat, targetCompression, t.quality)
	default:
		// Vector-to-vector reformatting needs a format-specific decoder
		// this package deliberately does not own (spec.md §1).
		return Tile{}, fmt.Errorf("%w: vector format conversion %s->%s requires a VectorTileCodec", ErrUnsupportedFormat, t.format, targetFormat)
	}
}

// Len returns the length of the tile's stored (possibly compressed) bytes.
func (t Tile) Len() int { return t.data.Len() }

// Bytes returns the tile's stored bytes under its current declared
// compression, without decoding.
func (t Tile) Bytes() []byte { return t.data.Bytes() }
