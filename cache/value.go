package cache

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
)

// Value is anything the disk backend can append and later re-read:
// a symmetric little-endian WriteTo/ReadFrom pair, mirroring the Rust
// CacheValue trait's write/read symmetry (spec.md §4.L).
type Value interface {
	WriteTo(w io.Writer) error
	ReadFrom(r io.Reader) error
}

// WriteByte/ReadByte, WriteU32/ReadU32, WriteString/ReadString,
// WriteBlob/ReadBlob etc. give Value implementations a shared
// little-endian vocabulary without each one reimplementing binary.Write.

func WriteByte(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func ReadByte(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func WriteU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func ReadU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WriteU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func ReadU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func WriteBytes(w io.Writer, v []byte) error {
	if err := WriteU64(w, uint64(len(v))); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

func ReadBytes(r io.Reader) ([]byte, error) {
	n, err := ReadU64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func WriteString(w io.Writer, v string) error {
	return WriteBytes(w, []byte(v))
}

func ReadString(r io.Reader) (string, error) {
	b, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TileCoordValue adapts tilecoord.TileCoord to Value.
type TileCoordValue struct {
	Coord tilecoord.TileCoord
}

func (v TileCoordValue) WriteTo(w io.Writer) error {
	if err := WriteByte(w, v.Coord.Level); err != nil {
		return err
	}
	if err := WriteU32(w, v.Coord.X); err != nil {
		return err
	}
	return WriteU32(w, v.Coord.Y)
}

func (v *TileCoordValue) ReadFrom(r io.Reader) error {
	level, err := ReadByte(r)
	if err != nil {
		return err
	}
	x, err := ReadU32(r)
	if err != nil {
		return err
	}
	y, err := ReadU32(r)
	if err != nil {
		return err
	}
	v.Coord = tilecoord.TileCoord{Level: level, X: x, Y: y}
	return nil
}

// BlobValue adapts a blob.Tile (bytes + format + compression tag) to Value.
type BlobValue struct {
	Tile blob.Tile
}

func (v BlobValue) WriteTo(w io.Writer) error {
	if err := WriteByte(w, uint8(v.Tile.Format())); err != nil {
		return err
	}
	if err := WriteByte(w, uint8(v.Tile.Compression())); err != nil {
		return err
	}
	return WriteBytes(w, v.Tile.Bytes())
}

func (v *BlobValue) ReadFrom(r io.Reader) error {
	format, err := ReadByte(r)
	if err != nil {
		return err
	}
	compression, err := ReadByte(r)
	if err != nil {
		return err
	}
	data, err := ReadBytes(r)
	if err != nil {
		return err
	}
	v.Tile = blob.FromBlob(blob.New(data), blob.TileCompression(compression), blob.TileFormat(format))
	return nil
}

// CoordTileValue pairs a TileCoord with a Tile, the shape traversal Push
// steps append into a slot and Pop steps read back out (spec.md §4.F
// execution: "append (coord, tile) pairs into cache slot").
type CoordTileValue struct {
	Coord tilecoord.TileCoord
	Tile  blob.Tile
}

func (v CoordTileValue) WriteTo(w io.Writer) error {
	if err := (TileCoordValue{Coord: v.Coord}).WriteTo(w); err != nil {
		return err
	}
	return (BlobValue{Tile: v.Tile}).WriteTo(w)
}

func (v *CoordTileValue) ReadFrom(r io.Reader) error {
	var cv TileCoordValue
	if err := cv.ReadFrom(r); err != nil {
		return err
	}
	var bv BlobValue
	if err := bv.ReadFrom(r); err != nil {
		return err
	}
	v.Coord = cv.Coord
	v.Tile = bv.Tile
	return nil
}

// ImageValue adapts a decoded raster to Value: a channel-count byte (1
// for grayscale, 4 for NRGBA), width, height, then raw pixel rows. The
// variant is inferred back from the channel count on read (spec.md §4.L).
type ImageValue struct {
	Image image.Image
}

func (v ImageValue) WriteTo(w io.Writer) error {
	switch img := v.Image.(type) {
	case *image.Gray:
		b := img.Bounds()
		if err := WriteByte(w, 1); err != nil {
			return err
		}
		if err := WriteU32(w, uint32(b.Dx())); err != nil {
			return err
		}
		if err := WriteU32(w, uint32(b.Dy())); err != nil {
			return err
		}
		return WriteBytes(w, img.Pix)
	case *image.NRGBA:
		b := img.Bounds()
		if err := WriteByte(w, 4); err != nil {
			return err
		}
		if err := WriteU32(w, uint32(b.Dx())); err != nil {
			return err
		}
		if err := WriteU32(w, uint32(b.Dy())); err != nil {
			return err
		}
		return WriteBytes(w, img.Pix)
	default:
		return fmt.Errorf("cache: unsupported image type %T", v.Image)
	}
}

func (v *ImageValue) ReadFrom(r io.Reader) error {
	channels, err := ReadByte(r)
	if err != nil {
		return err
	}
	width, err := ReadU32(r)
	if err != nil {
		return err
	}
	height, err := ReadU32(r)
	if err != nil {
		return err
	}
	pix, err := ReadBytes(r)
	if err != nil {
		return err
	}
	if uint64(len(pix)) != uint64(channels)*uint64(width)*uint64(height) {
		return fmt.Errorf("cache: image pixel data is %d bytes, want %d", len(pix), uint64(channels)*uint64(width)*uint64(height))
	}
	rect := image.Rect(0, 0, int(width), int(height))
	switch channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, pix)
		v.Image = img
	case 4:
		img := image.NewNRGBA(rect)
		copy(img.Pix, pix)
		v.Image = img
	default:
		return fmt.Errorf("cache: unsupported channel count %d", channels)
	}
	return nil
}
