// Package versatiles implements the VersaTiles block/tile-index
// container (spec.md §4.G.3/§4.H): a brotli-compressed BlockIndex of
// 256x256-tile BlockDefinitions, each pointing at its own
// brotli-compressed per-block TileIndex and a contiguous tiles range.
// No reference Go implementation of this exact format exists in the
// retrieved pack (see DESIGN.md); the binary layout below is this
// package's own concrete encoding of spec.md §4.G.3's structural
// description, built in the same manual little-endian style as the
// teacher's PMTiles header/directory code.
package versatiles

import (
	"encoding/binary"
	"fmt"

	"github.com/pspoerri/tilepipe/blob"
)

// Magic is the fixed file signature, matching spec.md §6's literal
// "versatiles_v02".
const Magic = "versatiles_v02"

// HeaderSize is the fixed on-disk size of a VersaTiles header:
// 14-byte magic + format byte + compression byte + 4 uint64 ranges.
const HeaderSize = len(Magic) + 2 + 8*4

// BlockSize is the fixed tile-space extent of one block along each axis.
const BlockSize = 256

// blockLevel is the synthetic TileBBox.Level used to represent a
// block-local coordinate space (0..255), chosen because 2^8-1 == 255
// exactly matches BlockSize-1 and lets this package reuse
// tilecoord.TileBBox.IndexOf/CoordAtIndex for local tile indexing.
const blockLevel = 8

// Header is the fixed preamble of a VersaTiles archive.
type Header struct {
	Format          blob.TileFormat
	Compression     blob.TileCompression
	MetaOffset      uint64
	MetaLength      uint64
	BlocksOffset    uint64
	BlocksLength    uint64
}

// Serialize writes the fixed-size header.
func (h Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:len(Magic)], Magic)
	off := len(Magic)
	buf[off] = tileFormatTag(h.Format)
	buf[off+1] = tileCompressionTag(h.Compression)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], h.MetaOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.MetaLength)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.BlocksOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], h.BlocksLength)
	return buf
}

// DeserializeHeader parses and validates a fixed-size header.
func DeserializeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("versatiles: header too short (%d bytes)", len(buf))
	}
	if string(buf[0:len(Magic)]) != Magic {
		return Header{}, fmt.Errorf("versatiles: bad magic %q", buf[0:len(Magic)])
	}
	off := len(Magic)
	format, err := tileFormatFromTag(buf[off])
	if err != nil {
		return Header{}, err
	}
	compression, err := tileCompressionFromTag(buf[off+1])
	if err != nil {
		return Header{}, err
	}
	off += 2
	h := Header{
		Format:       format,
		Compression:  compression,
		MetaOffset:   binary.LittleEndian.Uint64(buf[off:]),
		MetaLength:   binary.LittleEndian.Uint64(buf[off+8:]),
		BlocksOffset: binary.LittleEndian.Uint64(buf[off+16:]),
		BlocksLength: binary.LittleEndian.Uint64(buf[off+24:]),
	}
	return h, nil
}

// On-disk compression tags, a private tag space analogous to PMTiles's
// header byte (spec.md §9: every container keeps its own on-disk enum
// rather than leaking blob.TileCompression's iota values to disk).
const (
	compressionNone uint8 = iota
	compressionGzip
	compressionBrotli
	compressionZstd
)

func tileCompressionTag(c blob.TileCompression) uint8 {
	switch c {
	case blob.Gzip:
		return compressionGzip
	case blob.Brotli:
		return compressionBrotli
	case blob.Zstd:
		return compressionZstd
	default:
		return compressionNone
	}
}

func tileCompressionFromTag(tag uint8) (blob.TileCompression, error) {
	switch tag {
	case compressionNone:
		return blob.Uncompressed, nil
	case compressionGzip:
		return blob.Gzip, nil
	case compressionBrotli:
		return blob.Brotli, nil
	case compressionZstd:
		return blob.Zstd, nil
	default:
		return 0, fmt.Errorf("versatiles: unknown compression tag %d", tag)
	}
}

const (
	formatUnknown uint8 = iota
	formatPNG
	formatJPG
	formatWebP
	formatAVIF
	formatSVG
	formatMVT
	formatGeoJSON
	formatTopoJSON
	formatJSON
	formatBIN
)

func tileFormatTag(f blob.TileFormat) uint8 {
	switch f {
	case blob.FormatPNG:
		return formatPNG
	case blob.FormatJPG:
		return formatJPG
	case blob.FormatWebP:
		return formatWebP
	case blob.FormatAVIF:
		return formatAVIF
	case blob.FormatSVG:
		return formatSVG
	case blob.FormatMVT:
		return formatMVT
	case blob.FormatGeoJSON:
		return formatGeoJSON
	case blob.FormatTopoJSON:
		return formatTopoJSON
	case blob.FormatJSON:
		return formatJSON
	case blob.FormatBIN:
		return formatBIN
	default:
		return formatUnknown
	}
}

func tileFormatFromTag(tag uint8) (blob.TileFormat, error) {
	switch tag {
	case formatPNG:
		return blob.FormatPNG, nil
	case formatJPG:
		return blob.FormatJPG, nil
	case formatWebP:
		return blob.FormatWebP, nil
	case formatAVIF:
		return blob.FormatAVIF, nil
	case formatSVG:
		return blob.FormatSVG, nil
	case formatMVT:
		return blob.FormatMVT, nil
	case formatGeoJSON:
		return blob.FormatGeoJSON, nil
	case formatTopoJSON:
		return blob.FormatTopoJSON, nil
	case formatJSON:
		return blob.FormatJSON, nil
	case formatBIN:
		return blob.FormatBIN, nil
	default:
		return 0, fmt.Errorf("versatiles: unknown format tag %d", tag)
	}
}
