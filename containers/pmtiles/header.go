// Package pmtiles implements the PMTiles v3 reader and writer (spec.md
// §4.G.2/§4.H): a 127-byte header, Hilbert-addressed EntriesV3
// directories with delta-varint encoding, and root/leaf directory
// splitting. Grounded on the teacher's internal/pmtiles/{header,
// directory,reader,writer}.go, generalized from a GeoTIFF-specific
// WriterOptions to a tilesource.Source-driven writer and from a private
// Hilbert implementation to tilecoord's shared one.
package pmtiles

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pspoerri/tilepipe/blob"
)

// HeaderSize is the fixed on-disk size of a PMTiles v3 header.
const HeaderSize = 127

// Internal compression tags, as stored in the header's internal_compression byte.
const (
	CompressionUnknown uint8 = iota
	CompressionNone
	CompressionGzip
	CompressionBrotli
	CompressionZstd
)

// Tile type tags, as stored in the header's tile_type byte.
const (
	TileTypeUnknown uint8 = iota
	TileTypeMVT
	TileTypePNG
	TileTypeJPEG
	TileTypeWebP
)

// Header represents the PMTiles v3 header.
type Header struct {
	RootDirOffset       uint64
	RootDirLength       uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirOffset       uint64
	LeafDirLength       uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	NumAddressedTiles   uint64
	NumTileEntries      uint64
	NumTileContents     uint64
	Clustered           bool
	InternalCompression uint8
	TileCompression     uint8
	TileType            uint8
	MinZoom             uint8
	MaxZoom             uint8
	MinLon              float32
	MinLat              float32
	MaxLon              float32
	MaxLat              float32
	CenterZoom          uint8
	CenterLon           float32
	CenterLat           float32
}

// Serialize writes the 127-byte header.
func (h *Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[0:7], "PMTiles")
	buf[7] = 3

	binary.LittleEndian.PutUint64(buf[8:16], h.RootDirOffset)
	binary.LittleEndian.PutUint64(buf[16:24], h.RootDirLength)
	binary.LittleEndian.PutUint64(buf[24:32], h.MetadataOffset)
	binary.LittleEndian.PutUint64(buf[32:40], h.MetadataLength)
	binary.LittleEndian.PutUint64(buf[40:48], h.LeafDirOffset)
	binary.LittleEndian.PutUint64(buf[48:56], h.LeafDirLength)
	binary.LittleEndian.PutUint64(buf[56:64], h.TileDataOffset)
	binary.LittleEndian.PutUint64(buf[64:72], h.TileDataLength)
	binary.LittleEndian.PutUint64(buf[72:80], h.NumAddressedTiles)
	binary.LittleEndian.PutUint64(buf[80:88], h.NumTileEntries)
	binary.LittleEndian.PutUint64(buf[88:96], h.NumTileContents)

	if h.Clustered {
		buf[96] = 1
	}
	buf[97] = h.InternalCompression
	buf[98] = h.TileCompression
	buf[99] = h.TileType
	buf[100] = h.MinZoom
	buf[101] = h.MaxZoom

	binary.LittleEndian.PutUint32(buf[102:106], lonLatToE7(h.MinLon))
	binary.LittleEndian.PutUint32(buf[106:110], lonLatToE7(h.MinLat))
	binary.LittleEndian.PutUint32(buf[110:114], lonLatToE7(h.MaxLon))
	binary.LittleEndian.PutUint32(buf[114:118], lonLatToE7(h.MaxLat))

	buf[118] = h.CenterZoom
	binary.LittleEndian.PutUint32(buf[119:123], lonLatToE7(h.CenterLon))
	binary.LittleEndian.PutUint32(buf[123:127], lonLatToE7(h.CenterLat))

	return buf
}

// DeserializeHeader parses a 127-byte PMTiles v3 header.
func DeserializeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("pmtiles: header too short: %d bytes (need %d)", len(buf), HeaderSize)
	}
	if string(buf[0:7]) != "PMTiles" {
		return Header{}, fmt.Errorf("pmtiles: invalid magic bytes: %q", buf[0:7])
	}
	if buf[7] != 3 {
		return Header{}, fmt.Errorf("pmtiles: unsupported version: %d (expected 3)", buf[7])
	}

	h := Header{
		RootDirOffset:       binary.LittleEndian.Uint64(buf[8:16]),
		RootDirLength:       binary.LittleEndian.Uint64(buf[16:24]),
		MetadataOffset:      binary.LittleEndian.Uint64(buf[24:32]),
		MetadataLength:      binary.LittleEndian.Uint64(buf[32:40]),
		LeafDirOffset:       binary.LittleEndian.Uint64(buf[40:48]),
		LeafDirLength:       binary.LittleEndian.Uint64(buf[48:56]),
		TileDataOffset:      binary.LittleEndian.Uint64(buf[56:64]),
		TileDataLength:      binary.LittleEndian.Uint64(buf[64:72]),
		NumAddressedTiles:   binary.LittleEndian.Uint64(buf[72:80]),
		NumTileEntries:      binary.LittleEndian.Uint64(buf[80:88]),
		NumTileContents:     binary.LittleEndian.Uint64(buf[88:96]),
		Clustered:           buf[96] == 1,
		InternalCompression: buf[97],
		TileCompression:     buf[98],
		TileType:            buf[99],
		MinZoom:             buf[100],
		MaxZoom:             buf[101],
		MinLon:              e7ToLonLat(binary.LittleEndian.Uint32(buf[102:106])),
		MinLat:              e7ToLonLat(binary.LittleEndian.Uint32(buf[106:110])),
		MaxLon:              e7ToLonLat(binary.LittleEndian.Uint32(buf[110:114])),
		MaxLat:              e7ToLonLat(binary.LittleEndian.Uint32(buf[114:118])),
		CenterZoom:          buf[118],
		CenterLon:           e7ToLonLat(binary.LittleEndian.Uint32(buf[119:123])),
		CenterLat:           e7ToLonLat(binary.LittleEndian.Uint32(buf[123:127])),
	}
	return h, nil
}

func lonLatToE7(v float32) uint32 {
	return uint32(int32(math.Round(float64(v) * 1e7)))
}

func e7ToLonLat(v uint32) float32 {
	return float32(float64(int32(v)) / 1e7)
}

// tileTypeToFormat/formatToTileType translate between the header's
// single-byte tile type tag and blob.TileFormat.
func tileTypeToFormat(t uint8) blob.TileFormat {
	switch t {
	case TileTypeMVT:
		return blob.FormatMVT
	case TileTypePNG:
		return blob.FormatPNG
	case TileTypeJPEG:
		return blob.FormatJPG
	case TileTypeWebP:
		return blob.FormatWebP
	default:
		return blob.FormatUnknown
	}
}

func formatToTileType(f blob.TileFormat) uint8 {
	switch f {
	case blob.FormatMVT:
		return TileTypeMVT
	case blob.FormatPNG:
		return TileTypePNG
	case blob.FormatJPG:
		return TileTypeJPEG
	case blob.FormatWebP:
		return TileTypeWebP
	default:
		return TileTypeUnknown
	}
}

// compressionToBlob/blobToCompression translate between the header's
// tile_compression byte (which has a distinct "Unknown" tag blob.
// TileCompression lacks) and blob.TileCompression.
func compressionToBlob(c uint8) blob.TileCompression {
	switch c {
	case CompressionGzip:
		return blob.Gzip
	case CompressionBrotli:
		return blob.Brotli
	case CompressionZstd:
		return blob.Zstd
	default:
		return blob.Uncompressed
	}
}

func blobToCompression(c blob.TileCompression) uint8 {
	switch c {
	case blob.Gzip:
		return CompressionGzip
	case blob.Brotli:
		return CompressionBrotli
	case blob.Zstd:
		return CompressionZstd
	default:
		return CompressionNone
	}
}
