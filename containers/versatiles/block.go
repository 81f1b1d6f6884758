package versatiles

import (
	"encoding/binary"
	"fmt"

	"github.com/pspoerri/tilepipe/tilecoord"
)

// blockKey addresses one block within the global BlockIndex.
type blockKey struct {
	level  uint8
	bx, by uint32
}

// BlockDefinition describes one 256x256-tile block (spec.md §4.G.3).
// LocalBBox is expressed as a synthetic level-8 TileBBox over the
// block's local 0..255 coordinate space.
type BlockDefinition struct {
	Level              uint8
	BX, BY             uint32
	LocalBBox          tilecoord.TileBBox
	TileIndexOffset    uint64
	TileIndexLength    uint64
	TilesOffset        uint64
	TilesLength        uint64
}

func (b BlockDefinition) key() blockKey {
	return blockKey{level: b.Level, bx: b.BX, by: b.BY}
}

// blockDefSize is the fixed per-entry size within the serialized
// BlockIndex array.
const blockDefSize = 1 + 4 + 4 + 1 + 1 + 1 + 1 + 8 + 8 + 8 + 8

func serializeBlockIndex(blocks []BlockDefinition) []byte {
	buf := make([]byte, 4+len(blocks)*blockDefSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(blocks)))
	off := 4
	for _, b := range blocks {
		buf[off] = b.Level
		binary.LittleEndian.PutUint32(buf[off+1:], b.BX)
		binary.LittleEndian.PutUint32(buf[off+5:], b.BY)
		buf[off+9] = uint8(b.LocalBBox.XMin)
		buf[off+10] = uint8(b.LocalBBox.YMin)
		buf[off+11] = uint8(b.LocalBBox.XMax)
		buf[off+12] = uint8(b.LocalBBox.YMax)
		binary.LittleEndian.PutUint64(buf[off+13:], b.TileIndexOffset)
		binary.LittleEndian.PutUint64(buf[off+21:], b.TileIndexLength)
		binary.LittleEndian.PutUint64(buf[off+29:], b.TilesOffset)
		binary.LittleEndian.PutUint64(buf[off+37:], b.TilesLength)
		off += blockDefSize
	}
	return buf
}

func deserializeBlockIndex(buf []byte) ([]BlockDefinition, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("versatiles: block index too short")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	want := 4 + int(count)*blockDefSize
	if len(buf) < want {
		return nil, fmt.Errorf("versatiles: block index truncated: want %d bytes, got %d", want, len(buf))
	}
	out := make([]BlockDefinition, count)
	off := 4
	for i := range out {
		level := buf[off]
		bx := binary.LittleEndian.Uint32(buf[off+1:])
		by := binary.LittleEndian.Uint32(buf[off+5:])
		xMin, yMin, xMax, yMax := uint32(buf[off+9]), uint32(buf[off+10]), uint32(buf[off+11]), uint32(buf[off+12])
		localBBox, err := tilecoord.NewBBox(blockLevel, xMin, yMin, xMax, yMax)
		if err != nil {
			return nil, fmt.Errorf("versatiles: block %d local bbox: %w", i, err)
		}
		out[i] = BlockDefinition{
			Level:           level,
			BX:              bx,
			BY:              by,
			LocalBBox:       localBBox,
			TileIndexOffset: binary.LittleEndian.Uint64(buf[off+13:]),
			TileIndexLength: binary.LittleEndian.Uint64(buf[off+21:]),
			TilesOffset:     binary.LittleEndian.Uint64(buf[off+29:]),
			TilesLength:     binary.LittleEndian.Uint64(buf[off+37:]),
		}
		off += blockDefSize
	}
	return out, nil
}

// tileIndexEntry is one (offset, length) slot within a block's TileIndex,
// addressed by local_bbox.IndexOf. Length 0 means absent.
type tileIndexEntry struct {
	Offset uint64
	Length uint32
}

const tileIndexEntrySize = 8 + 4

func serializeTileIndex(entries []tileIndexEntry) []byte {
	buf := make([]byte, len(entries)*tileIndexEntrySize)
	off := 0
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:], e.Offset)
		binary.LittleEndian.PutUint32(buf[off+8:], e.Length)
		off += tileIndexEntrySize
	}
	return buf
}

func deserializeTileIndex(buf []byte) ([]tileIndexEntry, error) {
	if len(buf)%tileIndexEntrySize != 0 {
		return nil, fmt.Errorf("versatiles: tile index has trailing bytes")
	}
	n := len(buf) / tileIndexEntrySize
	out := make([]tileIndexEntry, n)
	off := 0
	for i := range out {
		out[i] = tileIndexEntry{
			Offset: binary.LittleEndian.Uint64(buf[off:]),
			Length: binary.LittleEndian.Uint32(buf[off+8:]),
		}
		off += tileIndexEntrySize
	}
	return out, nil
}

// blockCoordOf returns the block a tile coordinate falls into.
func blockCoordOf(c tilecoord.TileCoord) blockKey {
	return blockKey{level: c.Level, bx: c.X / BlockSize, by: c.Y / BlockSize}
}

// localCoordOf returns c's position within its own block, as a
// synthetic level-8 TileCoord.
func localCoordOf(c tilecoord.TileCoord) tilecoord.TileCoord {
	return tilecoord.TileCoord{Level: blockLevel, X: c.X % BlockSize, Y: c.Y % BlockSize}
}

var (
	errBlockMissing        = fmt.Errorf("versatiles: block missing")
	errTileOutsideBlockBBox = fmt.Errorf("versatiles: tile outside block bbox")
	errZeroLengthTile      = fmt.Errorf("versatiles: zero-length tile entry")
)

// weighTileIndex estimates a cache.MemoryCache byte cost for a resident
// per-block TileIndex.
func weighTileIndex(entries []tileIndexEntry) int {
	return len(entries)*tileIndexEntrySize + 64
}
