package versatiles

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// WriterOptions configures a VersaTiles writer. Format/Compression fall
// back to the source's declared Metadata when unset.
type WriterOptions struct {
	Format        blob.TileFormat
	Compression   blob.TileCompression
	IOConcurrency int
	// Progress, when non-nil, is called after each traversal batch with
	// the running (read, written) tile counts.
	Progress tilesource.Progress
}

// blockAccum buffers every tile written into one 256x256-tile block,
// keyed by absolute coord so the block's local bbox can be derived once
// every tile has arrived (spec.md §4.G.3/§4.H: "within a block, emits
// tile bodies consecutively ... deduplicates tile contents by content
// hash within a block").
type blockAccum struct {
	level  uint8
	bx, by uint32
	tiles  map[tilecoord.TileCoord][]byte
}

// Writer accumulates tiles per block in memory, then assembles the
// header + BlockIndex + per-block TileIndex/tile-data layout on Finalize.
type Writer struct {
	format      blob.TileFormat
	compression blob.TileCompression
	blocks      map[blockKey]*blockAccum
	tileJSON    *tilejson.TileJSON
	finalized   bool
}

// NewWriter creates a VersaTiles writer that re-encodes every tile to
// format/compression before storing it.
func NewWriter(format blob.TileFormat, compression blob.TileCompression, tileJSON *tilejson.TileJSON) *Writer {
	return &Writer{
		format:      format,
		compression: compression,
		blocks:      make(map[blockKey]*blockAccum),
		tileJSON:    tileJSON,
	}
}

// WriteTile buffers one tile into its block.
func (w *Writer) WriteTile(coord tilecoord.TileCoord, tile blob.Tile) error {
	encoded, err := tile.IntoBlob(w.format, w.compression)
	if err != nil {
		return fmt.Errorf("versatiles: encoding tile %v: %w", coord, err)
	}
	data := encoded.Bytes()
	if len(data) == 0 {
		return nil
	}
	key := blockCoordOf(coord)
	acc, ok := w.blocks[key]
	if !ok {
		acc = &blockAccum{level: key.level, bx: key.bx, by: key.by, tiles: make(map[tilecoord.TileCoord][]byte)}
		w.blocks[key] = acc
	}
	acc.tiles[coord] = append([]byte(nil), data...)
	return nil
}

func tileHash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// localBBoxOf returns the smallest local bbox covering every tile in acc.
func localBBoxOf(acc *blockAccum) (tilecoord.TileBBox, error) {
	pyramid := tilecoord.NewPyramid()
	for coord := range acc.tiles {
		pyramid.IncludeCoord(localCoordOf(coord))
	}
	return pyramid.Get(blockLevel), nil
}

// buildBlock dedups acc's tiles by content hash and returns the block's
// tile-data bytes, its serialized+compressed TileIndex, and the local
// bbox it addresses.
func buildBlock(acc *blockAccum) (tileData []byte, tileIndex []byte, localBBox tilecoord.TileBBox, err error) {
	localBBox, err = localBBoxOf(acc)
	if err != nil {
		return nil, nil, tilecoord.TileBBox{}, err
	}

	coords := make([]tilecoord.TileCoord, 0, len(acc.tiles))
	for c := range acc.tiles {
		coords = append(coords, c)
	}
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Y != coords[j].Y {
			return coords[i].Y < coords[j].Y
		}
		return coords[i].X < coords[j].X
	})

	entries := make([]tileIndexEntry, localBBox.CountTiles())
	var body bytes.Buffer
	seen := make(map[uint64]tileIndexEntry)
	for _, c := range coords {
		data := acc.tiles[c]
		idx, err := localBBox.IndexOf(localCoordOf(c))
		if err != nil {
			return nil, nil, tilecoord.TileBBox{}, err
		}
		hash := tileHash(data)
		if e, ok := seen[hash]; ok {
			entries[idx] = e
			continue
		}
		e := tileIndexEntry{Offset: uint64(body.Len()), Length: uint32(len(data))}
		body.Write(data)
		seen[hash] = e
		entries[idx] = e
	}

	compressedIndex, err := blob.Compress(serializeTileIndex(entries), blob.Brotli)
	if err != nil {
		return nil, nil, tilecoord.TileBBox{}, fmt.Errorf("versatiles: compressing tile index: %w", err)
	}
	return body.Bytes(), compressedIndex, localBBox, nil
}

// Finalize writes the header, metadata, per-block tile data/TileIndex,
// and the global BlockIndex to outputPath.
func (w *Writer) Finalize(outputPath string) error {
	if w.finalized {
		return fmt.Errorf("versatiles: already finalized")
	}
	w.finalized = true

	keys := make([]blockKey, 0, len(w.blocks))
	for k := range w.blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].level != keys[j].level {
			return keys[i].level < keys[j].level
		}
		if keys[i].by != keys[j].by {
			return keys[i].by < keys[j].by
		}
		return keys[i].bx < keys[j].bx
	})

	metaJSON, err := w.tileJSON.ToJSON()
	if err != nil {
		return fmt.Errorf("versatiles: marshaling metadata: %w", err)
	}
	compressedMeta, err := blob.Compress(metaJSON, w.compression)
	if err != nil {
		return fmt.Errorf("versatiles: compressing metadata: %w", err)
	}

	var body bytes.Buffer
	metaOffset := uint64(HeaderSize)
	body.Write(compressedMeta)

	defs := make([]BlockDefinition, 0, len(keys))
	for _, k := range keys {
		tileData, tileIndex, localBBox, err := buildBlock(w.blocks[k])
		if err != nil {
			return err
		}
		tilesOffset := metaOffset + uint64(body.Len())
		body.Write(tileData)
		tileIndexOffset := metaOffset + uint64(body.Len())
		body.Write(tileIndex)
		defs = append(defs, BlockDefinition{
			Level:           k.level,
			BX:              k.bx,
			BY:              k.by,
			LocalBBox:       localBBox,
			TileIndexOffset: tileIndexOffset,
			TileIndexLength: uint64(len(tileIndex)),
			TilesOffset:     tilesOffset,
			TilesLength:     uint64(len(tileData)),
		})
	}

	compressedBlocks, err := blob.Compress(serializeBlockIndex(defs), blob.Brotli)
	if err != nil {
		return fmt.Errorf("versatiles: compressing block index: %w", err)
	}
	blocksOffset := metaOffset + uint64(body.Len())
	body.Write(compressedBlocks)

	header := Header{
		Format:       w.format,
		Compression:  w.compression,
		MetaOffset:   metaOffset,
		MetaLength:   uint64(len(compressedMeta)),
		BlocksOffset: blocksOffset,
		BlocksLength: uint64(len(compressedBlocks)),
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("versatiles: creating %s: %w", outputPath, err)
	}
	defer f.Close()
	if _, err := f.Write(header.Serialize()); err != nil {
		return fmt.Errorf("versatiles: writing header: %w", err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		return fmt.Errorf("versatiles: writing body: %w", err)
	}
	return nil
}

// WriteFromSource drives src through traverse_all_tiles and writes the
// resulting VersaTiles archive to outputPath. Block assembly happens
// entirely at Finalize, so any arrival order is acceptable.
func WriteFromSource(ctx context.Context, outputPath string, src tilesource.Source, opts WriterOptions) error {
	meta := src.Metadata()
	format := opts.Format
	if format == blob.FormatUnknown {
		format = meta.Format
	}
	compression := opts.Compression
	if compression == blob.Uncompressed && meta.Compression != blob.Uncompressed {
		compression = meta.Compression
	}

	tj := tilejson.New()
	tj.Merge(src.TileJSON())
	tj.UpdateFromPyramid(meta.BBoxPyramid)

	w := NewWriter(format, compression, tj)

	write := traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 4096}}
	err := tilesource.TraverseAllTiles(ctx, src, write, opts.IOConcurrency, nil, opts.Progress, func(ctx context.Context, b tilesource.Batch) error {
		entries, err := tilestream.ToVec(ctx, b.Stream)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := w.WriteTile(e.Coord, e.Item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return w.Finalize(outputPath)
}
