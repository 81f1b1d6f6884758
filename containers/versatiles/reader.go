package versatiles

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/cache"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// source is the minimal contract Reader needs from its backing store
// (see containers/pmtiles.source for the same split): random-access
// reads plus release, satisfied by *os.File locally or an HTTP
// range-request client via package registry.
type source interface {
	io.ReaderAt
	io.Closer
}

// maxChunkSize bounds a single coalesced range read (spec.md §4.G.3).
const maxChunkSize = 64 << 20

// maxChunkGap is the largest gap between consecutive tile ranges that
// still get coalesced into the same read (spec.md §4.G.3).
const maxChunkGap = 32 << 10

// tileIndexCacheBytes bounds the decoded per-block TileIndexes a Reader
// keeps in its MemoryCache. Once the budget is exceeded, indexes are
// evicted, also in the middle of a GetTileStream call; an evicted index
// is read and decoded again on its next use.
const tileIndexCacheBytes = 64 << 20

// Reader provides read access to a VersaTiles archive.
type Reader struct {
	file        source
	header      Header
	blocks      map[blockKey]BlockDefinition
	tileJSON    *tilejson.TileJSON
	pyramid     *tilecoord.TileBBoxPyramid
	indexCache  *cache.MemoryCache[blockKey, []tileIndexEntry]
}

var _ tilesource.Source = (*Reader)(nil)

// OpenReader opens a VersaTiles archive: header, brotli-compressed
// BlockIndex, and TileJSON metadata.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("versatiles: opening %s: %w", path, err)
	}
	return OpenReaderAt(f)
}

// OpenReaderAt opens a VersaTiles archive backed by an arbitrary
// random-access source — the hook package registry uses to serve
// "http(s)://" VersaTiles archives over range requests.
func OpenReaderAt(f source) (*Reader, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("versatiles: reading header: %w", err)
	}
	header, err := DeserializeHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	compressedBlocks := make([]byte, header.BlocksLength)
	if _, err := f.ReadAt(compressedBlocks, int64(header.BlocksOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("versatiles: reading block index: %w", err)
	}
	rawBlocks, err := blob.Decompress(compressedBlocks, blob.Brotli)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("versatiles: decompressing block index: %w", err)
	}
	blockList, err := deserializeBlockIndex(rawBlocks)
	if err != nil {
		f.Close()
		return nil, err
	}

	blocks := make(map[blockKey]BlockDefinition, len(blockList))
	pyramid := tilecoord.NewPyramid()
	for _, b := range blockList {
		blocks[b.key()] = b
		b.LocalBBox.IterCoords(func(local tilecoord.TileCoord) bool {
			c := tilecoord.TileCoord{Level: b.Level, X: b.BX*BlockSize + local.X, Y: b.BY*BlockSize + local.Y}
			pyramid.IncludeCoord(c)
			return true
		})
	}

	tj := tilejson.New()
	if header.MetaLength > 0 {
		metaBuf := make([]byte, header.MetaLength)
		if _, err := f.ReadAt(metaBuf, int64(header.MetaOffset)); err != nil {
			f.Close()
			return nil, fmt.Errorf("versatiles: reading metadata: %w", err)
		}
		raw, err := blob.Decompress(metaBuf, header.Compression)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("versatiles: decompressing metadata: %w", err)
		}
		parsed, err := tilejson.FromJSON(raw)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("versatiles: parsing metadata: %w", err)
		}
		tj = parsed
	}
	tj.UpdateFromPyramid(pyramid)

	return &Reader{
		file:       f,
		header:     header,
		blocks:     blocks,
		tileJSON:   tj,
		pyramid:    pyramid,
		indexCache: cache.NewMemoryCache[blockKey, []tileIndexEntry](tileIndexCacheBytes, weighTileIndex),
	}, nil
}

func (r *Reader) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "versatiles"}
}

func (r *Reader) Metadata() tilesource.Metadata {
	return tilesource.Metadata{
		Format:      r.header.Format,
		Compression: r.header.Compression,
		BBoxPyramid: r.pyramid,
		// Block-aligned batches coalesce best (spec.md §4.G.3).
		Traversal: traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: BlockSize}},
	}
}

func (r *Reader) TileJSON() *tilejson.TileJSON { return r.tileJSON }

// tileIndexFor returns the decoded TileIndex for a block, reading and
// brotli-decompressing it on first access and caching the result.
func (r *Reader) tileIndexFor(b BlockDefinition) ([]tileIndexEntry, error) {
	if entries, ok := r.indexCache.Get(b.key()); ok {
		return entries, nil
	}
	buf := make([]byte, b.TileIndexLength)
	if _, err := r.file.ReadAt(buf, int64(b.TileIndexOffset)); err != nil {
		return nil, fmt.Errorf("versatiles: reading tile index for block %v: %w", b.key(), err)
	}
	raw, err := blob.Decompress(buf, blob.Brotli)
	if err != nil {
		return nil, fmt.Errorf("versatiles: decompressing tile index for block %v: %w", b.key(), err)
	}
	entries, err := deserializeTileIndex(raw)
	if err != nil {
		return nil, err
	}
	r.indexCache.Set(b.key(), entries)
	return entries, nil
}

// locate resolves a coord to its block, local tile-index slot, and that
// slot's (offset,length) — or (false, nil) if the coord is absent for
// any of the reasons spec.md §4.G.3 names (BlockMissing,
// TileOutsideBlockBBox, ZeroLengthTile); those are "not found", not
// reader errors, per tilesource.Source's GetTile contract.
func (r *Reader) locate(c tilecoord.TileCoord) (BlockDefinition, tileIndexEntry, bool, error) {
	b, ok := r.blocks[blockCoordOf(c)]
	if !ok {
		return BlockDefinition{}, tileIndexEntry{}, false, nil
	}
	local := localCoordOf(c)
	if !b.LocalBBox.Contains(local) {
		return BlockDefinition{}, tileIndexEntry{}, false, nil
	}
	idx, err := b.LocalBBox.IndexOf(local)
	if err != nil {
		return BlockDefinition{}, tileIndexEntry{}, false, err
	}
	entries, err := r.tileIndexFor(b)
	if err != nil {
		return BlockDefinition{}, tileIndexEntry{}, false, err
	}
	if idx >= uint64(len(entries)) {
		return BlockDefinition{}, tileIndexEntry{}, false, nil
	}
	e := entries[idx]
	if e.Length == 0 {
		return BlockDefinition{}, tileIndexEntry{}, false, nil
	}
	return b, e, true, nil
}

func (r *Reader) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	b, e, ok, err := r.locate(coord)
	if err != nil {
		return blob.Tile{}, false, err
	}
	if !ok {
		return blob.Tile{}, false, nil
	}
	data := make([]byte, e.Length)
	if _, err := r.file.ReadAt(data, int64(b.TilesOffset+e.Offset)); err != nil {
		return blob.Tile{}, false, fmt.Errorf("versatiles: reading tile %v: %w", coord, err)
	}
	return blob.FromBlob(blob.New(data), r.header.Compression, r.header.Format), true, nil
}

// rangeEntry is one requested tile's (offset, length) within a block's
// tiles range; idx points back at the request it came from.
type rangeEntry struct {
	idx            int
	offset, length uint64
}

// coalesceRanges groups included (offset,length) entries into chunks
// bounded by maxChunkSize total span and maxChunkGap between consecutive
// ranges (spec.md §4.G.3).
func coalesceRanges(ranges []rangeEntry) [][]rangeEntry {
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].offset < ranges[j].offset })
	var chunks [][]rangeEntry
	cur := []rangeEntry{ranges[0]}
	chunkStart := ranges[0].offset
	for i := 1; i < len(ranges); i++ {
		prev := cur[len(cur)-1]
		prevEnd := prev.offset + prev.length
		gap := int64(ranges[i].offset) - int64(prevEnd)
		span := ranges[i].offset + ranges[i].length - chunkStart
		if gap > maxChunkGap || span > maxChunkSize {
			chunks = append(chunks, cur)
			cur = []rangeEntry{ranges[i]}
			chunkStart = ranges[i].offset
			continue
		}
		cur = append(cur, ranges[i])
	}
	chunks = append(chunks, cur)
	return chunks
}

func (r *Reader) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	// Group requested coords by block, then coalesce each block's
	// reads into as few range reads as possible (spec.md §4.G.3).
	type want struct {
		coord tilecoord.TileCoord
		entry tileIndexEntry
	}
	byBlock := make(map[blockKey][]want)
	var order []tilecoord.TileCoord
	var lookupErr error
	bbox.IterCoords(func(c tilecoord.TileCoord) bool {
		b, e, ok, err := r.locate(c)
		if err != nil {
			lookupErr = err
			return false
		}
		if !ok {
			return true
		}
		byBlock[b.key()] = append(byBlock[b.key()], want{coord: c, entry: e})
		order = append(order, c)
		return true
	})
	if lookupErr != nil {
		return tilestream.Stream[blob.Tile]{}, lookupErr
	}

	results := make(map[tilecoord.TileCoord]blob.Tile, len(order))
	for key, wants := range byBlock {
		b := r.blocks[key]
		ranges := make([]rangeEntry, len(wants))
		for i, w := range wants {
			ranges[i] = rangeEntry{idx: i, offset: w.entry.Offset, length: uint64(w.entry.Length)}
		}
		for _, chunk := range coalesceRanges(ranges) {
			start := chunk[0].offset
			end := chunk[len(chunk)-1].offset + chunk[len(chunk)-1].length
			buf := make([]byte, end-start)
			if _, err := r.file.ReadAt(buf, int64(b.TilesOffset+start)); err != nil {
				return tilestream.Stream[blob.Tile]{}, fmt.Errorf("versatiles: reading block %v chunk: %w", key, err)
			}
			for _, rg := range chunk {
				w := wants[rg.idx]
				tileBuf := buf[rg.offset-start : rg.offset-start+rg.length]
				results[w.coord] = blob.FromBlob(blob.New(append([]byte(nil), tileBuf...)), r.header.Compression, r.header.Format)
			}
		}
	}

	entries := make([]tilestream.Entry[blob.Tile], 0, len(order))
	for _, c := range order {
		if t, ok := results[c]; ok {
			entries = append(entries, tilestream.Entry[blob.Tile]{Coord: c, Item: t})
		}
	}
	return tilestream.FromVec(entries), nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.file.Close() }
