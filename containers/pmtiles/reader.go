package pmtiles

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/cache"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// source is the minimal contract Reader needs from its backing store:
// random-access reads plus a way to release the underlying resource.
// Satisfied by *os.File for local archives and, via package registry,
// by an HTTP range-request client for "http(s)://" archives (spec.md §6).
type source interface {
	io.ReaderAt
	io.Closer
}

// maxDirDepth bounds directory recursion to root + two leaf levels
// (spec.md §4.G.2: "up to three levels of directory traversal").
const maxDirDepth = 3

// leafCacheBytes is the default byte budget for the resident leaf
// directory cache (spec.md §4.G.2: "~100 MB default").
const leafCacheBytes = 100 << 20

type leafKey struct {
	offset, length uint64
}

// Reader provides read access to an existing PMTiles v3 archive,
// implementing tilesource.Source.
type Reader struct {
	file      source
	header    Header
	root      []Entry
	tileJSON  *tilejson.TileJSON
	pyramid   *tilecoord.TileBBoxPyramid
	leafCache *cache.MemoryCache[leafKey, []Entry]

	// compressionOverride, when set, replaces the header's declared tile
	// compression on everything this reader emits. The stored bytes pass
	// through untouched.
	compressionOverride *blob.TileCompression
}

var (
	_ tilesource.Source               = (*Reader)(nil)
	_ tilesource.CompressionOverrider = (*Reader)(nil)
)

// OpenReader opens a PMTiles v3 archive for reading: parses the header,
// the root directory, and (per spec.md §4.G.2) derives the bbox pyramid
// by walking the whole directory tree once, expanding run-length entries
// back into individual tile coordinates.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: opening %s: %w", path, err)
	}
	return OpenReaderAt(f)
}

// OpenReaderAt opens a PMTiles v3 archive backed by an arbitrary
// random-access source instead of a local path — the hook package
// registry uses to serve "http(s)://" PMTiles archives over range
// requests without this package knowing about HTTP at all.
func OpenReaderAt(f source) (*Reader, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("pmtiles: reading header: %w", err)
	}
	header, err := DeserializeHeader(headerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}
	internalCompression := compressionToBlob(header.InternalCompression)

	rootDirData := make([]byte, header.RootDirLength)
	if _, err := f.ReadAt(rootDirData, int64(header.RootDirOffset)); err != nil {
		f.Close()
		return nil, fmt.Errorf("pmtiles: reading root directory: %w", err)
	}
	root, err := DeserializeDirectory(rootDirData, internalCompression)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pmtiles: parsing root directory: %w", err)
	}

	r := &Reader{
		file:      f,
		header:    header,
		root:      root,
		leafCache: cache.NewMemoryCache[leafKey, []Entry](leafCacheBytes, weighEntries),
	}

	tj, err := r.readMetadata()
	if err != nil {
		f.Close()
		return nil, err
	}
	r.tileJSON = tj

	pyramid, err := r.buildPyramid()
	if err != nil {
		f.Close()
		return nil, err
	}
	r.pyramid = pyramid

	return r, nil
}

func weighEntries(entries []Entry) int { return len(entries) * 24 }

func (r *Reader) internalCompression() blob.TileCompression {
	return compressionToBlob(r.header.InternalCompression)
}

// buildPyramid walks the whole directory tree, expanding every
// run-length entry back into individual tile coordinates, and folds
// each into a TileBBoxPyramid.
func (r *Reader) buildPyramid() (*tilecoord.TileBBoxPyramid, error) {
	pyramid := tilecoord.NewPyramid()
	var walk func(entries []Entry, depth int) error
	walk = func(entries []Entry, depth int) error {
		for _, e := range entries {
			if e.RunLength == 0 {
				if depth >= maxDirDepth {
					return fmt.Errorf("pmtiles: directory nesting exceeds %d levels", maxDirDepth)
				}
				leaf, err := r.readLeaf(e)
				if err != nil {
					return err
				}
				if err := walk(leaf, depth+1); err != nil {
					return err
				}
				continue
			}
			for i := uint32(0); i < e.RunLength; i++ {
				pyramid.IncludeCoord(coordFromTileID(e.TileID + uint64(i)))
			}
		}
		return nil
	}
	if err := walk(r.root, 1); err != nil {
		return nil, err
	}
	return pyramid, nil
}

func (r *Reader) readLeaf(e Entry) ([]Entry, error) {
	key := leafKey{offset: e.Offset, length: uint64(e.Length)}
	if cached, ok := r.leafCache.Get(key); ok {
		return cached, nil
	}
	data := make([]byte, e.Length)
	absOffset := int64(r.header.LeafDirOffset + e.Offset)
	if _, err := r.file.ReadAt(data, absOffset); err != nil {
		return nil, fmt.Errorf("pmtiles: reading leaf directory at offset %d: %w", absOffset, err)
	}
	leaf, err := DeserializeDirectory(data, r.internalCompression())
	if err != nil {
		return nil, fmt.Errorf("pmtiles: parsing leaf directory: %w", err)
	}
	r.leafCache.Set(key, leaf)
	return leaf, nil
}

// findEntry resolves tileID to its directory entry, descending through
// at most maxDirDepth levels of root/leaf directories.
func (r *Reader) findEntry(tileID uint64) (Entry, bool, error) {
	entries := r.root
	for depth := 1; depth <= maxDirDepth; depth++ {
		e, ok := searchEntries(entries, tileID)
		if !ok {
			return Entry{}, false, nil
		}
		if e.RunLength > 0 {
			if tileID < e.TileID+uint64(e.RunLength) {
				return e, true, nil
			}
			return Entry{}, false, nil
		}
		leaf, err := r.readLeaf(e)
		if err != nil {
			return Entry{}, false, err
		}
		entries = leaf
	}
	return Entry{}, false, fmt.Errorf("pmtiles: directory nesting exceeds %d levels", maxDirDepth)
}

// searchEntries returns the entry with the greatest TileID <= tileID.
func searchEntries(entries []Entry, tileID uint64) (Entry, bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].TileID > tileID {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == 0 {
		return Entry{}, false
	}
	return entries[lo-1], true
}

func (r *Reader) readMetadata() (*tilejson.TileJSON, error) {
	if r.header.MetadataLength == 0 {
		return tilejson.New(), nil
	}
	raw := make([]byte, r.header.MetadataLength)
	if _, err := r.file.ReadAt(raw, int64(r.header.MetadataOffset)); err != nil {
		return nil, fmt.Errorf("pmtiles: reading metadata: %w", err)
	}
	decompressed, err := blob.Decompress(raw, r.internalCompression())
	if err != nil {
		return nil, fmt.Errorf("pmtiles: decompressing metadata: %w", err)
	}
	tj, err := tilejson.FromJSON(decompressed)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: parsing metadata: %w", err)
	}
	return tj, nil
}

// Header returns the parsed PMTiles header.
func (r *Reader) Header() Header { return r.header }

// SourceType identifies this reader as a "pmtiles" container.
func (r *Reader) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "pmtiles"}
}

// Metadata reports the format/compression declared by the header and the
// bbox pyramid derived from the directory tree.
func (r *Reader) Metadata() tilesource.Metadata {
	maxSize := uint32(4096)
	return tilesource.Metadata{
		Format:      tileTypeToFormat(r.header.TileType),
		Compression: r.tileCompression(),
		BBoxPyramid: r.pyramid,
		Traversal:   traversal.Traversal{Order: traversal.PMTiles, Size: traversal.SizeRange{Min: 1, Max: maxSize}},
	}
}

// TileJSON returns the archive's decoded metadata document.
func (r *Reader) TileJSON() *tilejson.TileJSON { return r.tileJSON }

func (r *Reader) tileCompression() blob.TileCompression {
	if r.compressionOverride != nil {
		return *r.compressionOverride
	}
	return compressionToBlob(r.header.TileCompression)
}

// OverrideCompression redeclares the compression tag on every tile this
// reader emits, without recoding the stored bytes (spec.md §4.E).
func (r *Reader) OverrideCompression(c blob.TileCompression) {
	r.compressionOverride = &c
}

// GetTile returns the raw encoded bytes for coord, tagged with the
// header's declared format/compression. Returns ok=false if absent.
func (r *Reader) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	tileID := tileIDOf(coord)
	e, ok, err := r.findEntry(tileID)
	if err != nil {
		return blob.Tile{}, false, err
	}
	if !ok {
		return blob.Tile{}, false, nil
	}
	// Every tile ID covered by a run-length entry shares one payload.
	absOffset := int64(r.header.TileDataOffset + e.Offset)
	data := make([]byte, e.Length)
	if _, err := r.file.ReadAt(data, absOffset); err != nil {
		return blob.Tile{}, false, fmt.Errorf("pmtiles: reading tile %v: %w", coord, err)
	}
	tile := blob.FromBlob(blob.New(data), r.tileCompression(), tileTypeToFormat(r.header.TileType))
	return tile, true, nil
}

// GetTileStream streams per-coord fetches under shared concurrency
// (spec.md §4.G.2), using the default get_tile_stream behavior.
func (r *Reader) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, r, bbox)
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.file.Close() }
