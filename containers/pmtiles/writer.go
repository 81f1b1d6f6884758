package pmtiles

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// WriterOptions configures a PMTiles writer. Every field is optional:
// unset Format/Compression fall back to the source's declared Metadata,
// and the TileJSON fields fall back to src.TileJSON()'s own values.
type WriterOptions struct {
	Format              blob.TileFormat
	Compression         blob.TileCompression
	Name                string
	Description         string
	Attribution         string
	Type                string
	TempDir             string
	IOConcurrency       int
	InternalCompression blob.TileCompression
	// Progress, when non-nil, is called after each traversal batch with
	// the running (read, written) tile counts.
	Progress tilesource.Progress
}

// dedupEntry records the location of a previously written tile in the temp file.
type dedupEntry struct {
	offset uint64
	length uint32
}

// Writer writes tiles to a PMTiles v3 archive using a two-pass approach:
// tiles are appended to a temporary file as they arrive (deduplicating
// identical content by hash), then Finalize sorts entries by Hilbert tile
// ID, clusters tile data to match, and assembles the final file
// (spec.md §4.H: "requires Hilbert order; ... deduplicates tile contents
// by content hash").
type Writer struct {
	outputPath string
	header     Header
	format     blob.TileFormat
	tileJSON   *tilejson.TileJSON

	tmpFile   *os.File
	tmpDir    string
	tmpOffset uint64
	entries   []Entry
	dedup     map[uint64]dedupEntry
	mu        sync.Mutex
	finalized bool
	dedupHits int64
}

// NewWriter creates a PMTiles writer that will encode every tile to
// format/compression before storing it (the on-disk format is fixed per
// archive — spec.md §4.G.2's header flags, not per-tile).
func NewWriter(outputPath string, format blob.TileFormat, compression blob.TileCompression, internalCompression blob.TileCompression, tileJSON *tilejson.TileJSON, tempDir string) (*Writer, error) {
	if tempDir == "" {
		tempDir = filepath.Dir(outputPath)
	}
	tmpFile, err := os.CreateTemp(tempDir, "pmtiles-tiles-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("pmtiles: creating temp file: %w", err)
	}
	return &Writer{
		outputPath: outputPath,
		header: Header{
			Clustered:           true,
			InternalCompression: blobToCompression(internalCompression),
			TileCompression:     blobToCompression(compression),
			TileType:            formatToTileType(format),
		},
		format:   format,
		tileJSON: tileJSON,
		tmpFile:  tmpFile,
		tmpDir:   tempDir,
		entries:  make([]Entry, 0, 1024),
		dedup:    make(map[uint64]dedupEntry),
	}, nil
}

func tileHash(data []byte) uint64 {
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// WriteTile appends a single tile, re-encoding it to the archive's
// declared format/compression if it doesn't already match. Safe for
// concurrent use.
func (w *Writer) WriteTile(coord tilecoord.TileCoord, tile blob.Tile) error {
	encoded, err := tile.IntoBlob(w.format, compressionToBlob(w.header.TileCompression))
	if err != nil {
		return fmt.Errorf("pmtiles: encoding tile %v: %w", coord, err)
	}
	data := encoded.Bytes()
	if len(data) == 0 {
		return nil
	}
	tileID := tileIDOf(coord)
	hash := tileHash(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if de, ok := w.dedup[hash]; ok && de.length == uint32(len(data)) {
		w.entries = append(w.entries, Entry{TileID: tileID, Offset: de.offset, Length: de.length, RunLength: 1})
		w.dedupHits++
		return nil
	}

	offset := w.tmpOffset
	n, err := w.tmpFile.Write(data)
	if err != nil {
		return fmt.Errorf("pmtiles: writing tile data: %w", err)
	}
	w.tmpOffset += uint64(n)
	w.dedup[hash] = dedupEntry{offset: offset, length: uint32(n)}
	w.entries = append(w.entries, Entry{TileID: tileID, Offset: offset, Length: uint32(len(data)), RunLength: 1})
	return nil
}

// Finalize builds the directory, metadata, and writes the final file.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return fmt.Errorf("pmtiles: already finalized")
	}
	w.finalized = true

	sort.Slice(w.entries, func(i, j int) bool { return w.entries[i].TileID < w.entries[j].TileID })

	if err := w.clusterTileData(); err != nil {
		return fmt.Errorf("pmtiles: clustering tile data: %w", err)
	}

	w.entries = optimizeRunLengths(w.entries)

	internalCompression := compressionToBlob(w.header.InternalCompression)
	rootDir, leafDirs, err := buildDirectory(w.entries, internalCompression)
	if err != nil {
		return fmt.Errorf("pmtiles: building directory: %w", err)
	}

	w.populateHeaderExtent()
	metaJSON, err := w.tileJSON.ToJSON()
	if err != nil {
		return fmt.Errorf("pmtiles: marshaling metadata: %w", err)
	}
	metaBytes, err := blob.Compress(metaJSON, internalCompression)
	if err != nil {
		return fmt.Errorf("pmtiles: compressing metadata: %w", err)
	}

	rootDirOffset := uint64(HeaderSize)
	rootDirLength := uint64(len(rootDir))
	metadataOffset := rootDirOffset + rootDirLength
	metadataLength := uint64(len(metaBytes))
	leafDirOffset := metadataOffset + metadataLength
	leafDirLength := uint64(len(leafDirs))
	tileDataOffset := leafDirOffset + leafDirLength

	w.header.RootDirOffset = rootDirOffset
	w.header.RootDirLength = rootDirLength
	w.header.MetadataOffset = metadataOffset
	w.header.MetadataLength = metadataLength
	w.header.LeafDirOffset = leafDirOffset
	w.header.LeafDirLength = leafDirLength
	w.header.TileDataOffset = tileDataOffset
	w.header.TileDataLength = w.tmpOffset
	w.header.NumAddressedTiles = sumRunLengths(w.entries)
	w.header.NumTileEntries = uint64(len(w.entries))
	w.header.NumTileContents = uint64(len(w.dedup))

	outFile, err := os.Create(w.outputPath)
	if err != nil {
		return fmt.Errorf("pmtiles: creating output file: %w", err)
	}
	defer outFile.Close()

	if _, err := outFile.Write(w.header.Serialize()); err != nil {
		return fmt.Errorf("pmtiles: writing header: %w", err)
	}
	if _, err := outFile.Write(rootDir); err != nil {
		return fmt.Errorf("pmtiles: writing root directory: %w", err)
	}
	if _, err := outFile.Write(metaBytes); err != nil {
		return fmt.Errorf("pmtiles: writing metadata: %w", err)
	}
	if len(leafDirs) > 0 {
		if _, err := outFile.Write(leafDirs); err != nil {
			return fmt.Errorf("pmtiles: writing leaf directories: %w", err)
		}
	}
	if _, err := w.tmpFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pmtiles: seeking temp file: %w", err)
	}
	if _, err := io.Copy(outFile, w.tmpFile); err != nil {
		return fmt.Errorf("pmtiles: copying tile data: %w", err)
	}

	tmpPath := w.tmpFile.Name()
	w.tmpFile.Close()
	os.Remove(tmpPath)
	return nil
}

func sumRunLengths(entries []Entry) uint64 {
	var n uint64
	for _, e := range entries {
		n += uint64(e.RunLength)
	}
	return n
}

func (w *Writer) populateHeaderExtent() {
	if w.tileJSON.Bounds != nil {
		w.header.MinLon = float32(w.tileJSON.Bounds.West)
		w.header.MinLat = float32(w.tileJSON.Bounds.South)
		w.header.MaxLon = float32(w.tileJSON.Bounds.East)
		w.header.MaxLat = float32(w.tileJSON.Bounds.North)
	}
	if z, ok := w.tileJSON.MinZoom(); ok {
		w.header.MinZoom = z
	}
	if z, ok := w.tileJSON.MaxZoom(); ok {
		w.header.MaxZoom = z
	}
	w.header.CenterZoom = (w.header.MinZoom + w.header.MaxZoom) / 2
	if w.tileJSON.Center != nil {
		w.header.CenterLon = float32(w.tileJSON.Center.Lon)
		w.header.CenterLat = float32(w.tileJSON.Center.Lat)
	} else {
		w.header.CenterLon = (w.header.MinLon + w.header.MaxLon) / 2
		w.header.CenterLat = (w.header.MinLat + w.header.MaxLat) / 2
	}
}

// clusterTileData rewrites the temp file so tile data is laid out in the
// same order as the sorted entries, making the archive clustered
// (spec.md §4.G.2's Clustered header flag). Deduplicated tiles are
// written once and all entries remapped to the shared offset.
func (w *Writer) clusterTileData() error {
	newTmp, err := os.CreateTemp(w.tmpDir, "pmtiles-clustered-*.tmp")
	if err != nil {
		return fmt.Errorf("pmtiles: creating clustered temp file: %w", err)
	}

	buf := make([]byte, 256*1024)
	var newOffset uint64
	type remap struct {
		newOffset uint64
		length    uint32
	}
	seen := make(map[uint64]remap)

	for i := range w.entries {
		e := &w.entries[i]
		if m, ok := seen[e.Offset]; ok && m.length == e.Length {
			e.Offset = m.newOffset
			continue
		}
		tileLen := int64(e.Length)
		if tileLen > int64(len(buf)) {
			buf = make([]byte, tileLen)
		}
		if _, err := w.tmpFile.ReadAt(buf[:tileLen], int64(e.Offset)); err != nil {
			return fmt.Errorf("pmtiles: reading tile at offset %d: %w", e.Offset, err)
		}
		if _, err := newTmp.Write(buf[:tileLen]); err != nil {
			return fmt.Errorf("pmtiles: writing tile at new offset %d: %w", newOffset, err)
		}
		oldOffset := e.Offset
		e.Offset = newOffset
		seen[oldOffset] = remap{newOffset: newOffset, length: e.Length}
		newOffset += uint64(tileLen)
	}

	oldPath := w.tmpFile.Name()
	w.tmpFile.Close()
	os.Remove(oldPath)
	w.tmpFile = newTmp
	w.tmpOffset = newOffset
	return nil
}

// Abort cleans up temp files without writing the output.
func (w *Writer) Abort() {
	if w.tmpFile != nil {
		tmpPath := w.tmpFile.Name()
		w.tmpFile.Close()
		os.Remove(tmpPath)
	}
}

// WriteFromSource drives src through traverse_all_tiles with a
// writer-native AnyOrder traversal (the two-pass design above tolerates
// any arrival order, sorting and clustering at Finalize — spec.md §4.H)
// and writes the resulting PMTiles v3 archive to outputPath.
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
	internalCompression := opts.InternalCompression
	if internalCompression == blob.Uncompressed {
		internalCompression = blob.Gzip
	}

	tj := tilejson.New()
	tj.Merge(src.TileJSON())
	tj.UpdateFromPyramid(meta.BBoxPyramid)
	if opts.Name != "" {
		tj.SetString("name", opts.Name)
	}
	if opts.Description != "" {
		tj.SetString("description", opts.Description)
	}
	if opts.Attribution != "" {
		tj.SetString("attribution", opts.Attribution)
	}
	if _, ok := tj.GetString("type"); !ok || opts.Type != "" {
		tj.SetString("type", orDefault(opts.Type, "baselayer"))
	}
	tj.SetString("format", format.Extension())

	w, err := NewWriter(outputPath, format, compression, internalCompression, tj, opts.TempDir)
	if err != nil {
		return err
	}

	write := traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 4096}}
	err = tilesource.TraverseAllTiles(ctx, src, write, opts.IOConcurrency, nil, opts.Progress, func(ctx context.Context, b tilesource.Batch) error {
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
		w.Abort()
		return err
	}
	return w.Finalize()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
