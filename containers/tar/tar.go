// Package tar implements a tile container backed by a plain POSIX tar
// archive, grounded on versatiles_container's tar reader (spec.md
// §4.G.4): tiles live at `{z}/{x}/{y}.<format>[.<compression>]` entries,
// metadata lives in a handful of recognized top-level filenames, and
// every tile in the archive must share one format and one compression.
package tar

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// ErrNoTiles is returned when a tar archive contains no recognizable
// tile entries.
var ErrNoTiles = errors.New("tar: no tiles found")

// ErrMixedFormat is returned when entries declare more than one tile
// format within the same archive.
var ErrMixedFormat = errors.New("tar: found multiple tile formats")

// ErrMixedCompression is returned when entries declare more than one
// tile compression within the same archive.
var ErrMixedCompression = errors.New("tar: found multiple tile compressions")

var metadataNames = map[string]blob.TileCompression{
	"meta.json": blob.Uncompressed, "tiles.json": blob.Uncompressed, "metadata.json": blob.Uncompressed,
	"meta.json.gz": blob.Gzip, "tiles.json.gz": blob.Gzip, "metadata.json.gz": blob.Gzip,
	"meta.json.br": blob.Brotli, "tiles.json.br": blob.Brotli, "metadata.json.br": blob.Brotli,
}

type byteRange struct {
	offset int64
	length int64
}

// Reader provides read access to a tile set packed into a tar archive.
type Reader struct {
	file     *os.File
	tileMap  map[tilecoord.TileCoord]byteRange
	format   blob.TileFormat
	compress blob.TileCompression
	tileJSON *tilejson.TileJSON
	pyramid  *tilecoord.TileBBoxPyramid
}

var _ tilesource.Source = (*Reader)(nil)

// OpenReader scans a tar archive in one sequential pass, indexing every
// tile entry's byte range and merging any recognized metadata files.
func OpenReader(p string) (*Reader, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("tar: opening %s: %w", p, err)
	}

	tileMap := make(map[tilecoord.TileCoord]byteRange)
	pyramid := tilecoord.NewPyramid()
	tj := tilejson.New()
	var haveFormat bool
	var format blob.TileFormat
	var haveCompress bool
	var compress blob.TileCompression

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("tar: reading entries: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := strings.TrimPrefix(path.Clean(hdr.Name), "./")

		// archive/tar exposes the current entry's data as the bytes
		// immediately following the header it just returned, readable
		// through ReadAt at current file position since tr.Next()
		// always seeks to the next header boundary.
		pos, serr := f.Seek(0, io.SeekCurrent)
		if serr != nil {
			f.Close()
			return nil, fmt.Errorf("tar: locating entry %q: %w", name, serr)
		}
		entryOffset := pos

		parts := strings.Split(name, "/")
		if len(parts) == 1 {
			if comp, ok := metadataNames[parts[0]]; ok {
				data, rerr := io.ReadAll(tr)
				if rerr != nil {
					f.Close()
					return nil, fmt.Errorf("tar: reading metadata %q: %w", name, rerr)
				}
				raw, derr := blob.Decompress(data, comp)
				if derr != nil {
					f.Close()
					return nil, fmt.Errorf("tar: decompressing metadata %q: %w", name, derr)
				}
				parsed, perr := tilejson.FromJSON(raw)
				if perr != nil {
					f.Close()
					return nil, fmt.Errorf("tar: parsing metadata %q: %w", name, perr)
				}
				tj.Merge(parsed)
			}
			continue
		}
		if len(parts) != 3 {
			continue
		}

		level, lerr := strconv.ParseUint(parts[0], 10, 8)
		if lerr != nil {
			continue
		}
		x, xerr := strconv.ParseUint(parts[1], 10, 32)
		if xerr != nil {
			continue
		}

		filename := parts[2]
		fileCompress := compressionFromFilename(&filename)
		fileFormat, ok := formatFromFilename(&filename)
		if !ok {
			continue
		}
		y, yerr := strconv.ParseUint(filename, 10, 32)
		if yerr != nil {
			continue
		}

		if haveFormat && format != fileFormat {
			f.Close()
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedFormat, format, fileFormat)
		}
		format, haveFormat = fileFormat, true

		if haveCompress && compress != fileCompress {
			f.Close()
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedCompression, compress, fileCompress)
		}
		compress, haveCompress = fileCompress, true

		coord, cerr := tilecoord.New(uint8(level), uint32(x), uint32(y))
		if cerr != nil {
			f.Close()
			return nil, fmt.Errorf("tar: entry %q: %w", name, cerr)
		}
		tileMap[coord] = byteRange{offset: entryOffset, length: hdr.Size}
		pyramid.IncludeCoord(coord)
	}

	if len(tileMap) == 0 {
		f.Close()
		return nil, ErrNoTiles
	}

	tj.UpdateFromPyramid(pyramid)

	return &Reader{
		file:     f,
		tileMap:  tileMap,
		format:   format,
		compress: compress,
		tileJSON: tj,
		pyramid:  pyramid,
	}, nil
}

// compressionFromFilename strips a recognized compression suffix from
// *name in place and returns the compression it signaled (Uncompressed
// if none matched), mirroring TileCompression::from_filename.
func compressionFromFilename(name *string) blob.TileCompression {
	for _, c := range []blob.TileCompression{blob.Brotli, blob.Gzip, blob.Zstd} {
		if ext := c.Extension(); ext != "" && strings.HasSuffix(*name, ext) {
			*name = strings.TrimSuffix(*name, ext)
			return c
		}
	}
	return blob.Uncompressed
}

// formatFromFilename strips the trailing `.<ext>` from *name in place and
// returns the format it maps to, mirroring TileFormat::from_filename.
func formatFromFilename(name *string) (blob.TileFormat, bool) {
	ext := path.Ext(*name)
	if ext == "" {
		return blob.FormatUnknown, false
	}
	f, ok := blob.FormatFromExtension(strings.TrimPrefix(ext, "."))
	if !ok {
		return blob.FormatUnknown, false
	}
	*name = strings.TrimSuffix(*name, ext)
	return f, true
}

func (r *Reader) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "tar"}
}

func (r *Reader) Metadata() tilesource.Metadata {
	return tilesource.Metadata{
		Format:      r.format,
		Compression: r.compress,
		BBoxPyramid: r.pyramid,
		Traversal:   traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: ^uint32(0)}},
	}
}

func (r *Reader) TileJSON() *tilejson.TileJSON { return r.tileJSON }

func (r *Reader) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	rng, ok := r.tileMap[coord]
	if !ok {
		return blob.Tile{}, false, nil
	}
	data := make([]byte, rng.length)
	if _, err := r.file.ReadAt(data, rng.offset); err != nil {
		return blob.Tile{}, false, fmt.Errorf("tar: reading tile %v: %w", coord, err)
	}
	return blob.FromBlob(blob.New(data), r.compress, r.format), true, nil
}

func (r *Reader) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, r, bbox)
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.file.Close() }
