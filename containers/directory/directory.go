// Package directory implements a tile container backed by a plain POSIX
// directory tree, the same contract as package tar applied to files on
// disk instead of tar entries (spec.md §4.G.5): tiles live at
// `<root>/<z>/<x>/<y>.<format>[.<compression>]`, metadata lives in a
// handful of recognized top-level filenames, and every tile under root
// must share one format and one compression.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// ErrNoTiles is returned when a directory tree contains no recognizable
// tile files.
var ErrNoTiles = errors.New("directory: no tiles found")

// ErrNotAbsolute is returned when a directory path is not absolute.
var ErrNotAbsolute = errors.New("directory: path must be absolute")

// ErrMixedFormat is returned when files declare more than one tile
// format within the same tree.
var ErrMixedFormat = errors.New("directory: found multiple tile formats")

// ErrMixedCompression is returned when files declare more than one tile
// compression within the same tree.
var ErrMixedCompression = errors.New("directory: found multiple tile compressions")

var metadataNames = map[string]blob.TileCompression{
	"meta.json": blob.Uncompressed, "tiles.json": blob.Uncompressed, "metadata.json": blob.Uncompressed,
	"meta.json.gz": blob.Gzip, "tiles.json.gz": blob.Gzip, "metadata.json.gz": blob.Gzip,
	"meta.json.br": blob.Brotli, "tiles.json.br": blob.Brotli, "metadata.json.br": blob.Brotli,
}

// Reader provides read access to a tile set laid out as one file per
// tile on a POSIX filesystem.
type Reader struct {
	dir      string
	tileMap  map[tilecoord.TileCoord]string
	format   blob.TileFormat
	compress blob.TileCompression
	tileJSON *tilejson.TileJSON
	pyramid  *tilecoord.TileBBoxPyramid
}

var _ tilesource.Source = (*Reader)(nil)

// OpenPath scans dir, which must be an absolute path to an existing
// directory, indexing every tile file and merging any recognized
// metadata files at the top level.
func OpenPath(dir string) (*Reader, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("%w: %q", ErrNotAbsolute, dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory: opening %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("directory: %s is not a directory", dir)
	}

	tj := tilejson.New()
	tileMap := make(map[tilecoord.TileCoord]string)
	pyramid := tilecoord.NewPyramid()
	var haveFormat bool
	var format blob.TileFormat
	var haveCompress bool
	var compress blob.TileCompression

	topEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("directory: reading %s: %w", dir, err)
	}

	for _, levelEntry := range topEntries {
		name1 := levelEntry.Name()
		if !levelEntry.IsDir() {
			if comp, ok := metadataNames[name1]; ok {
				data, rerr := os.ReadFile(filepath.Join(dir, name1))
				if rerr != nil {
					return nil, fmt.Errorf("directory: reading metadata %q: %w", name1, rerr)
				}
				raw, derr := blob.Decompress(data, comp)
				if derr != nil {
					return nil, fmt.Errorf("directory: decompressing metadata %q: %w", name1, derr)
				}
				parsed, perr := tilejson.FromJSON(raw)
				if perr != nil {
					return nil, fmt.Errorf("directory: parsing metadata %q: %w", name1, perr)
				}
				tj.Merge(parsed)
			}
			continue
		}
		level, lerr := strconv.ParseUint(name1, 10, 8)
		if lerr != nil {
			continue
		}

		xEntries, err := os.ReadDir(filepath.Join(dir, name1))
		if err != nil {
			return nil, fmt.Errorf("directory: reading %s/%s: %w", dir, name1, err)
		}
		for _, xEntry := range xEntries {
			name2 := xEntry.Name()
			if !xEntry.IsDir() {
				continue
			}
			x, xerr := strconv.ParseUint(name2, 10, 32)
			if xerr != nil {
				continue
			}

			yDir := filepath.Join(dir, name1, name2)
			yEntries, err := os.ReadDir(yDir)
			if err != nil {
				return nil, fmt.Errorf("directory: reading %s: %w", yDir, err)
			}
			sort.Slice(yEntries, func(i, j int) bool { return yEntries[i].Name() < yEntries[j].Name() })

			for _, yEntry := range yEntries {
				if yEntry.IsDir() {
					continue
				}
				filename := yEntry.Name()
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
					return nil, fmt.Errorf("%w: %s and %s", ErrMixedFormat, format, fileFormat)
				}
				format, haveFormat = fileFormat, true

				if haveCompress && compress != fileCompress {
					return nil, fmt.Errorf("%w: %s and %s", ErrMixedCompression, compress, fileCompress)
				}
				compress, haveCompress = fileCompress, true

				coord, cerr := tilecoord.New(uint8(level), uint32(x), uint32(y))
				if cerr != nil {
					return nil, fmt.Errorf("directory: tile %s/%s/%s: %w", name1, name2, yEntry.Name(), cerr)
				}
				tileMap[coord] = filepath.Join(yDir, yEntry.Name())
				pyramid.IncludeCoord(coord)
			}
		}
	}

	if len(tileMap) == 0 {
		return nil, ErrNoTiles
	}

	tj.UpdateFromPyramid(pyramid)

	return &Reader{
		dir:      dir,
		tileMap:  tileMap,
		format:   format,
		compress: compress,
		tileJSON: tj,
		pyramid:  pyramid,
	}, nil
}

func compressionFromFilename(name *string) blob.TileCompression {
	for _, c := range []blob.TileCompression{blob.Brotli, blob.Gzip, blob.Zstd} {
		if ext := c.Extension(); ext != "" && strings.HasSuffix(*name, ext) {
			*name = strings.TrimSuffix(*name, ext)
			return c
		}
	}
	return blob.Uncompressed
}

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
	return tilesource.SourceType{Kind: "container", Name: "directory"}
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
	p, ok := r.tileMap[coord]
	if !ok {
		return blob.Tile{}, false, nil
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return blob.Tile{}, false, fmt.Errorf("directory: reading tile %v: %w", coord, err)
	}
	return blob.FromBlob(blob.New(data), r.compress, r.format), true, nil
}

func (r *Reader) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, r, bbox)
}
