// Package mbtiles implements the MBTiles reader and writer (spec.md
// §4.G.1/§4.H): a SQLite file with tiles(zoom_level,tile_column,
// tile_row,tile_data) and metadata(name,value) tables, TMS-flipped Y.
// Grounded on tarkov-database-tileserver/core/mbtiles/mbtiles.go's
// schema validation, format-string detection, and metadata parsing,
// adapted from a package-global tileset registry to a tilesource.Source
// reader/writer pair.
package mbtiles

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// Error kinds (spec.md §4.G.1).
var (
	ErrSchema       = errors.New("mbtiles: missing required table 'tiles' or 'metadata'")
	ErrMissingFormat = errors.New("mbtiles: metadata missing 'format'")
	ErrUnknownFormat = errors.New("mbtiles: unknown format value")
)

// poolSize is the sqlite connection pool size (spec.md §4.G.1: "pooled
// SQLite handle (connection pool sized to ~10)").
const poolSize = 10

// Reader provides read access to an MBTiles (SQLite) archive,
// implementing tilesource.Source.
type Reader struct {
	db          *sql.DB
	format      blob.TileFormat
	compression blob.TileCompression
	tileJSON    *tilejson.TileJSON
	pyramid     *tilecoord.TileBBoxPyramid
}

var _ tilesource.Source = (*Reader)(nil)

// OpenReader opens an MBTiles archive for reading.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(poolSize)

	var tableCount int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE name IN ('tiles', 'metadata')`).Scan(&tableCount); err != nil {
		db.Close()
		return nil, fmt.Errorf("mbtiles: checking schema: %w", err)
	}
	if tableCount < 2 {
		db.Close()
		return nil, ErrSchema
	}

	r := &Reader{db: db}

	tj, format, compression, err := readMetadata(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.tileJSON = tj
	r.format = format
	r.compression = compression

	pyramid, err := buildPyramid(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.pyramid = pyramid

	return r, nil
}

// formatToTileFormat maps the metadata "format" value to the declared
// (tile_format, tile_compression) pair (spec.md §4.G.1).
func formatToTileFormat(format string) (blob.TileFormat, blob.TileCompression, error) {
	switch format {
	case "pbf":
		return blob.FormatMVT, blob.Gzip, nil
	case "png":
		return blob.FormatPNG, blob.Uncompressed, nil
	case "jpg", "jpeg":
		return blob.FormatJPG, blob.Uncompressed, nil
	case "webp":
		return blob.FormatWebP, blob.Uncompressed, nil
	default:
		return blob.FormatUnknown, blob.Uncompressed, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// tileFormatToString is formatToTileFormat's inverse, used by the writer.
func tileFormatToString(f blob.TileFormat) string {
	switch f {
	case blob.FormatMVT:
		return "pbf"
	case blob.FormatPNG:
		return "png"
	case blob.FormatJPG:
		return "jpg"
	case blob.FormatWebP:
		return "webp"
	default:
		return "pbf"
	}
}

func readMetadata(db *sql.DB) (*tilejson.TileJSON, blob.TileFormat, blob.TileCompression, error) {
	tj := tilejson.New()

	rows, err := db.Query(`SELECT name, value FROM metadata WHERE value IS NOT ''`)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("mbtiles: reading metadata: %w", err)
	}
	defer rows.Close()

	var formatStr string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, 0, 0, fmt.Errorf("mbtiles: scanning metadata row: %w", err)
		}
		switch name {
		case "format":
			formatStr = value
		case "json":
			inner, err := tilejson.FromJSON([]byte(value))
			if err == nil {
				tj.Merge(inner)
			}
		case "minzoom", "maxzoom":
			// Stored as a bare decimal string; tilejson expects a JSON
			// number (not a quoted string) for MinZoom()/MaxZoom() to parse.
			if _, err := strconv.ParseUint(value, 10, 8); err == nil {
				tj.Values[name] = json.RawMessage(value)
			}
		case "bounds":
			if b, err := parseBounds(value); err == nil {
				tj.Bounds = &b
			}
		case "center":
			if c, err := parseCenter(value); err == nil {
				tj.Center = &c
			}
		default:
			tj.SetString(name, value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, fmt.Errorf("mbtiles: reading metadata: %w", err)
	}

	if formatStr == "" {
		return nil, 0, 0, ErrMissingFormat
	}
	format, compression, err := formatToTileFormat(formatStr)
	if err != nil {
		return nil, 0, 0, err
	}
	return tj, format, compression, nil
}

// parseBounds parses the metadata table's comma-separated
// "west,south,east,north" bounds string (spec.md §4.G.1's metadata
// table, distinct from TileJSON's own JSON-array bounds encoding).
func parseBounds(s string) (tilecoord.GeoBBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tilecoord.GeoBBox{}, fmt.Errorf("mbtiles: invalid bounds %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tilecoord.GeoBBox{}, fmt.Errorf("mbtiles: invalid bounds %q: %w", s, err)
		}
		v[i] = f
	}
	return tilecoord.NewGeoBBox(v[0], v[1], v[2], v[3])
}

// parseCenter parses the metadata table's comma-separated
// "lon,lat,zoom" center string.
func parseCenter(s string) (tilecoord.GeoCenter, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return tilecoord.GeoCenter{}, fmt.Errorf("mbtiles: invalid center %q", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return tilecoord.GeoCenter{}, fmt.Errorf("mbtiles: invalid center %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return tilecoord.GeoCenter{}, fmt.Errorf("mbtiles: invalid center %q: %w", s, err)
	}
	zoom, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 10, 8)
	if err != nil {
		return tilecoord.GeoCenter{}, fmt.Errorf("mbtiles: invalid center %q: %w", s, err)
	}
	return tilecoord.GeoCenter{Lon: lon, Lat: lat, Zoom: uint8(zoom)}, nil
}

// buildPyramid derives the bbox pyramid with the fast-MIN/MAX trick
// (spec.md §4.G.1): compute x_min/x_max globally per level, sample
// y_min/y_max at the middle column, then refine by bounding the global
// scan with the sampled estimate, instead of a full table scan.
func buildPyramid(db *sql.DB) (*tilecoord.TileBBoxPyramid, error) {
	pyramid := tilecoord.NewPyramid()

	levelRows, err := db.Query(`SELECT DISTINCT zoom_level FROM tiles ORDER BY zoom_level`)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: listing zoom levels: %w", err)
	}
	defer levelRows.Close()

	var levels []int
	for levelRows.Next() {
		var z int
		if err := levelRows.Scan(&z); err != nil {
			return nil, fmt.Errorf("mbtiles: scanning zoom level: %w", err)
		}
		levels = append(levels, z)
	}
	if err := levelRows.Err(); err != nil {
		return nil, err
	}

	for _, z := range levels {
		var xMin, xMax int64
		if err := db.QueryRow(`SELECT min(tile_column), max(tile_column) FROM tiles WHERE zoom_level = ?`, z).Scan(&xMin, &xMax); err != nil {
			return nil, fmt.Errorf("mbtiles: scanning x range at zoom %d: %w", z, err)
		}

		midX := (xMin + xMax) / 2
		var yMinEst, yMaxEst sql.NullInt64
		if err := db.QueryRow(`SELECT min(tile_row), max(tile_row) FROM tiles WHERE zoom_level = ? AND tile_column = ?`, z, midX).Scan(&yMinEst, &yMaxEst); err != nil {
			return nil, fmt.Errorf("mbtiles: sampling y range at zoom %d: %w", z, err)
		}
		if !yMinEst.Valid {
			// The sampled middle column has no tiles (a sparse/irregular
			// pyramid); fall back to a global scan for this level.
			if err := db.QueryRow(`SELECT min(tile_row), max(tile_row) FROM tiles WHERE zoom_level = ?`, z).Scan(&yMinEst, &yMaxEst); err != nil {
				return nil, fmt.Errorf("mbtiles: scanning y range at zoom %d: %w", z, err)
			}
		}

		var yMin, yMax int64
		if err := db.QueryRow(`SELECT min(tile_row) FROM tiles WHERE zoom_level = ? AND tile_row <= ?`, z, yMinEst.Int64).Scan(&yMin); err != nil {
			return nil, fmt.Errorf("mbtiles: refining y_min at zoom %d: %w", z, err)
		}
		if err := db.QueryRow(`SELECT max(tile_row) FROM tiles WHERE zoom_level = ? AND tile_row >= ?`, z, yMaxEst.Int64).Scan(&yMax); err != nil {
			return nil, fmt.Errorf("mbtiles: refining y_max at zoom %d: %w", z, err)
		}

		maxIndex := (int64(1) << uint(z)) - 1
		xyzYMin := maxIndex - yMax
		xyzYMax := maxIndex - yMin

		bbox, err := tilecoord.NewBBox(uint8(z), uint32(xMin), uint32(xyzYMin), uint32(xMax), uint32(xyzYMax))
		if err != nil {
			return nil, fmt.Errorf("mbtiles: building bbox at zoom %d: %w", z, err)
		}
		pyramid.Set(bbox)
	}

	return pyramid, nil
}

// flipY converts between MBTiles' TMS row convention and this module's
// XYZ convention (spec.md §4.Glossary "TMS vs XYZ"); it is its own
// inverse.
func flipY(level uint8, y uint32) uint32 {
	return (uint32(1)<<level - 1) - y
}

// SourceType identifies this reader as an "mbtiles" container.
func (r *Reader) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "mbtiles"}
}

// Metadata reports the format/compression derived from the metadata
// table and the bbox pyramid derived from a scan of tiles.
func (r *Reader) Metadata() tilesource.Metadata {
	return tilesource.Metadata{
		Format:      r.format,
		Compression: r.compression,
		BBoxPyramid: r.pyramid,
		Traversal:   traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: ^uint32(0)}},
	}
}

// TileJSON returns the archive's decoded metadata document.
func (r *Reader) TileJSON() *tilejson.TileJSON { return r.tileJSON }

// GetTile returns coord's tile bytes, tagged with the archive's declared
// format/compression. Returns ok=false if absent.
func (r *Reader) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	row := coord.Y
	tmsRow := flipY(coord.Level, row)

	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?`,
		coord.Level, coord.X, tmsRow).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return blob.Tile{}, false, nil
	}
	if err != nil {
		return blob.Tile{}, false, fmt.Errorf("mbtiles: reading tile %v: %w", coord, err)
	}
	return blob.FromBlob(blob.New(data), r.compression, r.format), true, nil
}

// GetTileStream issues a single range SELECT over the bbox's full
// (x, TMS-row, z) range and streams the results (spec.md §4.G.1).
func (r *Reader) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	tmsYMin := flipY(bbox.Level, bbox.YMax)
	tmsYMax := flipY(bbox.Level, bbox.YMin)

	rows, err := r.db.QueryContext(ctx,
		`SELECT tile_column, tile_row, tile_data FROM tiles WHERE zoom_level = ? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?`,
		bbox.Level, bbox.XMin, bbox.XMax, tmsYMin, tmsYMax)
	if err != nil {
		return tilestream.Stream[blob.Tile]{}, fmt.Errorf("mbtiles: streaming tiles: %w", err)
	}
	defer rows.Close()

	var entries []tilestream.Entry[blob.Tile]
	for rows.Next() {
		var x, tmsRow uint32
		var data []byte
		if err := rows.Scan(&x, &tmsRow, &data); err != nil {
			return tilestream.Stream[blob.Tile]{}, fmt.Errorf("mbtiles: scanning tile row: %w", err)
		}
		coord := tilecoord.TileCoord{Level: bbox.Level, X: x, Y: flipY(bbox.Level, tmsRow)}
		entries = append(entries, tilestream.Entry[blob.Tile]{
			Coord: coord,
			Item:  blob.FromBlob(blob.New(data), r.compression, r.format),
		})
	}
	if err := rows.Err(); err != nil {
		return tilestream.Stream[blob.Tile]{}, fmt.Errorf("mbtiles: streaming tiles: %w", err)
	}

	return tilestream.FromVec(entries), nil
}

// Close closes the underlying database handle.
func (r *Reader) Close() error { return r.db.Close() }
