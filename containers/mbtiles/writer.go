package mbtiles

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// Writer writes tiles to an MBTiles (SQLite) archive. No deduplication
// (spec.md §4.H: "MBTiles writer: AnyOrder, per-row batches ... No
// deduplication").
type Writer struct {
	db *sql.DB
}

// NewWriter creates (or overwrites) an MBTiles archive and its schema.
func NewWriter(path string) (*Writer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: creating %s: %w", path, err)
	}
	db.SetMaxOpenConns(poolSize)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS metadata (name TEXT NOT NULL, value TEXT, PRIMARY KEY (name))`,
		`CREATE TABLE IF NOT EXISTS tiles (zoom_level INTEGER NOT NULL, tile_column INTEGER NOT NULL, tile_row INTEGER NOT NULL, tile_data BLOB, PRIMARY KEY (zoom_level, tile_column, tile_row))`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("mbtiles: creating schema: %w", err)
		}
	}

	return &Writer{db: db}, nil
}

// WriteTile upserts a single tile, flipping coord's XYZ row back to TMS.
func (w *Writer) WriteTile(ctx context.Context, coord tilecoord.TileCoord, data []byte) error {
	tmsRow := flipY(coord.Level, coord.Y)
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(zoom_level, tile_column, tile_row) DO UPDATE SET tile_data = excluded.tile_data`,
		coord.Level, coord.X, tmsRow, data)
	if err != nil {
		return fmt.Errorf("mbtiles: writing tile %v: %w", coord, err)
	}
	return nil
}

// WriteMetadata upserts the metadata rows derived from a TileJSON
// document plus the declared tile format string.
func (w *Writer) WriteMetadata(ctx context.Context, tj *tilejson.TileJSON, format string) error {
	rows := map[string]string{"format": format}

	if name, ok := tj.GetString("name"); ok {
		rows["name"] = name
	}
	if desc, ok := tj.GetString("description"); ok {
		rows["description"] = desc
	}
	if attr, ok := tj.GetString("attribution"); ok {
		rows["attribution"] = attr
	}
	if v, ok := tj.GetString("version"); ok {
		rows["version"] = v
	}
	if t, ok := tj.GetString("type"); ok {
		rows["type"] = t
	}
	if z, ok := tj.MinZoom(); ok {
		rows["minzoom"] = fmt.Sprintf("%d", z)
	}
	if z, ok := tj.MaxZoom(); ok {
		rows["maxzoom"] = fmt.Sprintf("%d", z)
	}
	if tj.Bounds != nil {
		rows["bounds"] = fmt.Sprintf("%g,%g,%g,%g", tj.Bounds.West, tj.Bounds.South, tj.Bounds.East, tj.Bounds.North)
	}
	if tj.Center != nil {
		rows["center"] = fmt.Sprintf("%g,%g,%d", tj.Center.Lon, tj.Center.Lat, tj.Center.Zoom)
	}
	if len(tj.VectorLayers) > 0 {
		body, err := tj.ToJSON()
		if err == nil {
			rows["json"] = string(body)
		}
	}

	for name, value := range rows {
		if _, err := w.db.ExecContext(ctx,
			`INSERT INTO metadata (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
			name, value); err != nil {
			return fmt.Errorf("mbtiles: writing metadata %q: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (w *Writer) Close() error { return w.db.Close() }

// WriteFromSource drives src through traverse_all_tiles with an
// AnyOrder, per-row-batch write traversal and upserts every tile
// (spec.md §4.H). progress, when non-nil, is called after each batch
// with the running (read, written) tile counts; pass nil to skip
// progress reporting.
func WriteFromSource(ctx context.Context, outputPath string, src tilesource.Source, ioConcurrency int, progress tilesource.Progress) error {
	meta := src.Metadata()

	w, err := NewWriter(outputPath)
	if err != nil {
		return err
	}
	defer w.Close()

	tj := tilejson.New()
	tj.Merge(src.TileJSON())
	tj.UpdateFromPyramid(meta.BBoxPyramid)
	if err := w.WriteMetadata(ctx, tj, tileFormatToString(meta.Format)); err != nil {
		return err
	}

	write := traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 1}}
	return tilesource.TraverseAllTiles(ctx, src, write, ioConcurrency, nil, progress, func(ctx context.Context, b tilesource.Batch) error {
		return tilestream.ForEachSync(ctx, b.Stream, func(e tilestream.Entry[blob.Tile]) error {
			return w.WriteTile(ctx, e.Coord, e.Item.Bytes())
		})
	})
}
