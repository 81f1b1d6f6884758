package directory

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestOpenPathRejectsRelative(t *testing.T) {
	if _, err := OpenPath("relative/path"); err == nil {
		t.Fatal("expected error for relative path")
	}
}

func TestOpenPathParsesTilesAndMetadata(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "3/2/1.png"), "tile data")
	mustWriteFile(t, filepath.Join(dir, "meta.json"), `{"type":"dummy"}`)

	r, err := OpenPath(dir)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}

	if r.format != blob.FormatPNG || r.compress != blob.Uncompressed {
		t.Fatalf("format/compress = %v/%v, want PNG/Uncompressed", r.format, r.compress)
	}
	if typ, ok := r.TileJSON().GetString("type"); !ok || typ != "dummy" {
		t.Fatalf("TileJSON type = %q, %v", typ, ok)
	}

	coord, _ := tilecoord.New(3, 2, 1)
	tile, ok, err := r.GetTile(context.Background(), coord)
	if err != nil || !ok {
		t.Fatalf("GetTile: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(tile.Bytes(), []byte("tile data")) {
		t.Fatalf("tile bytes = %q, want %q", tile.Bytes(), "tile data")
	}

	missing, _ := tilecoord.New(2, 2, 1)
	_, ok, err = r.GetTile(context.Background(), missing)
	if err != nil {
		t.Fatalf("GetTile(missing): %v", err)
	}
	if ok {
		t.Fatal("expected missing tile to report not found")
	}
}

func TestOpenPathErrorsOnNoTiles(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "3/2/1.unknown"), "unsupported")

	if _, err := OpenPath(dir); err == nil {
		t.Fatal("expected no-tiles error")
	}
}

func TestOpenPathRejectsMixedFormats(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "3/2/1.png"), "a")
	mustWriteFile(t, filepath.Join(dir, "4/2/1.jpg"), "b")

	if _, err := OpenPath(dir); err == nil {
		t.Fatal("expected mixed-format error")
	}
}

func TestOpenPathRejectsMixedCompressions(t *testing.T) {
	dir := t.TempDir()
	mustWriteFile(t, filepath.Join(dir, "3/2/1.pbf"), "a")
	mustWriteFile(t, filepath.Join(dir, "4/2/1.pbf.br"), "b")

	if _, err := OpenPath(dir); err == nil {
		t.Fatal("expected mixed-compression error")
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")

	w, err := NewWriter(root, blob.FormatMVT, blob.Gzip)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	coords := []tilecoord.TileCoord{
		{Level: 0, X: 0, Y: 0},
		{Level: 2, X: 1, Y: 3},
	}
	for i, c := range coords {
		if err := w.WriteTile(c, []byte{byte(i), byte(i + 1)}); err != nil {
			t.Fatalf("WriteTile: %v", err)
		}
	}

	r, err := OpenPath(root)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}

	for i, c := range coords {
		tile, ok, err := r.GetTile(context.Background(), c)
		if err != nil || !ok {
			t.Fatalf("GetTile(%v): ok=%v err=%v", c, ok, err)
		}
		want := []byte{byte(i), byte(i + 1)}
		if !bytes.Equal(tile.Bytes(), want) {
			t.Fatalf("tile %v = %v, want %v", c, tile.Bytes(), want)
		}
	}
}

// hilbertOrderSource serves fixed tiles and advertises a PMTiles-order
// traversal, the strictest producer order a writer has to accept.
type hilbertOrderSource struct {
	meta  tilesource.Metadata
	tiles map[tilecoord.TileCoord][]byte
}

func newHilbertOrderSource(tiles map[tilecoord.TileCoord][]byte) *hilbertOrderSource {
	pyramid := tilecoord.NewPyramid()
	for c := range tiles {
		pyramid.IncludeCoord(c)
	}
	return &hilbertOrderSource{
		meta: tilesource.Metadata{
			Format:      blob.FormatPNG,
			Compression: blob.Uncompressed,
			BBoxPyramid: pyramid,
			Traversal:   traversal.Traversal{Order: traversal.PMTiles, Size: traversal.SizeRange{Min: 1, Max: 4096}},
		},
		tiles: tiles,
	}
}

func (s *hilbertOrderSource) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "hilbert"}
}
func (s *hilbertOrderSource) Metadata() tilesource.Metadata { return s.meta }
func (s *hilbertOrderSource) TileJSON() *tilejson.TileJSON  { return tilejson.New() }

func (s *hilbertOrderSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	data, ok := s.tiles[coord]
	if !ok {
		return blob.Tile{}, false, nil
	}
	return blob.FromBlob(blob.New(data), blob.Uncompressed, blob.FormatPNG), true, nil
}

func (s *hilbertOrderSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, s, bbox)
}

// A PMTiles-ordered producer must stream straight into the directory
// writer's AnyOrder traversal without needing a buffered plan.
func TestWriteFromSourceAcceptsPMTilesOrderedSource(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")

	tiles := map[tilecoord.TileCoord][]byte{
		{Level: 1, X: 0, Y: 0}: []byte("a"),
		{Level: 1, X: 1, Y: 0}: []byte("bb"),
		{Level: 1, X: 1, Y: 1}: []byte("ccc"),
	}
	if err := WriteFromSource(context.Background(), root, newHilbertOrderSource(tiles), 2, nil); err != nil {
		t.Fatalf("WriteFromSource: %v", err)
	}

	r, err := OpenPath(root)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}

	for c, want := range tiles {
		tile, ok, err := r.GetTile(context.Background(), c)
		if err != nil || !ok {
			t.Fatalf("GetTile(%v): ok=%v err=%v", c, ok, err)
		}
		if !bytes.Equal(tile.Bytes(), want) {
			t.Fatalf("tile %v = %q, want %q", c, tile.Bytes(), want)
		}
	}
}
