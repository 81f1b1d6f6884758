package mbtiles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
)

func TestFlipYIsInvolution(t *testing.T) {
	for level := uint8(0); level < 6; level++ {
		max := uint32(1)<<level - 1
		for y := uint32(0); y <= max; y++ {
			if got := flipY(level, flipY(level, y)); got != y {
				t.Fatalf("flipY(level=%d, flipY(%d)) = %d, want %d", level, y, got, y)
			}
		}
	}
}

func TestFormatToTileFormatRoundTrip(t *testing.T) {
	cases := []string{"pbf", "png", "jpg", "webp"}
	for _, s := range cases {
		format, _, err := formatToTileFormat(s)
		if err != nil {
			t.Fatalf("formatToTileFormat(%q): %v", s, err)
		}
		if got := tileFormatToString(format); got != s {
			t.Fatalf("tileFormatToString(formatToTileFormat(%q)) = %q", s, got)
		}
	}
}

func TestFormatToTileFormatRejectsUnknown(t *testing.T) {
	if _, _, err := formatToTileFormat("tiff"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.mbtiles")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	tj := tilejson.New()
	tj.SetString("name", "test tileset")
	if err := w.WriteMetadata(context.Background(), tj, "pbf"); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	coords := []tilecoord.TileCoord{
		{Level: 0, X: 0, Y: 0},
		{Level: 3, X: 2, Y: 5},
		{Level: 3, X: 4, Y: 1},
	}
	for i, c := range coords {
		data := []byte{byte(i), byte(i + 1), byte(i + 2)}
		if err := w.WriteTile(context.Background(), c, data); err != nil {
			t.Fatalf("WriteTile(%v): %v", c, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if r.format != blob.FormatMVT || r.compression != blob.Gzip {
		t.Fatalf("format/compression = %v/%v, want MVT/Gzip", r.format, r.compression)
	}
	if name, ok := r.TileJSON().GetString("name"); !ok || name != "test tileset" {
		t.Fatalf("TileJSON name = %q, %v", name, ok)
	}

	for i, c := range coords {
		tile, ok, err := r.GetTile(context.Background(), c)
		if err != nil {
			t.Fatalf("GetTile(%v): %v", c, err)
		}
		if !ok {
			t.Fatalf("GetTile(%v): not found", c)
		}
		want := []byte{byte(i), byte(i + 1), byte(i + 2)}
		if string(tile.Bytes()) != string(want) {
			t.Fatalf("tile %v = %v, want %v", c, tile.Bytes(), want)
		}
	}

	missing, ok, err := r.GetTile(context.Background(), tilecoord.TileCoord{Level: 10, X: 1, Y: 1})
	if err != nil {
		t.Fatalf("GetTile(missing): %v", err)
	}
	if ok {
		t.Fatalf("GetTile(missing) = %+v, want not found", missing)
	}

	bbox, err := tilecoord.NewBBox(3, 0, 0, 7, 7)
	if err != nil {
		t.Fatalf("NewBBox: %v", err)
	}
	stream, err := r.GetTileStream(context.Background(), bbox)
	if err != nil {
		t.Fatalf("GetTileStream: %v", err)
	}
	var count int
	for {
		_, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("stream.Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 2 { // two level-3 tiles above
		t.Fatalf("streamed %d tiles at level 3, want 2", count)
	}

	if _, ok := r.Metadata().BBoxPyramid.LevelMin(); !ok {
		t.Fatal("expected a non-empty bbox pyramid")
	}
}

func TestOpenReaderRejectsMissingSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.mbtiles")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	// Drop the tiles table to simulate a non-MBTiles sqlite file.
	if _, err := w.db.Exec(`DROP TABLE tiles`); err != nil {
		t.Fatalf("dropping table: %v", err)
	}
	w.Close()

	if _, err := OpenReader(path); err == nil {
		t.Fatal("expected schema error for missing tiles table")
	}
}
