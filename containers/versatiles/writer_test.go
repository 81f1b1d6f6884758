package versatiles

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.versatiles")

	w := NewWriter(blob.FormatPNG, blob.Gzip, tilejson.New())
	coords := []tilecoord.TileCoord{
		{Level: 0, X: 0, Y: 0},
		{Level: 2, X: 1, Y: 3},
		{Level: 9, X: 257, Y: 300}, // forces a second block at bx=1
	}
	for i, c := range coords {
		data, err := blob.Compress([]byte{byte(i), byte(i + 1), byte(i + 2)}, blob.Gzip)
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		tile := blob.FromBlob(blob.New(data), blob.Gzip, blob.FormatPNG)
		if err := w.WriteTile(c, tile); err != nil {
			t.Fatalf("WriteTile(%v): %v", c, err)
		}
	}
	if err := w.Finalize(path); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	if r.header.Format != blob.FormatPNG || r.header.Compression != blob.Gzip {
		t.Fatalf("header format/compression = %v/%v", r.header.Format, r.header.Compression)
	}

	for i, c := range coords {
		tile, ok, err := r.GetTile(context.Background(), c)
		if err != nil || !ok {
			t.Fatalf("GetTile(%v): ok=%v err=%v", c, ok, err)
		}
		want, _ := blob.Compress([]byte{byte(i), byte(i + 1), byte(i + 2)}, blob.Gzip)
		if !bytes.Equal(tile.Bytes(), want) {
			t.Fatalf("tile %v bytes mismatch", c)
		}
	}

	if _, ok, err := r.GetTile(context.Background(), tilecoord.TileCoord{Level: 5, X: 10, Y: 10}); err != nil || ok {
		t.Fatalf("expected missing tile, got ok=%v err=%v", ok, err)
	}
}

func TestWriterDeduplicatesWithinBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.versatiles")

	w := NewWriter(blob.FormatMVT, blob.Uncompressed, tilejson.New())
	same := []byte("identical payload")
	coordsInBlock := []tilecoord.TileCoord{
		{Level: 8, X: 1, Y: 1},
		{Level: 8, X: 2, Y: 2},
		{Level: 8, X: 3, Y: 3},
	}
	for _, c := range coordsInBlock {
		if err := w.WriteTile(c, blob.FromBlob(blob.New(append([]byte(nil), same...)), blob.Uncompressed, blob.FormatMVT)); err != nil {
			t.Fatalf("WriteTile(%v): %v", c, err)
		}
	}

	acc := w.blocks[blockCoordOf(coordsInBlock[0])]
	tileData, _, _, err := buildBlock(acc)
	if err != nil {
		t.Fatalf("buildBlock: %v", err)
	}
	if len(tileData) != len(same) {
		t.Fatalf("tile data len = %d, want %d (one copy of the deduplicated payload)", len(tileData), len(same))
	}

	if err := w.Finalize(path); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	for _, c := range coordsInBlock {
		tile, ok, err := r.GetTile(context.Background(), c)
		if err != nil || !ok {
			t.Fatalf("GetTile(%v): ok=%v err=%v", c, ok, err)
		}
		if !bytes.Equal(tile.Bytes(), same) {
			t.Fatalf("tile %v bytes = %q, want %q", c, tile.Bytes(), same)
		}
	}
}
