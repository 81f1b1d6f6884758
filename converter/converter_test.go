package converter

import (
	"context"
	"testing"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// fixedSource returns the same uncompressed JSON tile for every coord
// within its bbox pyramid, recording its own coordinate so tests can
// verify flip_y/swap_xy translation.
type fixedSource struct {
	meta tilesource.Metadata
}

func (s *fixedSource) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "fixed"}
}
func (s *fixedSource) Metadata() tilesource.Metadata { return s.meta }
func (s *fixedSource) TileJSON() *tilejson.TileJSON  { return tilejson.New() }

func (s *fixedSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	if !s.meta.BBoxPyramid.Get(coord.Level).Contains(coord) {
		return blob.Tile{}, false, nil
	}
	text := coord.String()
	return blob.FromBlob(blob.FromString(text), blob.Uncompressed, blob.FormatJSON), true, nil
}

func (s *fixedSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, s, bbox)
}

func newFixedSource(level uint8, xMin, yMin, xMax, yMax uint32) *fixedSource {
	bbox, err := tilecoord.NewBBox(level, xMin, yMin, xMax, yMax)
	if err != nil {
		panic(err)
	}
	pyramid := tilecoord.NewPyramid()
	pyramid.Set(bbox)
	return &fixedSource{meta: tilesource.Metadata{
		Format:      blob.FormatJSON,
		Compression: blob.Uncompressed,
		BBoxPyramid: pyramid,
		Traversal:   traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 256}},
	}}
}

func TestNewInheritsUnsetParameters(t *testing.T) {
	src := newFixedSource(4, 1, 2, 3, 4)
	conv, err := New(src, Params{})
	if err != nil {
		t.Fatal(err)
	}
	meta := conv.Metadata()
	if meta.Format != blob.FormatJSON || meta.Compression != blob.Uncompressed {
		t.Fatalf("expected inherited format/compression, got %v/%v", meta.Format, meta.Compression)
	}
}

func TestNewIntersectsBBoxPyramid(t *testing.T) {
	src := newFixedSource(4, 0, 0, 7, 7)
	clip := tilecoord.NewPyramid()
	bbox, _ := tilecoord.NewBBox(4, 2, 2, 4, 4)
	clip.Set(bbox)

	conv, err := New(src, Params{BBoxPyramid: clip})
	if err != nil {
		t.Fatal(err)
	}
	got := conv.Metadata().BBoxPyramid.Get(4)
	if got.XMin != 2 || got.YMin != 2 || got.XMax != 4 || got.YMax != 4 {
		t.Fatalf("expected clipped bbox [2,2,4,4], got %v", got.AsArray())
	}
}

func TestGetTileAppliesFlipYAndRecompresses(t *testing.T) {
	src := newFixedSource(4, 0, 0, 7, 7)
	conv, err := New(src, Params{FlipY: true, Compression: blob.Gzip})
	if err != nil {
		t.Fatal(err)
	}

	coord := tilecoord.TileCoord{Level: 4, X: 3, Y: 1}
	tile, ok, err := conv.GetTile(context.Background(), coord)
	if err != nil || !ok {
		t.Fatalf("GetTile: ok=%v err=%v", ok, err)
	}
	if tile.Compression() != blob.Gzip {
		t.Fatalf("expected gzip output, got %v", tile.Compression())
	}
	raw, err := blob.Decompress(tile.Bytes(), blob.Gzip)
	if err != nil {
		t.Fatal(err)
	}
	want := coord.FlipY().String()
	if string(raw) != want {
		t.Fatalf("expected inner tile for flipped coord %q, got %q", want, string(raw))
	}
}

func TestGetTileStreamRoundTripsCoordsThroughFlipAndSwap(t *testing.T) {
	src := newFixedSource(3, 0, 0, 7, 7)
	conv, err := New(src, Params{FlipY: true, SwapXY: true})
	if err != nil {
		t.Fatal(err)
	}

	bbox, _ := tilecoord.NewBBox(3, 1, 2, 3, 4)
	stream, err := conv.GetTileStream(context.Background(), bbox)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := tilestream.ToVec(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(entries)) != bbox.CountTiles() {
		t.Fatalf("expected %d entries, got %d", bbox.CountTiles(), len(entries))
	}
	for _, e := range entries {
		if !bbox.Contains(e.Coord) {
			t.Fatalf("entry coord %v outside requested bbox %v", e.Coord, bbox.AsArray())
		}
	}
}

// The stream path and the per-coord path must resolve the same outer
// coordinate to the same inner tile when flip and swap are combined.
func TestGetTileStreamAgreesWithGetTileUnderFlipAndSwap(t *testing.T) {
	src := newFixedSource(3, 0, 0, 7, 7)
	conv, err := New(src, Params{FlipY: true, SwapXY: true})
	if err != nil {
		t.Fatal(err)
	}

	bbox, _ := tilecoord.NewBBox(3, 1, 2, 3, 4)
	stream, err := conv.GetTileStream(context.Background(), bbox)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := tilestream.ToVec(context.Background(), stream)
	if err != nil {
		t.Fatal(err)
	}
	if uint64(len(entries)) != bbox.CountTiles() {
		t.Fatalf("expected %d entries, got %d", bbox.CountTiles(), len(entries))
	}

	for _, e := range entries {
		direct, ok, err := conv.GetTile(context.Background(), e.Coord)
		if err != nil || !ok {
			t.Fatalf("GetTile(%v): ok=%v err=%v", e.Coord, ok, err)
		}
		if string(direct.Bytes()) != string(e.Item.Bytes()) {
			t.Fatalf("coord %v: GetTile resolved %q, stream resolved %q",
				e.Coord, direct.Bytes(), e.Item.Bytes())
		}
		want := e.Coord.FlipY().SwapXY().String()
		if string(direct.Bytes()) != want {
			t.Fatalf("coord %v: expected inner tile %q, got %q", e.Coord, want, direct.Bytes())
		}
	}
}
