package vpl

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// solidColorSource serves the same solid-colored 4x4 tile for every
// coord at level 0.
type solidColorSource struct {
	meta tilesource.Metadata
	fill color.NRGBA
}

func newSolidColorSource(fill color.NRGBA) *solidColorSource {
	bbox, err := tilecoord.NewBBox(0, 0, 0, 0, 0)
	if err != nil {
		panic(err)
	}
	pyramid := tilecoord.NewPyramid()
	pyramid.Set(bbox)
	return &solidColorSource{
		meta: tilesource.Metadata{
			Format:      blob.FormatPNG,
			Compression: blob.Uncompressed,
			BBoxPyramid: pyramid,
			Traversal:   traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 256}},
		},
		fill: fill,
	}
}

func (s *solidColorSource) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "solid"}
}
func (s *solidColorSource) Metadata() tilesource.Metadata { return s.meta }
func (s *solidColorSource) TileJSON() *tilejson.TileJSON  { return tilejson.New() }

func (s *solidColorSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	if !s.meta.BBoxPyramid.Get(coord.Level).Contains(coord) {
		return blob.Tile{}, false, nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, s.fill)
		}
	}
	tile, err := blob.FromImage(img, blob.FormatPNG, blob.Uncompressed, 0)
	if err != nil {
		return blob.Tile{}, false, err
	}
	return tile, true, nil
}

func (s *solidColorSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, s, bbox)
}

func stackSources(t *testing.T, sources ...tilesource.Source) tilesource.Source {
	t.Helper()
	c := NewCompiler(nil)
	node := Node{Name: "from_stacked_raster"}
	// Register each source under a unique op name and reference them as
	// sub-pipelines on the node.
	for i, src := range sources {
		inner := src
		opName := "stub_" + string(rune('a'+i))
		c.RegisterReader(opName, func(ctx context.Context, n Node, _ *Compiler) (tilesource.Source, error) {
			return inner, nil
		})
		node.Sources = append(node.Sources, Pipeline{{Name: opName}})
	}
	out, err := buildFromStackedRaster(context.Background(), node, c)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// Opaque red over fully transparent yields red everywhere: the top
// source wins outright.
func TestStackedRasterOpaqueOverTransparent(t *testing.T) {
	red := newSolidColorSource(color.NRGBA{255, 0, 0, 255})
	clear := newSolidColorSource(color.NRGBA{0, 0, 0, 0})
	stacked := stackSources(t, red, clear)

	tile, ok, err := stacked.GetTile(context.Background(), tilecoord.TileCoord{Level: 0, X: 0, Y: 0})
	if err != nil || !ok {
		t.Fatalf("GetTile: ok=%v err=%v", ok, err)
	}
	img, err := tile.IntoImage()
	if err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 || a>>8 != 255 {
				t.Fatalf("pixel (%d,%d): got (%d,%d,%d,%d), want opaque red",
					x, y, r>>8, g>>8, b>>8, a>>8)
			}
		}
	}
}

// A semi-transparent top source is composited source-over onto the one
// beneath it: both colors contribute.
func TestStackedRasterSemiTransparentBlends(t *testing.T) {
	top := newSolidColorSource(color.NRGBA{255, 0, 0, 128})
	bottom := newSolidColorSource(color.NRGBA{0, 0, 255, 255})
	stacked := stackSources(t, top, bottom)

	tile, ok, err := stacked.GetTile(context.Background(), tilecoord.TileCoord{Level: 0, X: 0, Y: 0})
	if err != nil || !ok {
		t.Fatalf("GetTile: ok=%v err=%v", ok, err)
	}
	img, err := tile.IntoImage()
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, a := img.At(1, 1).RGBA()
	r8, g8, b8, a8 := r>>8, g>>8, b>>8, a>>8
	if a8 != 255 {
		t.Fatalf("expected opaque result over an opaque base, got alpha %d", a8)
	}
	if g8 != 0 {
		t.Fatalf("expected no green contribution, got %d", g8)
	}
	if r8 < 100 || r8 > 155 || b8 < 100 || b8 > 155 {
		t.Fatalf("expected roughly even red/blue blend, got (%d,%d,%d)", r8, g8, b8)
	}
}

// The first listed source is on top: swapping the stack order flips
// which source dominates.
func TestStackedRasterFirstSourceOnTop(t *testing.T) {
	red := newSolidColorSource(color.NRGBA{255, 0, 0, 255})
	blue := newSolidColorSource(color.NRGBA{0, 0, 255, 255})
	stacked := stackSources(t, red, blue)

	tile, ok, err := stacked.GetTile(context.Background(), tilecoord.TileCoord{Level: 0, X: 0, Y: 0})
	if err != nil || !ok {
		t.Fatalf("GetTile: ok=%v err=%v", ok, err)
	}
	img, err := tile.IntoImage()
	if err != nil {
		t.Fatal(err)
	}
	r, _, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 255 || b>>8 != 0 {
		t.Fatalf("expected the first (red) source on top, got r=%d b=%d", r>>8, b>>8)
	}
}

// A non-raster input is rejected at build time.
func TestStackedRasterRejectsVectorInput(t *testing.T) {
	c := NewCompiler(nil)
	vector := newRasterSource(4)
	vector.meta.Format = blob.FormatMVT
	c.RegisterReader("stub_vec", func(ctx context.Context, n Node, _ *Compiler) (tilesource.Source, error) {
		return vector, nil
	})
	node := Node{Name: "from_stacked_raster", Sources: []Pipeline{{{Name: "stub_vec"}}}}
	_, err := buildFromStackedRaster(context.Background(), node, c)
	if err == nil {
		t.Fatalf("expected error for a vector input to from_stacked_raster")
	}
}
