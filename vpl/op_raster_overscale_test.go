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

// quadrantImageSource serves one 4x4 RGBA tile at level 0, (0,0): top-left
// quadrant red, top-right green, bottom-left blue, bottom-right white.
type quadrantImageSource struct {
	meta tilesource.Metadata
}

func newQuadrantImageSource() *quadrantImageSource {
	bbox, err := tilecoord.NewBBox(0, 0, 0, 0, 0)
	if err != nil {
		panic(err)
	}
	pyramid := tilecoord.NewPyramid()
	pyramid.Set(bbox)
	return &quadrantImageSource{meta: tilesource.Metadata{
		Format:      blob.FormatPNG,
		Compression: blob.Uncompressed,
		BBoxPyramid: pyramid,
		Traversal:   traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 256}},
	}}
}

func (s *quadrantImageSource) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "quadrants"}
}
func (s *quadrantImageSource) Metadata() tilesource.Metadata { return s.meta }
func (s *quadrantImageSource) TileJSON() *tilejson.TileJSON  { return tilejson.New() }

func (s *quadrantImageSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	if coord.Level != 0 || coord.X != 0 || coord.Y != 0 {
		return blob.Tile{}, false, nil
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	fill := func(x0, y0, x1, y1 int, c color.Color) {
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				img.Set(x, y, c)
			}
		}
	}
	fill(0, 0, 2, 2, color.RGBA{255, 0, 0, 255})
	fill(2, 0, 4, 2, color.RGBA{0, 255, 0, 255})
	fill(0, 2, 2, 4, color.RGBA{0, 0, 255, 255})
	fill(2, 2, 4, 4, color.RGBA{255, 255, 255, 255})
	return blob.FromImage(img, blob.FormatPNG, blob.Uncompressed, 0)
}

func (s *quadrantImageSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, s, bbox)
}

func TestRasterOverscaleExtractsQuadrant(t *testing.T) {
	c := NewCompiler(nil)
	node := Node{Name: "raster_overscale", Properties: []Property{
		{Key: "level_base", Value: "0"},
		{Key: "level_max", Value: "1"},
	}}
	src, err := c.transforms["raster_overscale"](context.Background(), node, newQuadrantImageSource(), c)
	if err != nil {
		t.Fatal(err)
	}

	meta := src.Metadata()
	if meta.BBoxPyramid.Get(1).IsEmpty() {
		t.Fatalf("expected level 1 to be populated by overscale")
	}

	topLeft, ok, err := src.GetTile(context.Background(), tilecoord.TileCoord{Level: 1, X: 0, Y: 0})
	if err != nil || !ok {
		t.Fatalf("GetTile(1,0,0): ok=%v err=%v", ok, err)
	}
	img, err := topLeft.IntoImage()
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(0, 0).RGBA()
	if r>>8 != 255 || g>>8 != 0 || b>>8 != 0 {
		t.Fatalf("expected top-left quadrant tile to be red, got (%d,%d,%d)", r>>8, g>>8, b>>8)
	}

	bottomRight, ok, err := src.GetTile(context.Background(), tilecoord.TileCoord{Level: 1, X: 1, Y: 1})
	if err != nil || !ok {
		t.Fatalf("GetTile(1,1,1): ok=%v err=%v", ok, err)
	}
	img2, err := bottomRight.IntoImage()
	if err != nil {
		t.Fatal(err)
	}
	r2, g2, b2, _ := img2.At(0, 0).RGBA()
	if r2>>8 != 255 || g2>>8 != 255 || b2>>8 != 255 {
		t.Fatalf("expected bottom-right quadrant tile to be white, got (%d,%d,%d)", r2>>8, g2>>8, b2>>8)
	}
}

func TestRasterOverscaleOutsideLevelRangeIsMissing(t *testing.T) {
	c := NewCompiler(nil)
	node := Node{Name: "raster_overscale", Properties: []Property{
		{Key: "level_base", Value: "0"},
		{Key: "level_max", Value: "1"},
	}}
	src, err := c.transforms["raster_overscale"](context.Background(), node, newQuadrantImageSource(), c)
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := src.GetTile(context.Background(), tilecoord.TileCoord{Level: 2, X: 0, Y: 0})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected level 2 (beyond level_max) to be absent")
	}
}
