package vpl

import (
	"context"
	"image"
	"testing"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// demTileSource serves one 2x2 RGBA tile at level 0 whose pixels encode
// the given 24-bit raw elevation values.
type demTileSource struct {
	meta   tilesource.Metadata
	tj     *tilejson.TileJSON
	values [4]uint32
}

func newDemTileSource(schema string, values [4]uint32) *demTileSource {
	bbox, err := tilecoord.NewBBox(0, 0, 0, 0, 0)
	if err != nil {
		panic(err)
	}
	pyramid := tilecoord.NewPyramid()
	pyramid.Set(bbox)
	tj := tilejson.New()
	if schema != "" {
		tj.SetString("tile_schema", schema)
	}
	return &demTileSource{
		meta: tilesource.Metadata{
			Format:      blob.FormatPNG,
			Compression: blob.Uncompressed,
			BBoxPyramid: pyramid,
			Traversal:   traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 256}},
		},
		tj:     tj,
		values: values,
	}
}

func (s *demTileSource) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "dem"}
}
func (s *demTileSource) Metadata() tilesource.Metadata { return s.meta }
func (s *demTileSource) TileJSON() *tilejson.TileJSON  { return s.tj }

func (s *demTileSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	if coord.Level != 0 || coord.X != 0 || coord.Y != 0 {
		return blob.Tile{}, false, nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for i, v := range s.values {
		x, y := i%2, i/2
		o := img.PixOffset(x, y)
		img.Pix[o+0] = uint8(v >> 16)
		img.Pix[o+1] = uint8(v >> 8)
		img.Pix[o+2] = uint8(v)
		img.Pix[o+3] = 255
	}
	tile, err := blob.FromImage(img, blob.FormatPNG, blob.Uncompressed, 0)
	if err != nil {
		return blob.Tile{}, false, err
	}
	return tile, true, nil
}

func (s *demTileSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, s, bbox)
}

// Raw values 100000..100640 span a 640-unit range: 10 range bits, so an
// 8-bit budget zeroes the low 2 bits of B and leaves R and G whole.
func TestCalculateMasksEightBitBudget(t *testing.T) {
	r, g, b := calculateMasks(100000, 100640, 8)
	if r != 0xFF || g != 0xFF || b != 0xFC {
		t.Fatalf("calculateMasks(100000, 100640, 8) = (%#x, %#x, %#x), want (0xff, 0xff, 0xfc)", r, g, b)
	}
}

func TestCalculateMasksZeroRangeKeepsAllBits(t *testing.T) {
	r, g, b := calculateMasks(5000, 5000, 8)
	if r != 0xFF || g != 0xFF || b != 0xFF {
		t.Fatalf("zero range must not zero any bits, got (%#x, %#x, %#x)", r, g, b)
	}
}

func TestDemQuantizeZeroesLowElevationBits(t *testing.T) {
	// 100103 has low bits set; the rest match the documented scenario.
	values := [4]uint32{100000, 100103, 100200, 100640}
	src := newDemTileSource("", values)

	c := NewCompiler(nil)
	node := Node{Name: "dem_quantize", Properties: []Property{
		{Key: "bits", Value: "8"},
		{Key: "encoding", Value: "mapbox"},
	}}
	quantized, err := c.transforms["dem_quantize"](context.Background(), node, src, c)
	if err != nil {
		t.Fatal(err)
	}

	tile, ok, err := quantized.GetTile(context.Background(), tilecoord.TileCoord{Level: 0, X: 0, Y: 0})
	if err != nil || !ok {
		t.Fatalf("GetTile: ok=%v err=%v", ok, err)
	}
	img, err := tile.IntoImage()
	if err != nil {
		t.Fatal(err)
	}
	n := toNRGBA(img)
	for i, v := range values {
		x, y := i%2, i/2
		o := n.PixOffset(x, y)
		got := pixelToRaw(n.Pix[o+0], n.Pix[o+1], n.Pix[o+2])
		want := v &^ 3
		if got != want {
			t.Fatalf("pixel %d: raw value %d, want %d", i, got, want)
		}
		if n.Pix[o+2]&0x03 != 0 {
			t.Fatalf("pixel %d: low two B bits survived quantization (b=%#x)", i, n.Pix[o+2])
		}
		if n.Pix[o+3] != 255 {
			t.Fatalf("pixel %d: alpha changed to %d", i, n.Pix[o+3])
		}
	}
}

// Without an explicit encoding, the DEM schema comes from the source's
// tile_schema field.
func TestDemQuantizeEncodingFromTileSchema(t *testing.T) {
	src := newDemTileSource("dem/terrarium", [4]uint32{1, 2, 3, 4})
	c := NewCompiler(nil)
	node := Node{Name: "dem_quantize", Properties: []Property{{Key: "bits", Value: "8"}}}
	quantized, err := c.transforms["dem_quantize"](context.Background(), node, src, c)
	if err != nil {
		t.Fatal(err)
	}
	dq, ok := quantized.(*demQuantizeSource)
	if !ok {
		t.Fatalf("unexpected source type %T", quantized)
	}
	if dq.encoding != demEncodingTerrarium {
		t.Fatalf("encoding = %v, want terrarium", dq.encoding)
	}
}

func TestDemQuantizeRejectsUnknownEncoding(t *testing.T) {
	src := newDemTileSource("", [4]uint32{1, 2, 3, 4})
	c := NewCompiler(nil)
	node := Node{Name: "dem_quantize", Properties: []Property{{Key: "encoding", Value: "bogus"}}}
	_, err := c.transforms["dem_quantize"](context.Background(), node, src, c)
	if err == nil {
		t.Fatalf("expected error for unknown encoding")
	}
}
