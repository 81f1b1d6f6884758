package vpl

import (
	"context"
	"fmt"
	"image"
	"math/bits"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
)

// demEncoding identifies the RGB-to-elevation packing of a terrain-RGB
// raster tile.
type demEncoding int

const (
	demEncodingMapbox demEncoding = iota
	demEncodingTerrarium
)

func parseDemEncoding(s string) (demEncoding, error) {
	switch s {
	case "mapbox":
		return demEncodingMapbox, nil
	case "terrarium":
		return demEncodingTerrarium, nil
	default:
		return 0, fmt.Errorf("vpl: dem_quantize: unknown encoding %q, want \"mapbox\" or \"terrarium\"", s)
	}
}

func demEncodingFromSchema(schema string) (demEncoding, bool) {
	switch schema {
	case "dem/mapbox":
		return demEncodingMapbox, true
	case "dem/terrarium":
		return demEncodingTerrarium, true
	default:
		return 0, false
	}
}

// demQuantizeSource rounds each tile's elevation precision down to a
// fixed bit budget relative to that tile's own min/max range (spec.md
// §4.J `dem_quantize`), matching dem_quantize.rs's calculate_masks.
type demQuantizeSource struct {
	inner    tilesource.Source
	meta     tilesource.Metadata
	bits     uint8
	encoding demEncoding
}

var _ tilesource.Source = (*demQuantizeSource)(nil)

// buildDemQuantize implements `dem_quantize bits=<n<=24> encoding=mapbox|terrarium`.
func buildDemQuantize(ctx context.Context, node Node, input tilesource.Source, c *Compiler) (tilesource.Source, error) {
	if err := node.CheckProperties("bits", "encoding"); err != nil {
		return nil, err
	}

	nbits, ok, err := node.Uint8Option("bits")
	if err != nil {
		return nil, err
	}
	if !ok {
		nbits = 12
	}
	if nbits > 24 {
		nbits = 24
	}

	var encoding demEncoding
	if name, ok := node.StringOption("encoding"); ok {
		encoding, err = parseDemEncoding(name)
		if err != nil {
			return nil, err
		}
	} else {
		schema, ok := input.TileJSON().GetString("tile_schema")
		if !ok {
			return nil, fmt.Errorf("vpl: dem_quantize: tile_schema is not a DEM encoding (mapbox/terrarium); use the 'encoding' parameter to specify one")
		}
		encoding, ok = demEncodingFromSchema(schema)
		if !ok {
			return nil, fmt.Errorf("vpl: dem_quantize: tile_schema %q is not a DEM encoding (mapbox/terrarium); use the 'encoding' parameter to specify one", schema)
		}
	}

	return &demQuantizeSource{inner: input, meta: input.Metadata(), bits: nbits, encoding: encoding}, nil
}

func (s *demQuantizeSource) SourceType() tilesource.SourceType {
	child := s.inner.SourceType()
	return tilesource.SourceType{Kind: "processor", Name: "dem_quantize", Child: &child}
}

func (s *demQuantizeSource) Metadata() tilesource.Metadata { return s.meta }
func (s *demQuantizeSource) TileJSON() *tilejson.TileJSON  { return s.inner.TileJSON() }

// pixelToRaw packs an RGB triplet into its 24-bit raw elevation value.
func pixelToRaw(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// calculateMasks computes the per-channel bit-zeroing masks that retain
// nbits of precision across the tile's [vMin, vMax] raw elevation range.
func calculateMasks(vMin, vMax uint32, nbits uint8) (r, g, b uint8) {
	rng := vMax - vMin
	var zeroBits int
	if rng != 0 {
		rangeBits := 32 - bits.LeadingZeros32(rng)
		zeroBits = rangeBits - int(nbits)
		if zeroBits < 0 {
			zeroBits = 0
		}
	}
	if zeroBits > 24 {
		zeroBits = 24
	}
	var mask24 uint32 = 0xFFFFFF
	if zeroBits != 0 {
		mask24 = 0xFFFFFF &^ ((uint32(1) << uint(zeroBits)) - 1)
	}
	return uint8(mask24 >> 16), uint8(mask24 >> 8), uint8(mask24)
}

// applyMasks zeroes the low bits of each pixel's R/G/B channels in
// place, leaving alpha untouched.
func applyMasks(img *image.NRGBA, maskR, maskG, maskB uint8) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0] &= maskR
			img.Pix[i+1] &= maskG
			img.Pix[i+2] &= maskB
		}
	}
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

func quantizeImage(img image.Image, nbits uint8) *image.NRGBA {
	n := toNRGBA(img)
	b := n.Bounds()

	var vMin, vMax uint32
	first := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := n.PixOffset(x, y)
			v := pixelToRaw(n.Pix[i+0], n.Pix[i+1], n.Pix[i+2])
			if first {
				vMin, vMax = v, v
				first = false
				continue
			}
			if v < vMin {
				vMin = v
			}
			if v > vMax {
				vMax = v
			}
		}
	}
	if first {
		return n
	}

	maskR, maskG, maskB := calculateMasks(vMin, vMax, nbits)
	applyMasks(n, maskR, maskG, maskB)
	return n
}

func (s *demQuantizeSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	tile, ok, err := s.inner.GetTile(ctx, coord)
	if err != nil {
		return blob.Tile{}, false, err
	}
	if !ok {
		return blob.Tile{}, false, nil
	}
	img, err := tile.IntoImage()
	if err != nil {
		return blob.Tile{}, false, err
	}
	quantized := quantizeImage(img, s.bits)
	out, err := blob.FromImage(quantized, tile.Format(), tile.Compression(), 100)
	if err != nil {
		return blob.Tile{}, false, err
	}
	return out, true, nil
}

func (s *demQuantizeSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	stream, err := s.inner.GetTileStream(ctx, bbox)
	if err != nil {
		return tilestream.Stream[blob.Tile]{}, err
	}
	return tilestream.FilterMapItemParallel(ctx, stream, 0, func(t blob.Tile) (blob.Tile, bool, error) {
		img, err := t.IntoImage()
		if err != nil {
			return blob.Tile{}, false, err
		}
		quantized := quantizeImage(img, s.bits)
		out, err := blob.FromImage(quantized, t.Format(), t.Compression(), 100)
		if err != nil {
			return blob.Tile{}, false, err
		}
		return out, true, nil
	}), nil
}
