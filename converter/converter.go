// Package converter implements the source-shaped format/compression/bbox
// adapter (spec.md §4.I): reformat, recompress, clip, and coordinate-flip a
// source without materializing a whole new container.
package converter

import (
	"context"
	"fmt"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
)

// Params configures a Converter. Zero values for Format/Compression mean
// "inherit the inner source's"; BBoxPyramid nil means "no extra clipping".
type Params struct {
	Format          blob.TileFormat
	Compression     blob.TileCompression
	BBoxPyramid     *tilecoord.TileBBoxPyramid
	ForceRecompress bool
	FlipY           bool
	SwapXY          bool
}

// Converter wraps an inner tilesource.Source, re-exposing it under
// different declared format/compression/bbox/orientation.
type Converter struct {
	inner    tilesource.Source
	params   Params
	meta     tilesource.Metadata
	tileJSON *tilejson.TileJSON
	pipeline TileConverter
}

var _ tilesource.Source = (*Converter)(nil)

// New builds the effective parameters described in spec.md §4.I and
// returns a ready-to-use Converter over inner.
func New(inner tilesource.Source, params Params) (*Converter, error) {
	innerMeta := inner.Metadata()

	// The exposed pyramid is the inverse image of the inner one under
	// the outer-to-inner coordinate transform (flip, then swap), so the
	// inverse applies swap first, then flip.
	pyramid := innerMeta.BBoxPyramid
	if pyramid == nil {
		pyramid = tilecoord.NewPyramid()
	}
	if params.SwapXY {
		pyramid.SwapXY()
	}
	if params.FlipY {
		pyramid.FlipY()
	}
	if params.BBoxPyramid != nil {
		intersected, err := pyramid.Intersection(params.BBoxPyramid)
		if err != nil {
			return nil, fmt.Errorf("converter: intersecting bbox_pyramid: %w", err)
		}
		pyramid = intersected
	}

	format := params.Format
	if format == blob.FormatUnknown {
		format = innerMeta.Format
	}
	compression := params.Compression
	if compression == blob.Uncompressed && innerMeta.Compression != blob.Uncompressed {
		compression = innerMeta.Compression
	}

	meta := tilesource.Metadata{
		Format:      format,
		Compression: compression,
		BBoxPyramid: pyramid,
		Traversal:   innerMeta.Traversal,
	}

	tj := tilejson.New()
	tj.Merge(inner.TileJSON())
	tj.UpdateFromPyramid(pyramid)

	pipeline := NewTileConverter(innerMeta.Format, innerMeta.Compression, format, compression, params.ForceRecompress)

	return &Converter{inner: inner, params: params, meta: meta, tileJSON: tj, pipeline: pipeline}, nil
}

func (c *Converter) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "processor", Name: "converter", Child: childPtr(c.inner.SourceType())}
}

func childPtr(t tilesource.SourceType) *tilesource.SourceType { return &t }

func (c *Converter) Metadata() tilesource.Metadata { return c.meta }
func (c *Converter) TileJSON() *tilejson.TileJSON  { return c.tileJSON }

// transformCoord applies flip_y/swap_xy to translate a coordinate in this
// Converter's exposed space into the inner source's space.
func (c *Converter) transformCoord(coord tilecoord.TileCoord) tilecoord.TileCoord {
	if c.params.FlipY {
		coord = coord.FlipY()
	}
	if c.params.SwapXY {
		coord = coord.SwapXY()
	}
	return coord
}

// transformBack is transformCoord's inverse, used to map inner-source
// coordinates back into this Converter's exposed space. Flip and swap
// are each self-inverse but don't commute, so the inverse applies them
// in the opposite order: swap first, then flip.
func (c *Converter) transformBack(coord tilecoord.TileCoord) tilecoord.TileCoord {
	if c.params.SwapXY {
		coord = coord.SwapXY()
	}
	if c.params.FlipY {
		coord = coord.FlipY()
	}
	return coord
}

func (c *Converter) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	innerCoord := c.transformCoord(coord)
	tile, ok, err := c.inner.GetTile(ctx, innerCoord)
	if err != nil {
		return blob.Tile{}, false, err
	}
	if !ok {
		return blob.Tile{}, false, nil
	}
	converted, err := c.pipeline.Process(tile)
	if err != nil {
		return blob.Tile{}, false, fmt.Errorf("converter: converting tile %v: %w", coord, err)
	}
	return converted, true, nil
}

func (c *Converter) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	// Same composition as transformCoord: flip, then swap.
	innerBBox := bbox
	if c.params.FlipY {
		innerBBox = innerBBox.FlipY()
	}
	if c.params.SwapXY {
		innerBBox = innerBBox.SwapXY()
	}

	stream, err := c.inner.GetTileStream(ctx, innerBBox)
	if err != nil {
		return tilestream.Stream[blob.Tile]{}, err
	}

	if c.params.FlipY || c.params.SwapXY {
		stream = tilestream.MapCoord(ctx, stream, c.transformBack)
	}

	converted := tilestream.FilterMapItemParallel(ctx, stream, 0, func(t blob.Tile) (blob.Tile, bool, error) {
		out, err := c.pipeline.Process(t)
		if err != nil {
			return blob.Tile{}, false, err
		}
		return out, true, nil
	})
	return converted, nil
}
