package vpl

import (
	"context"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
)

// filterSource narrows an inner source's bbox pyramid to a geographic
// box and/or a zoom range, passing every tile it still serves through
// unchanged (spec.md §4.J `filter`).
type filterSource struct {
	inner tilesource.Source
	meta  tilesource.Metadata
}

var _ tilesource.Source = (*filterSource)(nil)

// buildFilter implements `filter bbox=<geo>` and
// `filter zoom_min=<z> zoom_max=<z>` (either or both may be given).
func buildFilter(ctx context.Context, node Node, input tilesource.Source, c *Compiler) (tilesource.Source, error) {
	if err := node.CheckProperties("bbox", "zoom_min", "zoom_max"); err != nil {
		return nil, err
	}

	innerMeta := input.Metadata()
	narrowed := tilecoord.NewPyramid()
	for _, l := range innerMeta.BBoxPyramid.Levels() {
		narrowed.Set(innerMeta.BBoxPyramid.Get(l))
	}

	if coords, ok, err := node.Float64sOption("bbox", 4); err != nil {
		return nil, err
	} else if ok {
		geo, err := tilecoord.NewGeoBBox(coords[0], coords[1], coords[2], coords[3])
		if err != nil {
			return nil, err
		}
		for _, l := range narrowed.Levels() {
			projected, err := tilecoord.FromGeo(l, geo)
			if err != nil {
				return nil, err
			}
			clipped, err := narrowed.Get(l).Intersection(projected)
			if err != nil {
				return nil, err
			}
			narrowed.Set(clipped)
		}
	}

	zoomMin, hasMin, err := node.Uint8Option("zoom_min")
	if err != nil {
		return nil, err
	}
	zoomMax, hasMax, err := node.Uint8Option("zoom_max")
	if err != nil {
		return nil, err
	}
	if hasMin || hasMax {
		if !hasMin {
			zoomMin = 0
		}
		if !hasMax {
			zoomMax = 31
		}
		narrowed.ClampLevels(zoomMin, zoomMax)
	}

	meta := innerMeta
	meta.BBoxPyramid = narrowed

	return &filterSource{inner: input, meta: meta}, nil
}

func (f *filterSource) SourceType() tilesource.SourceType {
	child := f.inner.SourceType()
	return tilesource.SourceType{Kind: "processor", Name: "filter", Child: &child}
}

func (f *filterSource) Metadata() tilesource.Metadata { return f.meta }

func (f *filterSource) TileJSON() *tilejson.TileJSON {
	tj := tilejson.New()
	tj.Merge(f.inner.TileJSON())
	tj.UpdateFromPyramid(f.meta.BBoxPyramid)
	return tj
}

func (f *filterSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	if !f.meta.BBoxPyramid.Get(coord.Level).Contains(coord) {
		return blob.Tile{}, false, nil
	}
	return f.inner.GetTile(ctx, coord)
}

func (f *filterSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	clipped, err := f.meta.BBoxPyramid.Get(bbox.Level).Intersection(bbox)
	if err != nil {
		return tilestream.Stream[blob.Tile]{}, err
	}
	return f.inner.GetTileStream(ctx, clipped)
}
