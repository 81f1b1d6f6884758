package vpl

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
)

// stackedRasterSource blends the raster tiles of several sources into
// one, source-over, first source on top (spec.md §4.J
// `from_stacked_raster`).
type stackedRasterSource struct {
	sources  []tilesource.Source
	meta     tilesource.Metadata
	tileJSON *tilejson.TileJSON
}

var _ tilesource.Source = (*stackedRasterSource)(nil)

// buildFromStackedRaster implements
// `from_stacked_raster [ s1, s2, ... ] [format=PNG]`.
func buildFromStackedRaster(ctx context.Context, node Node, c *Compiler) (tilesource.Source, error) {
	if err := node.CheckProperties("format"); err != nil {
		return nil, err
	}
	if len(node.Sources) == 0 {
		return nil, fmt.Errorf("vpl: from_stacked_raster: must have at least one source")
	}

	sources := make([]tilesource.Source, len(node.Sources))
	for i, sub := range node.Sources {
		src, err := c.Build(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("vpl: from_stacked_raster: source %d: %w", i, err)
		}
		if src.Metadata().Format.Category() != blob.CategoryImage {
			return nil, fmt.Errorf("vpl: from_stacked_raster: source %d is not a raster format (%s)", i, src.Metadata().Format)
		}
		sources[i] = src
	}

	format := blob.FormatPNG
	if name, ok := node.StringOption("format"); ok {
		f, ok := blob.FormatFromExtension(name)
		if !ok || f.Category() != blob.CategoryImage {
			return nil, fmt.Errorf("vpl: from_stacked_raster: unknown raster format %q", name)
		}
		format = f
	}

	pyramid := sources[0].Metadata().BBoxPyramid
	var err error
	trav := sources[0].Metadata().Traversal
	tj := tilejson.New()
	tj.Merge(sources[0].TileJSON())
	for _, src := range sources[1:] {
		pyramid, err = pyramid.Union(src.Metadata().BBoxPyramid)
		if err != nil {
			return nil, err
		}
		trav, err = trav.Intersect(src.Metadata().Traversal)
		if err != nil {
			return nil, fmt.Errorf("vpl: from_stacked_raster: %w", err)
		}
		tj.Merge(src.TileJSON())
	}
	tj.UpdateFromPyramid(pyramid)

	meta := tilesource.Metadata{
		Format:      format,
		Compression: sources[0].Metadata().Compression,
		BBoxPyramid: pyramid,
		Traversal:   trav,
	}

	return &stackedRasterSource{sources: sources, meta: meta, tileJSON: tj}, nil
}

func (s *stackedRasterSource) SourceType() tilesource.SourceType {
	child := s.sources[0].SourceType()
	return tilesource.SourceType{Kind: "processor", Name: "from_stacked_raster", Child: &child}
}

func (s *stackedRasterSource) Metadata() tilesource.Metadata { return s.meta }
func (s *stackedRasterSource) TileJSON() *tilejson.TileJSON  { return s.tileJSON }

// blendImages composites images source-over, images[0] on top. GetTile
// already stops collecting images below the first opaque one.
func blendImages(images []image.Image) image.Image {
	result := images[len(images)-1]
	for i := len(images) - 2; i >= 0; i-- {
		result = imaging.Overlay(result, images[i], image.Pt(0, 0), 1.0)
	}
	return result
}

func isOpaque(img image.Image) bool {
	type opaquer interface{ Opaque() bool }
	if o, ok := img.(opaquer); ok {
		return o.Opaque()
	}
	return false
}

func (s *stackedRasterSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	var images []image.Image
	for _, src := range s.sources {
		tile, ok, err := src.GetTile(ctx, coord)
		if err != nil {
			return blob.Tile{}, false, err
		}
		if !ok {
			continue
		}
		img, err := tile.IntoImage()
		if err != nil {
			return blob.Tile{}, false, err
		}
		images = append(images, img)
		if isOpaque(img) {
			break
		}
	}
	if len(images) == 0 {
		return blob.Tile{}, false, nil
	}
	blended := blendImages(images)
	out, err := blob.FromImage(blended, s.meta.Format, s.meta.Compression, 0)
	if err != nil {
		return blob.Tile{}, false, err
	}
	return out, true, nil
}

func (s *stackedRasterSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilestream.FromBBoxAsyncParallel(ctx, bbox, 0, func(ctx context.Context, c tilecoord.TileCoord) (blob.Tile, bool, error) {
		return s.GetTile(ctx, c)
	}), nil
}
