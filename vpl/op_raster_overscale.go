package vpl

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/cache"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
)

// overscaleMaxMemoryBytes bounds the parent-image cache, matching the
// Rust operation's 512 MiB default (spec.md §4.J `raster_overscale`).
const overscaleMaxMemoryBytes = 512 * 1024 * 1024

func imageWeigher(img image.Image) int {
	b := img.Bounds()
	return b.Dx() * b.Dy() * 4
}

// overscaleSource synthesizes tiles above levelBase by extracting the
// sub-rectangle of an ancestor tile's decoded image that covers the
// requested coordinate, climbing further up when the immediate parent is
// missing and climbing is enabled.
type overscaleSource struct {
	inner          tilesource.Source
	meta           tilesource.Metadata
	levelBase      uint8
	levelMin       uint8
	enableClimbing bool
	cache          *cache.MemoryCache[tilecoord.TileCoord, image.Image]
}

var _ tilesource.Source = (*overscaleSource)(nil)

// buildRasterOverscale implements
// `raster_overscale level_base=<z> level_max=<z?> enable_climbing=<bool>`.
func buildRasterOverscale(ctx context.Context, node Node, input tilesource.Source, c *Compiler) (tilesource.Source, error) {
	if err := node.CheckProperties("level_base", "level_max", "enable_climbing"); err != nil {
		return nil, err
	}

	innerMeta := input.Metadata()
	levelBase, hasBase, err := node.Uint8Option("level_base")
	if err != nil {
		return nil, err
	}
	if !hasBase {
		lvl, ok := innerMeta.BBoxPyramid.LevelMax()
		if !ok {
			return nil, fmt.Errorf("vpl: raster_overscale: source has no populated levels to derive level_base from")
		}
		levelBase = lvl
	}

	levelMax, hasMax, err := node.Uint8Option("level_max")
	if err != nil {
		return nil, err
	}
	if !hasMax {
		levelMax = 30
	}
	if levelMax < levelBase {
		levelMax = levelBase
	}

	enableClimbing, _, err := node.BoolOption("enable_climbing")
	if err != nil {
		return nil, err
	}

	pyramid := tilecoord.NewPyramid()
	for _, l := range innerMeta.BBoxPyramid.Levels() {
		pyramid.Set(innerMeta.BBoxPyramid.Get(l))
	}
	base := pyramid.Get(levelBase)
	for level := levelBase; !base.IsEmpty() && level < levelMax; level++ {
		scale := uint32(1) << (level + 1 - levelBase)
		pyramid.Set(tilecoord.TileBBox{
			Level: level + 1,
			XMin:  base.XMin * scale, YMin: base.YMin * scale,
			XMax: (base.XMax+1)*scale - 1, YMax: (base.YMax+1)*scale - 1,
		})
	}

	levelMin, ok := innerMeta.BBoxPyramid.LevelMin()
	if !ok {
		levelMin = 0
	}

	meta := innerMeta
	meta.BBoxPyramid = pyramid

	return &overscaleSource{
		inner:          input,
		meta:           meta,
		levelBase:      levelBase,
		levelMin:       levelMin,
		enableClimbing: enableClimbing,
		cache:          cache.NewMemoryCache[tilecoord.TileCoord, image.Image](overscaleMaxMemoryBytes, imageWeigher),
	}, nil
}

func (s *overscaleSource) SourceType() tilesource.SourceType {
	child := s.inner.SourceType()
	return tilesource.SourceType{Kind: "processor", Name: "raster_overscale", Child: &child}
}

func (s *overscaleSource) Metadata() tilesource.Metadata { return s.meta }

func (s *overscaleSource) TileJSON() *tilejson.TileJSON {
	tj := tilejson.New()
	tj.Merge(s.inner.TileJSON())
	tj.UpdateFromPyramid(s.meta.BBoxPyramid)
	return tj
}

// fetchImage returns the decoded image at coord, consulting the cache
// before falling back to the inner source.
func (s *overscaleSource) fetchImage(ctx context.Context, coord tilecoord.TileCoord) (image.Image, bool, error) {
	if img, ok := s.cache.Get(coord); ok {
		return img, true, nil
	}
	tile, ok, err := s.inner.GetTile(ctx, coord)
	if err != nil || !ok {
		return nil, false, err
	}
	img, err := tile.IntoImage()
	if err != nil {
		return nil, false, err
	}
	s.cache.Set(coord, img)
	return img, true, nil
}

// findAncestor returns the source coordinate (at or below coordDst's
// level, at or above levelBase) and its decoded image, climbing toward
// levelMin when enableClimbing is set and the immediate parent is absent.
func (s *overscaleSource) findAncestor(ctx context.Context, coordDst tilecoord.TileCoord) (tilecoord.TileCoord, image.Image, bool, error) {
	base := s.levelBase
	if coordDst.Level < base {
		base = coordDst.Level
	}
	coordSrc, err := coordDst.Parent(base)
	if err != nil {
		return tilecoord.TileCoord{}, nil, false, err
	}
	for {
		img, ok, err := s.fetchImage(ctx, coordSrc)
		if err != nil {
			return tilecoord.TileCoord{}, nil, false, err
		}
		if ok {
			return coordSrc, img, true, nil
		}
		if !s.enableClimbing || coordSrc.Level <= s.levelMin {
			return tilecoord.TileCoord{}, nil, false, nil
		}
		coordSrc, err = coordSrc.Parent(coordSrc.Level - 1)
		if err != nil {
			return tilecoord.TileCoord{}, nil, false, err
		}
	}
}

// extractImage crops the sub-rectangle of imgSrc (stored at coordSrc)
// that covers coordDst and resizes it back up to the tile's native
// pixel size, matching the Rust operation's get_extract call.
func extractImage(imgSrc image.Image, coordSrc, coordDst tilecoord.TileCoord) (image.Image, error) {
	levelDiff := int(coordDst.Level) - int(coordSrc.Level)
	if levelDiff < 0 {
		return nil, fmt.Errorf("vpl: raster_overscale: destination level %d below source level %d", coordDst.Level, coordSrc.Level)
	}
	if levelDiff == 0 {
		return imgSrc, nil
	}
	scale := 1 << uint(levelDiff)
	tileSize := imgSrc.Bounds().Dx()
	subSize := tileSize / scale
	if subSize < 1 {
		subSize = 1
	}
	offsetX := int(coordDst.X%uint32(scale)) * subSize
	offsetY := int(coordDst.Y%uint32(scale)) * subSize
	origin := imgSrc.Bounds().Min
	rect := image.Rect(origin.X+offsetX, origin.Y+offsetY, origin.X+offsetX+subSize, origin.Y+offsetY+subSize)
	cropped := imaging.Crop(imgSrc, rect)
	return imaging.Resize(cropped, tileSize, tileSize, imaging.Linear), nil
}

func (s *overscaleSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	if coord.Level <= s.levelBase {
		return s.inner.GetTile(ctx, coord)
	}
	if !s.meta.BBoxPyramid.Get(coord.Level).Contains(coord) {
		return blob.Tile{}, false, nil
	}
	coordSrc, imgSrc, ok, err := s.findAncestor(ctx, coord)
	if err != nil || !ok {
		return blob.Tile{}, false, err
	}
	img, err := extractImage(imgSrc, coordSrc, coord)
	if err != nil {
		return blob.Tile{}, false, err
	}
	out, err := blob.FromImage(img, s.meta.Format, s.meta.Compression, 0)
	if err != nil {
		return blob.Tile{}, false, err
	}
	return out, true, nil
}

func (s *overscaleSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	if bbox.Level <= s.levelBase {
		return s.inner.GetTileStream(ctx, bbox)
	}
	return tilestream.FromBBoxAsyncParallel(ctx, bbox, 0, func(ctx context.Context, c tilecoord.TileCoord) (blob.Tile, bool, error) {
		return s.GetTile(ctx, c)
	}), nil
}
