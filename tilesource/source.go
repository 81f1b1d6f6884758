// Package tilesource defines the narrow, object-safe contract every
// container reader and composer stage implements (spec.md §4.E). The
// traversal-driving helper lives separately in TraverseAllTiles, mirroring
// the spec's split between an object-safe trait and a non-dyn extension
// trait (spec.md §9).
package tilesource

import (
	"context"
	"fmt"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// SourceType identifies what produced a source: a leaf container (Kind +
// Name, e.g. "pmtiles") or a composer stage wrapping a Child source.
type SourceType struct {
	Kind  string // "container" or "processor"
	Name  string // container format or VPL operation name
	Child *SourceType
}

func (t SourceType) String() string {
	if t.Child != nil {
		return fmt.Sprintf("%s:%s -> %s", t.Kind, t.Name, t.Child.String())
	}
	return fmt.Sprintf("%s:%s", t.Kind, t.Name)
}

// Metadata is the fixed shape of everything a source must declare about
// itself up front.
type Metadata struct {
	Format      blob.TileFormat
	Compression blob.TileCompression
	BBoxPyramid *tilecoord.TileBBoxPyramid
	Traversal   traversal.Traversal
}

// Source is the narrow, object-safe interface implemented by every
// container reader and VPL processing stage.
type Source interface {
	SourceType() SourceType
	Metadata() Metadata
	TileJSON() *tilejson.TileJSON
	GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error)
	GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error)
}

// CompressionOverrider is implemented by readers that can retransmit
// stored bytes under a different declared compression without decoding
// (e.g. handing gzip bytes straight through when the caller also accepts
// gzip). It is optional; callers type-assert for it.
type CompressionOverrider interface {
	OverrideCompression(c blob.TileCompression)
}

// DefaultGetTileStream implements the default get_tile_stream behavior
// (spec.md §4.E): call GetTile for every coordinate of bbox, with up to
// NumCPU calls in flight; output order is not guaranteed. Readers with a
// bulk path implement GetTileStream directly instead of calling this.
func DefaultGetTileStream(ctx context.Context, s Source, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilestream.FromBBoxAsyncParallel(ctx, bbox, 0, func(ctx context.Context, c tilecoord.TileCoord) (blob.Tile, bool, error) {
		return s.GetTile(ctx, c)
	}), nil
}
