package tilesource

import (
	"context"
	"testing"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/cache"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

type memorySource struct {
	meta Metadata
}

func (m *memorySource) SourceType() SourceType { return SourceType{Kind: "container", Name: "memory"} }
func (m *memorySource) Metadata() Metadata      { return m.meta }
func (m *memorySource) TileJSON() *tilejson.TileJSON { return tilejson.New() }

func (m *memorySource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	if !m.meta.BBoxPyramid.Get(coord.Level).Contains(coord) {
		return blob.Tile{}, false, nil
	}
	payload := blob.FromString("tile")
	return blob.FromBlob(payload, blob.Uncompressed, blob.FormatBIN), true, nil
}

func (m *memorySource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return DefaultGetTileStream(ctx, m, bbox)
}

func TestTraverseAllTilesDirectStream(t *testing.T) {
	pyramid := tilecoord.NewPyramid()
	bbox, _ := tilecoord.NewBBox(4, 5, 6, 7, 7)
	pyramid.Set(bbox)

	src := &memorySource{meta: Metadata{
		BBoxPyramid: pyramid,
		Traversal:   traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 256}},
	}}
	write := traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 256}}

	var total int
	err := TraverseAllTiles(context.Background(), src, write, 4, nil, nil, func(ctx context.Context, b Batch) error {
		n, err := tilestream.DrainAndCount(ctx, b.Stream)
		total += n
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if uint64(total) != bbox.CountTiles() {
		t.Fatalf("expected %d tiles, got %d", bbox.CountTiles(), total)
	}
}

func TestTraverseAllTilesRebucketsIntoWriteSize(t *testing.T) {
	pyramid := tilecoord.NewPyramid()
	bbox, _ := tilecoord.NewBBox(4, 8, 12, 11, 15)
	pyramid.Set(bbox)

	src := &memorySource{meta: Metadata{
		BBoxPyramid: pyramid,
		Traversal:   traversal.Traversal{Order: traversal.DepthFirst, Size: traversal.SizeRange{Min: 1, Max: 128}},
	}}
	write := traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 256, Max: 256}}

	dc := cache.NewDiskCache(t.TempDir())
	var total int
	err := TraverseAllTiles(context.Background(), src, write, 4, dc, nil, func(ctx context.Context, b Batch) error {
		n, err := tilestream.DrainAndCount(ctx, b.Stream)
		total += n
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if uint64(total) != bbox.CountTiles() {
		t.Fatalf("expected %d tiles, got %d", bbox.CountTiles(), total)
	}
}
