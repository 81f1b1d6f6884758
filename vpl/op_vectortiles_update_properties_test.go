package vpl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
)

// mvtFixtureSource always returns the same encoded MVT tile, built from
// the given features, for any coordinate.
type mvtFixtureSource struct {
	meta tilesource.Metadata
	tj   *tilejson.TileJSON
	data []byte
}

func (s *mvtFixtureSource) SourceType() tilesource.SourceType {
	return tilesource.SourceType{Kind: "container", Name: "fixture"}
}
func (s *mvtFixtureSource) Metadata() tilesource.Metadata { return s.meta }
func (s *mvtFixtureSource) TileJSON() *tilejson.TileJSON  { return s.tj }

func (s *mvtFixtureSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	return blob.FromBlob(blob.New(append([]byte(nil), s.data...)), blob.Uncompressed, blob.FormatMVT), true, nil
}

func (s *mvtFixtureSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	return tilesource.DefaultGetTileStream(ctx, s, bbox)
}

func newMVTFixture(t *testing.T, ids ...string) *mvtFixtureSource {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	for _, id := range ids {
		f := geojson.NewFeature(orb.Point{0, 0})
		f.Properties["id"] = id
		fc.Append(f)
	}
	layer := mvt.NewLayer("places", fc)
	layer.Version = 2
	layer.Extent = 4096
	data, err := mvt.Layers{layer}.Marshal()
	if err != nil {
		t.Fatalf("marshaling fixture mvt: %v", err)
	}

	bbox, _ := tilecoord.NewBBox(4, 0, 0, 1, 1)
	pyramid := tilecoord.NewPyramid()
	pyramid.Set(bbox)
	return &mvtFixtureSource{
		meta: tilesource.Metadata{Format: blob.FormatMVT, Compression: blob.Uncompressed, BBoxPyramid: pyramid},
		tj:   tilejson.New(),
		data: data,
	}
}

func writeCSV(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(rows), 0o644); err != nil {
		t.Fatalf("writing fixture csv: %v", err)
	}
	return path
}

func buildUpdatePropsNode(csvPath string, extra map[string]string) Node {
	props := []Property{
		{Key: "data_source_path", Value: csvPath},
		{Key: "layer_name", Value: "places"},
		{Key: "id_field_tiles", Value: "id"},
		{Key: "id_field_data", Value: "id"},
	}
	for key, value := range extra {
		props = append(props, Property{Key: key, Value: value})
	}
	return Node{Name: "vectortiles_update_properties", Properties: props}
}

func TestVectorTilesUpdatePropertiesMergesMatchingFeature(t *testing.T) {
	src := newMVTFixture(t, "1", "2")
	csvPath := writeCSV(t, "id,name\n1,Alpha\n2,Beta\n")
	node := buildUpdatePropsNode(csvPath, nil)

	out, err := buildVectorTilesUpdateProperties(context.Background(), node, src, nil)
	if err != nil {
		t.Fatalf("buildVectorTilesUpdateProperties: %v", err)
	}

	tile, ok, err := out.GetTile(context.Background(), tilecoord.TileCoord{Level: 4, X: 0, Y: 0})
	if err != nil || !ok {
		t.Fatalf("GetTile: ok=%v err=%v", ok, err)
	}
	raw, err := tile.AsBlob(blob.Uncompressed)
	if err != nil {
		t.Fatalf("AsBlob: %v", err)
	}
	layers, err := mvt.Unmarshal(raw.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(layers) != 1 || len(layers[0].Features) != 2 {
		t.Fatalf("expected 1 layer with 2 features, got %+v", layers)
	}
	byID := map[string]string{}
	for _, f := range layers[0].Features {
		id, _ := f.Properties["id"].(string)
		name, _ := f.Properties["name"].(string)
		byID[id] = name
	}
	if byID["1"] != "Alpha" || byID["2"] != "Beta" {
		t.Fatalf("expected merged names, got %+v", byID)
	}
}

func TestVectorTilesUpdatePropertiesRemovesNonMatching(t *testing.T) {
	src := newMVTFixture(t, "1", "2")
	csvPath := writeCSV(t, "id,name\n1,Alpha\n")
	node := buildUpdatePropsNode(csvPath, map[string]string{
		"remove_non_matching": "true",
	})

	out, err := buildVectorTilesUpdateProperties(context.Background(), node, src, nil)
	if err != nil {
		t.Fatalf("buildVectorTilesUpdateProperties: %v", err)
	}

	tile, _, err := out.GetTile(context.Background(), tilecoord.TileCoord{Level: 4, X: 0, Y: 0})
	if err != nil {
		t.Fatalf("GetTile: %v", err)
	}
	raw, err := tile.AsBlob(blob.Uncompressed)
	if err != nil {
		t.Fatalf("AsBlob: %v", err)
	}
	layers, err := mvt.Unmarshal(raw.Bytes())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(layers[0].Features) != 1 {
		t.Fatalf("expected unmatched feature dropped, got %d features", len(layers[0].Features))
	}
	if id, _ := layers[0].Features[0].Properties["id"].(string); id != "1" {
		t.Fatalf("expected surviving feature id=1, got %q", id)
	}
}

func TestVectorTilesUpdatePropertiesAddsFieldsToTileJSON(t *testing.T) {
	src := newMVTFixture(t, "1")
	src.tj.VectorLayers = []tilejson.VectorLayer{{ID: "places"}}
	csvPath := writeCSV(t, "id,name,population\n1,Alpha,42\n")
	node := buildUpdatePropsNode(csvPath, nil)

	out, err := buildVectorTilesUpdateProperties(context.Background(), node, src, nil)
	if err != nil {
		t.Fatalf("buildVectorTilesUpdateProperties: %v", err)
	}
	layers := out.TileJSON().VectorLayers
	if len(layers) != 1 || layers[0].ID != "places" {
		t.Fatalf("expected one 'places' vector layer, got %+v", layers)
	}
	if layers[0].Fields["name"] != "String" || layers[0].Fields["population"] != "String" {
		t.Fatalf("expected name/population fields added, got %+v", layers[0].Fields)
	}
	if _, ok := src.tj.VectorLayers[0].Fields["name"]; ok {
		t.Fatalf("original source TileJSON must not be mutated")
	}
}
