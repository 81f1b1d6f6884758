package vpl

import (
	"fmt"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
)

// VectorTileCodec decodes/encodes a vector tile's layers and per-feature
// properties. blob.Tile deliberately has no vector-tile transcoder of its
// own (see blob.Tile.IntoBlob); this narrow collaborator is where that
// logic lives for the VPL operations that need to read or rewrite
// feature properties (spec.md §4.J `vectortiles_update_properties`).
type VectorTileCodec interface {
	Decode(data []byte) (VectorTile, error)
	Encode(t VectorTile) ([]byte, error)
}

// VectorTile is a decoded MVT payload: one VectorLayer per named layer,
// plus the codec's own handle on the underlying wire representation so
// Encode can write mutated properties back without re-deriving geometry.
type VectorTile struct {
	Layers []*VectorLayer
	raw    any
}

// VectorLayer is one named layer's features. A caller may drop entries
// from Features (e.g. remove_non_matching) or leave the slice as-is;
// Encode rebuilds the wire layer's feature list from whatever subset
// remains, each still carrying its original geometry.
type VectorLayer struct {
	Name     string
	Features []*VectorFeature
}

// VectorFeature exposes what vectortiles_update_properties needs: the
// feature's property map, mutable in place. feature is the codec's own
// handle on the underlying geometry-bearing value, opaque to callers.
type VectorFeature struct {
	Properties map[string]any
	feature    *geojson.Feature
}

// orbVectorTileCodec implements VectorTileCodec on top of
// github.com/paulmach/orb/encoding/mvt, leaving every feature's geometry
// untouched (round-tripped through the underlying *geojson.Feature, never
// reprojected — tile-local coordinates in, tile-local coordinates out).
type orbVectorTileCodec struct{}

// NewVectorTileCodec returns the default paulmach/orb-backed codec.
func NewVectorTileCodec() VectorTileCodec { return orbVectorTileCodec{} }

func (orbVectorTileCodec) Decode(data []byte) (VectorTile, error) {
	layers, err := mvt.Unmarshal(data)
	if err != nil {
		return VectorTile{}, fmt.Errorf("vpl: decoding vector tile: %w", err)
	}
	out := VectorTile{Layers: make([]*VectorLayer, len(layers)), raw: layers}
	for i, layer := range layers {
		features := make([]*VectorFeature, len(layer.Features))
		for j, f := range layer.Features {
			props := make(map[string]any, len(f.Properties))
			for k, v := range f.Properties {
				props[k] = v
			}
			features[j] = &VectorFeature{Properties: props, feature: f}
		}
		out.Layers[i] = &VectorLayer{Name: layer.Name, Features: features}
	}
	return out, nil
}

func (orbVectorTileCodec) Encode(t VectorTile) ([]byte, error) {
	layers, ok := t.raw.(mvt.Layers)
	if !ok || len(layers) != len(t.Layers) {
		return nil, fmt.Errorf("vpl: encoding vector tile: not decoded by this codec")
	}
	for i, layer := range layers {
		rebuilt := make([]*geojson.Feature, 0, len(t.Layers[i].Features))
		for _, vf := range t.Layers[i].Features {
			if vf.feature == nil {
				return nil, fmt.Errorf("vpl: encoding vector tile: layer %q has a feature not produced by Decode", layer.Name)
			}
			vf.feature.Properties = geojson.Properties(vf.Properties)
			rebuilt = append(rebuilt, vf.feature)
		}
		layer.Features = rebuilt
	}
	data, err := layers.Marshal()
	if err != nil {
		return nil, fmt.Errorf("vpl: encoding vector tile: %w", err)
	}
	return data, nil
}
