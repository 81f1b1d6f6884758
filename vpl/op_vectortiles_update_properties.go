package vpl

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
)

// csvProperties holds every data_source_path row, keyed by its
// id_field_data value; each row keeps every other column as a
// string-valued property.
type csvProperties struct {
	byID   map[string]map[string]any
	fields []string // column names in file order, excluding idField
}

// loadCSVProperties reads path (a CSV collaborator; this module parses
// only the header/row shape it needs, not general CSV semantics) into a
// lookup keyed by idField's column.
func loadCSVProperties(path, idField string) (*csvProperties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vpl: vectortiles_update_properties: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("vpl: vectortiles_update_properties: reading %s header: %w", path, err)
	}
	idCol := -1
	for i, h := range header {
		if h == idField {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("vpl: vectortiles_update_properties: %s has no column %q", path, idField)
	}

	out := &csvProperties{byID: make(map[string]map[string]any)}
	for i, h := range header {
		if i != idCol {
			out.fields = append(out.fields, h)
		}
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("vpl: vectortiles_update_properties: reading %s: %w", path, err)
		}
		props := make(map[string]any, len(record)-1)
		for i, v := range record {
			if i == idCol || i >= len(header) {
				continue
			}
			props[header[i]] = v
		}
		out.byID[record[idCol]] = props
	}
	return out, nil
}

// updatePropsSource merges feature properties from a CSV data source into
// one named vector layer, matching each feature's id_field_tiles value
// against the CSV's id_field_data column (spec.md §4.J
// `vectortiles_update_properties`).
type updatePropsSource struct {
	inner             tilesource.Source
	tj                *tilejson.TileJSON
	data              *csvProperties
	layerName         string
	idFieldTiles      string
	idFieldData       string
	replaceProperties bool
	removeNonMatching bool
	includeID         bool
	codec             VectorTileCodec
}

var _ tilesource.Source = (*updatePropsSource)(nil)

func buildVectorTilesUpdateProperties(ctx context.Context, node Node, input tilesource.Source, c *Compiler) (tilesource.Source, error) {
	if err := node.CheckProperties("data_source_path", "layer_name", "id_field_tiles", "id_field_data",
		"replace_properties", "remove_non_matching", "include_id"); err != nil {
		return nil, err
	}

	dataSourcePath, err := node.StringRequired("data_source_path")
	if err != nil {
		return nil, err
	}
	layerName, err := node.StringRequired("layer_name")
	if err != nil {
		return nil, err
	}
	idFieldTiles, err := node.StringRequired("id_field_tiles")
	if err != nil {
		return nil, err
	}
	idFieldData, err := node.StringRequired("id_field_data")
	if err != nil {
		return nil, err
	}
	replaceProperties, _, err := node.BoolOption("replace_properties")
	if err != nil {
		return nil, err
	}
	removeNonMatching, _, err := node.BoolOption("remove_non_matching")
	if err != nil {
		return nil, err
	}
	includeID, _, err := node.BoolOption("include_id")
	if err != nil {
		return nil, err
	}

	data, err := loadCSVProperties(dataSourcePath, idFieldData)
	if err != nil {
		return nil, err
	}

	tj, err := cloneTileJSON(input.TileJSON())
	if err != nil {
		return nil, err
	}
	addLayerFields(tj, layerName, data.fields)

	return &updatePropsSource{
		inner:             input,
		tj:                tj,
		data:              data,
		layerName:         layerName,
		idFieldTiles:      idFieldTiles,
		idFieldData:       idFieldData,
		replaceProperties: replaceProperties,
		removeNonMatching: removeNonMatching,
		includeID:         includeID,
		codec:             NewVectorTileCodec(),
	}, nil
}

// cloneTileJSON round-trips t through its own JSON encoding to produce an
// independent copy this operation can mutate.
func cloneTileJSON(t *tilejson.TileJSON) (*tilejson.TileJSON, error) {
	raw, err := t.ToJSON()
	if err != nil {
		return nil, err
	}
	clone, err := tilejson.FromJSON(raw)
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// addLayerFields unions newFields into the named vector layer's Fields
// map, typing every new field as a string (the CSV collaborator's only
// value type).
func addLayerFields(tj *tilejson.TileJSON, layerName string, newFields []string) {
	for i := range tj.VectorLayers {
		if tj.VectorLayers[i].ID != layerName {
			continue
		}
		if tj.VectorLayers[i].Fields == nil {
			tj.VectorLayers[i].Fields = make(map[string]string)
		}
		for _, f := range newFields {
			tj.VectorLayers[i].Fields[f] = "String"
		}
		return
	}
}

func (s *updatePropsSource) SourceType() tilesource.SourceType {
	child := s.inner.SourceType()
	return tilesource.SourceType{Kind: "processor", Name: "vectortiles_update_properties", Child: &child}
}

func (s *updatePropsSource) Metadata() tilesource.Metadata { return s.inner.Metadata() }
func (s *updatePropsSource) TileJSON() *tilejson.TileJSON  { return s.tj }

// updateTile rewrites only the named layer's features. A non-vector tile,
// or one without that layer, passes through byte-for-byte; otherwise the
// whole tile is re-encoded, other layers keeping their features as
// decoded.
func (s *updatePropsSource) updateTile(tile blob.Tile) (blob.Tile, error) {
	if tile.Format() != blob.FormatMVT {
		return tile, nil
	}
	raw, err := tile.AsBlob(blob.Uncompressed)
	if err != nil {
		return blob.Tile{}, err
	}
	vt, err := s.codec.Decode(raw.Bytes())
	if err != nil {
		return blob.Tile{}, err
	}

	changed := false
	for _, layer := range vt.Layers {
		if layer.Name != s.layerName {
			continue
		}
		changed = true
		kept := layer.Features[:0]
		for _, f := range layer.Features {
			idVal, ok := f.Properties[s.idFieldTiles]
			if !ok {
				kept = append(kept, f)
				continue
			}
			key := fmt.Sprintf("%v", idVal)
			row, found := s.data.byID[key]
			if !found {
				if !s.removeNonMatching {
					kept = append(kept, f)
				}
				continue
			}
			if s.replaceProperties {
				merged := make(map[string]any, len(row)+1)
				for k, v := range row {
					merged[k] = v
				}
				f.Properties = merged
			} else {
				for k, v := range row {
					f.Properties[k] = v
				}
			}
			if s.includeID {
				f.Properties[s.idFieldData] = key
			}
			kept = append(kept, f)
		}
		layer.Features = kept
	}
	if !changed {
		return tile, nil
	}

	out, err := s.codec.Encode(vt)
	if err != nil {
		return blob.Tile{}, err
	}
	encoded, err := blob.FromBlob(blob.New(out), blob.Uncompressed, blob.FormatMVT).AsBlob(tile.Compression())
	if err != nil {
		return blob.Tile{}, err
	}
	return encoded, nil
}

func (s *updatePropsSource) GetTile(ctx context.Context, coord tilecoord.TileCoord) (blob.Tile, bool, error) {
	tile, ok, err := s.inner.GetTile(ctx, coord)
	if err != nil || !ok {
		return blob.Tile{}, ok, err
	}
	out, err := s.updateTile(tile)
	if err != nil {
		return blob.Tile{}, false, err
	}
	return out, true, nil
}

func (s *updatePropsSource) GetTileStream(ctx context.Context, bbox tilecoord.TileBBox) (tilestream.Stream[blob.Tile], error) {
	stream, err := s.inner.GetTileStream(ctx, bbox)
	if err != nil {
		return tilestream.Stream[blob.Tile]{}, err
	}
	return tilestream.FilterMapItemParallel(ctx, stream, 0, func(t blob.Tile) (blob.Tile, bool, error) {
		out, err := s.updateTile(t)
		if err != nil {
			return blob.Tile{}, false, err
		}
		return out, true, nil
	}), nil
}
