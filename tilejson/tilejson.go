// Package tilejson implements the TileJSON 3.0.0 document model used to
// describe every tileset this module reads or writes (spec.md §4.C).
package tilejson

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/pspoerri/tilepipe/tilecoord"
)

var versionPattern = regexp.MustCompile(`^[123]\.[012]\.[01]$`)

// VectorLayer describes one layer of a vector tileset, as the
// "vector_layers" array of TileJSON 3.0.0.
type VectorLayer struct {
	ID          string            `json:"id"`
	Fields      map[string]string `json:"fields,omitempty"`
	Description string            `json:"description,omitempty"`
	MinZoom     *uint8            `json:"minzoom,omitempty"`
	MaxZoom     *uint8            `json:"maxzoom,omitempty"`
}

// TileJSON is a TileJSON document: a handful of fields this module reads
// structurally (bounds, center, vector layers) plus a free-form bag for
// everything else the spec allows (name, description, attribution, ...).
type TileJSON struct {
	Bounds       *tilecoord.GeoBBox
	Center       *tilecoord.GeoCenter
	VectorLayers []VectorLayer
	Values       map[string]json.RawMessage
}

// New returns an empty TileJSON with tilejson="3.0.0" set.
func New() *TileJSON {
	t := &TileJSON{Values: make(map[string]json.RawMessage)}
	t.SetString("tilejson", "3.0.0")
	return t
}

// FromJSON parses a TileJSON document from its wire encoding.
func FromJSON(data []byte) (*TileJSON, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tilejson: %w", err)
	}
	t := &TileJSON{Values: make(map[string]json.RawMessage)}
	for k, v := range raw {
		switch k {
		case "bounds":
			var arr [4]float64
			if err := json.Unmarshal(v, &arr); err != nil {
				return nil, fmt.Errorf("tilejson: invalid bounds: %w", err)
			}
			b, err := tilecoord.NewGeoBBox(arr[0], arr[1], arr[2], arr[3])
			if err != nil {
				return nil, fmt.Errorf("tilejson: invalid bounds: %w", err)
			}
			t.Bounds = &b
		case "center":
			var arr [3]float64
			if err := json.Unmarshal(v, &arr); err != nil {
				return nil, fmt.Errorf("tilejson: invalid center: %w", err)
			}
			t.Center = &tilecoord.GeoCenter{Lon: arr[0], Lat: arr[1], Zoom: uint8(arr[2])}
		case "vector_layers":
			if err := json.Unmarshal(v, &t.VectorLayers); err != nil {
				return nil, fmt.Errorf("tilejson: invalid vector_layers: %w", err)
			}
		default:
			t.Values[k] = v
		}
	}
	return t, nil
}

// ToJSON serializes the document, merging Values with the structural
// fields (which always win on key collision).
func (t *TileJSON) ToJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.Values)+3)
	for k, v := range t.Values {
		out[k] = v
	}
	if t.Bounds != nil {
		raw, err := json.Marshal([4]float64{t.Bounds.West, t.Bounds.South, t.Bounds.East, t.Bounds.North})
		if err != nil {
			return nil, err
		}
		out["bounds"] = raw
	}
	if t.Center != nil {
		raw, err := json.Marshal([3]float64{t.Center.Lon, t.Center.Lat, float64(t.Center.Zoom)})
		if err != nil {
			return nil, err
		}
		out["center"] = raw
	}
	if len(t.VectorLayers) > 0 {
		raw, err := json.Marshal(t.VectorLayers)
		if err != nil {
			return nil, err
		}
		out["vector_layers"] = raw
	}

	keys := make([]string, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, out[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func (t *TileJSON) getByte(key string) (uint8, bool) {
	raw, ok := t.Values[key]
	if !ok {
		return 0, false
	}
	var v uint8
	if json.Unmarshal(raw, &v) != nil {
		return 0, false
	}
	return v, true
}

func (t *TileJSON) setByte(key string, v uint8) {
	raw, _ := json.Marshal(v)
	t.Values[key] = raw
}

// GetString returns a string-valued field, if present.
func (t *TileJSON) GetString(key string) (string, bool) {
	raw, ok := t.Values[key]
	if !ok {
		return "", false
	}
	var v string
	if json.Unmarshal(raw, &v) != nil {
		return "", false
	}
	return v, true
}

// SetString sets a string-valued field.
func (t *TileJSON) SetString(key, value string) {
	raw, _ := json.Marshal(value)
	t.Values[key] = raw
}

// MinZoom returns the "minzoom" field.
func (t *TileJSON) MinZoom() (uint8, bool) { return t.getByte("minzoom") }

// MaxZoom returns the "maxzoom" field.
func (t *TileJSON) MaxZoom() (uint8, bool) { return t.getByte("maxzoom") }

// LimitBBox intersects bounds with b, or sets bounds if absent.
func (t *TileJSON) LimitBBox(b tilecoord.GeoBBox) {
	if t.Bounds == nil {
		t.Bounds = &b
		return
	}
	west := t.Bounds.West
	if b.West > west {
		west = b.West
	}
	south := t.Bounds.South
	if b.South > south {
		south = b.South
	}
	east := t.Bounds.East
	if b.East < east {
		east = b.East
	}
	north := t.Bounds.North
	if b.North < north {
		north = b.North
	}
	t.Bounds = &tilecoord.GeoBBox{West: west, South: south, East: east, North: north}
}

// LimitMinZoom raises "minzoom" to z if it is currently lower or absent.
func (t *TileJSON) LimitMinZoom(z uint8) {
	if cur, ok := t.MinZoom(); !ok || z > cur {
		t.setByte("minzoom", z)
	}
}

// LimitMaxZoom lowers "maxzoom" to z if it is currently higher or absent.
func (t *TileJSON) LimitMaxZoom(z uint8) {
	if cur, ok := t.MaxZoom(); !ok || z < cur {
		t.setByte("maxzoom", z)
	}
}

// UpdateFromPyramid narrows bounds/minzoom/maxzoom to what pyramid covers.
func (t *TileJSON) UpdateFromPyramid(pyramid *tilecoord.TileBBoxPyramid) {
	if bbox, ok := pyramid.AsGeoBBox(); ok {
		t.LimitBBox(bbox)
	}
	if z, ok := pyramid.LevelMin(); ok {
		t.LimitMinZoom(z)
	}
	if z, ok := pyramid.LevelMax(); ok {
		t.LimitMaxZoom(z)
	}
}

// Merge folds other into t: bounds extend (union), center overwrites when
// present, minzoom/maxzoom take the widening extreme, every other value
// overwrites on key collision, and vector layers merge by ID (other wins).
func (t *TileJSON) Merge(other *TileJSON) {
	if other.Bounds != nil {
		if t.Bounds == nil {
			b := *other.Bounds
			t.Bounds = &b
		} else {
			west, south, east, north := t.Bounds.West, t.Bounds.South, t.Bounds.East, t.Bounds.North
			if other.Bounds.West < west {
				west = other.Bounds.West
			}
			if other.Bounds.South < south {
				south = other.Bounds.South
			}
			if other.Bounds.East > east {
				east = other.Bounds.East
			}
			if other.Bounds.North > north {
				north = other.Bounds.North
			}
			t.Bounds = &tilecoord.GeoBBox{West: west, South: south, East: east, North: north}
		}
	}

	if other.Center != nil {
		c := *other.Center
		t.Center = &c
	}

	if omiz, ok := other.MinZoom(); ok {
		if miz, ok := t.MinZoom(); !ok || omiz < miz {
			t.setByte("minzoom", omiz)
		}
	}
	if omaz, ok := other.MaxZoom(); ok {
		if maz, ok := t.MaxZoom(); !ok || omaz > maz {
			t.setByte("maxzoom", omaz)
		}
	}

	for k, v := range other.Values {
		if k == "minzoom" || k == "maxzoom" {
			continue
		}
		t.Values[k] = v
	}

	t.mergeVectorLayers(other.VectorLayers)
}

func (t *TileJSON) mergeVectorLayers(layers []VectorLayer) {
	byID := make(map[string]int, len(t.VectorLayers))
	for i, l := range t.VectorLayers {
		byID[l.ID] = i
	}
	for _, l := range layers {
		if i, ok := byID[l.ID]; ok {
			t.VectorLayers[i] = l
		} else {
			byID[l.ID] = len(t.VectorLayers)
			t.VectorLayers = append(t.VectorLayers, l)
		}
	}
}

// CheckBasics validates the fields common to raster and vector tilesets.
func (t *TileJSON) CheckBasics() error {
	version, ok := t.GetString("tilejson")
	if !ok {
		return fmt.Errorf("tilejson: missing required field \"tilejson\"")
	}
	if !versionPattern.MatchString(version) {
		return fmt.Errorf("tilejson: invalid tilejson version %q", version)
	}
	if t.Bounds != nil {
		if _, err := tilecoord.NewGeoBBox(t.Bounds.West, t.Bounds.South, t.Bounds.East, t.Bounds.North); err != nil {
			return fmt.Errorf("tilejson: %w", err)
		}
	}
	if t.Center != nil && (t.Center.Lon < -180 || t.Center.Lon > 180 || t.Center.Lat < -90 || t.Center.Lat > 90) {
		return fmt.Errorf("tilejson: center (%f,%f) out of range", t.Center.Lon, t.Center.Lat)
	}
	return nil
}

// CheckRaster validates t as a raster tileset: basics plus no vector layers.
func (t *TileJSON) CheckRaster() error {
	if err := t.CheckBasics(); err != nil {
		return err
	}
	if len(t.VectorLayers) > 0 {
		return fmt.Errorf("tilejson: raster tilesets must not have vector_layers")
	}
	return nil
}

// CheckVector validates t as a vector tileset: basics plus at least one
// named vector layer.
func (t *TileJSON) CheckVector() error {
	if err := t.CheckBasics(); err != nil {
		return err
	}
	if len(t.VectorLayers) == 0 {
		return fmt.Errorf("tilejson: vector tilesets must have at least one vector_layers entry")
	}
	for _, l := range t.VectorLayers {
		if l.ID == "" {
			return fmt.Errorf("tilejson: vector layer missing \"id\"")
		}
	}
	return nil
}
