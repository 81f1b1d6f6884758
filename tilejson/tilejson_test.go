package tilejson

import (
	"testing"

	"github.com/pspoerri/tilepipe/tilecoord"
)

func TestFromJSONRoundTrip(t *testing.T) {
	input := []byte(`{"tilejson":"3.0.0","bounds":[-180,-90,180,90],"center":[0,0,3],"name":"test"}`)
	tj, err := FromJSON(input)
	if err != nil {
		t.Fatal(err)
	}
	if tj.Bounds == nil || tj.Center == nil {
		t.Fatalf("expected bounds and center to be parsed")
	}
	if name, ok := tj.GetString("name"); !ok || name != "test" {
		t.Fatalf("expected name=test, got %q, %v", name, ok)
	}
	if err := tj.CheckRaster(); err != nil {
		t.Fatalf("expected valid raster tilejson: %v", err)
	}
}

func TestCheckVectorRequiresLayers(t *testing.T) {
	tj := New()
	if err := tj.CheckVector(); err == nil {
		t.Fatalf("expected error for vector tilejson without layers")
	}
	tj.VectorLayers = append(tj.VectorLayers, VectorLayer{ID: "roads"})
	if err := tj.CheckVector(); err != nil {
		t.Fatalf("expected valid vector tilejson: %v", err)
	}
}

func TestMergeMinMaxZoom(t *testing.T) {
	a := New()
	a.LimitMinZoom(5)
	a.LimitMaxZoom(5)
	a.setByte("maxzoom", 15)

	b := New()
	b.setByte("minzoom", 2)
	b.setByte("maxzoom", 20)

	a.Merge(b)
	if miz, _ := a.MinZoom(); miz != 2 {
		t.Fatalf("expected minzoom 2, got %d", miz)
	}
	if maz, _ := a.MaxZoom(); maz != 20 {
		t.Fatalf("expected maxzoom 20, got %d", maz)
	}
}

func TestLimitBBoxIntersects(t *testing.T) {
	tj := New()
	existing, _ := tilecoord.NewGeoBBox(-10, -5, 10, 5)
	tj.Bounds = &existing
	newer, _ := tilecoord.NewGeoBBox(-15, -10, 0, 2)
	tj.LimitBBox(newer)
	if tj.Bounds.West != -10 || tj.Bounds.South != -5 || tj.Bounds.East != 0 || tj.Bounds.North != 2 {
		t.Fatalf("unexpected bounds after intersect: %+v", tj.Bounds)
	}
}

func TestMergeVectorLayersByID(t *testing.T) {
	a := New()
	a.VectorLayers = []VectorLayer{{ID: "roads", Description: "old"}}
	b := New()
	b.VectorLayers = []VectorLayer{{ID: "roads", Description: "new"}, {ID: "water"}}

	a.Merge(b)
	if len(a.VectorLayers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(a.VectorLayers))
	}
	if a.VectorLayers[0].Description != "new" {
		t.Fatalf("expected roads layer to be overwritten, got %q", a.VectorLayers[0].Description)
	}
}
