package vpl

import "testing"

func TestParseSimpleNode(t *testing.T) {
	pipeline, err := Parse(`from_container filename="x.pbf"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipeline) != 1 {
		t.Fatalf("expected 1 node, got %d", len(pipeline))
	}
	if pipeline[0].Name != "from_container" {
		t.Fatalf("unexpected node name %q", pipeline[0].Name)
	}
	v, ok := pipeline[0].StringOption("filename")
	if !ok || v != "x.pbf" {
		t.Fatalf("expected filename=x.pbf, got %q %v", v, ok)
	}
}

func TestParsePipeChain(t *testing.T) {
	pipeline, err := Parse(`from_debug format=png | dem_quantize bits=8 encoding=mapbox`)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipeline) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(pipeline))
	}
	if pipeline[0].Name != "from_debug" || pipeline[1].Name != "dem_quantize" {
		t.Fatalf("unexpected node names: %q, %q", pipeline[0].Name, pipeline[1].Name)
	}
	bits, ok, err := pipeline[1].Uint8Option("bits")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || bits != 8 {
		t.Fatalf("expected bits=8, got %d %v", bits, ok)
	}
}

func TestParseSourcesList(t *testing.T) {
	pipeline, err := Parse(`from_stacked_raster [ from_container filename="a.mbtiles", from_container filename="b.mbtiles" ]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipeline) != 1 {
		t.Fatalf("expected 1 node, got %d", len(pipeline))
	}
	node := pipeline[0]
	if len(node.Sources) != 2 {
		t.Fatalf("expected 2 sub-pipelines, got %d", len(node.Sources))
	}
	for i, want := range []string{"a.mbtiles", "b.mbtiles"} {
		sub := node.Sources[i]
		if len(sub) != 1 || sub[0].Name != "from_container" {
			t.Fatalf("sub-pipeline %d malformed: %+v", i, sub)
		}
		v, ok := sub[0].StringOption("filename")
		if !ok || v != want {
			t.Fatalf("sub-pipeline %d: expected filename=%q, got %q", i, want, v)
		}
	}
}

func TestParseFilterBBox(t *testing.T) {
	pipeline, err := Parse(`from_container filename="x.pbf" | filter bbox=[-10.5,20,11,40.25]`)
	if err != nil {
		t.Fatal(err)
	}
	vals, ok, err := pipeline[1].Float64sOption("bbox", 4)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected bbox to be set")
	}
	want := []float64{-10.5, 20, 11, 40.25}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("bbox[%d]: got %v, want %v", i, vals[i], want[i])
		}
	}
}

func TestParseQuotedStringEscapes(t *testing.T) {
	pipeline, err := Parse(`from_container filename="line1\nline2\t\"quoted\"\\end"`)
	if err != nil {
		t.Fatal(err)
	}
	v, _ := pipeline[0].StringOption("filename")
	if v != "line1\nline2\t\"quoted\"\\end" {
		t.Fatalf("unexpected escape decoding: %q", v)
	}
}

func TestParseComments(t *testing.T) {
	pipeline, err := Parse(`
		// line comment
		from_container filename="x.pbf" /* block
		comment */ | filter zoom_min=2 zoom_max=10
	`)
	if err != nil {
		t.Fatal(err)
	}
	if len(pipeline) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(pipeline))
	}
}

func TestParseTrailingInputError(t *testing.T) {
	_, err := Parse(`from_container filename="x.pbf" garbage`)
	if err == nil {
		t.Fatalf("expected error for trailing input")
	}
}

func TestParseUnterminatedString(t *testing.T) {
	_, err := Parse(`from_container filename="unterminated`)
	if err == nil {
		t.Fatalf("expected error for unterminated string")
	}
}

func TestParseMissingBracketClose(t *testing.T) {
	_, err := Parse(`from_stacked_raster [ from_container filename="a.mbtiles"`)
	if err == nil {
		t.Fatalf("expected error for unclosed sources list")
	}
}

func TestParseBoolValues(t *testing.T) {
	pipeline, err := Parse(`vectortiles_update_properties data_source_path="x.csv" layer_name="roads" id_field_tiles="id" id_field_data="id" replace_properties=true remove_non_matching=false include_id=true`)
	if err != nil {
		t.Fatal(err)
	}
	node := pipeline[0]
	replace, ok, err := node.BoolOption("replace_properties")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !replace {
		t.Fatalf("expected replace_properties=true")
	}
	remove, ok, err := node.BoolOption("remove_non_matching")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || remove {
		t.Fatalf("expected remove_non_matching=false")
	}
}
