package blob

import "testing"

func TestFormatCategory(t *testing.T) {
	cases := map[TileFormat]Category{
		FormatPNG:      CategoryImage,
		FormatJPG:      CategoryImage,
		FormatWebP:     CategoryImage,
		FormatAVIF:     CategoryImage,
		FormatMVT:      CategoryVector,
		FormatGeoJSON:  CategoryVector,
		FormatTopoJSON: CategoryVector,
		FormatSVG:      CategoryUnknown,
		FormatJSON:     CategoryUnknown,
		FormatBIN:      CategoryUnknown,
	}
	for format, want := range cases {
		if got := format.Category(); got != want {
			t.Errorf("%s: Category() = %v, want %v", format, got, want)
		}
	}
}

func TestFormatExtensionRoundTrip(t *testing.T) {
	formats := []TileFormat{
		FormatPNG, FormatJPG, FormatWebP, FormatAVIF, FormatSVG,
		FormatMVT, FormatGeoJSON, FormatTopoJSON, FormatJSON, FormatBIN,
	}
	for _, format := range formats {
		ext := format.Extension()
		got, ok := FormatFromExtension(ext)
		if !ok {
			t.Errorf("FormatFromExtension(%q): not recognized", ext)
			continue
		}
		if got != format {
			t.Errorf("FormatFromExtension(%q) = %v, want %v", ext, got, format)
		}
	}
}

func TestFormatFromExtensionAliases(t *testing.T) {
	if f, ok := FormatFromExtension("jpeg"); !ok || f != FormatJPG {
		t.Errorf("jpeg alias: got %v %v", f, ok)
	}
	if f, ok := FormatFromExtension("pbf"); !ok || f != FormatMVT {
		t.Errorf("pbf alias: got %v %v", f, ok)
	}
}

func TestFormatFromExtensionUnknown(t *testing.T) {
	if _, ok := FormatFromExtension("xyz"); ok {
		t.Errorf("expected unknown extension to fail")
	}
}

func TestFormatMIME(t *testing.T) {
	cases := map[TileFormat]string{
		FormatPNG:  "image/png",
		FormatJPG:  "image/jpeg",
		FormatWebP: "image/webp",
		FormatAVIF: "image/avif",
		FormatMVT:  "application/vnd.mapbox-vector-tile",
		FormatJSON: "application/json",
	}
	for format, want := range cases {
		if got := format.MIME(); got != want {
			t.Errorf("%s: MIME() = %q, want %q", format, got, want)
		}
	}
	if got := FormatUnknown.MIME(); got != "application/octet-stream" {
		t.Errorf("FormatUnknown.MIME() = %q, want application/octet-stream", got)
	}
}

func TestFormatStringMatchesExtension(t *testing.T) {
	if FormatPNG.String() != FormatPNG.Extension() {
		t.Errorf("String() should match Extension()")
	}
}
