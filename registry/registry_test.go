package registry

import (
	"context"
	"net/http"
	"testing"

	"github.com/pspoerri/tilepipe/tilesource"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		wantKind LocationKind
	}{
		{"http://example.com/a.pmtiles", LocationURL},
		{"https://example.com/a.pmtiles", LocationURL},
		{"file:///data/a.mbtiles", LocationPath},
		{"/data/a.mbtiles", LocationPath},
		{"relative/tiles.tar", LocationPath},
	}
	for _, c := range cases {
		loc, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if loc.kind != c.wantKind {
			t.Fatalf("Parse(%q): got kind %v, want %v", c.in, loc.kind, c.wantKind)
		}
	}
}

func TestParseEmptyLocation(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty location")
	}
	if _, err := Parse("file://"); err == nil {
		t.Fatal("expected error for empty file:// location")
	}
}

func TestDataLocationExtensionOf(t *testing.T) {
	cases := []struct {
		loc  DataLocation
		want string
	}{
		{Path("/data/a.mbtiles"), "mbtiles"},
		{Path("/data/a.MBTiles"), "mbtiles"},
		{URL("https://example.com/a.pmtiles"), "pmtiles"},
		{Bytes([]byte("x"), "versatiles"), "versatiles"},
		{Path("/data/noext"), ""},
	}
	for _, c := range cases {
		if got := c.loc.extensionOf(); got != c.want {
			t.Fatalf("extensionOf(%+v): got %q, want %q", c.loc, got, c.want)
		}
	}
}

func TestRegistryOpenUnregisteredExtension(t *testing.T) {
	r := New()
	if _, err := r.Open(context.Background(), "/data/archive.unknownformat"); err == nil {
		t.Fatal("expected error opening an unregistered extension")
	}
}

func TestRegistryOpenMissingLocalFile(t *testing.T) {
	r := New()
	if _, err := r.Open(context.Background(), "/nonexistent/path/does-not-exist.mbtiles"); err == nil {
		t.Fatal("expected error opening a missing mbtiles path")
	}
}

func TestRegistryRegisterAddsOpener(t *testing.T) {
	r := New()
	var gotLoc DataLocation
	r.Register("custom", func(_ context.Context, loc DataLocation, _ *http.Client) (tilesource.Source, error) {
		gotLoc = loc
		return nil, nil
	})
	if _, err := r.Open(context.Background(), "/data/archive.custom"); err != nil {
		t.Fatalf("Open with registered custom extension: %v", err)
	}
	if gotLoc.path != "/data/archive.custom" {
		t.Fatalf("opener received unexpected location: %+v", gotLoc)
	}
}
