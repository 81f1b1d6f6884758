// Package registry resolves a URI or path to an opened tilesource.Source,
// dispatching on scheme and file extension to the right container reader
// (spec.md §2 "a Runtime resolves a URI to a Reader via the Registry";
// SPEC_FULL.md §5's "container registry"/"DataLocation" supplements).
package registry

import (
	"fmt"
	"strings"
)

// LocationKind discriminates DataLocation's variant.
type LocationKind int

const (
	LocationPath LocationKind = iota
	LocationURL
	LocationBytes
)

// DataLocation is the small sum type a Registry resolves a reader from:
// a local filesystem path, an http(s) URL, or an in-memory blob (for
// tests and programmatic use) — spec.md §6's three "Registry-resolvable
// sources" categories made concrete.
type DataLocation struct {
	kind  LocationKind
	path  string
	url   string
	bytes []byte
	// ext names the container format when bytes carries in-memory data,
	// e.g. "pmtiles" — the registry has no filename to sniff otherwise.
	ext string
}

// Path returns a DataLocation naming a local filesystem path.
func Path(p string) DataLocation { return DataLocation{kind: LocationPath, path: p} }

// URL returns a DataLocation naming an "http(s)://" URI.
func URL(u string) DataLocation { return DataLocation{kind: LocationURL, url: u} }

// Bytes returns a DataLocation wrapping an in-memory archive of the
// given format extension (e.g. "pmtiles", "mbtiles").
func Bytes(data []byte, ext string) DataLocation {
	return DataLocation{kind: LocationBytes, bytes: data, ext: ext}
}

// Parse classifies a location string given to from_container or the
// CLI: "http://"/"https://" prefixes become LocationURL, everything
// else becomes LocationPath (after stripping an optional "file://").
func Parse(location string) (DataLocation, error) {
	switch {
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return URL(location), nil
	case strings.HasPrefix(location, "file://"):
		p := strings.TrimPrefix(location, "file://")
		if p == "" {
			return DataLocation{}, fmt.Errorf("registry: empty file:// location")
		}
		return Path(p), nil
	case location == "":
		return DataLocation{}, fmt.Errorf("registry: empty location")
	default:
		return Path(location), nil
	}
}

// extensionOf returns the container-format hint for a location: the
// file extension for a path or URL, or the declared ext for in-memory
// bytes.
func (d DataLocation) extensionOf() string {
	switch d.kind {
	case LocationPath:
		return ext(d.path)
	case LocationURL:
		return ext(d.url)
	default:
		return d.ext
	}
}

func ext(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
