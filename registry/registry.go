package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/pspoerri/tilepipe/containers/directory"
	"github.com/pspoerri/tilepipe/containers/mbtiles"
	"github.com/pspoerri/tilepipe/containers/pmtiles"
	"github.com/pspoerri/tilepipe/containers/tar"
	"github.com/pspoerri/tilepipe/containers/versatiles"
	"github.com/pspoerri/tilepipe/tilesource"
)

// Opener opens one DataLocation as a tilesource.Source. Registered per
// container format; Registry picks one by extension.
type Opener func(ctx context.Context, loc DataLocation, client *http.Client) (tilesource.Source, error)

// Registry maps a location's extension/shape to the container reader
// that can open it (SPEC_FULL.md §5's container registry). Build one
// with New, which registers every built-in container; the zero value
// has no opener map, so Register on it panics and Open finds no reader.
// Register adds or replaces an entry for composer extensions this
// module doesn't ship.
type Registry struct {
	openers map[string]Opener
	client  *http.Client
}

// New returns a Registry with every built-in container format
// registered: mbtiles, pmtiles, versatiles, tar, plus directory
// detection for extension-less paths.
func New() *Registry {
	r := &Registry{openers: make(map[string]Opener), client: http.DefaultClient}
	r.Register("mbtiles", openMBTiles)
	r.Register("pmtiles", openPMTiles)
	r.Register("versatiles", openVersaTiles)
	r.Register("tar", openTar)
	return r
}

// Register adds or replaces the opener used for locations whose
// extension equals ext (case-insensitive, without the leading dot).
func (r *Registry) Register(ext string, open Opener) { r.openers[strings.ToLower(ext)] = open }

// WithHTTPClient returns a copy of r that issues range requests through
// client instead of http.DefaultClient (for custom timeouts, auth
// headers, or test doubles).
func (r *Registry) WithHTTPClient(client *http.Client) *Registry {
	clone := &Registry{openers: r.openers, client: client}
	return clone
}

// Open resolves location (a path, "file://"/"http(s)://" URI, or
// anything registry.Parse accepts) to an opened tilesource.Source. It
// satisfies vpl.ContainerOpener.
func (r *Registry) Open(ctx context.Context, location string) (tilesource.Source, error) {
	loc, err := Parse(location)
	if err != nil {
		return nil, err
	}
	return r.OpenLocation(ctx, loc)
}

// OpenLocation is Open's typed counterpart, for callers that already
// hold a DataLocation (e.g. registry.Bytes for in-memory archives).
func (r *Registry) OpenLocation(ctx context.Context, loc DataLocation) (tilesource.Source, error) {
	if loc.kind == LocationPath && loc.extensionOf() == "" {
		if info, err := os.Stat(loc.path); err == nil && info.IsDir() {
			return directory.OpenPath(loc.path)
		}
	}

	extension := loc.extensionOf()
	open, ok := r.openers[extension]
	if !ok {
		return nil, fmt.Errorf("registry: no reader registered for extension %q", extension)
	}
	return open(ctx, loc, r.client)
}

func openMBTiles(ctx context.Context, loc DataLocation, client *http.Client) (tilesource.Source, error) {
	if loc.kind != LocationPath {
		return nil, fmt.Errorf("registry: mbtiles only supports local paths, not %v", loc.kind)
	}
	return mbtiles.OpenReader(loc.path)
}

func openTar(ctx context.Context, loc DataLocation, client *http.Client) (tilesource.Source, error) {
	if loc.kind != LocationPath {
		return nil, fmt.Errorf("registry: tar only supports local paths, not %v", loc.kind)
	}
	return tar.OpenReader(loc.path)
}

func openPMTiles(ctx context.Context, loc DataLocation, client *http.Client) (tilesource.Source, error) {
	switch loc.kind {
	case LocationPath:
		return pmtiles.OpenReader(loc.path)
	case LocationURL:
		ra, err := openHTTPRangeReaderAt(ctx, client, loc.url)
		if err != nil {
			return nil, err
		}
		return pmtiles.OpenReaderAt(ra)
	case LocationBytes:
		return pmtiles.OpenReaderAt(closingReaderAt{bytes.NewReader(loc.bytes)})
	default:
		return nil, fmt.Errorf("registry: unknown location kind %v", loc.kind)
	}
}

func openVersaTiles(ctx context.Context, loc DataLocation, client *http.Client) (tilesource.Source, error) {
	switch loc.kind {
	case LocationPath:
		return versatiles.OpenReader(loc.path)
	case LocationURL:
		ra, err := openHTTPRangeReaderAt(ctx, client, loc.url)
		if err != nil {
			return nil, err
		}
		return versatiles.OpenReaderAt(ra)
	case LocationBytes:
		return versatiles.OpenReaderAt(closingReaderAt{bytes.NewReader(loc.bytes)})
	default:
		return nil, fmt.Errorf("registry: unknown location kind %v", loc.kind)
	}
}

// closingReaderAt adapts a *bytes.Reader (no Close method) to the
// io.ReaderAt+io.Closer contract pmtiles/versatiles readers require.
type closingReaderAt struct {
	*bytes.Reader
}

func (closingReaderAt) Close() error { return nil }
