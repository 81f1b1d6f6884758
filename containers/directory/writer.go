package directory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// Writer writes one file per tile under an output directory, the same
// contract as package tar applied to the filesystem directly (spec.md
// §4.H: "Directory writer: same as TAR but one file per tile").
type Writer struct {
	root string
	ext  string
}

// NewWriter creates (if needed) the output directory root for
// format/compression-tagged tile files.
func NewWriter(root string, format blob.TileFormat, compression blob.TileCompression) (*Writer, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: %q", ErrNotAbsolute, root)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("directory: creating %s: %w", root, err)
	}
	return &Writer{root: root, ext: format.Extension() + compression.Extension()}, nil
}

// WriteTile writes one tile's raw bytes to `<root>/<z>/<x>/<y>.<ext>`.
func (w *Writer) WriteTile(coord tilecoord.TileCoord, data []byte) error {
	dir := filepath.Join(w.root, fmt.Sprintf("%d", coord.Level), fmt.Sprintf("%d", coord.X))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("directory: creating %s: %w", dir, err)
	}
	p := filepath.Join(dir, fmt.Sprintf("%d.%s", coord.Y, w.ext))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("directory: writing %s: %w", p, err)
	}
	return nil
}

// WriteMetadata writes the TileJSON document to `<root>/meta.json`.
func (w *Writer) WriteMetadata(tj *tilejson.TileJSON) error {
	body, err := tj.ToJSON()
	if err != nil {
		return fmt.Errorf("directory: encoding metadata: %w", err)
	}
	p := filepath.Join(w.root, "meta.json")
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return fmt.Errorf("directory: writing %s: %w", p, err)
	}
	return nil
}

// WriteFromSource drives src through traverse_all_tiles with a
// writer-native AnyOrder traversal — each tile lands in its own file
// addressed by path, so any arrival order is legal and every source can
// stream directly without buffering. No deduplication. progress, when
// non-nil, is called after each batch with the running (read, written)
// tile counts.
func WriteFromSource(ctx context.Context, outputRoot string, src tilesource.Source, ioConcurrency int, progress tilesource.Progress) error {
	meta := src.Metadata()

	w, err := NewWriter(outputRoot, meta.Format, meta.Compression)
	if err != nil {
		return err
	}

	tj := tilejson.New()
	tj.Merge(src.TileJSON())
	tj.UpdateFromPyramid(meta.BBoxPyramid)
	if err := w.WriteMetadata(tj); err != nil {
		return err
	}

	write := traversal.Traversal{Order: traversal.AnyOrder, Size: traversal.SizeRange{Min: 1, Max: 4096}}
	return tilesource.TraverseAllTiles(ctx, src, write, ioConcurrency, nil, progress, func(ctx context.Context, b tilesource.Batch) error {
		return tilestream.ForEachSync(ctx, b.Stream, func(e tilestream.Entry[blob.Tile]) error {
			return w.WriteTile(e.Coord, e.Item.Bytes())
		})
	})
}
