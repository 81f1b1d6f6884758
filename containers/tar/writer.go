package tar

import (
	"archive/tar"
	"context"
	"fmt"
	"os"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
	"github.com/pspoerri/tilepipe/tilejson"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/tilestream"
	"github.com/pspoerri/tilepipe/traversal"
)

// Writer appends raw tile bytes to a tar archive at `{z}/{x}/{y}.<ext>`
// paths, writing metadata as a separate top-level entry. No
// deduplication (spec.md §4.H).
type Writer struct {
	f   *os.File
	tw  *tar.Writer
	ext string
}

// NewWriter creates a tar archive for tiles stored under format/compression.
func NewWriter(outputPath string, format blob.TileFormat, compression blob.TileCompression) (*Writer, error) {
	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("tar: creating %s: %w", outputPath, err)
	}
	ext := format.Extension() + compression.Extension()
	return &Writer{f: f, tw: tar.NewWriter(f), ext: ext}, nil
}

// WriteTile appends one tile entry.
func (w *Writer) WriteTile(coord tilecoord.TileCoord, data []byte) error {
	name := fmt.Sprintf("%d/%d/%d.%s", coord.Level, coord.X, coord.Y, w.ext)
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar: writing header for %v: %w", coord, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("tar: writing tile %v: %w", coord, err)
	}
	return nil
}

// WriteMetadata writes the TileJSON document as a top-level meta.json entry.
func (w *Writer) WriteMetadata(tj *tilejson.TileJSON) error {
	body, err := tj.ToJSON()
	if err != nil {
		return fmt.Errorf("tar: encoding metadata: %w", err)
	}
	hdr := &tar.Header{Name: "meta.json", Mode: 0o644, Size: int64(len(body))}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar: writing metadata header: %w", err)
	}
	if _, err := w.tw.Write(body); err != nil {
		return fmt.Errorf("tar: writing metadata: %w", err)
	}
	return nil
}

// Close flushes the tar trailer and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.tw.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("tar: closing archive: %w", err)
	}
	return w.f.Close()
}

// WriteFromSource drives src through traverse_all_tiles with a
// writer-native AnyOrder traversal — a tar archive's entries carry
// their coordinates in their paths, so any arrival order is legal and
// every source can stream directly without buffering. progress, when
// non-nil, is called after each batch with the running (read, written)
// tile counts.
func WriteFromSource(ctx context.Context, outputPath string, src tilesource.Source, ioConcurrency int, progress tilesource.Progress) error {
	meta := src.Metadata()

	w, err := NewWriter(outputPath, meta.Format, meta.Compression)
	if err != nil {
		return err
	}
	defer w.Close()

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
