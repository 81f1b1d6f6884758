package converter

import (
	"github.com/pspoerri/tilepipe/blob"
)

// TileConverter holds the minimal sequence of decompress/reformat/compress
// steps needed to move a tile from (srcFormat, srcCompression) to
// (dstFormat, dstCompression), per spec.md §4.I.
type TileConverter struct {
	srcFormat, dstFormat           blob.TileFormat
	srcCompression, dstCompression blob.TileCompression
	identity                       bool
}

// NewTileConverter computes the minimal pipeline: identity when nothing
// needs to change, otherwise decompress -> reformat -> compress with
// identity steps omitted (spec.md §4.I).
func NewTileConverter(srcFormat blob.TileFormat, srcCompression blob.TileCompression, dstFormat blob.TileFormat, dstCompression blob.TileCompression, forceRecompress bool) TileConverter {
	identity := !forceRecompress && srcFormat == dstFormat && srcCompression == dstCompression
	return TileConverter{
		srcFormat:      srcFormat,
		dstFormat:      dstFormat,
		srcCompression: srcCompression,
		dstCompression: dstCompression,
		identity:       identity,
	}
}

// Process applies the pipeline to one tile.
func (c TileConverter) Process(t blob.Tile) (blob.Tile, error) {
	if c.identity {
		return t, nil
	}
	return t.IntoBlob(c.dstFormat, c.dstCompression)
}
