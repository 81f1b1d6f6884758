package blob

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// TileCompression identifies how a tile's bytes are encoded on the wire.
type TileCompression uint8

const (
	Uncompressed TileCompression = iota
	Gzip
	Brotli
	Zstd
)

func (c TileCompression) String() string {
	switch c {
	case Uncompressed:
		return "uncompressed"
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Extension returns the filename suffix a container uses to signal this
// compression (empty for Uncompressed).
func (c TileCompression) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Brotli:
		return ".br"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// Decompress returns the raw bytes under c, decompressing if needed.
func Decompress(data []byte, c TileCompression) ([]byte, error) {
	switch c {
	case Uncompressed:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("blob: gzip decompress: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("blob: gzip decompress: %w", err)
		}
		return out, nil
	case Brotli:
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("blob: brotli decompress: %w", err)
		}
		return out, nil
	case Zstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("blob: zstd decompress: %w", err)
		}
		defer dec.Close()
		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("blob: zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("blob: unknown compression %d", c)
	}
}

// BrotliQuality is the default quality used when compressing tile
// directories (PMTiles/VersaTiles indices). Correctness does not depend
// on this value, only output size.
const BrotliQuality = 6

// ZstdLevel is the default level used when compressing tile data.
const ZstdLevel = 3

// Compress encodes raw into compression c.
func Compress(raw []byte, c TileCompression) ([]byte, error) {
	switch c {
	case Uncompressed:
		return raw, nil
	case Gzip:
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("blob: gzip compress: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("blob: gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blob: gzip compress: %w", err)
		}
		return buf.Bytes(), nil
	case Brotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, BrotliQuality)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("blob: brotli compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("blob: brotli compress: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(ZstdLevel)))
		if err != nil {
			return nil, fmt.Errorf("blob: zstd compress: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, fmt.Errorf("blob: unknown compression %d", c)
	}
}

// CompressionGoal is the caller's intent when choosing a target
// compression in OptimizeCompression.
type CompressionGoal int

const (
	UseBestCompression CompressionGoal = iota
	UseFastCompression
	IsIncompressible
)

// OptimizeCompression picks the best (or cheapest) encoding for raw
// bytes currently under `current`, out of the `allowed` set, honoring
// `goal`. Uncompressed must always be a legal fallback in `allowed`.
// The IsIncompressible goal skips recompression entirely. The payload's
// format is not inspected: pre-compressed image payloads are only left
// alone when the caller passes IsIncompressible for them.
func OptimizeCompression(raw []byte, current TileCompression, allowed []TileCompression, goal CompressionGoal) ([]byte, TileCompression, error) {
	contains := func(c TileCompression) bool {
		for _, a := range allowed {
			if a == c {
				return true
			}
		}
		return false
	}

	decoded, err := Decompress(raw, current)
	if err != nil {
		return nil, 0, err
	}

	if goal == IsIncompressible {
		if contains(current) {
			return raw, current, nil
		}
		if contains(Uncompressed) {
			return decoded, Uncompressed, nil
		}
		return nil, 0, fmt.Errorf("blob: no compression in %v accepts incompressible data", allowed)
	}

	if contains(current) && goal != UseBestCompression {
		return raw, current, nil
	}

	// Prefer, in order, the best compressor available; Gzip is the
	// universal fallback the teacher's metadata path always used.
	order := []TileCompression{Brotli, Zstd, Gzip, Uncompressed}
	if goal == UseFastCompression {
		order = []TileCompression{Gzip, Zstd, Brotli, Uncompressed}
	}
	for _, c := range order {
		if !contains(c) {
			continue
		}
		out, err := Compress(decoded, c)
		if err != nil {
			return nil, 0, err
		}
		return out, c, nil
	}
	return nil, 0, fmt.Errorf("blob: no acceptable compression in %v", allowed)
}
