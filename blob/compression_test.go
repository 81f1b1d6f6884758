package blob

import "testing"

func TestCompressDecompressRoundTrip(t *testing.T) {
	raw := []byte("the quick brown fox jumps over the lazy dog, repeated several times to give the compressor something to chew on")
	for _, c := range []TileCompression{Uncompressed, Gzip, Brotli, Zstd} {
		compressed, err := Compress(raw, c)
		if err != nil {
			t.Fatalf("Compress(%s): %v", c, err)
		}
		got, err := Decompress(compressed, c)
		if err != nil {
			t.Fatalf("Decompress(%s): %v", c, err)
		}
		if string(got) != string(raw) {
			t.Fatalf("round trip mismatch for %s: got %q", c, got)
		}
	}
}

func TestOptimizeCompressionKeepsCurrentUnlessBest(t *testing.T) {
	raw := []byte("png-ish incompressible payload stand-in")
	gz, err := Compress(raw, Gzip)
	if err != nil {
		t.Fatal(err)
	}

	out, got, err := OptimizeCompression(gz, Gzip, []TileCompression{Uncompressed, Gzip}, UseFastCompression)
	if err != nil {
		t.Fatal(err)
	}
	if got != Gzip {
		t.Fatalf("expected compression to stay Gzip, got %s", got)
	}
	decoded, err := Decompress(out, got)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("payload corrupted by OptimizeCompression")
	}
}

func TestOptimizeCompressionIncompressibleFallsBack(t *testing.T) {
	raw := []byte("already-encoded image bytes")
	out, got, err := OptimizeCompression(raw, Uncompressed, []TileCompression{Uncompressed, Gzip}, IsIncompressible)
	if err != nil {
		t.Fatal(err)
	}
	if got != Uncompressed {
		t.Fatalf("expected Uncompressed for IsIncompressible goal, got %s", got)
	}
	if string(out) != string(raw) {
		t.Fatalf("bytes changed for IsIncompressible goal")
	}
}
