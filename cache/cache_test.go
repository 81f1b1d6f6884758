package cache

import (
	"bytes"
	"image"
	"os"
	"testing"

	"github.com/pspoerri/tilepipe/tilecoord"
)

func TestMemoryCacheEvictsByWeight(t *testing.T) {
	c := NewMemoryCache[string, []byte](10, func(v []byte) int { return len(v) })
	c.Set("a", make([]byte, 4))
	c.Set("b", make([]byte, 4))
	c.Set("c", make([]byte, 4))

	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected oldest entry to be evicted once over budget")
	}
	if c.Bytes() > 10 {
		t.Fatalf("cache exceeds byte budget: %d", c.Bytes())
	}
}

func TestMemoryCacheGetPromotes(t *testing.T) {
	c := NewMemoryCache[string, []byte](8, func(v []byte) int { return len(v) })
	c.Set("a", make([]byte, 4))
	c.Set("b", make([]byte, 4))
	c.Get("a")
	c.Set("c", make([]byte, 4))

	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected recently-used entry a to survive eviction")
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected least-recently-used entry b to be evicted")
	}
}

func TestDiskCachePushReadDrop(t *testing.T) {
	dir := t.TempDir()
	c := NewDiskCache(dir)

	coords := []tilecoord.TileCoord{
		{Level: 3, X: 1, Y: 2},
		{Level: 3, X: 4, Y: 5},
	}
	for _, coord := range coords {
		if err := c.Push(1, TileCoordValue{Coord: coord}); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len(1) != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len(1))
	}

	values, err := c.ReadAll(1, func() Value { return &TileCoordValue{} })
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range values {
		got := v.(*TileCoordValue).Coord
		if got != coords[i] {
			t.Fatalf("entry %d: got %v, want %v", i, got, coords[i])
		}
	}

	if err := c.Drop(1); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("cache dir should remain after Drop: %v", err)
	}
}

func TestImageValueRoundTripInfersVariant(t *testing.T) {
	rgba := image.NewNRGBA(image.Rect(0, 0, 2, 3))
	for i := range rgba.Pix {
		rgba.Pix[i] = uint8(i * 7)
	}
	gray := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := range gray.Pix {
		gray.Pix[i] = uint8(i * 11)
	}

	for _, img := range []image.Image{rgba, gray} {
		var buf bytes.Buffer
		if err := (ImageValue{Image: img}).WriteTo(&buf); err != nil {
			t.Fatalf("WriteTo(%T): %v", img, err)
		}
		var got ImageValue
		if err := got.ReadFrom(&buf); err != nil {
			t.Fatalf("ReadFrom(%T): %v", img, err)
		}
		switch want := img.(type) {
		case *image.NRGBA:
			back, ok := got.Image.(*image.NRGBA)
			if !ok || !bytes.Equal(back.Pix, want.Pix) || back.Bounds() != want.Bounds() {
				t.Fatalf("NRGBA round trip mismatch: %T", got.Image)
			}
		case *image.Gray:
			back, ok := got.Image.(*image.Gray)
			if !ok || !bytes.Equal(back.Pix, want.Pix) || back.Bounds() != want.Bounds() {
				t.Fatalf("Gray round trip mismatch: %T", got.Image)
			}
		}
	}
}
