package pmtiles

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pspoerri/tilepipe/blob"
	"github.com/pspoerri/tilepipe/tilecoord"
)

// maxEntryCount caps a single directory's declared entry count; anything
// higher is a corrupted or adversarial count header (spec.md §8
// invariant 4: "an intentionally corrupted count > 10^10 is rejected").
const maxEntryCount = 10_000_000_000

// targetRootLen is the header's typical root-directory size budget
// (spec.md §4.G.2.2).
const targetRootLen = 16 * 1024

// Entry is one PMTiles v3 directory entry (spec.md §4.G.2.1's EntriesV3).
type Entry struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// buildDirectory takes entries sorted by TileID and produces a root
// directory (compressed with internalCompression) plus, if the root
// would not fit within targetRootLen, a leaf-directory section it points
// into (spec.md §4.G.2.2's "grow leaf_size *= 1.2 and retry" algorithm).
func buildDirectory(entries []Entry, internalCompression blob.TileCompression) (rootDir []byte, leafDirs []byte, err error) {
	optimized := optimizeRunLengths(entries)

	rootDir, err = serializeDirectory(optimized, internalCompression)
	if err != nil {
		return nil, nil, err
	}
	if len(rootDir) <= targetRootLen {
		return rootDir, nil, nil
	}

	leafSize := float64(len(optimized)) / 3500
	if leafSize < 4096 {
		leafSize = 4096
	}

	for {
		root, leaves, serErr := buildLeafLayout(optimized, int(leafSize), internalCompression)
		if serErr != nil {
			return nil, nil, serErr
		}
		if len(root) <= targetRootLen || int(leafSize) >= len(optimized) {
			return root, leaves, nil
		}
		leafSize *= 1.2
	}
}

// buildLeafLayout partitions optimized into chunks of at most leafSize
// entries, serializes each as a leaf directory, and serializes a root
// directory of leaf pointers (RunLength 0, Offset/Length relative to the
// leaf-directory section).
func buildLeafLayout(optimized []Entry, leafSize int, internalCompression blob.TileCompression) (rootDir []byte, leafDirs []byte, err error) {
	if leafSize < 1 {
		leafSize = 1
	}
	var leafBuf bytes.Buffer
	var rootEntries []Entry
	for i := 0; i < len(optimized); i += leafSize {
		end := i + leafSize
		if end > len(optimized) {
			end = len(optimized)
		}
		chunk := optimized[i:end]
		leafData, serErr := serializeDirectory(chunk, internalCompression)
		if serErr != nil {
			return nil, nil, serErr
		}
		rootEntries = append(rootEntries, Entry{
			TileID:    chunk[0].TileID,
			Offset:    uint64(leafBuf.Len()),
			Length:    uint32(len(leafData)),
			RunLength: 0,
		})
		leafBuf.Write(leafData)
	}
	rootDir, err = serializeDirectory(rootEntries, internalCompression)
	return rootDir, leafBuf.Bytes(), err
}

// serializeDirectory encodes entries per §4.G.2.1 (entry count, then four
// parallel varint streams: tile-id deltas, run-lengths, lengths,
// adjacency-coded offsets) and compresses the result with
// internalCompression.
func serializeDirectory(entries []Entry, internalCompression blob.TileCompression) ([]byte, error) {
	if uint64(len(entries)) > maxEntryCount {
		return nil, fmt.Errorf("pmtiles: entry count %d exceeds maximum %d", len(entries), maxEntryCount)
	}

	var raw bytes.Buffer
	buf := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(buf, uint64(len(entries)))
	raw.Write(buf[:n])

	var lastID uint64
	for _, e := range entries {
		n = binary.PutUvarint(buf, e.TileID-lastID)
		raw.Write(buf[:n])
		lastID = e.TileID
	}
	for _, e := range entries {
		n = binary.PutUvarint(buf, uint64(e.RunLength))
		raw.Write(buf[:n])
	}
	for _, e := range entries {
		n = binary.PutUvarint(buf, uint64(e.Length))
		raw.Write(buf[:n])
	}
	var lastOffset uint64
	for i, e := range entries {
		var val uint64
		if i > 0 && e.Offset == lastOffset+uint64(entries[i-1].Length) {
			val = 0
		} else {
			val = e.Offset + 1
		}
		n = binary.PutUvarint(buf, val)
		raw.Write(buf[:n])
		lastOffset = e.Offset
	}

	return blob.Compress(raw.Bytes(), internalCompression)
}

// DeserializeDirectory decompresses (using internalCompression) and
// parses an EntriesV3 blob.
func DeserializeDirectory(data []byte, internalCompression blob.TileCompression) ([]Entry, error) {
	rawBytes, err := blob.Decompress(data, internalCompression)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: decompressing directory: %w", err)
	}
	r := bytes.NewReader(rawBytes)

	numEntries, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("pmtiles: reading entry count: %w", err)
	}
	if numEntries > maxEntryCount {
		return nil, fmt.Errorf("pmtiles: entry count %d exceeds maximum %d", numEntries, maxEntryCount)
	}

	entries := make([]Entry, numEntries)

	var lastID uint64
	for i := uint64(0); i < numEntries; i++ {
		delta, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading tile ID delta %d: %w", i, err)
		}
		lastID += delta
		entries[i].TileID = lastID
	}
	for i := uint64(0); i < numEntries; i++ {
		rl, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading run length %d: %w", i, err)
		}
		entries[i].RunLength = uint32(rl)
	}
	for i := uint64(0); i < numEntries; i++ {
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading length %d: %w", i, err)
		}
		entries[i].Length = uint32(length)
	}
	var lastOffset uint64
	for i := uint64(0); i < numEntries; i++ {
		val, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("pmtiles: reading offset %d: %w", i, err)
		}
		if val == 0 && i > 0 {
			entries[i].Offset = lastOffset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = val - 1
		}
		lastOffset = entries[i].Offset
	}
	return entries, nil
}

// optimizeRunLengths merges runs of consecutive tile IDs that point at
// the same payload (identical offset and length, as produced by the
// writer's content dedup) into single run-length entries.
func optimizeRunLengths(entries []Entry) []Entry {
	if len(entries) == 0 {
		return entries
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TileID < entries[j].TileID })

	result := make([]Entry, 0, len(entries))
	current := entries[0]
	for i := 1; i < len(entries); i++ {
		e := entries[i]
		expectedTileID := current.TileID + uint64(current.RunLength)
		if current.RunLength > 0 && e.RunLength > 0 && e.TileID == expectedTileID && e.Offset == current.Offset && e.Length == current.Length {
			current.RunLength += e.RunLength
			continue
		}
		result = append(result, current)
		current = e
	}
	return append(result, current)
}

// tileIDOf/coordFromTileID are the directory's only touchpoints into
// tilecoord's shared Hilbert math.
func tileIDOf(c tilecoord.TileCoord) uint64 { return c.HilbertIndex() }

func coordFromTileID(id uint64) tilecoord.TileCoord { return tilecoord.FromHilbertIndex(id) }
