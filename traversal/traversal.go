// Package traversal implements the producer/consumer traversal contract
// and plan translation described in spec.md §4.F: how a reader's
// preferred order and batch size get bridged to a writer's, via direct
// streaming or a buffered Push/Pop cache slot.
package traversal

import (
	"fmt"
	"sort"

	"github.com/pspoerri/tilepipe/tilecoord"
)

// Order is how a producer or consumer wants tiles grouped.
type Order int

const (
	// AnyOrder accepts tiles in whatever order the other side prefers.
	AnyOrder Order = iota
	// DepthFirst visits the deepest (highest-resolution) zoom level first,
	// ascending back toward the root.
	DepthFirst
	// PMTiles visits tiles in Hilbert-curve order, as PMTiles v3 requires.
	PMTiles
)

func (o Order) String() string {
	switch o {
	case AnyOrder:
		return "AnyOrder"
	case DepthFirst:
		return "DepthFirst"
	case PMTiles:
		return "PMTiles"
	default:
		return "Unknown"
	}
}

// SizeRange bounds the tile-edge length (in tiles) of a single batch bbox.
type SizeRange struct {
	Min, Max uint32
}

// Intersect returns the overlap of two size ranges, or an error if they
// don't overlap.
func (s SizeRange) Intersect(o SizeRange) (SizeRange, error) {
	min := s.Min
	if o.Min > min {
		min = o.Min
	}
	max := s.Max
	if o.Max < max {
		max = o.Max
	}
	if min > max {
		return SizeRange{}, fmt.Errorf("traversal: size ranges [%d,%d] and [%d,%d] do not overlap", s.Min, s.Max, o.Min, o.Max)
	}
	return SizeRange{Min: min, Max: max}, nil
}

// Traversal is the (order, size) pair a producer or consumer advertises.
type Traversal struct {
	Order Order
	Size  SizeRange
}

// New validates and constructs a Traversal.
func New(order Order, min, max uint32) (Traversal, error) {
	if min == 0 || max < min {
		return Traversal{}, fmt.Errorf("traversal: invalid size range [%d,%d]", min, max)
	}
	return Traversal{Order: order, Size: SizeRange{Min: min, Max: max}}, nil
}

// Intersect returns a Traversal compatible with both t and o: their
// orders must match or one must be AnyOrder (the result takes the
// non-Any order), and their size ranges must overlap.
func (t Traversal) Intersect(o Traversal) (Traversal, error) {
	var order Order
	switch {
	case t.Order == o.Order:
		order = t.Order
	case t.Order == AnyOrder:
		order = o.Order
	case o.Order == AnyOrder:
		order = t.Order
	default:
		return Traversal{}, fmt.Errorf("traversal: incompatible orders %s and %s", t.Order, o.Order)
	}
	size, err := t.Size.Intersect(o.Size)
	if err != nil {
		return Traversal{}, err
	}
	return Traversal{Order: order, Size: size}, nil
}

// TraversePyramid splits every level's bbox in pyramid into blocks whose
// edge is at most t.Size.Max tiles, in the level order t.Order prefers
// (ascending for AnyOrder/PMTiles, descending — deepest first — for
// DepthFirst). Block order within a level is row-major; AnyOrder and
// PMTiles consumers don't depend on it, and DepthFirst only constrains
// level order.
func (t Traversal) TraversePyramid(pyramid *tilecoord.TileBBoxPyramid) ([]tilecoord.TileBBox, error) {
	levels := pyramid.Levels()
	if t.Order == DepthFirst {
		sort.Slice(levels, func(i, j int) bool { return levels[i] > levels[j] })
	}
	var out []tilecoord.TileBBox
	for _, level := range levels {
		bbox := pyramid.Get(level)
		if bbox.IsEmpty() {
			continue
		}
		size := t.Size.Max
		if size == 0 {
			size = bbox.MaxCoord() + 1
		}
		out = append(out, bbox.IterBBoxGrid(size)...)
	}
	return out, nil
}
