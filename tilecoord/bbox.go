package tilecoord

import "fmt"

// TileBBox is a level-aligned rectangle of tiles. It is empty when
// XMax < XMin or YMax < YMin — the same sentinel the teacher's sibling
// packages never needed but the pyramid/traversal machinery here does.
type TileBBox struct {
	Level          uint8
	XMin, YMin     uint32
	XMax, YMax     uint32
}

// NewBBox validates and constructs a TileBBox.
func NewBBox(level uint8, xMin, yMin, xMax, yMax uint32) (TileBBox, error) {
	if level > 31 {
		return TileBBox{}, fmt.Errorf("tilecoord: level %d exceeds maximum 31", level)
	}
	max := uint32(1)<<level - 1
	if xMax > max || yMax > max {
		return TileBBox{}, fmt.Errorf("tilecoord: bbox max (%d,%d) exceeds level %d bound %d", xMax, yMax, level, max)
	}
	if xMin > xMax || yMin > yMax {
		return TileBBox{}, fmt.Errorf("tilecoord: bbox min (%d,%d) exceeds max (%d,%d)", xMin, yMin, xMax, yMax)
	}
	return TileBBox{Level: level, XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}, nil
}

// NewFullBBox returns the bbox covering the whole level.
func NewFullBBox(level uint8) TileBBox {
	max := uint32(1)<<level - 1
	return TileBBox{Level: level, XMin: 0, YMin: 0, XMax: max, YMax: max}
}

// NewEmptyBBox returns an empty bbox at level, following the sentinel
// convention XMin > XMax.
func NewEmptyBBox(level uint8) TileBBox {
	return TileBBox{Level: level, XMin: 1, YMin: 1, XMax: 0, YMax: 0}
}

// MaxCoord returns 2^level - 1, the largest valid coordinate at this level.
func (b TileBBox) MaxCoord() uint32 {
	return uint32(1)<<b.Level - 1
}

// IsEmpty reports whether the bbox has zero width or height.
func (b TileBBox) IsEmpty() bool {
	return b.XMax < b.XMin || b.YMax < b.YMin
}

// Width returns the tile count along X, 0 if empty.
func (b TileBBox) Width() uint32 {
	if b.IsEmpty() {
		return 0
	}
	return b.XMax - b.XMin + 1
}

// Height returns the tile count along Y, 0 if empty.
func (b TileBBox) Height() uint32 {
	if b.IsEmpty() {
		return 0
	}
	return b.YMax - b.YMin + 1
}

// MaxCount returns 2^level, the number of distinct coordinates along one axis.
func (b TileBBox) MaxCount() uint32 {
	return uint32(1) << b.Level
}

// CountTiles returns Width*Height using a 64-bit accumulator (spec.md §9:
// single levels fit in u32, sums across levels don't).
func (b TileBBox) CountTiles() uint64 {
	return uint64(b.Width()) * uint64(b.Height())
}

// Contains reports whether coord lies in b at the same level.
func (b TileBBox) Contains(c TileCoord) bool {
	return c.Level == b.Level && !b.IsEmpty() &&
		c.X >= b.XMin && c.X <= b.XMax && c.Y >= b.YMin && c.Y <= b.YMax
}

// ContainsBBox reports whether b completely contains o (same level).
func (b TileBBox) ContainsBBox(o TileBBox) (bool, error) {
	if b.Level != o.Level {
		return false, fmt.Errorf("tilecoord: level mismatch %d vs %d", b.Level, o.Level)
	}
	if b.IsEmpty() || o.IsEmpty() {
		return false, nil
	}
	return b.XMin <= o.XMin && b.XMax >= o.XMax && b.YMin <= o.YMin && b.YMax >= o.YMax, nil
}

// Overlaps reports whether b and o share at least one tile.
func (b TileBBox) Overlaps(o TileBBox) (bool, error) {
	if b.Level != o.Level {
		return false, fmt.Errorf("tilecoord: level mismatch %d vs %d", b.Level, o.Level)
	}
	if b.IsEmpty() || o.IsEmpty() {
		return false, nil
	}
	return b.XMin <= o.XMax && b.XMax >= o.XMin && b.YMin <= o.YMax && b.YMax >= o.YMin, nil
}

// Union returns the smallest bbox containing both b and o.
func (b TileBBox) Union(o TileBBox) (TileBBox, error) {
	if b.Level != o.Level {
		return TileBBox{}, fmt.Errorf("tilecoord: level mismatch %d vs %d", b.Level, o.Level)
	}
	if o.IsEmpty() {
		return b, nil
	}
	if b.IsEmpty() {
		return o, nil
	}
	return TileBBox{
		Level: b.Level,
		XMin:  min32(b.XMin, o.XMin),
		YMin:  min32(b.YMin, o.YMin),
		XMax:  max32(b.XMax, o.XMax),
		YMax:  max32(b.YMax, o.YMax),
	}, nil
}

// Intersection returns the overlap of b and o, or an empty bbox if none.
func (b TileBBox) Intersection(o TileBBox) (TileBBox, error) {
	if b.Level != o.Level {
		return TileBBox{}, fmt.Errorf("tilecoord: level mismatch %d vs %d", b.Level, o.Level)
	}
	if b.IsEmpty() || o.IsEmpty() {
		return NewEmptyBBox(b.Level), nil
	}
	xMin, yMin := max32(b.XMin, o.XMin), max32(b.YMin, o.YMin)
	xMax, yMax := min32(b.XMax, o.XMax), min32(b.YMax, o.YMax)
	if xMin > xMax || yMin > yMax {
		return NewEmptyBBox(b.Level), nil
	}
	return TileBBox{Level: b.Level, XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}, nil
}

// FlipY mirrors the bbox's Y range (TMS <-> XYZ).
func (b TileBBox) FlipY() TileBBox {
	if b.IsEmpty() {
		return b
	}
	max := b.MaxCoord()
	return TileBBox{Level: b.Level, XMin: b.XMin, XMax: b.XMax, YMin: max - b.YMax, YMax: max - b.YMin}
}

// SwapXY exchanges the X and Y ranges.
func (b TileBBox) SwapXY() TileBBox {
	return TileBBox{Level: b.Level, XMin: b.YMin, YMin: b.XMin, XMax: b.YMax, YMax: b.XMax}
}

// ScaleDown divides every coordinate by scale (floor division), producing
// a bbox of grid-cell coordinates — used to verify traversal batches
// align to a grid (spec.md §4.F verification).
func (b TileBBox) ScaleDown(scale uint32) TileBBox {
	if b.IsEmpty() {
		return b
	}
	return TileBBox{Level: b.Level, XMin: b.XMin / scale, YMin: b.YMin / scale, XMax: b.XMax / scale, YMax: b.YMax / scale}
}

// Rounded returns the single size-aligned grid cell (of the given size)
// that contains b's minimum corner, clamped to the level's bounds. The
// traversal Push/Pop bucketing (spec.md §4.F rule 2) uses this to find
// the output bbox a read bbox rounds into; it assumes b fits within one
// such cell.
func (b TileBBox) Rounded(size uint32) TileBBox {
	if b.IsEmpty() {
		return b
	}
	max := b.MaxCoord()
	gx, gy := (b.XMin/size)*size, (b.YMin/size)*size
	xMax := min32(gx+size-1, max)
	yMax := min32(gy+size-1, max)
	return TileBBox{Level: b.Level, XMin: gx, YMin: gy, XMax: xMax, YMax: yMax}
}

// GetQuadrant splits an even-width, even-height bbox into one of its four
// quadrants (0=top-left, 1=top-right, 2=bottom-left, 3=bottom-right).
func (b TileBBox) GetQuadrant(quadrant uint8) (TileBBox, error) {
	if b.IsEmpty() {
		return b, nil
	}
	if quadrant > 3 {
		return TileBBox{}, fmt.Errorf("tilecoord: quadrant must be in 0..3, got %d", quadrant)
	}
	w, h := b.Width(), b.Height()
	if w%2 != 0 {
		return TileBBox{}, fmt.Errorf("tilecoord: cannot get quadrant of a TileBBox with odd width %d", w)
	}
	if h%2 != 0 {
		return TileBBox{}, fmt.Errorf("tilecoord: cannot get quadrant of a TileBBox with odd height %d", h)
	}
	hw, hh := w/2, h/2
	x, y := b.XMin, b.YMin
	switch quadrant {
	case 0:
		return NewBBox(b.Level, x, y, x+hw-1, y+hh-1)
	case 1:
		return NewBBox(b.Level, x+hw, y, x+w-1, y+hh-1)
	case 2:
		return NewBBox(b.Level, x, y+hh, x+hw-1, y+h-1)
	default:
		return NewBBox(b.Level, x+hw, y+hh, x+w-1, y+h-1)
	}
}

// IndexOf returns the row-major linear index of coord within b.
func (b TileBBox) IndexOf(c TileCoord) (uint64, error) {
	if !b.Contains(c) {
		return 0, fmt.Errorf("tilecoord: coord %s is not within bbox %v", c, b.AsArray())
	}
	return uint64(c.Y-b.YMin)*uint64(b.Width()) + uint64(c.X-b.XMin), nil
}

// CoordAtIndex is the inverse of IndexOf.
func (b TileBBox) CoordAtIndex(index uint64) (TileCoord, error) {
	if index >= b.CountTiles() {
		return TileCoord{}, fmt.Errorf("tilecoord: index %d out of bounds (count %d)", index, b.CountTiles())
	}
	width := uint64(b.Width())
	x := uint32(index%width) + b.XMin
	y := uint32(index/width) + b.YMin
	return TileCoord{Level: b.Level, X: x, Y: y}, nil
}

// AsArray returns [xMin, yMin, xMax, yMax].
func (b TileBBox) AsArray() [4]uint32 {
	return [4]uint32{b.XMin, b.YMin, b.XMax, b.YMax}
}

// IterCoords calls fn for every coordinate in b in row-major order
// (Y outer, X inner), stopping early if fn returns false.
func (b TileBBox) IterCoords(fn func(TileCoord) bool) {
	if b.IsEmpty() {
		return
	}
	for y := b.YMin; y <= b.YMax; y++ {
		for x := b.XMin; x <= b.XMax; x++ {
			if !fn(TileCoord{Level: b.Level, X: x, Y: y}) {
				return
			}
			if x == b.MaxCoord() {
				break
			}
		}
		if y == b.MaxCoord() {
			break
		}
	}
}

// IterBBoxGrid splits b into sub-bboxes each at most size tiles wide/tall,
// covering b exactly (spec.md §4.B).
func (b TileBBox) IterBBoxGrid(size uint32) []TileBBox {
	if b.IsEmpty() {
		return nil
	}
	meta := b.ScaleDown(size)
	var out []TileBBox
	meta.IterCoords(func(c TileCoord) bool {
		x, y := c.X*size, c.Y*size
		max := b.MaxCoord()
		cell, err := NewBBox(b.Level, x, y, min32(x+size-1, max), min32(y+size-1, max))
		if err != nil {
			return true
		}
		cell, _ = cell.Intersection(b)
		if !cell.IsEmpty() {
			out = append(out, cell)
		}
		return true
	})
	return out
}

// IterBBoxRowSlices partitions b into row-aligned slices each covering at
// most maxCount tiles.
func (b TileBBox) IterBBoxRowSlices(maxCount int) []TileBBox {
	if b.IsEmpty() || maxCount <= 0 {
		return nil
	}
	colCount := int(b.Width())
	var out []TileBBox
	if maxCount <= colCount {
		chunks := (colCount + maxCount - 1) / maxCount
		chunkSize := float64(colCount) / float64(chunks)
		colPos := make([]uint32, chunks+1)
		for c := 0; c <= chunks; c++ {
			colPos[c] = uint32(chunkSize*float64(c)) + b.XMin
		}
		colPos[chunks] = b.XMax + 1
		for row := b.YMin; row <= b.YMax; row++ {
			for c := 0; c < chunks; c++ {
				bb, err := NewBBox(b.Level, colPos[c], row, colPos[c+1]-1, row)
				if err == nil {
					out = append(out, bb)
				}
			}
		}
		return out
	}

	rowChunkMax := maxCount / colCount
	rowCount := int(b.Height())
	chunks := (rowCount + rowChunkMax - 1) / rowChunkMax
	chunkSize := float64(rowCount) / float64(chunks)
	rowPos := make([]uint32, chunks+1)
	for r := 0; r <= chunks; r++ {
		rowPos[r] = uint32(chunkSize*float64(r)+0.5) + b.YMin
	}
	rowPos[chunks] = b.YMax + 1
	for r := 0; r < chunks; r++ {
		bb, err := NewBBox(b.Level, b.XMin, rowPos[r], b.XMax, rowPos[r+1]-1)
		if err == nil {
			out = append(out, bb)
		}
	}
	return out
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
