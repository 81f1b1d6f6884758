// Package tilecoord implements the tile coordinate, bounding-box, and
// pyramid types shared by every reader, writer, and transform in this
// module (spec.md §4.B).
package tilecoord

import "fmt"

// TileCoord addresses a single tile. Level is 0..=31; X and Y must be
// less than 2^Level.
type TileCoord struct {
	Level uint8
	X     uint32
	Y     uint32
}

// New validates and constructs a TileCoord.
func New(level uint8, x, y uint32) (TileCoord, error) {
	if level > 31 {
		return TileCoord{}, fmt.Errorf("tilecoord: level %d exceeds maximum 31", level)
	}
	max := uint32(1) << level
	if x >= max || y >= max {
		return TileCoord{}, fmt.Errorf("tilecoord: coord (%d,%d) out of range for level %d (max %d)", x, y, level, max-1)
	}
	return TileCoord{Level: level, X: x, Y: y}, nil
}

// Parent returns the ancestor of c at the given (lower) level.
func (c TileCoord) Parent(level uint8) (TileCoord, error) {
	if level > c.Level {
		return TileCoord{}, fmt.Errorf("tilecoord: parent level %d above %d", level, c.Level)
	}
	shift := c.Level - level
	return TileCoord{Level: level, X: c.X >> shift, Y: c.Y >> shift}, nil
}

// FlipY mirrors the Y axis at this coordinate's level (TMS <-> XYZ).
func (c TileCoord) FlipY() TileCoord {
	max := uint32(1)<<c.Level - 1
	return TileCoord{Level: c.Level, X: c.X, Y: max - c.Y}
}

// SwapXY exchanges X and Y.
func (c TileCoord) SwapXY() TileCoord {
	return TileCoord{Level: c.Level, X: c.Y, Y: c.X}
}

func (c TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Level, c.X, c.Y)
}
