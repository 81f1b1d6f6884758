package tilecoord

// xyToHilbert converts (x, y) on an n x n grid (n a power of two) to its
// Hilbert curve index. Ported from the teacher's
// internal/pmtiles/directory.go, which itself duplicated
// internal/coord/hilbert.go — this package is the single copy both
// TileCoord.HilbertIndex and the PMTiles container now share.
func xyToHilbert(x, y, n uint64) uint64 {
	var d uint64
	s := n / 2
	for s > 0 {
		var rx, ry uint64
		if (x & s) > 0 {
			rx = 1
		}
		if (y & s) > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		if ry == 0 {
			if rx == 1 {
				x = s*2 - 1 - x
				y = s*2 - 1 - y
			}
			x, y = y, x
		}
		s /= 2
	}
	return d
}

// hilbertToXY is the inverse of xyToHilbert.
func hilbertToXY(d, n uint64) (x, y uint64) {
	var rx, ry uint64
	s := uint64(1)
	for s < n {
		rx = 1 & (d / 2)
		ry = 1 & (d ^ rx)
		if ry == 0 {
			if rx == 1 {
				x = s - 1 - x
				y = s - 1 - y
			}
			x, y = y, x
		}
		x += s * rx
		y += s * ry
		d /= 4
		s *= 2
	}
	return x, y
}

// levelOffset returns sum_{i=0}^{level-1} 4^i, the PMTiles tile-ID of the
// first tile at `level`.
func levelOffset(level uint8) uint64 {
	var acc uint64
	for i := uint8(0); i < level; i++ {
		n := uint64(1) << i
		acc += n * n
	}
	return acc
}

// HilbertIndex returns the PMTiles v3 tile ID for coord: the sum of all
// tile counts at lower zoom levels, plus the Hilbert curve index within
// this zoom level.
func (c TileCoord) HilbertIndex() uint64 {
	if c.Level == 0 {
		return 0
	}
	n := uint64(1) << c.Level
	return levelOffset(c.Level) + xyToHilbert(uint64(c.X), uint64(c.Y), n)
}

// FromHilbertIndex is the inverse of HilbertIndex.
func FromHilbertIndex(id uint64) TileCoord {
	var level uint8
	acc := uint64(0)
	for {
		n := uint64(1) << level
		count := n * n
		if acc+count > id {
			break
		}
		acc += count
		level++
	}
	n := uint64(1) << level
	x, y := hilbertToXY(id-acc, n)
	return TileCoord{Level: level, X: uint32(x), Y: uint32(y)}
}
