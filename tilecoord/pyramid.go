package tilecoord

import "fmt"

// TileBBoxPyramid holds one TileBBox per zoom level, the shape used
// throughout the container readers/writers to describe "everything this
// source can serve" without forcing a single global level range.
type TileBBoxPyramid struct {
	levels map[uint8]TileBBox
}

// NewPyramid returns an empty pyramid.
func NewPyramid() *TileBBoxPyramid {
	return &TileBBoxPyramid{levels: make(map[uint8]TileBBox)}
}

// Get returns the bbox at level, or an empty bbox if the level is absent.
func (p *TileBBoxPyramid) Get(level uint8) TileBBox {
	if b, ok := p.levels[level]; ok {
		return b
	}
	return NewEmptyBBox(level)
}

// Set stores bbox at its own level, replacing any existing entry.
func (p *TileBBoxPyramid) Set(b TileBBox) {
	if b.IsEmpty() {
		delete(p.levels, b.Level)
		return
	}
	p.levels[b.Level] = b
}

// IncludeCoord grows the bbox at coord.Level (creating it if absent) to
// cover coord.
func (p *TileBBoxPyramid) IncludeCoord(c TileCoord) {
	cur, ok := p.levels[c.Level]
	if !ok || cur.IsEmpty() {
		p.levels[c.Level] = TileBBox{Level: c.Level, XMin: c.X, YMin: c.Y, XMax: c.X, YMax: c.Y}
		return
	}
	p.levels[c.Level] = TileBBox{
		Level: c.Level,
		XMin:  min32(cur.XMin, c.X),
		YMin:  min32(cur.YMin, c.Y),
		XMax:  max32(cur.XMax, c.X),
		YMax:  max32(cur.YMax, c.Y),
	}
}

// IncludeBBox unions b into the pyramid at b's level.
func (p *TileBBoxPyramid) IncludeBBox(b TileBBox) error {
	if b.IsEmpty() {
		return nil
	}
	cur, ok := p.levels[b.Level]
	if !ok {
		p.Set(b)
		return nil
	}
	u, err := cur.Union(b)
	if err != nil {
		return err
	}
	p.Set(u)
	return nil
}

// Levels returns the sorted set of levels present in the pyramid.
func (p *TileBBoxPyramid) Levels() []uint8 {
	out := make([]uint8, 0, len(p.levels))
	for l := range p.levels {
		out = append(out, l)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// LevelMin returns the lowest populated level and whether the pyramid is
// non-empty.
func (p *TileBBoxPyramid) LevelMin() (uint8, bool) {
	levels := p.Levels()
	if len(levels) == 0 {
		return 0, false
	}
	return levels[0], true
}

// LevelMax returns the highest populated level and whether the pyramid is
// non-empty.
func (p *TileBBoxPyramid) LevelMax() (uint8, bool) {
	levels := p.Levels()
	if len(levels) == 0 {
		return 0, false
	}
	return levels[len(levels)-1], true
}

// ClampLevels drops any level outside [min,max].
func (p *TileBBoxPyramid) ClampLevels(min, max uint8) {
	for l := range p.levels {
		if l < min || l > max {
			delete(p.levels, l)
		}
	}
}

// CountTiles sums CountTiles across every level.
func (p *TileBBoxPyramid) CountTiles() uint64 {
	var total uint64
	for _, b := range p.levels {
		total += b.CountTiles()
	}
	return total
}

// Union returns a new pyramid holding the per-level union of p and o.
func (p *TileBBoxPyramid) Union(o *TileBBoxPyramid) (*TileBBoxPyramid, error) {
	out := NewPyramid()
	for l, b := range p.levels {
		out.Set(b)
		_ = l
	}
	for _, b := range o.levels {
		if err := out.IncludeBBox(b); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Intersection returns a new pyramid holding the per-level intersection,
// keeping only levels present in both pyramids.
func (p *TileBBoxPyramid) Intersection(o *TileBBoxPyramid) (*TileBBoxPyramid, error) {
	out := NewPyramid()
	for l, b := range p.levels {
		ob, ok := o.levels[l]
		if !ok {
			continue
		}
		i, err := b.Intersection(ob)
		if err != nil {
			return nil, fmt.Errorf("tilecoord: pyramid intersection at level %d: %w", l, err)
		}
		out.Set(i)
	}
	return out, nil
}

// FlipY flips every level's Y range in place.
func (p *TileBBoxPyramid) FlipY() {
	for l, b := range p.levels {
		p.levels[l] = b.FlipY()
	}
}

// SwapXY swaps every level's X/Y ranges in place.
func (p *TileBBoxPyramid) SwapXY() {
	for l, b := range p.levels {
		p.levels[l] = b.SwapXY()
	}
}

// AsGeoBBox returns the union, in WGS84 degrees, of every level's extent.
// Every level describes the same geography at different resolutions, so
// any non-empty level is representative; we union across all of them to
// be robust to a pyramid with per-level partial coverage.
func (p *TileBBoxPyramid) AsGeoBBox() (GeoBBox, bool) {
	var result GeoBBox
	first := true
	for _, b := range p.levels {
		if b.IsEmpty() {
			continue
		}
		g := b.AsGeoBBox()
		if first {
			result = g
			first = false
			continue
		}
		if g.West < result.West {
			result.West = g.West
		}
		if g.South < result.South {
			result.South = g.South
		}
		if g.East > result.East {
			result.East = g.East
		}
		if g.North > result.North {
			result.North = g.North
		}
	}
	return result, !first
}
