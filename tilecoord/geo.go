package tilecoord

import (
	"fmt"
	"math"
)

// GeoBBox is a WGS84 bounding box [west, south, east, north] in degrees.
type GeoBBox struct {
	West, South, East, North float64
}

// NewGeoBBox validates WGS84 ordering and range.
func NewGeoBBox(west, south, east, north float64) (GeoBBox, error) {
	if west < -180 || east > 180 || west > east {
		return GeoBBox{}, fmt.Errorf("tilecoord: invalid longitude range [%f,%f]", west, east)
	}
	if south < -90 || north > 90 || south > north {
		return GeoBBox{}, fmt.Errorf("tilecoord: invalid latitude range [%f,%f]", south, north)
	}
	return GeoBBox{West: west, South: south, East: east, North: north}, nil
}

// GeoCenter is a WGS84 point plus a suggested initial zoom, as carried in
// TileJSON's "center" field.
type GeoCenter struct {
	Lon, Lat float64
	Zoom     uint8
}

func lonToX(lon float64, level uint8) float64 {
	n := float64(uint64(1) << level)
	return (lon + 180) / 360 * n
}

func latToY(lat float64, level uint8) float64 {
	n := float64(uint64(1) << level)
	rad := lat * math.Pi / 180
	return (1 - math.Log(math.Tan(rad)+1/math.Cos(rad))/math.Pi) / 2 * n
}

func xToLon(x float64, level uint8) float64 {
	n := float64(uint64(1) << level)
	return x/n*360 - 180
}

func yToLat(y float64, level uint8) float64 {
	n := float64(uint64(1) << level)
	rad := math.Pi * (1 - 2*y/n)
	return 180 / math.Pi * math.Atan(math.Sinh(rad))
}

// FromGeo projects a WGS84 bbox onto the tile grid at level, clamping to
// the level's valid coordinate range.
func FromGeo(level uint8, geo GeoBBox) (TileBBox, error) {
	max := uint32(1)<<level - 1
	clamp := func(v float64) uint32 {
		if v < 0 {
			return 0
		}
		if v > float64(max) {
			return max
		}
		return uint32(v)
	}
	xMin := clamp(math.Floor(lonToX(geo.West, level)))
	xMax := clamp(math.Ceil(lonToX(geo.East, level)) - 1)
	yMin := clamp(math.Floor(latToY(geo.North, level)))
	yMax := clamp(math.Ceil(latToY(geo.South, level)) - 1)
	if xMax < xMin {
		xMax = xMin
	}
	if yMax < yMin {
		yMax = yMin
	}
	return NewBBox(level, xMin, yMin, xMax, yMax)
}

// AsGeoBBox converts b back to WGS84 degrees, using the outer edges of
// the min/max+1 tile corners.
func (b TileBBox) AsGeoBBox() GeoBBox {
	if b.IsEmpty() {
		return GeoBBox{}
	}
	west := xToLon(float64(b.XMin), b.Level)
	east := xToLon(float64(b.XMax+1), b.Level)
	north := yToLat(float64(b.YMin), b.Level)
	south := yToLat(float64(b.YMax+1), b.Level)
	return GeoBBox{West: west, South: south, East: east, North: north}
}
