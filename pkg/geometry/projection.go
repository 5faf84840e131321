package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Projection maps DEM cells to body-fixed 3D points. Row indices grow
// southwards (or towards -Y for planar grids).
type Projection interface {
	// Point returns the 3D position of cell (col, row) at height h
	Point(col, row int, h float64) r3.Vec
	// Radial returns the local outward unit direction at (col, row)
	Radial(col, row int) r3.Vec
}

// Planar is a local tangent-plane grid with +Z up. It suits small regions and
// synthetic scenes.
type Planar struct {
	OriginX    float64 `yaml:"originX"`
	OriginY    float64 `yaml:"originY"`
	Resolution float64 `yaml:"resolution"` // metres per cell
}

func (p Planar) Point(col, row int, h float64) r3.Vec {
	return r3.Vec{
		X: p.OriginX + float64(col)*p.Resolution,
		Y: p.OriginY - float64(row)*p.Resolution,
		Z: h,
	}
}

func (p Planar) Radial(int, int) r3.Vec { return r3.Vec{Z: 1} }

// Equirectangular places the DEM on a sphere. Heights are measured from
// Radius; longitudes and latitudes are in degrees.
type Equirectangular struct {
	Radius float64 `yaml:"radius"`
	Lon0   float64 `yaml:"lon0"` // longitude of column 0
	Lat0   float64 `yaml:"lat0"` // latitude of row 0
	DLon   float64 `yaml:"dLon"` // degrees per column
	DLat   float64 `yaml:"dLat"` // degrees per row, positive southwards
}

// MoonRadius is the IAU mean lunar radius in metres.
const MoonRadius = 1737400.0

func (e Equirectangular) lonLat(col, row int) (float64, float64) {
	const deg2rad = math.Pi / 180
	lon := (e.Lon0 + float64(col)*e.DLon) * deg2rad
	lat := (e.Lat0 - float64(row)*e.DLat) * deg2rad
	return lon, lat
}

func (e Equirectangular) Radial(col, row int) r3.Vec {
	lon, lat := e.lonLat(col, row)
	return r3.Vec{
		X: math.Cos(lat) * math.Cos(lon),
		Y: math.Cos(lat) * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

func (e Equirectangular) Point(col, row int, h float64) r3.Vec {
	return r3.Scale(e.Radius+h, e.Radial(col, row))
}
