package models

import "fmt"

// Terrain holds the mutable per-cell state of a reconstruction: the height of
// every DEM cell and its albedo. Normals are derived from Height on demand.
type Terrain struct {
	Height Grid
	Albedo Grid
}

// NewTerrain pairs a DEM with an albedo map of the same shape.
func NewTerrain(height, albedo Grid) (*Terrain, error) {
	if err := height.Check(); err != nil {
		return nil, fmt.Errorf("dem: %w", err)
	}
	if err := albedo.Check(); err != nil {
		return nil, fmt.Errorf("albedo: %w", err)
	}
	if !height.SameShape(albedo) {
		return nil, fmt.Errorf("albedo %dx%d does not match dem %dx%d",
			albedo.Width, albedo.Height, height.Width, height.Height)
	}
	return &Terrain{Height: height, Albedo: albedo}, nil
}

// Cols returns the DEM width.
func (t *Terrain) Cols() int { return t.Height.Width }

// Rows returns the DEM height in cells.
func (t *Terrain) Rows() int { return t.Height.Height }

// Clone returns an independent copy of the terrain.
func (t *Terrain) Clone() *Terrain {
	return &Terrain{Height: t.Height.Clone(), Albedo: t.Albedo.Clone()}
}
