package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Grid is a raster of float samples stored in row-major order.
// NaN marks a sample with no data.
type Grid struct {
	// Data is the raster as a 1D array in row-major order
	Data []float64

	// Width is the number of columns
	Width int

	// Height is the number of rows
	Height int
}

// NewGrid allocates a zero-filled grid.
func NewGrid(width, height int) Grid {
	return Grid{
		Data:   make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// NewFilledGrid allocates a grid with every sample set to v.
func NewFilledGrid(width, height int, v float64) Grid {
	g := NewGrid(width, height)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// NoData is the sample value used for missing data.
func NoData() float64 { return math.NaN() }

func (g Grid) At(x, y int) float64     { return g.Data[y*g.Width+x] }
func (g Grid) Set(x, y int, v float64) { g.Data[y*g.Width+x] = v }
func (g Grid) Index(x, y int) int      { return y*g.Width + x }

// InBounds reports whether (x, y) addresses a sample of the grid.
func (g Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

// Valid reports whether (x, y) is inside the grid and holds data.
func (g Grid) Valid(x, y int) bool {
	return g.InBounds(x, y) && !math.IsNaN(g.Data[y*g.Width+x])
}

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	c := Grid{Data: make([]float64, len(g.Data)), Width: g.Width, Height: g.Height}
	copy(c.Data, g.Data)
	return c
}

// SameShape reports whether both grids have identical dimensions.
func (g Grid) SameShape(o Grid) bool {
	return g.Width == o.Width && g.Height == o.Height
}

// Check verifies that the backing array matches the declared dimensions.
func (g Grid) Check() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid has non-positive dimensions %dx%d", g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("grid %dx%d has %d samples, want %d", g.Width, g.Height, len(g.Data), g.Width*g.Height)
	}
	return nil
}

// GridStats summarises the valid samples of a grid.
type GridStats struct {
	Min, Max, Mean float64
	Valid          int
}

// Stats returns min, max and mean over the valid samples.
func (g Grid) Stats() GridStats {
	vals := make([]float64, 0, len(g.Data))
	s := GridStats{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range g.Data {
		if math.IsNaN(v) {
			continue
		}
		vals = append(vals, v)
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Valid = len(vals)
	if s.Valid == 0 {
		return GridStats{}
	}
	s.Mean = stat.Mean(vals, nil)
	return s
}

func (s GridStats) String() string {
	return fmt.Sprintf("{min %.4f, max %.4f, mean %.4f, valid %d}", s.Min, s.Max, s.Mean, s.Valid)
}
