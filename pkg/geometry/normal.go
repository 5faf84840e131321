// Package geometry turns DEM samples into body-fixed 3D points and estimates
// outward surface normals from them.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/models"
	"lunarsfs/pkg/reflectance"
)

// ErrDegenerateGeometry is returned when three points do not span a plane.
var ErrDegenerateGeometry = errors.New("degenerate geometry")

// Epsilon is the smallest cross-product magnitude accepted as a plane, relative
// to the product of the edge lengths.
const Epsilon = 1e-12

// NormalFrom3Points returns the unit normal of the plane through p1, p2 and p3,
// oriented as cross(p2-p1, p3-p1).
func NormalFrom3Points(p1, p2, p3 r3.Vec) (r3.Vec, error) {
	a := r3.Sub(p2, p1)
	b := r3.Sub(p3, p1)
	n := r3.Cross(a, b)
	mag := r3.Norm(n)
	scale := r3.Norm(a) * r3.Norm(b)
	if scale == 0 || mag <= Epsilon*scale || math.IsNaN(mag) {
		return r3.Vec{}, ErrDegenerateGeometry
	}
	return r3.Scale(1/mag, n), nil
}

// SlopeType selects which neighbours feed the normal of a DEM cell.
type SlopeType int

const (
	// ThreePoint uses the cell with its right and lower neighbours.
	ThreePoint SlopeType = iota
	// CentralDifference uses the left/right and upper/lower neighbours.
	CentralDifference
)

// Validate rejects slope selectors outside the enumeration.
func (s SlopeType) Validate() error {
	if s < ThreePoint || s > CentralDifference {
		return fmt.Errorf("%w: slope type %d", reflectance.ErrInvalidModel, int(s))
	}
	return nil
}

// CellNormal estimates the outward unit normal of DEM cell (col, row). When the
// neighbourhood is degenerate or holds no data, it returns the local radial
// direction and false.
func CellNormal(dem models.Grid, proj Projection, col, row int, slope SlopeType) (r3.Vec, bool) {
	return NormalAt(dem.At, dem.Width, dem.Height, proj, col, row, slope)
}

// HeightFunc returns the height of a cell, NaN for nodata.
type HeightFunc func(col, row int) float64

// NormalAt is CellNormal over an arbitrary height source of the given size.
// It lets callers evaluate normals for a trial height without touching the
// DEM.
func NormalAt(height HeightFunc, width, rows int, proj Projection, col, row int, slope SlopeType) (r3.Vec, bool) {
	radial := proj.Radial(col, row)
	at := func(c, r int) (r3.Vec, bool) {
		if c < 0 || r < 0 || c >= width || r >= rows {
			return r3.Vec{}, false
		}
		h := height(c, r)
		if math.IsNaN(h) {
			return r3.Vec{}, false
		}
		return proj.Point(c, r, h), true
	}
	if _, ok := at(col, row); !ok {
		return radial, false
	}

	switch slope {
	case CentralDifference:
		l, r := clampNeighbour(col, width)
		u, d := clampNeighbour(row, rows)
		p1, ok1 := at(l, row)
		p2, ok2 := at(r, row)
		q1, ok3 := at(col, d)
		q2, ok4 := at(col, u)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return radial, false
		}
		n := r3.Cross(r3.Sub(p2, p1), r3.Sub(q2, q1))
		return orient(n, radial)
	default:
		dx, dy := 1, 1
		if col+1 >= width {
			dx = -1
		}
		if row+1 >= rows {
			dy = -1
		}
		p1, _ := at(col, row)
		p2, ok2 := at(col+dx, row)
		p3, ok3 := at(col, row+dy)
		if !ok2 || !ok3 {
			return radial, false
		}
		n, err := NormalFrom3Points(p1, p2, p3)
		if err != nil {
			return radial, false
		}
		return orient(n, radial)
	}
}

// orient normalises n and flips it to the side of the radial direction.
func orient(n, radial r3.Vec) (r3.Vec, bool) {
	mag := r3.Norm(n)
	if mag == 0 || math.IsNaN(mag) {
		return radial, false
	}
	n = r3.Scale(1/mag, n)
	if r3.Dot(n, radial) < 0 {
		n = r3.Scale(-1, n)
	}
	return n, true
}

// clampNeighbour returns the lower and upper neighbour indices of i, falling
// back to i itself at the grid border.
func clampNeighbour(i, n int) (int, int) {
	lo, hi := i-1, i+1
	if lo < 0 {
		lo = i
	}
	if hi >= n {
		hi = i
	}
	return lo, hi
}

// Dependents lists the cells whose normal reads the height of (col, row) under
// the given slope type, including the cell itself.
func Dependents(col, row, width, height int, slope SlopeType) [][2]int {
	cand := [][2]int{{col, row}}
	switch slope {
	case CentralDifference:
		cand = append(cand, [2]int{col - 1, row}, [2]int{col + 1, row}, [2]int{col, row - 1}, [2]int{col, row + 1})
	default:
		cand = append(cand, [2]int{col - 1, row}, [2]int{col, row - 1})
		// border cells look backwards
		if col == width-2 {
			cand = append(cand, [2]int{col + 1, row})
		}
		if row == height-2 {
			cand = append(cand, [2]int{col, row + 1})
		}
	}
	out := cand[:0]
	for _, c := range cand {
		if c[0] >= 0 && c[1] >= 0 && c[0] < width && c[1] < height {
			out = append(out, c)
		}
	}
	return out
}
