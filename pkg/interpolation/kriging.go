// Package interpolation fills nodata holes in bootstrap rasters with ordinary
// kriging over the nearest valid samples.
package interpolation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"lunarsfs/internal/models"
)

// Variogram models supported by the implementation
type VariogramModel int

const (
	Spherical VariogramModel = iota
	Exponential
	Gaussian
)

// KrigingParams holds the parameters for kriging interpolation
type KrigingParams struct {
	Range  float64        // Range parameter of the variogram, in cells
	Sill   float64        // Sill parameter of the variogram
	Nugget float64        // Nugget effect parameter
	Model  VariogramModel // Type of variogram model to use
}

// Cell is a grid sample position used as a kd-tree key
type Cell struct {
	X, Y  float64
	Value float64
}

// Compare implements the kdtree.Comparable interface
func (p Cell) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Cell)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Cell) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two cells
func (p Cell) Distance(c kdtree.Comparable) float64 {
	q := c.(Cell)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// Cells is a collection of Cell that satisfies kdtree.Interface
type Cells []Cell

func (p Cells) Index(i int) kdtree.Comparable         { return p[i] }
func (p Cells) Len() int                              { return len(p) }
func (p Cells) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Cells) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(cellPlane{Cells: p, Dim: d}, kdtree.MedianOfRandoms(cellPlane{Cells: p, Dim: d}, 100))
}

// cellPlane implements sort.Interface and kdtree.SortSlicer for Cells
type cellPlane struct {
	Cells
	kdtree.Dim
}

func (p cellPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Cells[i].X < p.Cells[j].X
	case 1:
		return p.Cells[i].Y < p.Cells[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p cellPlane) Slice(start, end int) kdtree.SortSlicer {
	return cellPlane{Cells: p.Cells[start:end], Dim: p.Dim}
}

func (p cellPlane) Swap(i, j int) {
	p.Cells[i], p.Cells[j] = p.Cells[j], p.Cells[i]
}

// Kriging fills the nodata samples of a grid from its valid samples.
type Kriging struct {
	grid      models.Grid
	params    KrigingParams
	neighbors int
	tree      *kdtree.Tree
	samples   Cells
}

// DefaultNeighbors is the number of valid samples used per estimate.
const DefaultNeighbors = 12

// NewKriging indexes the valid samples of g and fits variogram parameters to
// them. It fails when g has no valid sample.
func NewKriging(g models.Grid) (*Kriging, error) {
	k := &Kriging{grid: g, neighbors: DefaultNeighbors}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if g.Valid(x, y) {
				k.samples = append(k.samples, Cell{X: float64(x), Y: float64(y), Value: g.At(x, y)})
			}
		}
	}
	if len(k.samples) == 0 {
		return nil, fmt.Errorf("no valid samples to interpolate from")
	}
	k.tree = kdtree.New(append(Cells(nil), k.samples...), false)
	k.params = k.fitParams()
	return k, nil
}

// Params returns the fitted variogram parameters.
func (k *Kriging) Params() KrigingParams { return k.params }

// SetParams overrides the fitted variogram parameters.
func (k *Kriging) SetParams(p KrigingParams) { k.params = p }

// fitParams derives sill from the sample variance and range from the spacing
// of the valid samples.
func (k *Kriging) fitParams() KrigingParams {
	vals := make([]float64, len(k.samples))
	for i, s := range k.samples {
		vals[i] = s.Value
	}
	sill := 1.0
	if len(vals) > 1 {
		if v := stat.Variance(vals, nil); v > 0 {
			sill = v
		}
	}
	density := float64(len(k.samples)) / float64(k.grid.Width*k.grid.Height)
	rng := 2 * math.Sqrt(float64(k.neighbors)/(math.Pi*density))
	return KrigingParams{Range: rng, Sill: sill, Nugget: 1e-3 * sill, Model: Spherical}
}

// Fill returns a copy of the grid with every nodata sample estimated.
func (k *Kriging) Fill() models.Grid {
	out := k.grid.Clone()
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			if !out.Valid(x, y) {
				out.Set(x, y, k.EstimateAt(float64(x), float64(y)))
			}
		}
	}
	return out
}

// EstimateAt returns the kriging estimate at a grid position.
func (k *Kriging) EstimateAt(x, y float64) float64 {
	keep := kdtree.NewNKeeper(k.neighbors)
	k.tree.NearestSet(keep, Cell{X: x, Y: y})

	var near Cells
	for _, c := range keep.Heap {
		if c.Comparable == nil {
			continue
		}
		near = append(near, c.Comparable.(Cell))
	}
	if len(near) == 0 {
		return math.NaN()
	}

	target := Cell{X: x, Y: y}
	for _, c := range near {
		if c.Distance(target) == 0 {
			return c.Value
		}
	}

	// few neighbours: inverse distance weighting
	if len(near) <= 3 {
		return inverseDistance(target, near)
	}

	w, err := k.weights(target, near)
	if err != nil {
		return inverseDistance(target, near)
	}
	est := 0.0
	for i, c := range near {
		est += w[i] * c.Value
	}
	return est
}

func inverseDistance(target Cell, near Cells) float64 {
	sum, total := 0.0, 0.0
	for _, c := range near {
		w := 1 / c.Distance(target)
		sum += w * c.Value
		total += w
	}
	return sum / total
}

// weights solves the ordinary kriging system for the neighbours of target.
func (k *Kriging) weights(target Cell, near Cells) ([]float64, error) {
	n := len(near)
	a := mat.NewDense(n+1, n+1, nil)
	b := mat.NewVecDense(n+1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h := math.Sqrt(near[i].Distance(near[j]))
			a.Set(i, j, k.variogram(h))
		}
		a.Set(i, n, 1)
		a.Set(n, i, 1)
		b.SetVec(i, k.variogram(math.Sqrt(near[i].Distance(target))))
	}
	b.SetVec(n, 1)

	var qr mat.QR
	qr.Factorize(a)
	var x mat.VecDense
	if err := qr.SolveVecTo(&x, false, b); err != nil {
		return nil, err
	}
	w := make([]float64, n)
	for i := range w {
		w[i] = x.AtVec(i)
		if math.IsNaN(w[i]) || math.IsInf(w[i], 0) {
			return nil, fmt.Errorf("singular kriging system")
		}
	}
	return w, nil
}

// variogram calculates the semivariance between two samples at distance h.
func (k *Kriging) variogram(h float64) float64 {
	p := k.params
	if h == 0 {
		return 0
	}
	gamma := p.Nugget
	switch p.Model {
	case Spherical:
		if h < p.Range {
			r := h / p.Range
			gamma += p.Sill * (1.5*r - 0.5*r*r*r)
		} else {
			gamma += p.Sill
		}
	case Exponential:
		gamma += p.Sill * (1 - math.Exp(-3*h/p.Range))
	case Gaussian:
		gamma += p.Sill * (1 - math.Exp(-3*h*h/(p.Range*p.Range)))
	}
	return gamma
}

// FillHoles is a convenience wrapper returning g with its nodata samples
// kriged. A grid without holes is returned unchanged.
func FillHoles(g models.Grid) (models.Grid, int, error) {
	holes := 0
	for _, v := range g.Data {
		if math.IsNaN(v) {
			holes++
		}
	}
	if holes == 0 {
		return g.Clone(), 0, nil
	}
	k, err := NewKriging(g)
	if err != nil {
		return models.Grid{}, 0, err
	}
	return k.Fill(), holes, nil
}
