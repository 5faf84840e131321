package geometry

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/models"
	"lunarsfs/pkg/reflectance"
)

func vecClose(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func TestNormalFrom3Points(t *testing.T) {
	n, err := NormalFrom3Points(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !vecClose(n, r3.Vec{Z: 1}, 1e-12) {
		t.Errorf("Expected +Z, got %v", n)
	}
	if math.Abs(r3.Norm(n)-1) > 1e-12 {
		t.Errorf("Normal is not unit length: %f", r3.Norm(n))
	}
}

func TestNormalFrom3PointsTranslationInvariant(t *testing.T) {
	p1 := r3.Vec{X: 0.3, Y: -1.2, Z: 4}
	p2 := r3.Vec{X: 2.1, Y: 0.4, Z: 3.5}
	p3 := r3.Vec{X: -0.7, Y: 1.9, Z: 5.2}
	base, err := NormalFrom3Points(p1, p2, p3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, shift := range []r3.Vec{{X: 100}, {Y: -3.5, Z: 7}, {X: 1e5, Y: 1e5, Z: 1e5}} {
		n, err := NormalFrom3Points(r3.Add(p1, shift), r3.Add(p2, shift), r3.Add(p3, shift))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !vecClose(n, base, 1e-9) {
			t.Errorf("Shift %v changed normal: %v vs %v", shift, n, base)
		}
	}
}

func TestNormalFrom3PointsFlipsOnSwap(t *testing.T) {
	p1 := r3.Vec{X: 1, Y: 2, Z: 3}
	p2 := r3.Vec{X: 4, Y: 1, Z: 2}
	p3 := r3.Vec{X: 0, Y: 5, Z: 1}
	a, _ := NormalFrom3Points(p1, p2, p3)
	b, _ := NormalFrom3Points(p1, p3, p2)
	if !vecClose(a, r3.Scale(-1, b), 1e-12) {
		t.Errorf("Swapping p2 and p3 should flip the normal: %v vs %v", a, b)
	}
}

func TestNormalFrom3PointsDegenerate(t *testing.T) {
	cases := [][3]r3.Vec{
		{{}, {X: 1}, {X: 2}},               // collinear
		{{X: 1}, {X: 1}, {Y: 3}},           // duplicate
		{{Z: 2}, {Z: 2}, {Z: 2}},           // all equal
		{{}, {X: 1, Y: 1}, {X: -2, Y: -2}}, // collinear through origin
	}
	for i, c := range cases {
		if _, err := NormalFrom3Points(c[0], c[1], c[2]); !errors.Is(err, ErrDegenerateGeometry) {
			t.Errorf("Case %d: expected ErrDegenerateGeometry, got %v", i, err)
		}
	}
}

func TestSlopeTypeValidate(t *testing.T) {
	if err := ThreePoint.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := CentralDifference.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := SlopeType(5).Validate(); !errors.Is(err, reflectance.ErrInvalidModel) {
		t.Errorf("Expected ErrInvalidModel, got %v", err)
	}
}

func TestCellNormalFlatPlane(t *testing.T) {
	dem := models.NewFilledGrid(5, 4, 10)
	proj := Planar{Resolution: 2}
	for _, slope := range []SlopeType{ThreePoint, CentralDifference} {
		for row := 0; row < dem.Height; row++ {
			for col := 0; col < dem.Width; col++ {
				n, ok := CellNormal(dem, proj, col, row, slope)
				if !ok {
					t.Fatalf("Slope %d: unexpected fallback at (%d,%d)", slope, col, row)
				}
				if !vecClose(n, r3.Vec{Z: 1}, 1e-12) {
					t.Errorf("Slope %d: expected +Z at (%d,%d), got %v", slope, col, row, n)
				}
			}
		}
	}
}

func TestCellNormalTiltedPlane(t *testing.T) {
	// Height rises by 1 per column (eastwards), so the normal tilts to -X.
	dem := models.NewGrid(4, 4)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			dem.Set(col, row, float64(col))
		}
	}
	proj := Planar{Resolution: 1}
	want := r3.Unit(r3.Vec{X: -1, Z: 1})
	for _, slope := range []SlopeType{ThreePoint, CentralDifference} {
		n, ok := CellNormal(dem, proj, 1, 1, slope)
		if !ok || !vecClose(n, want, 1e-12) {
			t.Errorf("Slope %d: expected %v, got %v (%v)", slope, want, n, ok)
		}
		// border cell uses backward neighbours and must agree
		n, ok = CellNormal(dem, proj, 3, 3, slope)
		if !ok || !vecClose(n, want, 1e-12) {
			t.Errorf("Slope %d border: expected %v, got %v (%v)", slope, want, n, ok)
		}
	}
}

func TestCellNormalFallsBackToRadial(t *testing.T) {
	dem := models.NewFilledGrid(3, 3, 0)
	dem.Set(2, 1, models.NoData())
	proj := Equirectangular{Radius: MoonRadius, DLon: 0.01, DLat: 0.01}
	n, ok := CellNormal(dem, proj, 1, 1, ThreePoint)
	if ok {
		t.Fatal("Expected fallback when a neighbour has no data")
	}
	if !vecClose(n, proj.Radial(1, 1), 1e-15) {
		t.Errorf("Expected radial fallback, got %v", n)
	}
	if math.IsNaN(n.X) || math.IsNaN(n.Y) || math.IsNaN(n.Z) {
		t.Error("Fallback normal must not be NaN")
	}
}

func TestCellNormalOnSphereIsOutward(t *testing.T) {
	dem := models.NewFilledGrid(6, 6, 0)
	proj := Equirectangular{Radius: MoonRadius, Lon0: 10, Lat0: 5, DLon: 0.01, DLat: 0.01}
	for _, slope := range []SlopeType{ThreePoint, CentralDifference} {
		n, ok := CellNormal(dem, proj, 2, 3, slope)
		if !ok {
			t.Fatalf("Unexpected fallback")
		}
		if r3.Dot(n, proj.Radial(2, 3)) < 0.9999 {
			t.Errorf("Slope %d: normal %v not aligned with radial %v", slope, n, proj.Radial(2, 3))
		}
	}
}

func TestDependents(t *testing.T) {
	got := Dependents(0, 0, 4, 4, ThreePoint)
	if len(got) != 1 || got[0] != [2]int{0, 0} {
		t.Errorf("Corner cell should only affect itself, got %v", got)
	}
	got = Dependents(2, 2, 4, 4, ThreePoint)
	// (2,2) is read by itself, (1,2), (2,1), and by the backward-looking border cells (3,2), (2,3)
	if len(got) != 5 {
		t.Errorf("Expected 5 dependents, got %v", got)
	}
	got = Dependents(1, 1, 4, 4, CentralDifference)
	if len(got) != 5 {
		t.Errorf("Expected 5 dependents, got %v", got)
	}
}

func TestNormalAtOverride(t *testing.T) {
	dem := models.NewFilledGrid(4, 4, 0)
	proj := Planar{Resolution: 1}
	// raise (2,1) without touching the grid
	height := func(c, r int) float64 {
		if c == 2 && r == 1 {
			return 1
		}
		return dem.At(c, r)
	}
	n, ok := NormalAt(height, dem.Width, dem.Height, proj, 1, 1, ThreePoint)
	want := r3.Unit(r3.Vec{X: -1, Z: 1})
	if !ok || !vecClose(n, want, 1e-12) {
		t.Errorf("expected %v, got %v (%v)", want, n, ok)
	}
	if dem.At(2, 1) != 0 {
		t.Errorf("grid was modified")
	}

	// a single column has no horizontal neighbour
	if _, ok := NormalAt(height, 1, 4, proj, 0, 0, ThreePoint); ok {
		t.Errorf("expected fallback on a one-column grid")
	}
}
