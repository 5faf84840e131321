package visualization

import (
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/models"
	"lunarsfs/pkg/geometry"
	"lunarsfs/pkg/reconstruction"
	"lunarsfs/pkg/reflectance"
)

func testTerrain(t *testing.T) *models.Terrain {
	dem := models.NewGrid(6, 4)
	for row := 0; row < 4; row++ {
		for col := 0; col < 6; col++ {
			dem.Set(col, row, float64(col))
		}
	}
	dem.Set(5, 0, models.NoData())
	terrain, err := models.NewTerrain(dem, models.NewFilledGrid(6, 4, 0.5))
	if err != nil {
		t.Fatalf("Failed to build terrain: %v", err)
	}
	return terrain
}

// TestShadedRelief checks brightness against the Lambert law on a tilted plane
func TestShadedRelief(t *testing.T) {
	v := NewViewer(testTerrain(t), geometry.Planar{Resolution: 1}, geometry.ThreePoint)

	// sun far along the plane normal (-1, 0, 1)
	sun := r3.Vec{X: -1e12, Z: 1e12}
	img, err := v.ShadedRelief(sun, reflectance.Lambert, false)
	if err != nil {
		t.Fatalf("ShadedRelief failed: %v", err)
	}
	if got := img.Gray16At(1, 1).Y; got < 65000 {
		t.Errorf("Expected full brightness facing the sun, got %d", got)
	}
	if got := img.Gray16At(5, 0).Y; got != 0 {
		t.Errorf("Expected black nodata cell, got %d", got)
	}

	withAlbedo, err := v.ShadedRelief(sun, reflectance.Lambert, true)
	if err != nil {
		t.Fatalf("ShadedRelief failed: %v", err)
	}
	half := float64(withAlbedo.Gray16At(1, 1).Y) / float64(img.Gray16At(1, 1).Y)
	if math.Abs(half-0.5) > 1e-3 {
		t.Errorf("Expected albedo 0.5 to halve brightness, got ratio %f", half)
	}

	if _, err := v.ShadedRelief(sun, reflectance.Law(7), false); err == nil {
		t.Error("Expected error for invalid law")
	}
}

// TestExtractProfile tests profile extraction along both axes
func TestExtractProfile(t *testing.T) {
	v := NewViewer(testTerrain(t), geometry.Planar{Resolution: 1}, geometry.ThreePoint)

	row, err := v.ExtractProfile("row", 2)
	if err != nil {
		t.Fatalf("Failed to extract row: %v", err)
	}
	if len(row) != 6 || row[3] != 3 {
		t.Errorf("Unexpected row profile %v", row)
	}

	col, err := v.ExtractProfile("col", 4)
	if err != nil {
		t.Fatalf("Failed to extract column: %v", err)
	}
	for i, h := range col {
		if h != 4 {
			t.Errorf("Column profile[%d] = %f, want 4", i, h)
		}
	}

	if _, err := v.ExtractProfile("z", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := v.ExtractProfile("row", 4); err == nil {
		t.Error("Expected error for out-of-range row")
	}
	if _, err := v.ExtractProfile("col", -1); err == nil {
		t.Error("Expected error for negative position")
	}
}

// TestSaveImage tests writing a PNG preview
func TestSaveImage(t *testing.T) {
	v := NewViewer(testTerrain(t), geometry.Planar{Resolution: 1}, geometry.ThreePoint)
	img, err := v.ShadedRelief(r3.Vec{Z: 1e12}, reflectance.Lambert, true)
	if err != nil {
		t.Fatalf("ShadedRelief failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "shaded.png")
	if err := SaveImage(img, path); err != nil {
		t.Fatalf("Failed to save image: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open image: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode image: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("Bounds mismatch: %v vs %v", decoded.Bounds(), img.Bounds())
	}
}

// TestPlotConvergence tests the convergence chart
func TestPlotConvergence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping plot rendering in short mode")
	}
	stats := []reconstruction.IterationStats{
		{Iteration: 1, WeightedRMS: 0.2, MaxRelChange: 1, Duration: time.Millisecond},
		{Iteration: 2, WeightedRMS: 0.05, MaxRelChange: 0.1},
		{Iteration: 3, WeightedRMS: 0.01, MaxRelChange: 0.001},
	}
	path := filepath.Join(t.TempDir(), "errors.png")
	if err := PlotConvergence(stats, path); err != nil {
		t.Fatalf("Failed to plot: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("Plot not written: %v", err)
	}

	if err := PlotConvergence(nil, path); err == nil {
		t.Error("Expected error for empty statistics")
	}
}
