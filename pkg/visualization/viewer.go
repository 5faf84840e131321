// Package visualization renders previews of a reconstruction: shaded relief
// of the refined DEM, height profiles and the per-iteration error curve.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"lunarsfs/internal/models"
	"lunarsfs/pkg/geometry"
	"lunarsfs/pkg/reconstruction"
	"lunarsfs/pkg/reflectance"
)

// Viewer renders a terrain through a projection.
type Viewer struct {
	terrain *models.Terrain
	proj    geometry.Projection
	slope   geometry.SlopeType
}

// NewViewer creates a viewer for the given terrain.
func NewViewer(terrain *models.Terrain, proj geometry.Projection, slope geometry.SlopeType) *Viewer {
	return &Viewer{terrain: terrain, proj: proj, slope: slope}
}

// ShadedRelief lights the terrain from sun with the given law and the
// viewer straight above each cell. Brightness is albedo times reflectance,
// nodata cells are black. When withAlbedo is false the albedo is taken as 1.
func (v *Viewer) ShadedRelief(sun r3.Vec, law reflectance.Law, withAlbedo bool) (*image.Gray16, error) {
	f, err := reflectance.For(law)
	if err != nil {
		return nil, err
	}
	dem := v.terrain.Height
	img := image.NewGray16(image.Rect(0, 0, dem.Width, dem.Height))
	for row := 0; row < dem.Height; row++ {
		for col := 0; col < dem.Width; col++ {
			if !dem.Valid(col, row) {
				continue
			}
			p := v.proj.Point(col, row, dem.At(col, row))
			n, _ := geometry.CellNormal(dem, v.proj, col, row, v.slope)
			b := f(reflectance.Geometry{
				Sun:    sun,
				Viewer: r3.Add(p, r3.Scale(1e6, v.proj.Radial(col, row))),
				Point:  p,
				Normal: n,
			})
			if withAlbedo {
				b *= v.terrain.Albedo.At(col, row)
			}
			value := uint16(math.Max(0, math.Min(65535, b*65535)))
			img.SetGray16(col, row, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// ExtractProfile returns the heights along a row ("row") or a column ("col").
func (v *Viewer) ExtractProfile(axis string, position int) ([]float64, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	dem := v.terrain.Height

	switch axis {
	case "row", "x", "X":
		if position >= dem.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, dem.Height)
		}
		out := make([]float64, dem.Width)
		copy(out, dem.Data[position*dem.Width:(position+1)*dem.Width])
		return out, nil

	case "col", "y", "Y":
		if position >= dem.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, dem.Width)
		}
		out := make([]float64, dem.Height)
		for row := range out {
			out[row] = dem.At(position, row)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be row or col)", axis)
	}
}

// SaveImage writes an image as PNG.
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// PlotConvergence draws the weighted RMS residual and the largest relative
// change per iteration.
func PlotConvergence(stats []reconstruction.IterationStats, filename string) error {
	if len(stats) == 0 {
		return fmt.Errorf("no iteration statistics to plot")
	}

	p := plot.New()
	p.Title.Text = "Reconstruction convergence"
	p.Title.TextStyle.Font.Size = vg.Points(12)
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "value"
	p.Add(plotter.NewGrid())

	rms := make(plotter.XYs, len(stats))
	change := make(plotter.XYs, len(stats))
	for i, st := range stats {
		rms[i].X = float64(st.Iteration)
		rms[i].Y = st.WeightedRMS
		change[i].X = float64(st.Iteration)
		change[i].Y = st.MaxRelChange
	}

	rmsLine, rmsPoints, err := plotter.NewLinePoints(rms)
	if err != nil {
		return fmt.Errorf("rms line: %w", err)
	}
	rmsLine.Color = color.RGBA{R: 200, A: 255}
	rmsPoints.Radius = vg.Points(2)

	changeLine, err := plotter.NewLine(change)
	if err != nil {
		return fmt.Errorf("change line: %w", err)
	}
	changeLine.Color = color.RGBA{B: 200, A: 255}
	changeLine.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}

	p.Add(rmsLine, rmsPoints, changeLine)
	p.Legend.Add("weighted RMS", rmsLine)
	p.Legend.Add("max relative change", changeLine)
	p.Legend.Top = true

	return p.Save(8*vg.Inch, 4*vg.Inch, filename)
}
