package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ImageModel describes one orbital orthoimage taking part in a reconstruction.
// Everything except Exposure is fixed once the session starts.
type ImageModel struct {
	// Name identifies the image in the ephemeris and exposure files
	Name string

	// Index is the temporal position of the image in the acquisition sequence
	Index int

	// Observed holds the normalised brightness, NaN outside the image footprint
	Observed Grid

	// OffsetX and OffsetY place the orthoimage inside the DEM grid:
	// image pixel (x, y) observes DEM cell (x+OffsetX, y+OffsetY)
	OffsetX, OffsetY int

	// Exposure is the radiometric scale factor re-estimated by the solver
	Exposure float64

	CameraParams    [2]float64
	RescalingParams [2]float64

	// SunPosition and SpacecraftPosition are relative to the body centre
	SunPosition        r3.Vec
	SpacecraftPosition r3.Vec

	// Footprint geometry in image space, one entry per image row (CenterLine,
	// MaxDist) or image column (HorCenterLine, MaxVerDist)
	CenterLine    []int
	MaxDist       []int
	HorCenterLine []int
	MaxVerDist    []int

	// The same geometry expressed in DEM space, one entry per DEM row or column
	CenterLineDEM    []int
	MaxDistDEM       []int
	HorCenterLineDEM []int
	MaxVerDistDEM    []int
}

// DEMToImage converts DEM cell coordinates into image pixel coordinates.
func (m *ImageModel) DEMToImage(col, row int) (int, int) {
	return col - m.OffsetX, row - m.OffsetY
}

// ObservedAt returns the observed brightness for a DEM cell and whether the
// image has data there.
func (m *ImageModel) ObservedAt(col, row int) (float64, bool) {
	x, y := m.DEMToImage(col, row)
	if !m.Observed.Valid(x, y) {
		return 0, false
	}
	return m.Observed.At(x, y), true
}

// ApplyRescaling maps raw samples through observed*scale + offset. A zero
// scale is treated as the identity.
func (m *ImageModel) ApplyRescaling() {
	scale, offset := m.RescalingParams[0], m.RescalingParams[1]
	if scale == 0 {
		return
	}
	for i, v := range m.Observed.Data {
		m.Observed.Data[i] = v*scale + offset
	}
}

// CheckFootprint verifies that the eight footprint arrays match the raster
// dimensions they index.
func (m *ImageModel) CheckFootprint(demWidth, demHeight int) error {
	checks := []struct {
		name string
		arr  []int
		want int
	}{
		{"CenterLine", m.CenterLine, m.Observed.Height},
		{"MaxDist", m.MaxDist, m.Observed.Height},
		{"HorCenterLine", m.HorCenterLine, m.Observed.Width},
		{"MaxVerDist", m.MaxVerDist, m.Observed.Width},
		{"CenterLineDEM", m.CenterLineDEM, demHeight},
		{"MaxDistDEM", m.MaxDistDEM, demHeight},
		{"HorCenterLineDEM", m.HorCenterLineDEM, demWidth},
		{"MaxVerDistDEM", m.MaxVerDistDEM, demWidth},
	}
	for _, c := range checks {
		if len(c.arr) != c.want {
			return fmt.Errorf("image %s: %s has %d entries, want %d", m.Name, c.name, len(c.arr), c.want)
		}
	}
	return nil
}
