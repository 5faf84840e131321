// Package footprint derives, for every image, the per-line extent of its
// usable pixels and turns the distance from that extent's centre into a
// confidence weight.
package footprint

import (
	"math"

	"lunarsfs/internal/models"
)

// NoFootprint marks a line without any valid sample.
const NoFootprint = -1

// Mask reports whether sample (x, y) is usable.
type Mask func(x, y int) bool

// ComputeLines scans a width x height raster and returns, per row, the centre
// and maximum distance of the usable samples, and the same per column.
// maxDist reaches one sample beyond the outermost usable sample so that every
// usable sample gets a positive weight.
func ComputeLines(mask Mask, width, height int) (center, maxDist, horCenter, maxVerDist []int) {
	center = make([]int, height)
	maxDist = make([]int, height)
	horCenter = make([]int, width)
	maxVerDist = make([]int, width)

	colMin := make([]int, width)
	colMax := make([]int, width)
	for x := range colMin {
		colMin[x] = width + height
		colMax[x] = -1
	}

	for y := 0; y < height; y++ {
		lo, hi := -1, -1
		for x := 0; x < width; x++ {
			if !mask(x, y) {
				continue
			}
			if lo < 0 {
				lo = x
			}
			hi = x
			if y < colMin[x] {
				colMin[x] = y
			}
			if y > colMax[x] {
				colMax[x] = y
			}
		}
		center[y], maxDist[y] = extent(lo, hi)
	}

	for x := 0; x < width; x++ {
		if colMax[x] < 0 {
			horCenter[x], maxVerDist[x] = NoFootprint, NoFootprint
			continue
		}
		horCenter[x], maxVerDist[x] = extent(colMin[x], colMax[x])
	}
	return center, maxDist, horCenter, maxVerDist
}

func extent(lo, hi int) (int, int) {
	if lo < 0 {
		return NoFootprint, NoFootprint
	}
	c := (lo + hi) / 2
	d := hi - c
	if c-lo > d {
		d = c - lo
	}
	return c, d + 1
}

// LineWeight returns the cosine-taper weight of position pos on a line with the
// given centre and maximum distance: 1 at the centre, falling smoothly to 0 at
// maxDist and staying 0 beyond it or on lines without a footprint.
func LineWeight(pos, center, maxDist int) float64 {
	if center == NoFootprint || maxDist <= 0 {
		return 0
	}
	d := pos - center
	if d < 0 {
		d = -d
	}
	if d >= maxDist {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*float64(d)/float64(maxDist)))
}

// Build fills the eight footprint arrays of img. A pixel counts towards the
// footprint when it holds data, is at least shadowThresh bright, is not set in
// shadow and the DEM cell under it holds data. shadow is indexed like
// img.Observed and may be nil.
func Build(img *models.ImageModel, dem models.Grid, shadowThresh float64, shadow []bool) {
	obs := img.Observed
	imageMask := func(x, y int) bool {
		if !obs.Valid(x, y) || obs.At(x, y) < shadowThresh {
			return false
		}
		if shadow != nil && shadow[obs.Index(x, y)] {
			return false
		}
		return dem.Valid(x+img.OffsetX, y+img.OffsetY)
	}
	img.CenterLine, img.MaxDist, img.HorCenterLine, img.MaxVerDist =
		ComputeLines(imageMask, obs.Width, obs.Height)

	demMask := func(col, row int) bool {
		return imageMask(col-img.OffsetX, row-img.OffsetY)
	}
	img.CenterLineDEM, img.MaxDistDEM, img.HorCenterLineDEM, img.MaxVerDistDEM =
		ComputeLines(demMask, dem.Width, dem.Height)
}

// ImageWeight is the footprint weight of image pixel (x, y) in image space.
func ImageWeight(img *models.ImageModel, x, y int) float64 {
	if y < 0 || y >= len(img.CenterLine) || x < 0 || x >= len(img.HorCenterLine) {
		return 0
	}
	return LineWeight(x, img.CenterLine[y], img.MaxDist[y]) *
		LineWeight(y, img.HorCenterLine[x], img.MaxVerDist[x])
}

// DEMWeight is the footprint weight of DEM cell (col, row) in DEM space.
func DEMWeight(img *models.ImageModel, col, row int) float64 {
	if row < 0 || row >= len(img.CenterLineDEM) || col < 0 || col >= len(img.HorCenterLineDEM) {
		return 0
	}
	return LineWeight(col, img.CenterLineDEM[row], img.MaxDistDEM[row]) *
		LineWeight(row, img.HorCenterLineDEM[col], img.MaxVerDistDEM[col])
}

// Weight combines the image-space and DEM-space weights of the pixel that
// observes DEM cell (col, row). A pixel failing either frame weighs 0.
func Weight(img *models.ImageModel, col, row int) float64 {
	x, y := img.DEMToImage(col, row)
	wi := ImageWeight(img, x, y)
	if wi == 0 {
		return 0
	}
	return wi * DEMWeight(img, col, row)
}

// Covers reports whether DEM cell (col, row) lies inside the footprint
// envelope of img in both frames.
func Covers(img *models.ImageModel, col, row int) bool {
	return Weight(img, col, row) > 0
}
