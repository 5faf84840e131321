package reconstruction

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"lunarsfs/internal/models"
	"lunarsfs/internal/monitoring"
	"lunarsfs/pkg/config"
	"lunarsfs/pkg/footprint"
	"lunarsfs/pkg/interpolation"
	"lunarsfs/pkg/smoothing"
)

// Initialize applies the configured bootstrap strategies: DEM preparation,
// shadow masks, footprints, overlap lists, exposures and albedo. Run calls it
// when it has not been called yet.
func (s *Session) Initialize() error {
	if s.initialized {
		return nil
	}
	if err := s.initDEM(); err != nil {
		return err
	}
	s.initShadow()
	for k, img := range s.images {
		if s.autoFootprint[k] {
			footprint.Build(img, s.terrain.Height, s.cfg.ShadowThresh, s.shadow[k])
		}
	}
	s.buildNeighbours()
	s.allocGeometry()
	s.refreshGeometry()
	if err := s.initExposure(); err != nil {
		return err
	}
	s.initAlbedo()
	s.initialized = true
	return nil
}

func (s *Session) initDEM() error {
	switch s.cfg.DEMInitType {
	case config.DEMFill, config.DEMSmooth:
		filled, holes, err := interpolation.FillHoles(s.terrain.Height)
		if err != nil {
			return fmt.Errorf("DEM fill: %w", err)
		}
		if holes > 0 {
			monitoring.Logf("session %s: kriged %d DEM holes", s.ID, holes)
		}
		if s.cfg.DEMInitType == config.DEMSmooth {
			filled = smoothing.GaussianLowPass(filled, s.cfg.DEMSmoothingSigma)
		}
		copy(s.terrain.Height.Data, filled.Data)
	}
	return nil
}

// initShadow marks pixels darker than the threshold, grown by one pixel when
// dilation is selected.
func (s *Session) initShadow() {
	s.shadow = make([][]bool, len(s.images))
	for k, img := range s.images {
		obs := img.Observed
		dark := make([]bool, len(obs.Data))
		for i, v := range obs.Data {
			dark[i] = !math.IsNaN(v) && v < s.cfg.ShadowThresh
		}
		if s.cfg.ShadowInitType != config.ShadowDilate {
			s.shadow[k] = dark
			continue
		}
		grown := make([]bool, len(dark))
		for y := 0; y < obs.Height; y++ {
			for x := 0; x < obs.Width; x++ {
				if !dark[obs.Index(x, y)] {
					continue
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if obs.InBounds(x+dx, y+dy) {
							grown[obs.Index(x+dx, y+dy)] = true
						}
					}
				}
			}
		}
		s.shadow[k] = grown
	}
}

// demBounds returns the DEM-space bounding box of an image footprint.
func demBounds(img *models.ImageModel) (minCol, minRow, maxCol, maxRow int, ok bool) {
	minRow, maxRow = -1, -1
	for r, c := range img.CenterLineDEM {
		if c == footprint.NoFootprint {
			continue
		}
		if minRow < 0 {
			minRow = r
		}
		maxRow = r
	}
	minCol, maxCol = -1, -1
	for c, h := range img.HorCenterLineDEM {
		if h == footprint.NoFootprint {
			continue
		}
		if minCol < 0 {
			minCol = c
		}
		maxCol = c
	}
	return minCol, minRow, maxCol, maxRow, minRow >= 0 && minCol >= 0
}

// buildNeighbours lists, for every image, the overlapping images nearest in
// acquisition order: up to MaxPrevOverlappingImages earlier and
// MaxNextOverlappingImages later ones.
func (s *Session) buildNeighbours() {
	type box struct {
		c0, r0, c1, r1 int
		ok             bool
	}
	boxes := make([]box, len(s.images))
	for k, img := range s.images {
		c0, r0, c1, r1, ok := demBounds(img)
		boxes[k] = box{c0, r0, c1, r1, ok}
	}
	overlaps := func(a, b box) bool {
		return a.ok && b.ok && a.c0 <= b.c1 && b.c0 <= a.c1 && a.r0 <= b.r1 && b.r0 <= a.r1
	}

	s.neighbours = make([][]int, len(s.images))
	for k, img := range s.images {
		var prev, next []int
		for j, other := range s.images {
			if j == k || !overlaps(boxes[k], boxes[j]) {
				continue
			}
			if other.Index < img.Index || (other.Index == img.Index && j < k) {
				prev = append(prev, j)
			} else {
				next = append(next, j)
			}
		}
		// nearest in time first
		sort.SliceStable(prev, func(a, b int) bool { return s.images[prev[a]].Index > s.images[prev[b]].Index })
		sort.SliceStable(next, func(a, b int) bool { return s.images[next[a]].Index < s.images[next[b]].Index })
		if len(prev) > s.cfg.MaxPrevOverlappingImages {
			prev = prev[:s.cfg.MaxPrevOverlappingImages]
		}
		if len(next) > s.cfg.MaxNextOverlappingImages {
			next = next[:s.cfg.MaxNextOverlappingImages]
		}
		list := append([]int{k}, prev...)
		s.neighbours[k] = append(list, next...)
	}
}

// usableMean is the mean brightness of the usable pixels of image k.
func (s *Session) usableMean(k int) (float64, bool) {
	img := s.images[k]
	var vals []float64
	for y := 0; y < img.Observed.Height; y++ {
		for x := 0; x < img.Observed.Width; x++ {
			if _, ok := s.observation(k, x+img.OffsetX, y+img.OffsetY); ok {
				vals = append(vals, img.Observed.At(x, y))
			}
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	return stat.Mean(vals, nil), true
}

func (s *Session) initExposure() error {
	if s.cfg.ExposureInitType != config.ExposureReference {
		return nil
	}
	ref := s.cfg.ExposureInitRefIndex
	refMean, ok := s.usableMean(ref)
	if !ok || refMean == 0 {
		return fmt.Errorf("reference image %s has no usable pixels", s.images[ref].Name)
	}
	for k, img := range s.images {
		m, ok := s.usableMean(k)
		if !ok {
			monitoring.Logf("session %s: image %s has no usable pixels, exposure kept at %g", s.ID, img.Name, img.Exposure)
			continue
		}
		img.Exposure = s.cfg.ExposureInitRefValue * m / refMean
	}
	return nil
}

func (s *Session) initAlbedo() {
	albedo := s.terrain.Albedo
	switch s.cfg.AlbedoInitType {
	case config.AlbedoConstant:
		for i := range albedo.Data {
			albedo.Data[i] = s.cfg.AlbedoInitValue
		}
	case config.AlbedoFromImages:
		s.parallel(s.terrain.Rows(), func(lo, hi int) {
			for row := lo; row < hi; row++ {
				for col := 0; col < s.terrain.Cols(); col++ {
					idx := albedo.Index(col, row)
					sum, total := 0.0, 0.0
					for _, k := range s.cont[idx] {
						I, _ := s.observation(k, col, row)
						R := s.predict(k, idx)
						e := s.images[k].Exposure
						if e <= 0 {
							continue
						}
						w := s.observationWeight(k, col, row, I, e*R)
						sum += w * I / (e * R)
						total += w
					}
					switch {
					case total > 0:
						albedo.Data[idx] = sum / total
					case !albedo.Valid(col, row):
						albedo.Data[idx] = s.cfg.AlbedoInitValue
					}
				}
			}
		})
	}
	// cells without any albedo fall back to the constant
	for i, v := range albedo.Data {
		if math.IsNaN(v) {
			albedo.Data[i] = s.cfg.AlbedoInitValue
		}
	}
}
