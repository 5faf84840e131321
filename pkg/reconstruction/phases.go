package reconstruction

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/monitoring"
	"lunarsfs/pkg/footprint"
	"lunarsfs/pkg/geometry"
	"lunarsfs/pkg/reflectance"
)

// demRelaxation under-relaxes the simultaneous (Jacobi) height updates.
const demRelaxation = 0.5

// parallel splits [0, n) into one contiguous chunk per worker and waits for
// all of them.
func (s *Session) parallel(n int, fn func(lo, hi int)) {
	workers := s.workers
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	per := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo, hi := w*per, (w+1)*per
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

func (s *Session) allocGeometry() {
	n := s.terrain.Cols() * s.terrain.Rows()
	s.points = make([]r3.Vec, n)
	s.normals = make([]r3.Vec, n)
	s.cont = make([][]int, n)
}

// refreshGeometry recomputes points, normals and contributors of every cell
// from the current heights. It returns the number of valid cells whose normal
// fell back to the radial direction.
func (s *Session) refreshGeometry() int {
	dem := s.terrain.Height
	fallbacks := make([]int, dem.Height)
	s.parallel(dem.Height, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			for col := 0; col < dem.Width; col++ {
				idx := dem.Index(col, row)
				s.points[idx] = s.proj.Point(col, row, dem.At(col, row))
				var ok bool
				s.normals[idx], ok = geometry.CellNormal(dem, s.proj, col, row, s.cfg.SlopeType)
				if !ok && dem.Valid(col, row) {
					fallbacks[row]++
				}
			}
		}
	})
	s.parallel(dem.Height, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			for col := 0; col < dem.Width; col++ {
				idx := dem.Index(col, row)
				s.cont[idx] = s.contributors(col, row, s.cont[idx][:0])
			}
		}
	})

	n := 0
	for _, c := range fallbacks {
		n += c
	}
	if n > 0 {
		monitoring.Logf("session %s: %d cells used the radial fallback normal", s.ID, n)
	}
	return n
}

// contributors appends to buf the images used at cell (col, row): the anchor,
// which is the observer with the highest footprint weight, and those of its
// overlap neighbours that also observe the cell. An observer holds a usable
// pixel with non-zero predicted reflectance.
func (s *Session) contributors(col, row int, buf []int) []int {
	if !s.terrain.Height.Valid(col, row) {
		return buf
	}
	idx := s.terrain.Height.Index(col, row)
	observes := func(k int) bool {
		if _, ok := s.observation(k, col, row); !ok {
			return false
		}
		return s.predict(k, idx) > 0
	}

	anchor, best := -1, 0.0
	for k := range s.images {
		if !observes(k) {
			continue
		}
		if w := footprint.Weight(s.images[k], col, row); anchor < 0 || w > best {
			anchor, best = k, w
		}
	}
	if anchor < 0 {
		return buf
	}
	for _, k := range s.neighbours[anchor] {
		if k == anchor || observes(k) {
			buf = append(buf, k)
		}
	}
	return buf
}

// exposurePhase refits every image exposure against the current albedo and
// DEM: e = sum(w I aR) / sum(w (aR)^2) over the usable pixels of the image.
func (s *Session) exposurePhase() float64 {
	change := make([]float64, len(s.images))
	albedo := s.terrain.Albedo
	dem := s.terrain.Height

	s.parallel(len(s.images), func(lo, hi int) {
		for k := lo; k < hi; k++ {
			img := s.images[k]
			num, den := 0.0, 0.0
			for y := 0; y < img.Observed.Height; y++ {
				for x := 0; x < img.Observed.Width; x++ {
					col, row := x+img.OffsetX, y+img.OffsetY
					if !dem.Valid(col, row) {
						continue
					}
					I, ok := s.observation(k, col, row)
					if !ok {
						continue
					}
					idx := dem.Index(col, row)
					p := albedo.Data[idx] * s.predict(k, idx)
					if p <= 0 {
						continue
					}
					w := s.observationWeight(k, col, row, I, img.Exposure*p)
					num += w * I * p
					den += w * p * p
				}
			}
			if den == 0 {
				continue
			}
			e := num / den
			change[k] = relChange(img.Exposure, e)
			img.Exposure = e
		}
	})
	return floats.Max(change)
}

// albedoPhase refits every cell albedo across its contributing images:
// a = sum(w e R I) / sum(w (eR)^2).
func (s *Session) albedoPhase() float64 {
	albedo := s.terrain.Albedo
	change := make([]float64, albedo.Height)

	s.parallel(albedo.Height, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			for col := 0; col < albedo.Width; col++ {
				idx := albedo.Index(col, row)
				num, den := 0.0, 0.0
				for _, k := range s.cont[idx] {
					I, _ := s.observation(k, col, row)
					p := s.images[k].Exposure * s.predict(k, idx)
					w := s.observationWeight(k, col, row, I, p*albedo.Data[idx])
					num += w * p * I
					den += w * p * p
				}
				if den == 0 {
					continue
				}
				a := num / den
				change[row] = math.Max(change[row], relChange(albedo.Data[idx], a))
				albedo.Data[idx] = a
			}
		}
	})
	return floats.Max(change)
}

// demPhase takes one Gauss-Newton step per cell on the weighted squared
// brightness residuals of every cell whose normal reads its height. All steps
// are computed from the same heights and applied together.
func (s *Session) demPhase() float64 {
	dem := s.terrain.Height
	next := dem.Clone()
	change := make([]float64, dem.Height)
	delta := 1e-3 * s.cfg.MaxHeightStep

	s.parallel(dem.Height, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			for col := 0; col < dem.Width; col++ {
				if !dem.Valid(col, row) {
					continue
				}
				h := dem.At(col, row)
				step, ok := s.heightStep(col, row, h, delta)
				if !ok {
					continue
				}
				step *= demRelaxation
				step = math.Max(-s.cfg.MaxHeightStep, math.Min(s.cfg.MaxHeightStep, step))
				next.Set(col, row, h+step)
				change[row] = math.Max(change[row], relChange(h, h+step))
			}
		}
	})
	copy(dem.Data, next.Data)
	return floats.Max(change)
}

// heightStep returns the Gauss-Newton height update of cell (col, row).
func (s *Session) heightStep(col, row int, h, delta float64) (float64, bool) {
	dem := s.terrain.Height
	albedo := s.terrain.Albedo
	trial := func(dh float64) geometry.HeightFunc {
		return func(c, r int) float64 {
			if c == col && r == row {
				return h + dh
			}
			return dem.At(c, r)
		}
	}
	up, down := trial(delta), trial(-delta)

	num, den := 0.0, 0.0
	for _, d := range geometry.Dependents(col, row, dem.Width, dem.Height, s.cfg.SlopeType) {
		dc, dr := d[0], d[1]
		idx := dem.Index(dc, dr)
		if len(s.cont[idx]) == 0 {
			continue
		}
		nUp, _ := geometry.NormalAt(up, dem.Width, dem.Height, s.proj, dc, dr, s.cfg.SlopeType)
		nDown, _ := geometry.NormalAt(down, dem.Width, dem.Height, s.proj, dc, dr, s.cfg.SlopeType)
		pUp, pDown := s.points[idx], s.points[idx]
		if dc == col && dr == row {
			pUp = s.proj.Point(col, row, h+delta)
			pDown = s.proj.Point(col, row, h-delta)
		}

		for _, k := range s.cont[idx] {
			img := s.images[k]
			I, _ := s.observation(k, dc, dr)
			scale := img.Exposure * albedo.Data[idx]
			pred := scale * s.predict(k, idx)
			rUp := s.reflect(reflectance.Geometry{Sun: img.SunPosition, Viewer: img.SpacecraftPosition, Point: pUp, Normal: nUp})
			rDown := s.reflect(reflectance.Geometry{Sun: img.SunPosition, Viewer: img.SpacecraftPosition, Point: pDown, Normal: nDown})
			J := scale * (rUp - rDown) / (2 * delta)
			w := s.observationWeight(k, dc, dr, I, pred)
			num += w * J * (I - pred)
			den += w * J * J
		}
	}

	if sw := s.cfg.SmoothnessWeight; sw > 0 {
		if m, ok := neighbourMean(col, row, dem.At, dem.Width, dem.Height); ok {
			num -= sw * (h - m)
			den += sw
		}
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// neighbourMean averages the valid 4-neighbours of a cell.
func neighbourMean(col, row int, at geometry.HeightFunc, width, height int) (float64, bool) {
	sum, n := 0.0, 0
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		c, r := col+d[0], row+d[1]
		if c < 0 || r < 0 || c >= width || r >= height {
			continue
		}
		if v := at(c, r); !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
