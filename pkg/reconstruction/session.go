// Package reconstruction refines a DEM, its albedo and the exposure of every
// image from a set of overlapping orthoimages. Each iteration runs three
// phases (exposure, albedo, DEM) separated by full barriers, and stops once
// the largest relative change falls below the configured tolerance.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/models"
	"lunarsfs/internal/monitoring"
	"lunarsfs/pkg/config"
	"lunarsfs/pkg/footprint"
	"lunarsfs/pkg/geometry"
	"lunarsfs/pkg/reflectance"
	"lunarsfs/pkg/weights"
)

// ErrNonConvergence is reported in Result.Warning when the iteration cap is
// reached before the tolerance is met.
var ErrNonConvergence = errors.New("reconstruction did not converge")

// Result is the state reached by a session.
type Result struct {
	ID uuid.UUID

	// Terrain holds the refined DEM and albedo
	Terrain *models.Terrain

	// Exposures are in the order the images were given
	Exposures []float64

	// Iterations is the number of fully completed iterations
	Iterations int

	Converged bool

	// Warning is ErrNonConvergence when the cap was hit, nil otherwise
	Warning error

	// Stats holds one entry per iteration when error computation is enabled
	Stats []IterationStats
}

// Session owns the terrain and image models of one reconstruction.
type Session struct {
	ID uuid.UUID

	cfg     *config.GlobalConfiguration
	proj    geometry.Projection
	terrain *models.Terrain
	images  []*models.ImageModel
	table   *weights.Table
	reflect reflectance.Func
	workers int

	// shadow marks image pixels excluded for the whole session
	shadow [][]bool

	// autoFootprint marks images whose footprint arrays were derived here
	autoFootprint []bool

	// neighbours lists, per image, the image itself followed by the
	// overlapping images it may be combined with
	neighbours [][]int

	// geometry of every DEM cell at the current heights
	points  []r3.Vec
	normals []r3.Vec
	cont    [][]int

	initialized bool
	iterations  int
	stats       []IterationStats
}

// NewSession validates the configuration and inputs. Nothing is modified and
// no iteration runs when an error is returned. Images without footprint
// arrays get them derived from their data; supplied arrays must match the
// raster dimensions. table may be nil when weighting is disabled.
func NewSession(cfg *config.GlobalConfiguration, proj geometry.Projection, terrain *models.Terrain,
	images []*models.ImageModel, table *weights.Table) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if proj == nil {
		return nil, fmt.Errorf("missing projection")
	}
	if terrain == nil {
		return nil, fmt.Errorf("missing terrain")
	}
	if _, err := models.NewTerrain(terrain.Height, terrain.Albedo); err != nil {
		return nil, fmt.Errorf("invalid terrain: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no input images")
	}
	if cfg.UseWeights && table == nil {
		return nil, fmt.Errorf("weighting enabled but no inverse-weight table loaded: %w", weights.ErrCalibrationLoad)
	}
	if cfg.ExposureInitType == config.ExposureReference &&
		(cfg.ExposureInitRefIndex < 0 || cfg.ExposureInitRefIndex >= len(images)) {
		return nil, fmt.Errorf("exposureInitRefIndex %d out of range for %d images", cfg.ExposureInitRefIndex, len(images))
	}

	reflect, err := reflectance.For(cfg.ReflectanceType)
	if err != nil {
		return nil, err
	}

	auto := make([]bool, len(images))
	for i, img := range images {
		if img == nil {
			return nil, fmt.Errorf("image %d is nil", i)
		}
		if err := img.Observed.Check(); err != nil {
			return nil, fmt.Errorf("image %s: %w", img.Name, err)
		}
		if img.CenterLine == nil && img.CenterLineDEM == nil {
			auto[i] = true
			continue
		}
		if err := img.CheckFootprint(terrain.Cols(), terrain.Rows()); err != nil {
			return nil, err
		}
	}

	s := &Session{
		ID:            uuid.New(),
		cfg:           cfg,
		proj:          proj,
		terrain:       terrain,
		images:        images,
		table:         table,
		reflect:       reflect,
		workers:       cfg.Workers(),
		autoFootprint: auto,
	}
	monitoring.Logf("session %s: %d images on a %dx%d DEM, reflectance %s", s.ID, len(images),
		terrain.Cols(), terrain.Rows(), cfg.ReflectanceType)
	return s, nil
}

// Terrain returns the terrain owned by the session.
func (s *Session) Terrain() *models.Terrain { return s.terrain }

// Run iterates until convergence, the iteration cap or cancellation. The
// context is only consulted between iterations; on cancellation the state
// reached so far is returned along with the context error.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	if !s.initialized {
		if err := s.Initialize(); err != nil {
			return nil, err
		}
	}

	for s.iterations < s.cfg.MaxNumIter {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("session %s: cancelled after %d iterations", s.ID, s.iterations)
			return s.result(false), err
		}

		start := time.Now()
		change := s.Iterate()
		if s.cfg.ComputeErrors {
			st := s.computeStats()
			st.Iteration = s.iterations
			st.MaxRelChange = change
			st.Duration = time.Since(start)
			s.stats = append(s.stats, st)
			monitoring.Logf("session %s: iteration %d change %.3g rms %.4g over %d observations",
				s.ID, s.iterations, change, st.WeightedRMS, st.Observations)
		} else {
			monitoring.Logf("session %s: iteration %d change %.3g", s.ID, s.iterations, change)
		}

		if change < s.cfg.Tolerance {
			return s.result(true), nil
		}
	}

	monitoring.Logf("session %s: %v after %d iterations", s.ID, ErrNonConvergence, s.iterations)
	return s.result(false), nil
}

// Iterate runs one exposure, albedo and DEM pass and returns the largest
// relative change of any exposure, albedo or height. Geometry is refreshed
// after the DEM pass, so the session must be initialized first.
func (s *Session) Iterate() float64 {
	de := s.exposurePhase()
	da := s.albedoPhase()
	dh := s.demPhase()
	s.refreshGeometry()
	s.iterations++
	return math.Max(de, math.Max(da, dh))
}

func (s *Session) result(converged bool) *Result {
	r := &Result{
		ID:         s.ID,
		Terrain:    s.terrain,
		Exposures:  make([]float64, len(s.images)),
		Iterations: s.iterations,
		Converged:  converged,
		Stats:      s.stats,
	}
	for i, img := range s.images {
		r.Exposures[i] = img.Exposure
	}
	if !converged && s.iterations >= s.cfg.MaxNumIter {
		r.Warning = ErrNonConvergence
	}
	return r
}

// relChange is |new-old| relative to |old|, or absolute below unit magnitude.
func relChange(old, new float64) float64 {
	return math.Abs(new-old) / math.Max(math.Abs(old), 1)
}

// observation returns the usable brightness of image k at DEM cell (col, row).
func (s *Session) observation(k, col, row int) (float64, bool) {
	img := s.images[k]
	v, ok := img.ObservedAt(col, row)
	if !ok || v < s.cfg.ShadowThresh {
		return 0, false
	}
	x, y := img.DEMToImage(col, row)
	if s.shadow != nil && s.shadow[k][img.Observed.Index(x, y)] {
		return 0, false
	}
	return v, true
}

// predict returns the reflectance of cell idx as seen by image k.
func (s *Session) predict(k, idx int) float64 {
	img := s.images[k]
	return s.reflect(reflectance.Geometry{
		Sun:    img.SunPosition,
		Viewer: img.SpacecraftPosition,
		Point:  s.points[idx],
		Normal: s.normals[idx],
	})
}

// observationWeight is the product of footprint and inverse-weight table
// weights, or 1 when weighting is disabled.
func (s *Session) observationWeight(k, col, row int, observed, predicted float64) float64 {
	if !s.cfg.UseWeights {
		return 1
	}
	w := footprint.Weight(s.images[k], col, row)
	if w == 0 {
		return 0
	}
	return w * s.table.Lookup(observed, predicted)
}
