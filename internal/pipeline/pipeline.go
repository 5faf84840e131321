// Package pipeline wires the file formats to a reconstruction session: it
// loads the inputs named by a configuration and writes the refined products.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"lunarsfs/internal/models"
	"lunarsfs/internal/monitoring"
	"lunarsfs/pkg/config"
	"lunarsfs/pkg/ephemeris"
	"lunarsfs/pkg/geometry"
	"lunarsfs/pkg/raster"
	"lunarsfs/pkg/reconstruction"
	"lunarsfs/pkg/stl"
	"lunarsfs/pkg/visualization"
	"lunarsfs/pkg/weights"
)

// Inputs holds everything a session needs, fully loaded.
type Inputs struct {
	Terrain    *models.Terrain
	Images     []*models.ImageModel
	Table      *weights.Table
	Projection geometry.Projection
}

// Load reads the DEM, albedo, images, side files and inverse-weight table
// named by cfg.
func Load(cfg *config.Config) (*Inputs, error) {
	g := &cfg.Reconstruction
	m := &cfg.Session

	proj, err := m.Projection.Build()
	if err != nil {
		return nil, err
	}

	if m.DEM == "" {
		return nil, fmt.Errorf("no DEM given")
	}
	dem, err := raster.LoadHeights(m.DEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load DEM: %w", err)
	}

	albedo := models.NewFilledGrid(dem.Width, dem.Height, g.AlbedoInitValue)
	if m.Albedo != "" {
		if albedo, err = raster.Load(m.Albedo, raster.Brightness); err != nil {
			return nil, fmt.Errorf("failed to load albedo: %w", err)
		}
	}
	terrain, err := models.NewTerrain(dem, albedo)
	if err != nil {
		return nil, err
	}

	if len(m.Images) == 0 {
		return nil, fmt.Errorf("no input images")
	}
	images := make([]*models.ImageModel, len(m.Images))
	for i, entry := range m.Images {
		obs, err := raster.Load(entry.Path, raster.Brightness)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", entry.Path, err)
		}
		img := &models.ImageModel{
			Name:            entry.Path,
			Index:           i,
			Observed:        obs,
			OffsetX:         entry.OffsetX,
			OffsetY:         entry.OffsetY,
			Exposure:        1,
			CameraParams:    entry.CameraParams,
			RescalingParams: entry.RescalingParams,
		}
		img.ApplyRescaling()
		images[i] = img
	}

	var exp ephemeris.Exposures
	if g.ExposureInfoFilename != "" {
		if exp, err = ephemeris.LoadExposures(g.ExposureInfoFilename); err != nil {
			return nil, err
		}
	}
	sun, err := ephemeris.LoadPositions(g.SunPosFilename)
	if err != nil {
		return nil, fmt.Errorf("sun positions: %w", err)
	}
	craft, err := ephemeris.LoadPositions(g.SpacecraftPosFilename)
	if err != nil {
		return nil, fmt.Errorf("spacecraft positions: %w", err)
	}
	if err := ephemeris.Apply(images, exp, sun, craft); err != nil {
		return nil, err
	}

	var table *weights.Table
	if m.WeightsFile != "" {
		if table, err = weights.Load(m.WeightsFile, weights.SizeOfBuffer); err != nil {
			return nil, err
		}
	}

	monitoring.Logf("loaded %dx%d DEM %s and %d images", dem.Width, dem.Height, dem.Stats(), len(images))
	return &Inputs{Terrain: terrain, Images: images, Table: table, Projection: proj}, nil
}

// NewSession creates a session over the loaded inputs.
func NewSession(cfg *config.Config, in *Inputs) (*reconstruction.Session, error) {
	return reconstruction.NewSession(&cfg.Reconstruction, in.Projection, in.Terrain, in.Images, in.Table)
}

// Run loads the inputs, runs a session and writes the outputs. A cancelled
// run still writes the state reached.
func Run(ctx context.Context, cfg *config.Config) (*reconstruction.Result, error) {
	in, err := Load(cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(cfg, in)
	if err != nil {
		return nil, err
	}
	res, runErr := s.Run(ctx)
	if res == nil {
		return nil, runErr
	}
	if err := WriteOutputs(cfg, in, res); err != nil {
		return res, err
	}
	return res, runErr
}

// Calibrate derives an inverse-weight table from the residuals of the
// initial state and saves it to path.
func Calibrate(cfg *config.Config, path string) error {
	in, err := Load(cfg)
	if err != nil {
		return err
	}
	g := cfg.Reconstruction
	g.UseWeights = false
	s, err := reconstruction.NewSession(&g, in.Projection, in.Terrain, in.Images, nil)
	if err != nil {
		return err
	}
	samples, err := s.Samples()
	if err != nil {
		return err
	}
	monitoring.Logf("calibrating inverse weights from %d samples", len(samples))
	return weights.Calibrate(samples, 1).Save(path)
}

// ExposureEntry is one line of the exposure report.
type ExposureEntry struct {
	Name     string  `yaml:"name"`
	Exposure float64 `yaml:"exposure"`
}

// Report summarises a session in exposures.yaml.
type Report struct {
	Session    string          `yaml:"session"`
	Iterations int             `yaml:"iterations"`
	Converged  bool            `yaml:"converged"`
	Warning    string          `yaml:"warning,omitempty"`
	Exposures  []ExposureEntry `yaml:"exposures"`
}

// WriteOutputs stores the refined DEM, albedo, exposures, diagnostics and
// previews under the configured output directory.
func WriteOutputs(cfg *config.Config, in *Inputs, res *reconstruction.Result) error {
	dir := cfg.Output.Dir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := raster.Save(filepath.Join(dir, "dem.tif"), res.Terrain.Height); err != nil {
		return err
	}
	if err := raster.Save(filepath.Join(dir, "albedo.tif"), res.Terrain.Albedo); err != nil {
		return err
	}

	rep := Report{
		Session:    res.ID.String(),
		Iterations: res.Iterations,
		Converged:  res.Converged,
	}
	if res.Warning != nil {
		rep.Warning = res.Warning.Error()
	}
	for i, img := range in.Images {
		rep.Exposures = append(rep.Exposures, ExposureEntry{Name: ephemeris.Key(img.Name), Exposure: res.Exposures[i]})
	}
	if err := writeYAML(filepath.Join(dir, "exposures.yaml"), rep); err != nil {
		return err
	}

	if cfg.Reconstruction.ComputeErrors && len(res.Stats) > 0 {
		if err := writeYAML(filepath.Join(dir, "errors.yaml"), res.Stats); err != nil {
			return err
		}
		if err := visualization.PlotConvergence(res.Stats, filepath.Join(dir, "errors.png")); err != nil {
			monitoring.Logf("Warning: failed to plot errors: %v", err)
		}
	}

	viewer := visualization.NewViewer(res.Terrain, in.Projection, cfg.Reconstruction.SlopeType)
	img, err := viewer.ShadedRelief(in.Images[0].SunPosition, cfg.Reconstruction.ReflectanceType, false)
	if err != nil {
		return err
	}
	if err := visualization.SaveImage(img, filepath.Join(dir, "shaded.png")); err != nil {
		return fmt.Errorf("failed to save shaded relief: %w", err)
	}

	if cfg.Output.WriteSTL {
		tris := stl.NewHeightField(res.Terrain.Height, in.Projection).GenerateTriangles()
		if err := stl.SaveToSTL(filepath.Join(dir, "dem.stl"), tris); err != nil {
			return err
		}
	}
	monitoring.Logf("outputs written to %s", dir)
	return nil
}

func writeYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
