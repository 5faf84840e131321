// Package config provides configuration loading and management for lunarsfs.
// It handles loading the reconstruction parameters and the session manifest
// from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"lunarsfs/pkg/geometry"
	"lunarsfs/pkg/reflectance"
)

// ExposureInit selects how image exposures are bootstrapped.
type ExposureInit int

const (
	// ExposureGiven keeps the exposure read from the exposure file
	ExposureGiven ExposureInit = iota
	// ExposureReference scales every exposure against a reference image
	ExposureReference
)

// AlbedoInit selects how the albedo grid is bootstrapped.
type AlbedoInit int

const (
	AlbedoGiven AlbedoInit = iota
	AlbedoConstant
	AlbedoFromImages
)

// DEMInit selects how the input DEM is prepared before refinement.
type DEMInit int

const (
	DEMGiven DEMInit = iota
	// DEMFill krige-fills nodata holes
	DEMFill
	// DEMSmooth fills holes, then low-pass filters the DEM
	DEMSmooth
)

// ShadowInit selects how the shadow mask is bootstrapped.
type ShadowInit int

const (
	ShadowThreshold ShadowInit = iota
	// ShadowDilate grows the thresholded mask by one pixel
	ShadowDilate
)

// GlobalConfiguration holds the process-wide reconstruction parameters. It is
// read-only once a session has been created from it.
type GlobalConfiguration struct {
	// ReflectanceType selects the photometric law (0 none, 1 Lambert, 2 lunar-Lambert)
	ReflectanceType reflectance.Law `yaml:"reflectanceType"`

	// SlopeType selects how DEM normals are derived (0 three-point, 1 central difference)
	SlopeType geometry.SlopeType `yaml:"slopeType"`

	// ShadowThresh is the normalised brightness below which pixels are shadowed
	ShadowThresh float64 `yaml:"shadowThresh"`

	ExposureInfoFilename  string `yaml:"exposureInfoFilename"`
	SpacecraftPosFilename string `yaml:"spacecraftPosFilename"`
	SunPosFilename        string `yaml:"sunPosFilename"`

	ExposureInitType     ExposureInit `yaml:"exposureInitType"`
	ExposureInitRefValue float64      `yaml:"exposureInitRefValue"`
	ExposureInitRefIndex int          `yaml:"exposureInitRefIndex"`

	AlbedoInitType  AlbedoInit `yaml:"albedoInitType"`
	AlbedoInitValue float64    `yaml:"albedoInitValue"`

	DEMInitType DEMInit `yaml:"DEMInitType"`
	// DEMSmoothingSigma is the low-pass width in cells used by DEMSmooth
	DEMSmoothingSigma float64 `yaml:"DEMSmoothingSigma"`

	ShadowInitType ShadowInit `yaml:"shadowInitType"`

	// UseWeights enables footprint and inverse-weight table weighting
	UseWeights bool `yaml:"useWeights"`

	MaxNumIter    int  `yaml:"maxNumIter"`
	ComputeErrors bool `yaml:"computeErrors"`

	// Limits on the temporally adjacent overlapping images considered per cell
	MaxNextOverlappingImages int `yaml:"maxNextOverlappingImages"`
	MaxPrevOverlappingImages int `yaml:"maxPrevOverlappingImages"`

	// Tolerance is the maximum relative change at which iteration stops. It
	// bounds the last step, not the remaining height error.
	Tolerance float64 `yaml:"tolerance"`

	// MaxHeightStep bounds the height change of a cell per iteration
	MaxHeightStep float64 `yaml:"maxHeightStep"`

	// SmoothnessWeight adds a Laplacian penalty to the DEM update
	SmoothnessWeight float64 `yaml:"smoothnessWeight"`

	// NumCores specifies how many CPU cores to use for parallel processing
	NumCores int `yaml:"numCores"`
}

// ImageEntry describes one input orthoimage.
type ImageEntry struct {
	Path            string     `yaml:"path"`
	OffsetX         int        `yaml:"offsetX"`
	OffsetY         int        `yaml:"offsetY"`
	CameraParams    [2]float64 `yaml:"cameraParams"`
	RescalingParams [2]float64 `yaml:"rescalingParams"`
}

// ProjectionConfig describes how DEM cells map to body-fixed coordinates.
type ProjectionConfig struct {
	// Type is "planar" or "equirectangular"
	Type string `yaml:"type"`

	// Planar
	OriginX    float64 `yaml:"originX"`
	OriginY    float64 `yaml:"originY"`
	Resolution float64 `yaml:"resolution"`

	// Equirectangular, angles in degrees
	Radius float64 `yaml:"radius"`
	Lon0   float64 `yaml:"lon0"`
	Lat0   float64 `yaml:"lat0"`
	DLon   float64 `yaml:"dLon"`
	DLat   float64 `yaml:"dLat"`
}

// Build returns the projection described by p.
func (p ProjectionConfig) Build() (geometry.Projection, error) {
	switch p.Type {
	case "", "planar":
		if p.Resolution <= 0 {
			return nil, fmt.Errorf("planar projection: resolution must be positive")
		}
		return geometry.Planar{OriginX: p.OriginX, OriginY: p.OriginY, Resolution: p.Resolution}, nil
	case "equirectangular":
		if p.DLon == 0 || p.DLat == 0 {
			return nil, fmt.Errorf("equirectangular projection: dLon and dLat must be non-zero")
		}
		r := p.Radius
		if r == 0 {
			r = geometry.MoonRadius
		}
		return geometry.Equirectangular{Radius: r, Lon0: p.Lon0, Lat0: p.Lat0, DLon: p.DLon, DLat: p.DLat}, nil
	default:
		return nil, fmt.Errorf("unknown projection type %q", p.Type)
	}
}

// Manifest lists the inputs of a reconstruction session.
type Manifest struct {
	DEM         string           `yaml:"dem"`
	Albedo      string           `yaml:"albedo"`
	Images      []ImageEntry     `yaml:"images"`
	WeightsFile string           `yaml:"weightsFile"`
	Projection  ProjectionConfig `yaml:"projection"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Reconstruction GlobalConfiguration `yaml:"reconstruction"`
	Session        Manifest            `yaml:"session"`

	// Output parameters
	Output struct {
		// Dir receives the refined rasters, exposures and diagnostics
		Dir string `yaml:"dir"`

		// WriteSTL additionally exports the refined DEM as a mesh
		WriteSTL bool `yaml:"writeSTL"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultGlobal returns reconstruction parameters with default values
func DefaultGlobal() GlobalConfiguration {
	return GlobalConfiguration{
		ReflectanceType:          reflectance.LunarLambert,
		SlopeType:                geometry.ThreePoint,
		ShadowThresh:             0.05,
		ExposureInitType:         ExposureGiven,
		ExposureInitRefValue:     1,
		AlbedoInitType:           AlbedoFromImages,
		AlbedoInitValue:          1,
		DEMInitType:              DEMGiven,
		DEMSmoothingSigma:        2,
		ShadowInitType:           ShadowThreshold,
		MaxNumIter:               10,
		ComputeErrors:            true,
		MaxNextOverlappingImages: 8,
		MaxPrevOverlappingImages: 8,
		Tolerance:                1e-4,
		MaxHeightStep:            5,
		NumCores:                 runtime.NumCPU(), // Use all available cores by default
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{Reconstruction: DefaultGlobal()}
	cfg.Session.Projection = ProjectionConfig{Type: "planar", Resolution: 1}
	cfg.Output.Dir = "output"
	cfg.Output.Verbose = true
	return cfg
}

// Validate rejects out-of-range selectors and limits.
func (g *GlobalConfiguration) Validate() error {
	var errs []error
	if err := g.ReflectanceType.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := g.SlopeType.Validate(); err != nil {
		errs = append(errs, err)
	}
	enum := func(name string, v, n int) {
		if v < 0 || v >= n {
			errs = append(errs, fmt.Errorf("%w: %s %d", reflectance.ErrInvalidModel, name, v))
		}
	}
	enum("exposureInitType", int(g.ExposureInitType), 2)
	enum("albedoInitType", int(g.AlbedoInitType), 3)
	enum("DEMInitType", int(g.DEMInitType), 3)
	enum("shadowInitType", int(g.ShadowInitType), 2)

	if g.MaxNumIter <= 0 {
		errs = append(errs, fmt.Errorf("maxNumIter must be positive, got %d", g.MaxNumIter))
	}
	if g.MaxNextOverlappingImages < 0 || g.MaxPrevOverlappingImages < 0 {
		errs = append(errs, fmt.Errorf("overlapping image limits must be non-negative"))
	}
	if g.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("tolerance must be positive, got %g", g.Tolerance))
	}
	if g.MaxHeightStep <= 0 {
		errs = append(errs, fmt.Errorf("maxHeightStep must be positive, got %g", g.MaxHeightStep))
	}
	if g.SmoothnessWeight < 0 {
		errs = append(errs, fmt.Errorf("smoothnessWeight must be non-negative, got %g", g.SmoothnessWeight))
	}
	if g.ExposureInitType == ExposureReference && g.ExposureInitRefValue <= 0 {
		errs = append(errs, fmt.Errorf("exposureInitRefValue must be positive, got %g", g.ExposureInitRefValue))
	}
	if g.DEMInitType == DEMSmooth && g.DEMSmoothingSigma <= 0 {
		errs = append(errs, fmt.Errorf("DEMSmoothingSigma must be positive, got %g", g.DEMSmoothingSigma))
	}
	return errors.Join(errs...)
}

// Workers returns the number of worker goroutines to use.
func (g *GlobalConfiguration) Workers() int {
	if g.NumCores > 0 {
		return g.NumCores
	}
	return runtime.NumCPU()
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Reconstruction.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	// Relative input paths are resolved against the config file
	cfg.resolve(filepath.Dir(configPath))
	return cfg, nil
}

func (c *Config) resolve(dir string) {
	abs := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	abs(&c.Session.DEM)
	abs(&c.Session.Albedo)
	abs(&c.Session.WeightsFile)
	abs(&c.Reconstruction.ExposureInfoFilename)
	abs(&c.Reconstruction.SpacecraftPosFilename)
	abs(&c.Reconstruction.SunPosFilename)
	for i := range c.Session.Images {
		abs(&c.Session.Images[i].Path)
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
