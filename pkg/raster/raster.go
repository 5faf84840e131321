// Package raster moves models.Grid values in and out of image files.
//
// TIFF and PNG rasters are stored as 16-bit grey. Sample 0 is nodata and
// samples 1..65535 map linearly onto [Min, Max] of a Scaling, which is kept in
// a small YAML sidecar next to the raster. Raw .bin files hold the exact
// float64 values.
package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"lunarsfs/internal/models"
)

const maxLevel = math.MaxUint16 - 1

// ErrFormat is returned for unsupported file extensions.
var ErrFormat = errors.New("unsupported raster format")

// ErrNoScaling is returned when a quantized raster that needs its own scaling
// has no sidecar.
var ErrNoScaling = errors.New("raster has no scaling sidecar")

// Scaling maps 16-bit samples onto physical values.
type Scaling struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Brightness is the scaling used for orthoimages when no sidecar exists:
// samples map onto [0, 1].
var Brightness = Scaling{Min: 0, Max: 1}

// ScalingFor spans the valid values of g.
func ScalingFor(g models.Grid) Scaling {
	st := g.Stats()
	if st.Valid == 0 {
		return Brightness
	}
	if st.Max == st.Min {
		return Scaling{Min: st.Min, Max: st.Min + 1}
	}
	return Scaling{Min: st.Min, Max: st.Max}
}

func (s Scaling) encode(v float64) uint16 {
	if math.IsNaN(v) {
		return 0
	}
	t := (v - s.Min) / (s.Max - s.Min)
	t = math.Max(0, math.Min(1, t))
	return uint16(1 + math.Round(t*maxLevel))
}

func (s Scaling) decode(q uint16) float64 {
	if q == 0 {
		return models.NoData()
	}
	return s.Min + float64(q-1)/maxLevel*(s.Max-s.Min)
}

// ToImage quantizes g into a 16-bit grey image.
func ToImage(g models.Grid, s Scaling) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: s.encode(g.At(x, y))})
		}
	}
	return img
}

// FromImage converts any image into a grid through its 16-bit grey value.
func FromImage(img image.Image, s Scaling) models.Grid {
	b := img.Bounds()
	g := models.NewGrid(b.Dx(), b.Dy())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			g.Set(x, y, s.decode(c.Y))
		}
	}
	return g
}

// Load reads a grid, dispatching on the file extension. Scaling comes from
// the sidecar when present, otherwise def is used.
func Load(path string, def Scaling) (models.Grid, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		return LoadBinary(path)
	case ".tif", ".tiff", ".png":
	default:
		return models.Grid{}, fmt.Errorf("%s: %w", path, ErrFormat)
	}

	s := def
	if side, err := ReadScaling(sidecar(path)); err == nil {
		s = side
	} else if !errors.Is(err, os.ErrNotExist) {
		return models.Grid{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return models.Grid{}, fmt.Errorf("open raster '%s': %w", path, err)
	}
	defer f.Close()

	var img image.Image
	if strings.HasPrefix(strings.ToLower(filepath.Ext(path)), ".tif") {
		img, err = tiff.Decode(f)
	} else {
		img, err = png.Decode(f)
	}
	if err != nil {
		return models.Grid{}, fmt.Errorf("decode raster '%s': %w", path, err)
	}
	return FromImage(img, s), nil
}

// LoadHeights reads a DEM. Quantized rasters must carry a scaling sidecar.
func LoadHeights(path string) (models.Grid, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".png":
		if _, err := os.Stat(sidecar(path)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return models.Grid{}, fmt.Errorf("%s: %w", path, ErrNoScaling)
			}
			return models.Grid{}, err
		}
	}
	return Load(path, Brightness)
}

// Save writes g, dispatching on the file extension. For TIFF and PNG the
// scaling spans the valid values of g and is written to the sidecar.
func Save(path string, g models.Grid) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".bin" {
		return SaveBinary(path, g)
	}
	if ext != ".tif" && ext != ".tiff" && ext != ".png" {
		return fmt.Errorf("%s: %w", path, ErrFormat)
	}

	s := ScalingFor(g)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create raster '%s': %w", path, err)
	}
	defer f.Close()

	img := ToImage(g, s)
	if ext == ".png" {
		err = png.Encode(f, img)
	} else {
		err = tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	}
	if err != nil {
		return fmt.Errorf("encode raster '%s': %w", path, err)
	}
	return WriteScaling(sidecar(path), s)
}

func sidecar(path string) string { return path + ".yaml" }

// ReadScaling loads a scaling sidecar.
func ReadScaling(path string) (Scaling, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scaling{}, err
	}
	var s Scaling
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scaling{}, fmt.Errorf("parse scaling '%s': %w", path, err)
	}
	if s.Max <= s.Min {
		return Scaling{}, fmt.Errorf("scaling '%s': max %g not above min %g", path, s.Max, s.Min)
	}
	return s, nil
}

// WriteScaling stores a scaling sidecar.
func WriteScaling(path string, s Scaling) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WriteBinary writes width and height as little-endian uint32 followed by the
// samples as little-endian float64.
func WriteBinary(w io.Writer, g models.Grid) error {
	hdr := [2]uint32{uint32(g.Width), uint32(g.Height)}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("failed to write binary header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, g.Data); err != nil {
		return fmt.Errorf("failed to write binary data: %w", err)
	}
	return nil
}

// ReadBinary reads a grid written by WriteBinary.
func ReadBinary(r io.Reader) (models.Grid, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return models.Grid{}, fmt.Errorf("failed to read binary header: %w", err)
	}
	g := models.NewGrid(int(hdr[0]), int(hdr[1]))
	if err := binary.Read(r, binary.LittleEndian, g.Data); err != nil {
		return models.Grid{}, fmt.Errorf("failed to read binary data: %w", err)
	}
	return g, nil
}

// SaveBinary writes g to a .bin file.
func SaveBinary(path string, g models.Grid) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create binary file: %w", err)
	}
	defer f.Close()
	return WriteBinary(f, g)
}

// LoadBinary reads a .bin file.
func LoadBinary(path string) (models.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Grid{}, fmt.Errorf("failed to open binary file: %w", err)
	}
	defer f.Close()
	return ReadBinary(f)
}
