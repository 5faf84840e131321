// Package ephemeris reads the per-image side files of a reconstruction:
// exposure values and sun / spacecraft positions keyed by image name.
//
// Each file is line oriented. Blank lines and lines starting with '#' are
// ignored. Exposure lines hold "name value", position lines "name x y z" in
// body-centred metres.
package ephemeris

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/models"
)

// ErrMissingEntry is returned when an image has no entry in a side file.
var ErrMissingEntry = errors.New("missing ephemeris entry")

// Exposures maps image names to exposure values.
type Exposures map[string]float64

// Positions maps image names to body-centred positions.
type Positions map[string]r3.Vec

// ReadExposures parses an exposure file.
func ReadExposures(r io.Reader) (Exposures, error) {
	out := Exposures{}
	err := scan(r, 1, func(name string, v []float64) {
		out[name] = v[0]
	})
	if err != nil {
		return nil, fmt.Errorf("exposure file: %w", err)
	}
	return out, nil
}

// ReadPositions parses a sun or spacecraft position file.
func ReadPositions(r io.Reader) (Positions, error) {
	out := Positions{}
	err := scan(r, 3, func(name string, v []float64) {
		out[name] = r3.Vec{X: v[0], Y: v[1], Z: v[2]}
	})
	if err != nil {
		return nil, fmt.Errorf("position file: %w", err)
	}
	return out, nil
}

func scan(r io.Reader, fields int, put func(string, []float64)) error {
	sc := bufio.NewScanner(r)
	line := 0
	vals := make([]float64, fields)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		f := strings.Fields(text)
		if len(f) != fields+1 {
			return fmt.Errorf("line %d: want %d fields, got %d", line, fields+1, len(f))
		}
		for i := range vals {
			v, err := strconv.ParseFloat(f[i+1], 64)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			vals[i] = v
		}
		put(Key(f[0]), vals)
	}
	return sc.Err()
}

// Key normalises an image name: directory and extension are dropped so that
// "orbit33/AS15-M-1134.tif" and "AS15-M-1134" match.
func Key(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadExposures reads an exposure file from disk.
func LoadExposures(path string) (Exposures, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening exposure file: %w", err)
	}
	defer f.Close()
	return ReadExposures(f)
}

// LoadPositions reads a position file from disk.
func LoadPositions(path string) (Positions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening position file: %w", err)
	}
	defer f.Close()
	return ReadPositions(f)
}

// Apply copies the entries for every image into the image models. exp may be
// nil when exposures are initialised some other way.
func Apply(images []*models.ImageModel, exp Exposures, sun, craft Positions) error {
	for _, img := range images {
		key := Key(img.Name)
		if exp != nil {
			e, ok := exp[key]
			if !ok {
				return fmt.Errorf("exposure for %s: %w", img.Name, ErrMissingEntry)
			}
			img.Exposure = e
		}
		s, ok := sun[key]
		if !ok {
			return fmt.Errorf("sun position for %s: %w", img.Name, ErrMissingEntry)
		}
		c, ok := craft[key]
		if !ok {
			return fmt.Errorf("spacecraft position for %s: %w", img.Name, ErrMissingEntry)
		}
		img.SunPosition = s
		img.SpacecraftPosition = c
	}
	return nil
}

// WriteExposures writes exposures in the format ReadExposures accepts, in
// image order.
func WriteExposures(w io.Writer, images []*models.ImageModel) error {
	bw := bufio.NewWriter(w)
	for _, img := range images {
		if _, err := fmt.Fprintf(bw, "%s %.10g\n", Key(img.Name), img.Exposure); err != nil {
			return err
		}
	}
	return bw.Flush()
}
