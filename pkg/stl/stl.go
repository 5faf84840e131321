// Package stl exports a DEM as a triangulated surface in binary STL format.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"lunarsfs/internal/models"
	"lunarsfs/pkg/geometry"
)

// Triangle is one facet of the mesh.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// HeightField turns DEM cells into vertices through a projection. Vertices
// are expressed relative to the centre cell so that body-fixed coordinates
// keep their precision in float32.
type HeightField struct {
	dem    models.Grid
	proj   geometry.Projection
	scale  [3]float32
	origin r3.Vec
}

// NewHeightField creates a mesher for dem.
func NewHeightField(dem models.Grid, proj geometry.Projection) *HeightField {
	hf := &HeightField{dem: dem, proj: proj, scale: [3]float32{1, 1, 1}}
	hf.origin = proj.Point(dem.Width/2, dem.Height/2, 0)
	return hf
}

// SetScale applies a per-axis scale to every vertex, e.g. to exaggerate
// heights for printing.
func (hf *HeightField) SetScale(x, y, z float32) {
	hf.scale = [3]float32{x, y, z}
}

func (hf *HeightField) vertex(col, row int) [3]float32 {
	p := r3.Sub(hf.proj.Point(col, row, hf.dem.At(col, row)), hf.origin)
	return [3]float32{float32(p.X) * hf.scale[0], float32(p.Y) * hf.scale[1], float32(p.Z) * hf.scale[2]}
}

// GenerateTriangles splits every quad of four valid cells into two facets
// whose normals face away from the body.
func (hf *HeightField) GenerateTriangles() []Triangle {
	var out []Triangle
	d := hf.dem
	for row := 0; row+1 < d.Height; row++ {
		for col := 0; col+1 < d.Width; col++ {
			if !d.Valid(col, row) || !d.Valid(col+1, row) || !d.Valid(col, row+1) || !d.Valid(col+1, row+1) {
				continue
			}
			up := hf.proj.Radial(col, row)
			a, b := hf.vertex(col, row), hf.vertex(col+1, row)
			c, e := hf.vertex(col, row+1), hf.vertex(col+1, row+1)
			out = append(out, facet(a, b, c, up), facet(b, e, c, up))
		}
	}
	return out
}

// facet orders the vertices so that the right-hand normal agrees with up.
func facet(a, b, c [3]float32, up r3.Vec) Triangle {
	n := cross(sub(b, a), sub(c, a))
	if float64(n[0])*up.X+float64(n[1])*up.Y+float64(n[2])*up.Z < 0 {
		b, c = c, b
		n = [3]float32{-n[0], -n[1], -n[2]}
	}
	return Triangle{Normal: normalize(n), Vertex1: a, Vertex2: b, Vertex3: c}
}

func sub(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross(a, b [3]float32) [3]float32 {
	return [3]float32{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func normalize(v [3]float32) [3]float32 {
	u := r3.Unit(r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
	if u.X != u.X {
		return [3]float32{}
	}
	return [3]float32{float32(u.X), float32(u.Y), float32(u.Z)}
}

// SaveToSTL writes triangles as a binary STL file.
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	var header [80]byte
	copy(header[:], "lunarsfs refined DEM")
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %w", err)
	}
	for _, t := range triangles {
		rec := struct {
			T         Triangle
			Attribute uint16
		}{T: t}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
	}
	return w.Flush()
}
