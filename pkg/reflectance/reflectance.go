// Package reflectance predicts the normalised brightness of a surface element
// from the illumination and viewing geometry.
package reflectance

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrInvalidModel is returned for reflectance or slope selectors outside their
// enumeration.
var ErrInvalidModel = errors.New("invalid reflectance model")

// Law selects the reflectance function.
type Law int

const (
	None Law = iota
	Lambert
	LunarLambert
)

var lawNames = [...]string{"none", "lambert", "lunar-lambert"}

func (l Law) String() string {
	if l < 0 || int(l) >= len(lawNames) {
		return fmt.Sprintf("Law(%d)", int(l))
	}
	return lawNames[l]
}

// Validate reports ErrInvalidModel for values outside the enumeration.
func (l Law) Validate() error {
	if l < None || l > LunarLambert {
		return fmt.Errorf("%w: reflectance type %d", ErrInvalidModel, int(l))
	}
	return nil
}

// Geometry is the illumination and viewing configuration of one surface
// element. All positions share the body-centred frame and Normal is a unit
// outward vector.
type Geometry struct {
	Sun    r3.Vec
	Viewer r3.Vec
	Point  r3.Vec
	Normal r3.Vec
}

// Func evaluates one reflectance law.
type Func func(g Geometry) float64

var laws = [...]Func{
	None:         noReflectance,
	Lambert:      lambertian,
	LunarLambert: lunarLambertian,
}

// Compute returns the predicted brightness in [0, 1] under the given law.
func Compute(law Law, g Geometry) (float64, error) {
	if err := law.Validate(); err != nil {
		return 0, err
	}
	return laws[law](g), nil
}

// For returns the reflectance function for a validated law.
func For(law Law) (Func, error) {
	if err := law.Validate(); err != nil {
		return nil, err
	}
	return laws[law], nil
}

func noReflectance(Geometry) float64 { return 1 }

func lambertian(g Geometry) float64 {
	return math.Max(0, incidence(g))
}

// Lunar-Lambert blend coefficients of L(alpha), alpha in degrees.
const (
	lunarA = -0.019
	lunarB = 0.000242
	lunarC = -0.00000146
)

// BlendWeight is the Lommel-Seeliger share L(alpha) of the Lunar-Lambert law,
// clamped into [0, 1]. It is 1 at zero phase and reaches 0 near 103 degrees.
func BlendWeight(phaseDeg float64) float64 {
	a := phaseDeg
	l := 1 + lunarA*a + lunarB*a*a + lunarC*a*a*a
	return math.Min(1, math.Max(0, l))
}

func lunarLambertian(g Geometry) float64 {
	mu0 := incidence(g)
	if mu0 <= 0 {
		return 0
	}
	mu := emission(g)
	if mu <= 0 {
		return 0
	}
	l := BlendWeight(PhaseAngle(g) * 180 / math.Pi)
	r := (1-l)*mu0 + l*2*mu0/(mu0+mu)
	return math.Min(1, r)
}

// PhaseAngle returns the angle in radians between the directions from the
// surface point to the sun and to the viewer.
func PhaseAngle(g Geometry) float64 {
	s := r3.Sub(g.Sun, g.Point)
	v := r3.Sub(g.Viewer, g.Point)
	if r3.Norm2(s) == 0 || r3.Norm2(v) == 0 {
		return 0
	}
	c := r3.Cos(s, v)
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// incidence is the cosine of the sun incidence angle.
func incidence(g Geometry) float64 {
	return cosTo(g.Sun, g.Point, g.Normal)
}

// emission is the cosine of the viewing angle.
func emission(g Geometry) float64 {
	return cosTo(g.Viewer, g.Point, g.Normal)
}

func cosTo(target, point, normal r3.Vec) float64 {
	d := r3.Sub(target, point)
	if r3.Norm2(d) == 0 {
		return 0
	}
	c := r3.Dot(r3.Unit(d), normal)
	if math.IsNaN(c) {
		return 0
	}
	return c
}
