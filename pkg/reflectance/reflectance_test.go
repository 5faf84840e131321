package reflectance

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// sunAt places a light source at the given elevation (degrees) and azimuth
// (degrees) far above the origin of a local frame with +Z up.
func sunAt(elevationDeg, azimuthDeg float64) r3.Vec {
	const dist = 1.5e11
	el := elevationDeg * math.Pi / 180
	az := azimuthDeg * math.Pi / 180
	return r3.Vec{
		X: dist * math.Cos(el) * math.Cos(az),
		Y: dist * math.Cos(el) * math.Sin(az),
		Z: dist * math.Sin(el),
	}
}

var up = r3.Vec{Z: 1}

func TestLawValidate(t *testing.T) {
	for _, l := range []Law{None, Lambert, LunarLambert} {
		if err := l.Validate(); err != nil {
			t.Errorf("Law %v should be valid, got %v", l, err)
		}
	}
	for _, l := range []Law{-1, 3, 42} {
		err := l.Validate()
		if !errors.Is(err, ErrInvalidModel) {
			t.Errorf("Law %d: expected ErrInvalidModel, got %v", int(l), err)
		}
		if _, err := Compute(l, Geometry{}); !errors.Is(err, ErrInvalidModel) {
			t.Errorf("Compute with law %d should fail with ErrInvalidModel", int(l))
		}
	}
}

func TestNoReflectanceIsConstant(t *testing.T) {
	for _, el := range []float64{-30, 0, 45, 90} {
		r, err := Compute(None, Geometry{Sun: sunAt(el, 0), Viewer: sunAt(80, 0), Normal: up})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r != 1 {
			t.Errorf("Expected constant 1 at elevation %f, got %f", el, r)
		}
	}
}

func TestLambertMatchesClampedDot(t *testing.T) {
	normals := []r3.Vec{
		up,
		r3.Unit(r3.Vec{X: 1, Z: 1}),
		r3.Unit(r3.Vec{X: -1, Y: 0.3, Z: 0.2}),
		r3.Unit(r3.Vec{Y: -1, Z: -0.1}),
	}
	for _, n := range normals {
		for el := -80.0; el <= 90; el += 10 {
			for az := 0.0; az < 360; az += 45 {
				sun := sunAt(el, az)
				g := Geometry{Sun: sun, Point: r3.Vec{}, Normal: n}
				r, err := Compute(Lambert, g)
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				want := math.Max(0, r3.Dot(r3.Unit(sun), n))
				if math.Abs(r-want) > 1e-12 {
					t.Errorf("el=%f az=%f n=%v: expected %f, got %f", el, az, n, want, r)
				}
				if r < 0 || r > 1 {
					t.Errorf("Lambert reflectance %f outside [0,1]", r)
				}
			}
		}
	}
}

func TestLunarLambertSelfShadow(t *testing.T) {
	g := Geometry{Sun: sunAt(-5, 0), Viewer: sunAt(70, 180), Normal: up}
	r, err := Compute(LunarLambert, g)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r != 0 {
		t.Errorf("Sun below the horizon should force zero, got %f", r)
	}
}

func TestLunarLambertRange(t *testing.T) {
	for el := 1.0; el <= 90; el += 7 {
		for vel := 1.0; vel <= 90; vel += 11 {
			for vaz := 0.0; vaz < 360; vaz += 60 {
				g := Geometry{Sun: sunAt(el, 0), Viewer: sunAt(vel, vaz), Normal: up}
				r, _ := Compute(LunarLambert, g)
				if r < 0 || r > 1 || math.IsNaN(r) {
					t.Fatalf("Reflectance %f outside [0,1] for sun el %f viewer (%f,%f)", r, el, vel, vaz)
				}
			}
		}
	}
}

// TestLunarLambertContinuousInPhase sweeps the viewer around so the phase angle
// changes in small steps and checks that no step produces a jump.
func TestLunarLambertContinuousInPhase(t *testing.T) {
	sun := sunAt(40, 0)
	prev := math.NaN()
	for az := 0.0; az <= 180; az += 0.25 {
		g := Geometry{Sun: sun, Viewer: sunAt(60, az), Normal: up}
		r, _ := Compute(LunarLambert, g)
		if !math.IsNaN(prev) && math.Abs(r-prev) > 0.01 {
			t.Errorf("Discontinuity at viewer azimuth %f: %f -> %f", az, prev, r)
		}
		prev = r
	}
}

func TestLunarLambertReducesToLambert(t *testing.T) {
	// Sun and viewer on opposite sides give a phase angle above 103 degrees,
	// where the blend weight is zero.
	g := Geometry{Sun: sunAt(30, 0), Viewer: sunAt(30, 180), Normal: r3.Unit(r3.Vec{X: 0.2, Z: 1})}
	phase := PhaseAngle(g) * 180 / math.Pi
	if BlendWeight(phase) != 0 {
		t.Fatalf("Expected zero blend weight at phase %f, got %f", phase, BlendWeight(phase))
	}
	lunar, _ := Compute(LunarLambert, g)
	lambert, _ := Compute(Lambert, g)
	if math.Abs(lunar-lambert) > 1e-12 {
		t.Errorf("Expected Lunar-Lambert %f to equal Lambert %f", lunar, lambert)
	}
}

func TestBlendWeight(t *testing.T) {
	if BlendWeight(0) != 1 {
		t.Errorf("Blend weight at zero phase should be 1, got %f", BlendWeight(0))
	}
	prev := BlendWeight(0)
	for a := 1.0; a <= 180; a++ {
		w := BlendWeight(a)
		if w < 0 || w > 1 {
			t.Fatalf("Blend weight %f out of range at %f", w, a)
		}
		if w > prev+1e-12 {
			t.Errorf("Blend weight should not increase: %f -> %f at %f", prev, w, a)
		}
		prev = w
	}
}

func TestPhaseAngle(t *testing.T) {
	g := Geometry{Sun: r3.Vec{X: 10}, Viewer: r3.Vec{Y: 10}}
	if got := PhaseAngle(g); math.Abs(got-math.Pi/2) > 1e-12 {
		t.Errorf("Expected pi/2, got %f", got)
	}
	if got := PhaseAngle(Geometry{Sun: r3.Vec{X: 1}, Viewer: r3.Vec{X: 5}}); got != 0 {
		t.Errorf("Expected zero phase, got %f", got)
	}
}
