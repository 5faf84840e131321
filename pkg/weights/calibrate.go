package weights

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Sample pairs an observed brightness with the brightness predicted for it.
type Sample struct {
	Observed  float64
	Predicted float64
}

// Calibrate derives a table from residual samples. For every predicted bucket
// the spread of the observed buckets gives a Gaussian weight surface
// exp(-(o-p)^2 / 2 sigma_p^2); buckets with too few samples use the global
// spread. Brightness is quantized over [0, maxValue].
func Calibrate(samples []Sample, maxValue float64) *Table {
	t := &Table{maxValue: 1}
	if maxValue > 0 {
		t.maxValue = maxValue
	}
	if len(samples) == 0 {
		for i := range t.entries {
			t.entries[i] = 255
		}
		return t
	}

	perBucket := make([][]float64, DynamicRange)
	all := make([]float64, 0, len(samples))
	for _, s := range samples {
		o := Quantize(s.Observed, t.maxValue)
		p := Quantize(s.Predicted, t.maxValue)
		d := float64(o - p)
		perBucket[p] = append(perBucket[p], d)
		all = append(all, d)
	}

	globalSigma := spread(all)
	minCount := SignificanceLevel * float64(len(samples)) / DynamicRange

	for p := 0; p < DynamicRange; p++ {
		sigma := globalSigma
		if float64(len(perBucket[p])) >= minCount && len(perBucket[p]) > 1 {
			sigma = spread(perBucket[p])
		}
		for o := 0; o < DynamicRange; o++ {
			d := float64(o - p)
			w := math.Exp(-d * d / (2 * sigma * sigma))
			t.entries[o*DynamicRange+p] = uint8(math.Round(w * 255))
		}
	}
	return t
}

// spread is the standard deviation of bucket differences about zero, floored
// at one bucket.
func spread(d []float64) float64 {
	if len(d) == 0 {
		return 1
	}
	sq := make([]float64, len(d))
	for i, v := range d {
		sq[i] = v * v
	}
	s := math.Sqrt(stat.Mean(sq, nil))
	return math.Max(1, s)
}
