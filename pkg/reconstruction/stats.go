package reconstruction

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"lunarsfs/pkg/weights"
)

// IterationStats summarises the brightness residuals after one iteration.
// They are diagnostics only and never feed back into the updates.
type IterationStats struct {
	Iteration       int           `yaml:"iteration"`
	WeightedRMS     float64       `yaml:"weightedRMS"`
	MeanAbsResidual float64       `yaml:"meanAbsResidual"`
	Observations    int           `yaml:"observations"`
	MaxRelChange    float64       `yaml:"maxRelChange"`
	Duration        time.Duration `yaml:"duration"`
}

// residuals collects observed-minus-predicted brightness with its weight for
// every contributing observation at the current state.
func (s *Session) residuals() (res, w []float64, samples []weights.Sample) {
	rows := s.terrain.Rows()
	perRow := make([]struct {
		res, w  []float64
		samples []weights.Sample
	}, rows)

	albedo := s.terrain.Albedo
	s.parallel(rows, func(lo, hi int) {
		for row := lo; row < hi; row++ {
			acc := &perRow[row]
			for col := 0; col < albedo.Width; col++ {
				idx := albedo.Index(col, row)
				for _, k := range s.cont[idx] {
					I, _ := s.observation(k, col, row)
					pred := s.images[k].Exposure * albedo.Data[idx] * s.predict(k, idx)
					acc.res = append(acc.res, I-pred)
					acc.w = append(acc.w, s.observationWeight(k, col, row, I, pred))
					acc.samples = append(acc.samples, weights.Sample{Observed: I, Predicted: pred})
				}
			}
		}
	})

	for _, r := range perRow {
		res = append(res, r.res...)
		w = append(w, r.w...)
		samples = append(samples, r.samples...)
	}
	return res, w, samples
}

func (s *Session) computeStats() IterationStats {
	res, w, _ := s.residuals()
	st := IterationStats{Observations: len(res)}
	if len(res) == 0 {
		return st
	}
	sq := make([]float64, len(res))
	abs := make([]float64, len(res))
	for i, r := range res {
		sq[i] = r * r
		abs[i] = math.Abs(r)
	}
	if floats.Sum(w) > 0 {
		st.WeightedRMS = math.Sqrt(stat.Mean(sq, w))
	}
	st.MeanAbsResidual = stat.Mean(abs, nil)
	return st
}

// Samples returns an observed/predicted pair for every contributing
// observation at the current state, suitable for weights.Calibrate.
func (s *Session) Samples() ([]weights.Sample, error) {
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	s.refreshGeometry()
	_, _, samples := s.residuals()
	return samples, nil
}
