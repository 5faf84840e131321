// Package smoothing low-pass filters bootstrap DEMs in the frequency domain.
package smoothing

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"lunarsfs/internal/models"
)

// GaussianLowPass returns a copy of g filtered with a separable Gaussian of
// standard deviation sigma (in cells). Each row and then each column is
// mirrored to twice its length, transformed with a real FFT, multiplied by the
// Gaussian transfer function and transformed back. NaN samples are replaced by
// their line mean while filtering and restored afterwards.
func GaussianLowPass(g models.Grid, sigma float64) models.Grid {
	out := g.Clone()
	if sigma <= 0 {
		return out
	}

	line := make([]float64, g.Width)
	fr := newLineFilter(g.Width, sigma)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			line[x] = out.At(x, y)
		}
		fr.apply(line)
		for x := 0; x < g.Width; x++ {
			out.Set(x, y, line[x])
		}
	}

	col := make([]float64, g.Height)
	fc := newLineFilter(g.Height, sigma)
	for x := 0; x < g.Width; x++ {
		for y := 0; y < g.Height; y++ {
			col[y] = out.At(x, y)
		}
		fc.apply(col)
		for y := 0; y < g.Height; y++ {
			out.Set(x, y, col[y])
		}
	}
	return out
}

// lineFilter holds the FFT plan and transfer function for one line length.
type lineFilter struct {
	n        int
	fft      *fourier.FFT
	transfer []float64
	ext      []float64
	coeff    []complex128
}

func newLineFilter(n int, sigma float64) *lineFilter {
	m := 2 * n
	fft := fourier.NewFFT(m)
	transfer := make([]float64, m/2+1)
	for k := range transfer {
		f := fft.Freq(k)
		transfer[k] = math.Exp(-2 * math.Pi * math.Pi * sigma * sigma * f * f)
	}
	return &lineFilter{
		n:        n,
		fft:      fft,
		transfer: transfer,
		ext:      make([]float64, m),
		coeff:    make([]complex128, m/2+1),
	}
}

func (f *lineFilter) apply(line []float64) {
	n := f.n
	if n < 2 {
		return
	}

	sum, count := 0.0, 0
	for _, v := range line {
		if !math.IsNaN(v) {
			sum += v
			count++
		}
	}
	if count == 0 {
		return
	}
	mean := sum / float64(count)

	// mirror extension removes the wrap-around seam of the periodic FFT
	for i := 0; i < n; i++ {
		v := line[i]
		if math.IsNaN(v) {
			v = mean
		}
		f.ext[i] = v
		f.ext[2*n-1-i] = v
	}

	f.fft.Coefficients(f.coeff, f.ext)
	for k := range f.coeff {
		f.coeff[k] *= complex(f.transfer[k], 0)
	}
	f.fft.Sequence(f.ext, f.coeff)

	scale := 1 / float64(2*n)
	for i := 0; i < n; i++ {
		if math.IsNaN(line[i]) {
			continue
		}
		line[i] = f.ext[i] * scale
	}
}
