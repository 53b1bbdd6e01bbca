// Package normalize implements the fixed preprocessing chain that is run
// on every spectrum: variance stabilization, Savitzky-Golay smoothing,
// SNIP baseline removal and TIC calibration. Every stage returns a new
// intensity slice; the mass axis is never touched.
package normalize

import (
	"fmt"
	"math"

	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/spectrum"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Sqrt returns the square root of the intensities. Negative and NaN values
// are clamped to 0.
func Sqrt(y []float64) []float64 {
	out := make([]float64, len(y))
	for i, v := range y {
		if v > 0 {
			out[i] = math.Sqrt(v)
		}
	}
	return out
}

// savGolMatrix returns the (2hw+1)x(2hw+1) projection matrix onto
// polynomials of the given order. Row hw holds the smoothing coefficients
// for the window centre, the other rows evaluate the fit at off-centre
// positions and are used at the spectrum edges.
func savGolMatrix(hw, order int) *mat.Dense {
	m := 2*hw + 1
	j := mat.NewDense(m, order+1, nil)
	for i := 0; i < m; i++ {
		// Scale to [-1,1]; the projection does not depend on it
		t := float64(i-hw) / float64(hw)
		v := 1.0
		for k := 0; k <= order; k++ {
			j.Set(i, k, v)
			v *= t
		}
	}
	var qr mat.QR
	qr.Factorize(j)
	var q mat.Dense
	qr.QTo(&q)
	q1 := q.Slice(0, m, 0, order+1)
	var h mat.Dense
	h.Mul(q1, q1.T())
	return &h
}

// SavitzkyGolay smooths y with a moving polynomial fit of the given order
// over 2*halfWindow+1 samples. The half window shrinks for short input and
// the order is reduced to fit the window. No samples are dropped.
func SavitzkyGolay(y []float64, halfWindow, order int) []float64 {
	n := len(y)
	out := make([]float64, n)
	copy(out, y)
	hw := halfWindow
	if hw > (n-1)/2 {
		hw = (n - 1) / 2
	}
	if hw < 1 {
		return out
	}
	if order > 2*hw {
		order = 2 * hw
	}
	if order < 0 {
		order = 0
	}
	h := savGolMatrix(hw, order)
	w := 2*hw + 1

	apply := func(row, start int) float64 {
		var s float64
		for k := 0; k < w; k++ {
			s += h.At(row, k) * y[start+k]
		}
		return s
	}
	for i := 0; i < hw; i++ {
		out[i] = apply(i, 0)
	}
	for i := hw; i < n-hw; i++ {
		out[i] = apply(hw, i-hw)
	}
	last := n - w
	for i := n - hw; i < n; i++ {
		out[i] = apply(i-last, last)
	}
	return out
}

// Baseline estimates the background of y with the SNIP algorithm, using
// clipping windows from iterations down to 1.
func Baseline(y []float64, iterations int) []float64 {
	n := len(y)
	b := make([]float64, n)
	copy(b, y)
	d := make([]float64, n)
	for k := iterations; k >= 1; k-- {
		if 2*k >= n {
			continue
		}
		copy(d, b)
		for i := k; i < n-k; i++ {
			a := (b[i-k] + b[i+k]) / 2
			if a < b[i] {
				d[i] = a
			}
		}
		copy(b, d)
	}
	return b
}

// RemoveBaseline subtracts the SNIP baseline from y. Negative results are
// floored to 0.
func RemoveBaseline(y []float64, iterations int) []float64 {
	b := Baseline(y, iterations)
	out := make([]float64, len(y))
	for i := range y {
		if v := y[i] - b[i]; v > 0 {
			out[i] = v
		}
	}
	return out
}

// TIC returns the total ion current (sum of intensities)
func TIC(y []float64) float64 {
	return floats.Sum(y)
}

// UnitTIC scales y to a total intensity of 1. It returns the scaled copy
// and the TIC that was divided out.
func UnitTIC(y []float64) ([]float64, float64, error) {
	tic := TIC(y)
	if !(tic > 0) || math.IsInf(tic, 0) {
		return nil, tic, fmt.Errorf("%w: total intensity is %v", spectrum.ErrMalformedSpectrum, tic)
	}
	out := make([]float64, len(y))
	floats.ScaleTo(out, 1/tic, y)
	return out, tic, nil
}

// Rescale multiplies the intensities by scale. Training and validation
// both use it to apply the batch calibration constant.
func Rescale(y []float64, scale float64) []float64 {
	out := make([]float64, len(y))
	floats.ScaleTo(out, scale, y)
	return out
}

// Process runs the preprocessing chain up to and including unit-TIC
// calibration. It returns the normalized spectrum and the TIC of the
// baseline-corrected trace, from which training derives the batch scale.
func Process(s spectrum.Spectrum, p params.Params) (spectrum.Spectrum, float64, error) {
	y := Sqrt(s.Intensity)
	y = SavitzkyGolay(y, p.SmoothingWindow(), p.PolynomialOrder)
	y = RemoveBaseline(y, p.Iterations)
	u, tic, err := UnitTIC(y)
	if err != nil {
		return spectrum.Spectrum{}, 0, fmt.Errorf("spectrum %s: %w", s.ID, err)
	}
	return s.WithIntensity(u), tic, nil
}
