// Package peaks detects local maxima with a noise-adaptive SNR threshold.
package peaks

import (
	"math"
	"sort"

	"github.com/524D/mztemplate/internal/spectrum"
)

// madConstant makes the MAD a consistent estimator of the standard
// deviation for normally distributed noise
const madConstant = 1.4826

// Peak is a detected peak. Peaks are values; operations that move or
// rescale them return new slices.
type Peak struct {
	Mass      float64
	Intensity float64
	SNR       float64
}

// Detect returns the peaks of s sorted by mass. A sample is a peak when
// it is the strict maximum of the samples within halfWindow on both sides
// and its intensity divided by the local MAD noise is at least snr.
// Windows are truncated at the spectrum edges.
func Detect(s spectrum.Spectrum, halfWindow int, snr float64) []Peak {
	y := s.Intensity
	n := len(y)
	if halfWindow < 1 {
		halfWindow = 1
	}
	var cand []int
	for i := 0; i < n; i++ {
		if !(y[i] > 0) {
			continue
		}
		lo, hi := window(i, halfWindow, n)
		if !isStrictMax(y, i, lo, hi) {
			continue
		}
		cand = append(cand, i)
	}

	buf := make([]float64, 0, 2*halfWindow+1)
	peaks := make([]Peak, 0, len(cand))
	idx := make([]int, 0, len(cand))
	for _, i := range cand {
		lo, hi := window(i, halfWindow, n)
		noise := mad(y[lo:hi], buf)
		ratio := math.Inf(1)
		if noise > 0 {
			ratio = y[i] / noise
		}
		if ratio < snr {
			continue
		}
		// Keep the most intense of candidates closer than the half window
		if k := len(idx) - 1; k >= 0 && i-idx[k] <= halfWindow {
			if y[i] > peaks[k].Intensity {
				peaks[k] = Peak{Mass: s.Mass[i], Intensity: y[i], SNR: ratio}
				idx[k] = i
			}
			continue
		}
		peaks = append(peaks, Peak{Mass: s.Mass[i], Intensity: y[i], SNR: ratio})
		idx = append(idx, i)
	}
	return peaks
}

// window returns the truncated [lo,hi) window around i
func window(i, hw, n int) (int, int) {
	lo := i - hw
	if lo < 0 {
		lo = 0
	}
	hi := i + hw + 1
	if hi > n {
		hi = n
	}
	return lo, hi
}

func isStrictMax(y []float64, i, lo, hi int) bool {
	for j := lo; j < hi; j++ {
		if j != i && y[j] >= y[i] {
			return false
		}
	}
	return true
}

// mad returns the scaled median absolute deviation of x. buf is scratch
// space.
func mad(x []float64, buf []float64) float64 {
	buf = append(buf[:0], x...)
	m := median(buf)
	for i, v := range buf {
		buf[i] = math.Abs(v - m)
	}
	return madConstant * median(buf)
}

// median sorts x in place and returns its median
func median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	sort.Float64s(x)
	if n%2 == 1 {
		return x[n/2]
	}
	return (x[n/2-1] + x[n/2]) / 2
}

// Scale returns copies of the peaks with intensities multiplied by k
func Scale(peaks []Peak, k float64) []Peak {
	out := make([]Peak, len(peaks))
	for i, p := range peaks {
		p.Intensity *= k
		out[i] = p
	}
	return out
}

// Masses returns the peak masses
func Masses(peaks []Peak) []float64 {
	m := make([]float64, len(peaks))
	for i, p := range peaks {
		m[i] = p.Mass
	}
	return m
}
