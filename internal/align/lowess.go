package align

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// lowess returns the locally weighted linear fit of y against x at each x.
// x must be sorted. span is the fraction of points used in each local fit,
// iter the number of bisquare robustness iterations.
func lowess(x, y []float64, span float64, iter int) []float64 {
	n := len(x)
	fit := make([]float64, n)
	if n == 0 {
		return fit
	}
	r := int(math.Ceil(span * float64(n)))
	if r < 2 {
		r = 2
	}
	if r > n {
		r = n
	}
	robust := make([]float64, n)
	for i := range robust {
		robust[i] = 1
	}
	// Residuals at rounding level end the robustness iterations
	eps := 0.0
	for _, v := range y {
		eps = math.Max(eps, math.Abs(v))
	}
	eps *= 1e-9
	w := make([]float64, n)
	dist := make([]float64, n)
	resid := make([]float64, n)

	for it := 0; it <= iter; it++ {
		for i := 0; i < n; i++ {
			for j := range x {
				dist[j] = math.Abs(x[j] - x[i])
			}
			h := kthSmallest(dist, r)
			for j := range x {
				w[j] = robust[j] * tricube(dist[j], h)
			}
			fit[i] = localLinear(x, y, w, x[i], y[i])
		}
		if it == iter {
			break
		}
		for i := range y {
			resid[i] = math.Abs(y[i] - fit[i])
		}
		s := kthSmallest(resid, (n+1)/2)
		if s <= eps {
			break
		}
		for i := range robust {
			robust[i] = bisquare(resid[i] / (6 * s))
		}
	}
	return fit
}

// localLinear evaluates the weighted least squares line at x0. Degenerate
// fits fall back to the weighted mean, then to y0.
func localLinear(x, y, w []float64, x0, y0 float64) float64 {
	alpha, beta := stat.LinearRegression(x, y, w, false)
	v := alpha + beta*x0
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	v = stat.Mean(y, w)
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return y0
}

func tricube(d, h float64) float64 {
	if h <= 0 {
		if d == 0 {
			return 1
		}
		return 0
	}
	u := d / h
	if u >= 1 {
		return 0
	}
	t := 1 - u*u*u
	return t * t * t
}

func bisquare(u float64) float64 {
	if u >= 1 {
		return 0
	}
	t := 1 - u*u
	return t * t
}

// kthSmallest returns the k-th smallest value (1 based) of v
func kthSmallest(v []float64, k int) float64 {
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	if k > len(s) {
		k = len(s)
	}
	return s[k-1]
}
