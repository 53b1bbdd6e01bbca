// Package params defines the parameter set that is threaded through every
// processing stage and stored with the template artifact, so that
// validation batches are processed exactly like the training batch.
package params

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is returned by Validate
var ErrInvalidParams = errors.New("invalid parameters")

// Params is the complete parameter set of the pipeline
type Params struct {
	HalfWindowSize        int     // Half window (samples) for peak detection and smoothing
	SmoothingHalfWindow   int     // Smoothing half window, 0 uses HalfWindowSize
	SNR                   float64 // Minimum signal to noise ratio of a peak
	Tolerance             float64 // Matching window, in Da unless RelativeTolerance
	RelativeTolerance     bool    // Window is Tolerance*mass instead of Tolerance
	Iterations            int     // SNIP baseline iterations
	PolynomialOrder       int     // Savitzky-Golay polynomial order
	MinSamples            int     // Minimum number of samples in a raw spectrum
	MinSupport            float64 // Fraction of training spectra a template feature needs
	ReferenceMinFrequency float64 // Fraction of training spectra a reference peak needs
	MinAlignmentMatches   int     // Minimum peaks matched to the reference to fit a warp
	LowessSpan            float64 // Fraction of points in each local lowess fit
	LowessIterations      int     // Robustness iterations of lowess
	MassMin               float64 // Trim range, 0 is unbounded
	MassMax               float64
}

// Defaults returns the documented default parameter set
func Defaults() Params {
	return Params{
		HalfWindowSize:        90,
		SNR:                   2.0,
		Tolerance:             0.008,
		RelativeTolerance:     false,
		Iterations:            100,
		PolynomialOrder:       3,
		MinSamples:            10,
		MinSupport:            0.5,
		ReferenceMinFrequency: 0.9,
		MinAlignmentMatches:   3,
		LowessSpan:            2.0 / 3.0,
		LowessIterations:      3,
	}
}

// SmoothingWindow returns the Savitzky-Golay half window
func (p Params) SmoothingWindow() int {
	if p.SmoothingHalfWindow > 0 {
		return p.SmoothingHalfWindow
	}
	return p.HalfWindowSize
}

// Window returns the matching window around mass
func (p Params) Window(mass float64) float64 {
	if p.RelativeTolerance {
		return p.Tolerance * math.Abs(mass)
	}
	return p.Tolerance
}

// Validate checks that all parameters are usable
func (p Params) Validate() error {
	var problem string
	switch {
	case p.HalfWindowSize < 1:
		problem = "half window size must be at least 1"
	case p.SmoothingHalfWindow < 0:
		problem = "smoothing half window must not be negative"
	case !(p.SNR > 0):
		problem = "SNR threshold must be positive"
	case !(p.Tolerance > 0) || math.IsInf(p.Tolerance, 0):
		problem = "tolerance must be positive"
	case p.Iterations < 0:
		problem = "baseline iterations must not be negative"
	case p.PolynomialOrder < 0:
		problem = "polynomial order must not be negative"
	case p.MinSamples < 1:
		problem = "minimum sample count must be at least 1"
	case !(p.MinSupport > 0 && p.MinSupport <= 1):
		problem = "minimum support must be in (0,1]"
	case !(p.ReferenceMinFrequency > 0 && p.ReferenceMinFrequency <= 1):
		problem = "reference minimum frequency must be in (0,1]"
	case p.MinAlignmentMatches < 2:
		problem = "at least 2 alignment matches are needed"
	case !(p.LowessSpan > 0 && p.LowessSpan <= 1):
		problem = "lowess span must be in (0,1]"
	case p.LowessIterations < 0:
		problem = "lowess iterations must not be negative"
	case p.MassMin < 0 || p.MassMax < 0:
		problem = "mass range must not be negative"
	case p.MassMax != 0 && p.MassMax <= p.MassMin:
		problem = "mass range maximum must exceed minimum"
	}
	if problem != "" {
		return fmt.Errorf("%w: %s", ErrInvalidParams, problem)
	}
	return nil
}

// Equal reports whether two parameter sets produce identical processing
func (p Params) Equal(q Params) bool {
	return p == q
}

// Diff lists the names of the fields that differ between p and q
func (p Params) Diff(q Params) []string {
	var d []string
	add := func(name string, differ bool) {
		if differ {
			d = append(d, name)
		}
	}
	add("HalfWindowSize", p.HalfWindowSize != q.HalfWindowSize)
	add("SmoothingHalfWindow", p.SmoothingHalfWindow != q.SmoothingHalfWindow)
	add("SNR", p.SNR != q.SNR)
	add("Tolerance", p.Tolerance != q.Tolerance)
	add("RelativeTolerance", p.RelativeTolerance != q.RelativeTolerance)
	add("Iterations", p.Iterations != q.Iterations)
	add("PolynomialOrder", p.PolynomialOrder != q.PolynomialOrder)
	add("MinSamples", p.MinSamples != q.MinSamples)
	add("MinSupport", p.MinSupport != q.MinSupport)
	add("ReferenceMinFrequency", p.ReferenceMinFrequency != q.ReferenceMinFrequency)
	add("MinAlignmentMatches", p.MinAlignmentMatches != q.MinAlignmentMatches)
	add("LowessSpan", p.LowessSpan != q.LowessSpan)
	add("LowessIterations", p.LowessIterations != q.LowessIterations)
	add("MassMin", p.MassMin != q.MassMin)
	add("MassMax", p.MassMax != q.MassMax)
	return d
}

// Table returns the parameters as name/value pairs, in a fixed order,
// for the parameter CSV that accompanies a template.
func (p Params) Table() [][2]string {
	return [][2]string{
		{"halfWindowSize", fmt.Sprint(p.HalfWindowSize)},
		{"SNR", fmt.Sprint(p.SNR)},
		{"smoothingHalfWindowSize", fmt.Sprint(p.SmoothingWindow())},
		{"tolerance", fmt.Sprint(p.Tolerance)},
		{"relativeTolerance", fmt.Sprint(p.RelativeTolerance)},
		{"iterations", fmt.Sprint(p.Iterations)},
		{"polynomialOrder", fmt.Sprint(p.PolynomialOrder)},
		{"minSamples", fmt.Sprint(p.MinSamples)},
		{"minSupport", fmt.Sprint(p.MinSupport)},
		{"referenceMinFrequency", fmt.Sprint(p.ReferenceMinFrequency)},
		{"minAlignmentMatches", fmt.Sprint(p.MinAlignmentMatches)},
		{"lowessSpan", fmt.Sprint(p.LowessSpan)},
		{"lowessIterations", fmt.Sprint(p.LowessIterations)},
		{"massMin", fmt.Sprint(p.MassMin)},
		{"massMax", fmt.Sprint(p.MassMax)},
	}
}
