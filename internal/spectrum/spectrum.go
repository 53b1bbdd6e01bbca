// Package spectrum holds the raw mass/intensity trace of a single sample
// together with its identity and (for training) its group label.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrMalformedSpectrum is returned for traces that are too short, have a
// non-monotonic or non-finite mass axis, or cannot be normalized.
var ErrMalformedSpectrum = errors.New("malformed spectrum")

// Spectrum is one mass/intensity trace. Mass must be strictly increasing.
// Normalization stages replace Intensity; ID, Group and Mass persist.
type Spectrum struct {
	ID        string // Source file name (or file#scanID for mzML input)
	Group     string // Group label, training only
	Mass      []float64
	Intensity []float64
	Err       error // Read error, the trace is empty when set
}

// Len returns the number of samples
func (s *Spectrum) Len() int {
	return len(s.Mass)
}

// Validate checks the raw trace. All failures wrap ErrMalformedSpectrum.
func (s *Spectrum) Validate(minSamples int) error {
	if s.Err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSpectrum, s.Err)
	}
	if len(s.Mass) != len(s.Intensity) {
		return fmt.Errorf("%w: %d masses but %d intensities",
			ErrMalformedSpectrum, len(s.Mass), len(s.Intensity))
	}
	if len(s.Mass) < minSamples {
		return fmt.Errorf("%w: %d samples, need at least %d",
			ErrMalformedSpectrum, len(s.Mass), minSamples)
	}
	for i, m := range s.Mass {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: sample %d has invalid mass", ErrMalformedSpectrum, i)
		}
		if i > 0 && m <= s.Mass[i-1] {
			return fmt.Errorf("%w: mass axis not strictly increasing at sample %d",
				ErrMalformedSpectrum, i)
		}
	}
	for i, y := range s.Intensity {
		// Negative and NaN readings are clamped later, an infinite one can't be
		if math.IsInf(y, 1) {
			return fmt.Errorf("%w: sample %d has infinite intensity", ErrMalformedSpectrum, i)
		}
	}
	return nil
}

// WithIntensity returns a copy of s that shares the mass axis but carries
// the given intensities.
func (s Spectrum) WithIntensity(intensity []float64) Spectrum {
	s.Intensity = intensity
	return s
}

// WithMass returns a copy of s with a new mass axis.
func (s Spectrum) WithMass(mass []float64) Spectrum {
	s.Mass = mass
	return s
}

// Trim returns the part of the spectrum with min <= mass <= max.
// A zero bound is unbounded. The mass axis must be sorted.
func (s Spectrum) Trim(min, max float64) Spectrum {
	if min == 0 && max == 0 {
		return s
	}
	i1 := 0
	if min != 0 {
		i1 = sort.SearchFloat64s(s.Mass, min)
	}
	i2 := len(s.Mass)
	if max != 0 {
		i2 = sort.Search(len(s.Mass), func(i int) bool { return s.Mass[i] > max })
	}
	if i2 < i1 {
		i2 = i1
	}
	s.Mass = s.Mass[i1:i2]
	if len(s.Intensity) >= i2 {
		s.Intensity = s.Intensity[i1:i2]
	}
	return s
}
