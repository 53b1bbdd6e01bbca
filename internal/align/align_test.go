package align

import (
	"errors"
	"testing"

	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/peaks"
	"github.com/524D/mztemplate/internal/spectrum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() params.Params {
	p := params.Defaults()
	p.Tolerance = 1.0
	return p
}

func peakList(masses ...float64) []peaks.Peak {
	pk := make([]peaks.Peak, len(masses))
	for i, m := range masses {
		pk[i] = peaks.Peak{Mass: m, Intensity: 1, SNR: 10}
	}
	return pk
}

func TestNewReference(t *testing.T) {
	var lists [][]peaks.Peak
	for i := 0; i < 10; i++ {
		d := 0.0625 * float64(i%2)
		masses := []float64{1000 + d, 2000 - d}
		if i < 5 {
			masses = append(masses, 3000)
		}
		lists = append(lists, peakList(masses...))
	}
	ref := NewReference(lists, testParams())

	require.Equal(t, 2, ref.Len())
	assert.InDelta(t, 1000.03125, ref.Masses[0], 1e-12)
	assert.InDelta(t, 1999.96875, ref.Masses[1], 1e-12)
}

func TestMatchesOneToOne(t *testing.T) {
	ref := Reference{Masses: []float64{1000, 2000}}
	m := Matches(peakList(999.5, 1000.25, 1500, 2000.5), ref, testParams())

	require.Len(t, m, 2)
	assert.Equal(t, Match{Mass: 1000.25, Reference: 1000}, m[0])
	assert.Equal(t, Match{Mass: 2000.5, Reference: 2000}, m[1])
}

func TestFitConstantShift(t *testing.T) {
	ref := Reference{Masses: []float64{1000, 2000, 3000, 4000, 5000}}
	pk := peakList(1000.5, 2000.5, 3000.5, 4000.5, 5000.5)

	w, err := Fit(pk, ref, testParams())
	require.NoError(t, err)
	for _, m := range []float64{500, 1000.5, 2500, 5000.5, 9000} {
		assert.InDelta(t, m-0.5, w.Map(m), 1e-9, "mass %v", m)
	}
}

func TestFitLinearDrift(t *testing.T) {
	var refMasses, measured []float64
	for k := 1; k <= 10; k++ {
		r := 1000 * float64(k)
		refMasses = append(refMasses, r)
		measured = append(measured, r*(1-1e-5)-0.1)
	}
	w, err := Fit(peakList(measured...), Reference{Masses: refMasses}, testParams())
	require.NoError(t, err)
	for k, m := range measured {
		assert.InDelta(t, refMasses[k], w.Map(m), 1e-6)
	}
}

func TestFitTooFewMatches(t *testing.T) {
	ref := Reference{Masses: []float64{1000, 2000, 3000}}
	_, err := Fit(peakList(1000.2, 2500), ref, testParams())
	assert.True(t, errors.Is(err, ErrAlignmentFailed))

	_, err = Fit(nil, Reference{}, testParams())
	assert.True(t, errors.Is(err, ErrAlignmentFailed))
}

func TestApply(t *testing.T) {
	s := spectrum.Spectrum{ID: "x", Mass: []float64{999, 1000, 1001, 1002}, Intensity: []float64{1, 2, 3, 4}}
	w := Warp{Mass: []float64{1000, 1002}, Shift: []float64{-0.5, 0.5}}

	got, err := w.Apply(s)
	require.NoError(t, err)
	assert.Equal(t, []float64{998.5, 999.5, 1001, 1002.5}, got.Mass)
	assert.Equal(t, s.Intensity, got.Intensity)
	assert.IsIncreasing(t, got.Mass)
	assert.Equal(t, []float64{999, 1000, 1001, 1002}, s.Mass)
}

func TestApplyRejectsFold(t *testing.T) {
	s := spectrum.Spectrum{Mass: []float64{1000, 1000.5, 1001}, Intensity: []float64{1, 1, 1}}
	w := Warp{Mass: []float64{1000, 1001}, Shift: []float64{5, 0}}

	got, err := w.Apply(s)
	assert.True(t, errors.Is(err, ErrAlignmentFailed))
	assert.Equal(t, s.Mass, got.Mass)
}

func TestIdentityWarp(t *testing.T) {
	var w Warp
	assert.Equal(t, 1234.5, w.Map(1234.5))

	in := peakList(2, 1)
	out := w.ApplyPeaks(in)
	assert.Equal(t, []float64{1, 2}, peaks.Masses(out))
	assert.Equal(t, []float64{2, 1}, peaks.Masses(in))
}

func TestLowessLine(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 3 - 0.5*v
	}
	y[4] += 10 // outlier
	fit := lowess(x, y, 2.0/3.0, 3)
	for i := range x {
		if i == 4 {
			continue
		}
		assert.InDelta(t, 3-0.5*x[i], fit[i], 1e-6, "point %d", i)
	}
}
