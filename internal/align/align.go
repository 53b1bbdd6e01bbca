// Package align corrects mass axis drift by warping each spectrum onto a
// reference axis of consensus peak masses.
package align

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/524D/mztemplate/internal/binning"
	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/peaks"
	"github.com/524D/mztemplate/internal/spectrum"
)

// ErrAlignmentFailed is returned when no usable warp can be fitted
var ErrAlignmentFailed = errors.New("alignment failed")

// Reference is the sorted list of consensus peak masses of the training
// batch. It is computed once and stored with the template.
type Reference struct {
	Masses []float64
}

// NewReference returns the bin means of the peaks that occur in at least
// ReferenceMinFrequency of the peak lists.
func NewReference(peakLists [][]peaks.Peak, p params.Params) Reference {
	lists := make([][]float64, len(peakLists))
	for i, pk := range peakLists {
		lists[i] = peaks.Masses(pk)
	}
	bins := binning.Cluster(lists, p.Window)
	bins = binning.Filter(bins, binning.MinCount(p.ReferenceMinFrequency, len(peakLists)))
	ref := Reference{Masses: make([]float64, len(bins))}
	for i, b := range bins {
		ref.Masses[i] = b.Mass
	}
	return ref
}

// Len returns the number of reference masses
func (r Reference) Len() int {
	return len(r.Masses)
}

// Match is a peak paired with a reference mass
type Match struct {
	Mass      float64
	Reference float64
}

// Matches pairs peaks with reference masses one to one. Pairs are taken
// closest first; both sides must be within the matching window.
func Matches(pk []peaks.Peak, ref Reference, p params.Params) []Match {
	type pair struct {
		i, j int
		d    float64
	}
	var pairs []pair
	for i, q := range pk {
		lo := sort.SearchFloat64s(ref.Masses, q.Mass-p.Window(q.Mass)*2)
		for j := lo; j < len(ref.Masses); j++ {
			r := ref.Masses[j]
			d := math.Abs(r - q.Mass)
			if r > q.Mass && !binning.Within(d, p.Window(r)) {
				break
			}
			if binning.Within(d, p.Window(r)) {
				pairs = append(pairs, pair{i: i, j: j, d: d})
			}
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].d < pairs[b].d })

	usedPeak := make(map[int]bool)
	usedRef := make(map[int]bool)
	var m []Match
	for _, pr := range pairs {
		if usedPeak[pr.i] || usedRef[pr.j] {
			continue
		}
		usedPeak[pr.i] = true
		usedRef[pr.j] = true
		m = append(m, Match{Mass: pk[pr.i].Mass, Reference: ref.Masses[pr.j]})
	}
	sort.Slice(m, func(a, b int) bool { return m[a].Mass < m[b].Mass })
	return m
}

// Warp maps measured masses to reference coordinates. The zero Warp is
// the identity.
type Warp struct {
	Mass  []float64 // Knots, ascending
	Shift []float64 // Fitted correction at each knot
}

// Fit estimates the warp for a peak list with a lowess smoother of the
// mass error (reference minus measured) against mass.
func Fit(pk []peaks.Peak, ref Reference, p params.Params) (Warp, error) {
	m := Matches(pk, ref, p)
	if len(m) < p.MinAlignmentMatches {
		return Warp{}, fmt.Errorf("%w: %d peaks matched the reference, need %d",
			ErrAlignmentFailed, len(m), p.MinAlignmentMatches)
	}
	x := make([]float64, len(m))
	y := make([]float64, len(m))
	for i, mm := range m {
		x[i] = mm.Mass
		y[i] = mm.Reference - mm.Mass
	}
	fit := lowess(x, y, p.LowessSpan, p.LowessIterations)
	for _, v := range fit {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Warp{}, fmt.Errorf("%w: lowess fit diverged", ErrAlignmentFailed)
		}
	}
	return Warp{Mass: x, Shift: fit}, nil
}

// shift returns the interpolated correction at mass, held constant beyond
// the outer knots
func (w Warp) shift(mass float64) float64 {
	n := len(w.Mass)
	if n == 0 {
		return 0
	}
	if mass <= w.Mass[0] {
		return w.Shift[0]
	}
	if mass >= w.Mass[n-1] {
		return w.Shift[n-1]
	}
	i := sort.SearchFloat64s(w.Mass, mass)
	if w.Mass[i] == mass {
		return w.Shift[i]
	}
	x0, x1 := w.Mass[i-1], w.Mass[i]
	f := (mass - x0) / (x1 - x0)
	return w.Shift[i-1] + f*(w.Shift[i]-w.Shift[i-1])
}

// Map returns the warped mass
func (w Warp) Map(mass float64) float64 {
	return mass + w.shift(mass)
}

// Apply returns a copy of s on the warped mass axis. A warp that would
// make the axis non-increasing is rejected.
func (w Warp) Apply(s spectrum.Spectrum) (spectrum.Spectrum, error) {
	mass := make([]float64, len(s.Mass))
	for i, m := range s.Mass {
		mass[i] = w.Map(m)
		if i > 0 && !(mass[i] > mass[i-1]) {
			return s, fmt.Errorf("%w: warped mass axis not increasing at sample %d",
				ErrAlignmentFailed, i)
		}
	}
	return s.WithMass(mass), nil
}

// ApplyPeaks returns new peaks with warped masses, in mass order
func (w Warp) ApplyPeaks(pk []peaks.Peak) []peaks.Peak {
	out := make([]peaks.Peak, len(pk))
	for i, q := range pk {
		q.Mass = w.Map(q.Mass)
		out[i] = q
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Mass < out[b].Mass })
	return out
}
