package template

import (
	"fmt"
	"math"
	"sort"

	"github.com/524D/mztemplate/internal/binning"
	"github.com/524D/mztemplate/internal/peaks"
)

// Project returns one value per template feature: the intensity of the
// nearest peak within the matching window, or 0 if there is none.
// pk must be sorted by mass.
func Project(pk []peaks.Peak, t Template) []float64 {
	row := make([]float64, len(t.Features))
	for i, f := range t.Features {
		if q, ok := nearestPeak(f.Mass, t.Window(f.Mass), pk); ok {
			row[i] = q.Intensity
		}
	}
	return row
}

// nearestPeak returns the peak closest to mass, if it lies within w.
// Equidistant peaks resolve to the more intense one.
func nearestPeak(mass, w float64, pk []peaks.Peak) (peaks.Peak, bool) {
	i := sort.Search(len(pk), func(i int) bool { return pk[i].Mass >= mass })
	best := -1
	bestD := math.Inf(1)
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(pk) {
			continue
		}
		d := math.Abs(pk[j].Mass - mass)
		if !binning.Within(d, w) {
			continue
		}
		if d < bestD || (d == bestD && pk[j].Intensity > pk[best].Intensity) {
			best, bestD = j, d
		}
	}
	if best < 0 {
		return peaks.Peak{}, false
	}
	return pk[best], true
}

// Row is the feature vector of one spectrum
type Row struct {
	SpectrumID string
	Group      string
	Values     []float64
}

// Matrix is a feature matrix. Every row has one value per feature.
type Matrix struct {
	Features []Feature
	Rows     []Row
}

// FeatureIDs returns the column names
func (m *Matrix) FeatureIDs() []string {
	ids := make([]string, len(m.Features))
	for i, f := range m.Features {
		ids[i] = f.ID
	}
	return ids
}

// Validate checks the row widths
func (m *Matrix) Validate() error {
	for _, r := range m.Rows {
		if len(r.Values) != len(m.Features) {
			return fmt.Errorf("row %s has %d values for %d features",
				r.SpectrumID, len(r.Values), len(m.Features))
		}
	}
	return nil
}

// GroupMeans returns one row per group holding the mean of the group's
// rows. Groups appear in order of first occurrence; SpectrumID is empty.
func (m *Matrix) GroupMeans() []Row {
	var order []string
	sums := make(map[string][]float64)
	counts := make(map[string]int)
	for _, r := range m.Rows {
		s, ok := sums[r.Group]
		if !ok {
			s = make([]float64, len(m.Features))
			sums[r.Group] = s
			order = append(order, r.Group)
		}
		for i, v := range r.Values {
			s[i] += v
		}
		counts[r.Group]++
	}
	means := make([]Row, len(order))
	for k, g := range order {
		s := sums[g]
		n := float64(counts[g])
		for i := range s {
			s[i] /= n
		}
		means[k] = Row{Group: g, Values: s}
	}
	return means
}
