// Package template builds the fixed set of feature positions from a
// training batch, projects peak lists onto it, and (de)serializes the
// template artifact shared between training and validation.
package template

import (
	"errors"
	"fmt"
	"math"

	"github.com/524D/mztemplate/internal/binning"
	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/peaks"
)

var (
	// ErrTemplateEmpty is returned when no cluster reaches the minimum support
	ErrTemplateEmpty = errors.New("template is empty")
	// ErrTemplateMismatch is returned when a validation run uses parameters
	// or a template that differ from the artifact
	ErrTemplateMismatch = errors.New("template mismatch")
	// ErrInvalidArtifact is returned for artifacts that cannot be used
	ErrInvalidArtifact = errors.New("invalid template artifact")
)

// Feature is one template position, i.e. one feature matrix column
type Feature struct {
	ID      string
	Mass    float64
	Support int // Training spectra with a peak in this feature
}

// Template is the ordered set of feature positions with the window used
// to match peaks against them
type Template struct {
	Features          []Feature
	Tolerance         float64
	RelativeTolerance bool
}

// Len returns the number of features
func (t Template) Len() int {
	return len(t.Features)
}

// Window returns the matching window around mass
func (t Template) Window(mass float64) float64 {
	if t.RelativeTolerance {
		return t.Tolerance * math.Abs(mass)
	}
	return t.Tolerance
}

// Masses returns the feature positions
func (t Template) Masses() []float64 {
	m := make([]float64, len(t.Features))
	for i, f := range t.Features {
		m[i] = f.Mass
	}
	return m
}

// Build clusters the pooled peak masses of all spectra and keeps the
// clusters supported by at least MinSupport of the spectra.
func Build(peakLists [][]peaks.Peak, p params.Params) (Template, error) {
	lists := make([][]float64, len(peakLists))
	for i, pk := range peakLists {
		lists[i] = peaks.Masses(pk)
	}
	minSupport := binning.MinCount(p.MinSupport, len(peakLists))
	bins := binning.Filter(binning.Cluster(lists, p.Window), minSupport)
	if len(bins) == 0 {
		return Template{}, fmt.Errorf("%w: no peak cluster found in at least %d of %d spectra",
			ErrTemplateEmpty, minSupport, len(peakLists))
	}

	t := Template{
		Features:          make([]Feature, len(bins)),
		Tolerance:         p.Tolerance,
		RelativeTolerance: p.RelativeTolerance,
	}
	ids := make(map[string]int)
	for i, b := range bins {
		t.Features[i] = Feature{ID: featureID(b.Mass, ids), Mass: b.Mass, Support: b.Support}
	}
	return t, nil
}

// featureID returns mz_<rounded mass>, with a numeric suffix when the
// rounded mass was used before
func featureID(mass float64, used map[string]int) string {
	id := fmt.Sprintf("mz_%d", int64(math.Round(mass)))
	used[id]++
	if n := used[id]; n > 1 {
		return fmt.Sprintf("%s_%d", id, n)
	}
	return id
}

// Validate checks that features are finite, ascending, at least one window
// apart and uniquely named.
func (t Template) Validate() error {
	if !(t.Tolerance > 0) || math.IsInf(t.Tolerance, 0) {
		return fmt.Errorf("%w: tolerance %v", ErrInvalidArtifact, t.Tolerance)
	}
	if len(t.Features) == 0 {
		return ErrTemplateEmpty
	}
	ids := make(map[string]bool, len(t.Features))
	for i, f := range t.Features {
		if math.IsNaN(f.Mass) || math.IsInf(f.Mass, 0) {
			return fmt.Errorf("%w: feature %d has invalid mass", ErrInvalidArtifact, i)
		}
		if f.ID == "" || ids[f.ID] {
			return fmt.Errorf("%w: feature %d has empty or duplicate ID %q", ErrInvalidArtifact, i, f.ID)
		}
		ids[f.ID] = true
		if i > 0 {
			prev := t.Features[i-1].Mass
			if !binning.Apart(f.Mass-prev, t.Window(prev)) {
				return fmt.Errorf("%w: features %s and %s are closer than the matching window",
					ErrInvalidArtifact, t.Features[i-1].ID, f.ID)
			}
		}
	}
	return nil
}
