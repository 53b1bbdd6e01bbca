package template

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/524D/mztemplate/internal/align"
	"github.com/524D/mztemplate/internal/params"
)

// FormatVersion is the artifact format written by this version
const FormatVersion = 1

// Artifact is everything a validation run needs to reproduce the
// processing of the training run
type Artifact struct {
	FormatVersion    int
	Params           params.Params
	Template         Template
	Reference        align.Reference
	CalibrationScale float64 // Median TIC of the training batch
	TrainingSpectra  int
}

// Validate checks the internal consistency of the artifact
func (a *Artifact) Validate() error {
	if a.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: format version %d, expected %d",
			ErrInvalidArtifact, a.FormatVersion, FormatVersion)
	}
	if err := a.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if err := a.Template.Validate(); err != nil {
		return err
	}
	if a.Template.Tolerance != a.Params.Tolerance ||
		a.Template.RelativeTolerance != a.Params.RelativeTolerance {
		return fmt.Errorf("%w: template tolerance differs from parameter set", ErrInvalidArtifact)
	}
	if !(a.CalibrationScale > 0) || math.IsInf(a.CalibrationScale, 0) {
		return fmt.Errorf("%w: calibration scale %v", ErrInvalidArtifact, a.CalibrationScale)
	}
	if !sort.Float64sAreSorted(a.Reference.Masses) {
		return fmt.Errorf("%w: reference masses not sorted", ErrInvalidArtifact)
	}
	for _, m := range a.Reference.Masses {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: invalid reference mass", ErrInvalidArtifact)
		}
	}
	return nil
}

// CheckParams returns ErrTemplateMismatch when p differs from the
// parameters the artifact was built with
func (a *Artifact) CheckParams(p params.Params) error {
	if d := a.Params.Diff(p); len(d) > 0 {
		return fmt.Errorf("%w: parameters differ from training: %s",
			ErrTemplateMismatch, strings.Join(d, ", "))
	}
	return nil
}

// WriteArtifact writes a as indented JSON
func WriteArtifact(w io.Writer, a Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(a)
}

// ReadArtifact reads and validates an artifact
func ReadArtifact(r io.Reader) (Artifact, error) {
	var a Artifact
	d := json.NewDecoder(r)
	d.DisallowUnknownFields()
	if err := d.Decode(&a); err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return Artifact{}, err
	}
	return a, nil
}

// Fingerprint returns the hex SHA-256 of the compact JSON encoding.
// Identical training runs produce identical fingerprints.
func (a *Artifact) Fingerprint() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
