package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/524D/mztemplate/internal/align"
	"github.com/524D/mztemplate/internal/spectrum"
)

// ErrUnmappedSpectrum is reported for training spectra without a group label
var ErrUnmappedSpectrum = errors.New("spectrum has no group label")

// StatusCode is the outcome of processing one spectrum
type StatusCode int

// Status codes. Malformed and unmapped spectra are excluded from the
// feature matrix; spectra that failed alignment are kept unwarped.
const (
	StatusOK StatusCode = iota
	StatusMalformed
	StatusUnmapped
	StatusAlignmentFailed
)

var statusNames = [...]string{
	StatusOK:              "ok",
	StatusMalformed:       "MalformedSpectrum",
	StatusUnmapped:        "UnmappedSpectrum",
	StatusAlignmentFailed: "AlignmentFailed",
}

func (c StatusCode) String() string {
	if c < 0 || int(c) >= len(statusNames) {
		return fmt.Sprintf("StatusCode(%d)", int(c))
	}
	return statusNames[c]
}

// Excluded reports whether spectra with this status have no matrix row
func (c StatusCode) Excluded() bool {
	return c == StatusMalformed || c == StatusUnmapped
}

// statusOf maps a per-spectrum error to its status code
func statusOf(err error) StatusCode {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUnmappedSpectrum):
		return StatusUnmapped
	case errors.Is(err, align.ErrAlignmentFailed):
		return StatusAlignmentFailed
	case errors.Is(err, spectrum.ErrMalformedSpectrum):
		return StatusMalformed
	}
	return StatusMalformed
}

// Status is the processing outcome of one spectrum
type Status struct {
	SpectrumID string
	Code       StatusCode
	Err        error
}

// Report lists the status of every processed spectrum in input order
type Report struct {
	Statuses  []Status
	Processed int
	Total     int
}

// Excluded returns the statuses of spectra without a matrix row
func (r *Report) Excluded() []Status {
	var out []Status
	for _, s := range r.Statuses {
		if s.Code.Excluded() {
			out = append(out, s)
		}
	}
	return out
}

// Flagged returns the statuses of spectra kept with reduced fidelity
func (r *Report) Flagged() []Status {
	var out []Status
	for _, s := range r.Statuses {
		if s.Code == StatusAlignmentFailed {
			out = append(out, s)
		}
	}
	return out
}

// Summary returns a human readable audit of the run
func (r *Report) Summary() string {
	var b strings.Builder
	excluded := r.Excluded()
	flagged := r.Flagged()
	fmt.Fprintf(&b, "%d of %d spectra processed, %d excluded, %d flagged\n",
		r.Processed, r.Total, len(excluded), len(flagged))
	for _, s := range excluded {
		fmt.Fprintf(&b, "  excluded %s: %s: %v\n", s.SpectrumID, s.Code, s.Err)
	}
	for _, s := range flagged {
		fmt.Fprintf(&b, "  flagged  %s: %s: %v\n", s.SpectrumID, s.Code, s.Err)
	}
	return b.String()
}
