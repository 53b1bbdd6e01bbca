// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/524D/mztemplate/internal/align"
	"github.com/524D/mztemplate/internal/pipeline"
	"github.com/524D/mztemplate/internal/spectrum"
	"github.com/524D/mztemplate/internal/template"
)

var intRangeRe = regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)

// Parse string like "3:6" into 2 values, 3 and 6
// Parameters min and max are the "default" min/max values,
// when a value is not specified (e.g. "3:"), the default is assigned
func parseIntRange(r string, min int, max int) (int, int, error) {
	m := intRangeRe.FindStringSubmatch(r)
	minOut := min
	maxOut := max
	if len(m) >= 2 && m[1] != "" {
		minOut, _ = strconv.Atoi(m[1])
		if minOut < min {
			minOut = min
		}
	}
	if len(m) >= 3 && m[2] != "" {
		maxOut, _ = strconv.Atoi(m[2])
		if maxOut > max {
			maxOut = max
		}
	}
	var err error
	if minOut > maxOut {
		err = ErrRangeSpec
		minOut = maxOut
	}
	return minOut, maxOut, err
}

// debugReport prints status, warp knots and feature values of the spectra
// whose batch index is in the range spec
func debugReport(w io.Writer, spec string, spectra []spectrum.Spectrum,
	rep *pipeline.Report, warps []align.Warp, m *template.Matrix) error {

	if spec == `` || len(spectra) == 0 {
		return nil
	}
	debugMin, debugMax, err := parseIntRange(spec, 0, len(spectra)-1)
	if err != nil {
		return fmt.Errorf("--debug %q: %w", spec, err)
	}
	status := make(map[string]pipeline.Status, len(rep.Statuses))
	for _, st := range rep.Statuses {
		status[st.SpectrumID] = st
	}
	rows := make(map[string]template.Row, len(m.Rows))
	for _, r := range m.Rows {
		rows[r.SpectrumID] = r
	}

	for i := debugMin; i <= debugMax; i++ {
		s := spectra[i]
		st, ok := status[s.ID]
		if !ok {
			fmt.Fprintf(w, "Spectrum:%d %s not processed\n", i, s.ID)
			continue
		}
		fmt.Fprintf(w, "Spectrum:%d %s samples:%d status:%s", i, s.ID, len(s.Mass), st.Code)
		if st.Err != nil {
			fmt.Fprintf(w, " (%v)", st.Err)
		}
		fmt.Fprintln(w)
		if i < len(warps) {
			for j, knot := range warps[i].Mass {
				fmt.Fprintf(w, "  knot %d mz:%f shift:%f\n", j, knot, warps[i].Shift[j])
			}
		}
		if r, ok := rows[s.ID]; ok {
			fmt.Fprintf(w, "  group:%s\n", r.Group)
			for j, v := range r.Values {
				fmt.Fprintf(w, "  %s intens:%g\n", m.Features[j].ID, v)
			}
		}
	}
	return nil
}
