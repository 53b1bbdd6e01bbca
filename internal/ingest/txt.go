// Package ingest reads raw spectra and sample metadata from text files,
// directories, ZIP archives and spreadsheets, and writes feature matrices
// and template tables.
package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/524D/mztemplate/internal/spectrum"
)

// ErrNoSpectra is returned when an input holds no spectrum files
var ErrNoSpectra = errors.New("no spectra found")

// ReadTxt reads a two column (mass, intensity) text spectrum. Columns may
// be separated by white space, commas or semicolons. Empty lines, lines
// starting with '#' and non-numeric header lines before the data are
// skipped.
func ReadTxt(r io.Reader, id string) (spectrum.Spectrum, error) {
	s := spectrum.Spectrum{ID: id}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		f := strings.FieldsFunc(text, func(c rune) bool {
			return c == ' ' || c == '\t' || c == ',' || c == ';'
		})
		if len(f) < 2 {
			return s, fmt.Errorf("%s line %d: expected mass and intensity", id, line)
		}
		m, err1 := strconv.ParseFloat(f[0], 64)
		y, err2 := strconv.ParseFloat(f[1], 64)
		if err1 != nil || err2 != nil {
			if len(s.Mass) == 0 {
				// Header
				continue
			}
			return s, fmt.Errorf("%s line %d: invalid number in %q", id, line, text)
		}
		s.Mass = append(s.Mass, m)
		s.Intensity = append(s.Intensity, y)
	}
	if err := sc.Err(); err != nil {
		return s, fmt.Errorf("reading %s: %w", id, err)
	}
	return s, nil
}
