package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/524D/mztemplate/internal/spectrum"
)

// ErrMetadata is returned for metadata tables that cannot be used
var ErrMetadata = errors.New("invalid metadata")

// Metadata maps spectrum file names to group labels
type Metadata map[string]string

// ReadMetadataXLSX reads the first sheet of an Excel workbook. The sheet
// must have a header row with "file" and "group" columns.
func ReadMetadataXLSX(r io.Reader) (Metadata, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMetadata)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	return metadataFromRows(rows)
}

// ReadMetadataCSV reads a CSV table with "file" and "group" columns
func ReadMetadataCSV(r io.Reader) (Metadata, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetadata, err)
	}
	return metadataFromRows(rows)
}

func metadataFromRows(rows [][]string) (Metadata, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty table", ErrMetadata)
	}
	fileCol, groupCol := -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "file":
			fileCol = i
		case "group":
			groupCol = i
		}
	}
	if fileCol < 0 || groupCol < 0 {
		return nil, fmt.Errorf("%w: header must contain file and group columns", ErrMetadata)
	}
	m := make(Metadata)
	for n, row := range rows[1:] {
		if fileCol >= len(row) || groupCol >= len(row) {
			continue
		}
		file := strings.TrimSpace(row[fileCol])
		group := strings.TrimSpace(row[groupCol])
		if file == "" || group == "" {
			continue
		}
		file = path.Base(strings.ReplaceAll(file, "\\", "/"))
		if g, dup := m[file]; dup && g != group {
			return nil, fmt.Errorf("%w: row %d: %s assigned to both %s and %s",
				ErrMetadata, n+2, file, g, group)
		}
		m[file] = group
	}
	return m, nil
}

// Labels returns the group of each spectrum, keyed by spectrum ID.
// Spectra are matched on their ID, then on the file name (the ID of an
// mzML scan without its #scan suffix), then on the file name without
// extension. Unmatched spectra are absent from the result.
func (m Metadata) Labels(spectra []spectrum.Spectrum) map[string]string {
	labels := make(map[string]string, len(spectra))
	for _, s := range spectra {
		file, _, _ := strings.Cut(s.ID, "#")
		for _, key := range []string{s.ID, file, strings.TrimSuffix(file, path.Ext(file))} {
			if g, ok := m[key]; ok {
				labels[s.ID] = g
				break
			}
		}
	}
	return labels
}
