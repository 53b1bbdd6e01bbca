package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/template"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// matrixTable returns the header and rows of a feature matrix table with
// a leading sample column and, if withGroup is set, a group column
func matrixTable(m *template.Matrix, withGroup bool) ([]string, [][]string) {
	header := []string{"sample"}
	if withGroup {
		header = append(header, "group")
	}
	lead := len(header)
	header = append(header, m.FeatureIDs()...)
	rows := make([][]string, len(m.Rows))
	for i, r := range m.Rows {
		rec := make([]string, 0, lead+len(r.Values))
		rec = append(rec, r.SpectrumID)
		if withGroup {
			rec = append(rec, r.Group)
		}
		for _, v := range r.Values {
			rec = append(rec, formatFloat(v))
		}
		rows[i] = rec
	}
	return header, rows
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing CSV: %w", err)
	}
	return nil
}

// WriteMatrixCSV writes one line per matrix row
func WriteMatrixCSV(w io.Writer, m *template.Matrix, withGroup bool) error {
	header, rows := matrixTable(m, withGroup)
	return writeCSV(w, header, rows)
}

// WriteGroupMeansCSV writes the per-group mean rows of a matrix
func WriteGroupMeansCSV(w io.Writer, m *template.Matrix) error {
	header := append([]string{"group"}, m.FeatureIDs()...)
	means := m.GroupMeans()
	rows := make([][]string, len(means))
	for i, r := range means {
		rec := []string{r.Group}
		for _, v := range r.Values {
			rec = append(rec, formatFloat(v))
		}
		rows[i] = rec
	}
	return writeCSV(w, header, rows)
}

// WriteTemplateCSV writes the feature_id,mz table of a template
func WriteTemplateCSV(w io.Writer, t template.Template) error {
	rows := make([][]string, len(t.Features))
	for i, f := range t.Features {
		rows[i] = []string{f.ID, formatFloat(f.Mass)}
	}
	return writeCSV(w, []string{"feature_id", "mz"}, rows)
}

// WriteParamsCSV writes the parameter,value table of a parameter set
func WriteParamsCSV(w io.Writer, p params.Params) error {
	tab := p.Table()
	rows := make([][]string, len(tab))
	for i, kv := range tab {
		rows[i] = []string{kv[0], kv[1]}
	}
	return writeCSV(w, []string{"parameter", "value"}, rows)
}

// WriteMatrixXLSX writes a feature matrix to an Excel workbook with
// numeric cells
func WriteMatrixXLSX(name string, m *template.Matrix, withGroup bool) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Features"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	header, _ := matrixTable(m, withGroup)
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, r := range m.Rows {
		rec := []interface{}{r.SpectrumID}
		if withGroup {
			rec = append(rec, r.Group)
		}
		for _, v := range r.Values {
			rec = append(rec, v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rec); err != nil {
			return err
		}
	}
	if err := f.SaveAs(name); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
