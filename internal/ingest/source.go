package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/524D/mztemplate/internal/mzml"
	"github.com/524D/mztemplate/internal/spectrum"
)

// Batch is the content of one input: its spectra, in file name order, and
// the sample metadata if the input carried a spreadsheet
type Batch struct {
	Spectra  []spectrum.Spectrum
	Metadata Metadata // nil when no metadata file was found
	MetaName string
}

// Load reads a directory, a ZIP archive, an mzML file or a single text
// spectrum
func Load(name string) (Batch, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return Batch{}, err
	}
	if fi.IsDir() {
		return LoadFS(os.DirFS(name))
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".zip":
		return LoadZip(name)
	case ".txt":
		f, err := os.Open(name)
		if err != nil {
			return Batch{}, err
		}
		defer f.Close()
		s, err := ReadTxt(f, filepath.Base(name))
		if err != nil {
			return Batch{}, err
		}
		return Batch{Spectra: []spectrum.Spectrum{s}}, nil
	case ".mzml":
		f, err := os.Open(name)
		if err != nil {
			return Batch{}, err
		}
		defer f.Close()
		specs, err := ReadMzML(f, filepath.Base(name))
		if err != nil {
			return Batch{}, err
		}
		return Batch{Spectra: specs}, nil
	}
	return Batch{}, fmt.Errorf("%s: unsupported input type", name)
}

// LoadZip reads the text spectra and the first metadata spreadsheet of a
// ZIP archive
func LoadZip(name string) (Batch, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return Batch{}, err
	}
	defer zr.Close()
	b, err := LoadFS(zr)
	if err != nil {
		return Batch{}, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// skipped reports whether a path is archive metadata rather than data
func skipped(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if part == "__MACOSX" || strings.HasPrefix(part, "._") {
			return true
		}
	}
	return false
}

// ReadMzML reads the MS1 profile scans of an mzML document. Spectrum IDs
// are name#scanID.
func ReadMzML(r io.Reader, name string) ([]spectrum.Spectrum, error) {
	f, err := mzml.Read(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f.Spectra(name)
}

// LoadFS reads all .txt and .mzML spectra below the root of fsys, and the
// first .xlsx or .csv file as metadata. Spectrum IDs are base file names,
// with the scan id appended for mzML. A file that fails to parse stays in
// the batch as an empty spectrum with Err set.
func LoadFS(fsys fs.FS) (Batch, error) {
	var specs, meta []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || skipped(p) {
			return nil
		}
		switch strings.ToLower(path.Ext(p)) {
		case ".txt", ".mzml":
			specs = append(specs, p)
		case ".xlsx", ".csv":
			meta = append(meta, p)
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	if len(specs) == 0 {
		return Batch{}, ErrNoSpectra
	}
	sort.Slice(specs, func(i, j int) bool { return path.Base(specs[i]) < path.Base(specs[j]) })
	sort.Strings(meta)

	var b Batch
	seen := make(map[string]string)
	for _, p := range specs {
		id := path.Base(p)
		if prev, dup := seen[id]; dup {
			return Batch{}, fmt.Errorf("duplicate spectrum name %s (%s and %s)", id, prev, p)
		}
		seen[id] = p
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return Batch{}, err
		}
		if strings.EqualFold(path.Ext(p), ".mzml") {
			scans, err := ReadMzML(bytes.NewReader(data), id)
			if err != nil {
				b.Spectra = append(b.Spectra, spectrum.Spectrum{ID: id, Err: err})
				continue
			}
			b.Spectra = append(b.Spectra, scans...)
			continue
		}
		s, err := ReadTxt(bytes.NewReader(data), id)
		if err != nil {
			s = spectrum.Spectrum{ID: id, Err: err}
		}
		b.Spectra = append(b.Spectra, s)
	}
	if len(meta) > 0 {
		f, err := fsys.Open(meta[0])
		if err != nil {
			return Batch{}, err
		}
		defer f.Close()
		b.Metadata, err = ReadMetadata(f, meta[0])
		if err != nil {
			return Batch{}, err
		}
		b.MetaName = path.Base(meta[0])
	}
	return b, nil
}

// ReadMetadataFile reads a metadata spreadsheet (.xlsx) or CSV file
func ReadMetadataFile(name string) (Metadata, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMetadata(f, name)
}

// ReadMetadata reads metadata, choosing the format by the file name
func ReadMetadata(r io.Reader, name string) (Metadata, error) {
	if strings.EqualFold(path.Ext(name), ".csv") {
		return ReadMetadataCSV(r)
	}
	return ReadMetadataXLSX(r)
}
