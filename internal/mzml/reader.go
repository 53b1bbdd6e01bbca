package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"

	"golang.org/x/net/html/charset"

	"github.com/524D/mztemplate/internal/spectrum"
)

// Read reads mzML file from an io.Reader
func Read(reader io.Reader) (MzML, error) {
	var mzML MzML

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	// Only the mzML element is decoded, indexedmzML and the index are skipped
	for {
		t, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return mzML, err
		}
		if se, ok := t.(xml.StartElement); ok && se.Name.Local == "mzML" {
			if err := d.DecodeElement(&mzML.content, &se); err != nil {
				return mzML, err
			}
		}
	}
	if err := mzML.readParamGroups(); err != nil {
		return mzML, err
	}
	return mzML, mzML.traverseScan()
}

// readParamGroups decodes the referenceable param groups so that
// references to them can be resolved
func (f *MzML) readParamGroups() error {
	f.groups = make(map[string][]CVParam)
	if f.content.ReferenceableParamGroupList == nil {
		return nil
	}
	var list struct {
		Group []paramGroup `xml:"referenceableParamGroup"`
	}
	raw := append([]byte("<list>"), f.content.ReferenceableParamGroupList.XML...)
	raw = append(raw, "</list>"...)
	if err := xml.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("referenceableParamGroupList: %w", err)
	}
	for _, g := range list.Group {
		f.groups[g.ID] = g.CvPar
	}
	return nil
}

// cvParams returns own plus the terms of all referenced param groups
func (f *MzML) cvParams(refs []paramGroupRef, own []CVParam) []CVParam {
	if len(refs) == 0 {
		return own
	}
	var all []CVParam
	for _, r := range refs {
		all = append(all, f.groups[r.Ref]...)
	}
	return append(all, own...)
}

type arrayInfo struct {
	zlib      bool
	bits64    bool
	mz        bool
	intensity bool
}

// binaryDataPars decodes the CV terms in a mzML binarydata section
//
// CV Terms for binary data compression
// MS:1000574 zlib compression
// MS:1000576 No Compression
// MS:1002312 MS-Numpress linear prediction compression
// MS:1002313 MS-Numpress positive integer compression
// MS:1002314 MS-Numpress short logged float compression
// MS:1002746 MS-Numpress linear prediction compression followed by zlib compression
// MS:1002747 MS-Numpress positive integer compression followed by zlib compression
// MS:1002748 MS-Numpress short logged float compression followed by zlib compression
//
// CV Terms for binary data array types
// MS:1000514 m/z array
// MS:1000515 intensity array
//
// CV Terms for binary-data-type
// MS:1000521 32-bit float
// MS:1000523 64-bit float
func (f *MzML) binaryDataPars(b *binaryDataArray) (arrayInfo, error) {
	var info arrayInfo // Default: 32 bits, no compression
	for _, cvParam := range f.cvParams(b.ParamGroupRef, b.CvPar) {
		switch cvParam.Accession {
		case `MS:1000574`:
			info.zlib = true
		case `MS:1000514`:
			info.mz = true
		case `MS:1000515`:
			info.intensity = true
		case `MS:1000523`:
			info.bits64 = true
		case `MS:1002312`, `MS:1002313`, `MS:1002314`,
			`MS:1002746`, `MS:1002747`, `MS:1002748`:
			return info, fmt.Errorf("%w (CV term %s)", ErrUnsupportedCompression, cvParam.Accession)
		}
	}
	return info, nil
}

func decodeBinary(b *binaryDataArray, info arrayInfo) ([]float64, error) {
	data, err := base64.StdEncoding.DecodeString(b.Binary)
	if err != nil {
		return nil, err
	}
	if info.zlib {
		z, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer z.Close()
		data, err = io.ReadAll(z)
		if err != nil {
			return nil, err
		}
	}
	if info.bits64 {
		v := make([]float64, len(data)/8)
		for i := range v {
			v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}
		return v, nil
	}
	v := make([]float64, len(data)/4)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
	}
	return v, nil
}

// NumSpecs returns the number of spectra
func (f *MzML) NumSpecs() int {
	return len(f.content.Run.SpectrumList.Spectrum)
}

// ReadScan reads a single scan
// scanIndex is the sequence number of the scan in the mzML file,
// not the scan id. Use ScanIndex to convert.
func (f *MzML) ReadScan(scanIndex int) ([]Peak, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return nil, ErrInvalidScanIndex
	}
	spec := &f.content.Run.SpectrumList.Spectrum[scanIndex]
	p := make([]Peak, spec.DefaultArrayLength)
	for i := range spec.BinaryDataArrayList.BinaryDataArray {
		b := &spec.BinaryDataArrayList.BinaryDataArray[i]
		info, err := f.binaryDataPars(b)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", spec.ID, err)
		}
		// Other arrays (e.g. noise, charge) are ignored
		if !info.mz && !info.intensity {
			continue
		}
		v, err := decodeBinary(b, info)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", spec.ID, err)
		}
		if len(v) != len(p) {
			return nil, fmt.Errorf("scan %s: array has %d values, expected %d",
				spec.ID, len(v), len(p))
		}
		for j, x := range v {
			if info.mz {
				p[j].Mz = x
			} else {
				p[j].Intens = x
			}
		}
	}
	return p, nil
}

func (f *MzML) specParams(scanIndex int) []CVParam {
	spec := &f.content.Run.SpectrumList.Spectrum[scanIndex]
	return f.cvParams(spec.ParamGroupRef, spec.CvPar)
}

// Centroid returns true is the spectrum contains centroid peaks
func (f *MzML) Centroid(scanIndex int) (bool, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return false, ErrInvalidScanIndex
	}
	for _, cvParam := range f.specParams(scanIndex) {
		if cvParam.Accession == "MS:1000127" { // centroid spectrum
			return true, nil
		}
	}
	return false, nil
}

// MSLevel returns the MS level of a scan
func (f *MzML) MSLevel(scanIndex int) (int, error) {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return 0, ErrInvalidScanIndex
	}
	for _, cvParam := range f.specParams(scanIndex) {
		if cvParam.Accession == "MS:1000511" { // ms level
			msLevel, err := strconv.Atoi(cvParam.Value)
			return msLevel, err
		}
	}
	return 1, nil // If nothing else, guess it's MS1
}

// traverseScan fills f.index2id and f.id2Index to make scans accessible
// by id
func (f *MzML) traverseScan() error {
	f.index2id = make([]string, f.NumSpecs())
	f.id2Index = make(map[string]int, f.NumSpecs())
	for i, spec := range f.content.Run.SpectrumList.Spectrum {
		if i != spec.Index {
			return fmt.Errorf("%w: spectrum %s has index %d at position %d",
				ErrInvalidScanIndex, spec.ID, spec.Index, i)
		}
		if _, dup := f.id2Index[spec.ID]; dup {
			return fmt.Errorf("%w: duplicate %s", ErrInvalidScanID, spec.ID)
		}
		f.index2id[i] = spec.ID
		f.id2Index[spec.ID] = i
	}
	return nil
}

// ScanIndex converts a scan identifier (the string used in the mzML file)
// into an index that is used to access the scans
func (f *MzML) ScanIndex(scanID string) (int, error) {
	if index, ok := f.id2Index[scanID]; ok {
		return index, nil
	}
	return 0, ErrInvalidScanID
}

// ScanID converts a scan index (used to access the scan data) into a scan id
// (used in the mzML file)
func (f *MzML) ScanID(scanIndex int) (string, error) {
	if scanIndex >= 0 && scanIndex < f.NumSpecs() {
		return f.index2id[scanIndex], nil
	}
	return "", ErrInvalidScanIndex
}

// SpectrumID is the identifier under which a scan of the named file
// enters the pipeline
func SpectrumID(name, scanID string) string {
	return name + "#" + scanID
}

// profileScans returns the indices of the MS1 profile scans
func (f *MzML) profileScans() ([]int, error) {
	var idx []int
	for i := 0; i < f.NumSpecs(); i++ {
		level, err := f.MSLevel(i)
		if err != nil {
			return nil, fmt.Errorf("scan %s: ms level: %w", f.index2id[i], err)
		}
		centroid, _ := f.Centroid(i)
		if level == 1 && !centroid {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// Spectra returns the MS1 profile scans, identified as name#scanID.
// Centroided and MSn scans are skipped.
func (f *MzML) Spectra(name string) ([]spectrum.Spectrum, error) {
	idx, err := f.profileScans()
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoProfileScans)
	}
	out := make([]spectrum.Spectrum, 0, len(idx))
	for _, i := range idx {
		p, err := f.ReadScan(i)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		s := spectrum.Spectrum{
			ID:        SpectrumID(name, f.index2id[i]),
			Mass:      make([]float64, len(p)),
			Intensity: make([]float64, len(p)),
		}
		for j, peak := range p {
			s.Mass[j] = peak.Mz
			s.Intensity[j] = peak.Intens
		}
		out = append(out, s)
	}
	return out, nil
}
