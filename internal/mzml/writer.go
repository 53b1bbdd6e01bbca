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
)

// Write writes the (possibly updated) mzML document
func (f *MzML) Write(writer io.Writer) error {
	if _, err := io.WriteString(writer, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(writer)
	// Indent only works with a non-empty prefix
	enc.Indent(` `, `  `)
	content := mzMLContentWrite{
		XMLName:                     f.content.XMLName,
		SchemaLocation:              "http://psi.hupo.org/ms/mzml http://psidev.info/files/ms/mzML/xsd/mzML1.1.0.xsd",
		Version:                     "1.1.0",
		XSI:                         "http://www.w3.org/2001/XMLSchema-instance",
		CvList:                      f.content.CvList,
		FileDescription:             f.content.FileDescription,
		ReferenceableParamGroupList: f.content.ReferenceableParamGroupList,
		SoftwareList:                f.content.SoftwareList,
		InstrumentConfigurationList: f.content.InstrumentConfigurationList,
		DataProcessingList:          f.content.DataProcessingList,
		Run:                         f.content.Run,
	}
	if err := enc.Encode(&content); err != nil {
		return err
	}
	_, err := io.WriteString(writer, "\n")
	return err
}

// AppendSoftwareInfo adds info to the SoftwareList tag of the mzML file
func (f *MzML) AppendSoftwareInfo(id string, version string) {
	if f.content.SoftwareList == nil {
		f.content.SoftwareList = &softwareList{}
	}
	f.content.SoftwareList.Count++
	f.content.SoftwareList.Software = append(f.content.SoftwareList.Software,
		software{ID: id, Version: version})
}

// AppendDataProcessing adds info to the DataProcessing tag of the mzML file
func (f *MzML) AppendDataProcessing(proc DataProcessing) {
	if f.content.DataProcessingList == nil {
		f.content.DataProcessingList = &dataProcessingList{}
	}
	f.content.DataProcessingList.Count++
	f.content.DataProcessingList.DataProcessing = append(f.content.DataProcessingList.DataProcessing, proc)
}

// UpdateScan sets the mz/intensity info of a scan
func (f *MzML) UpdateScan(scanIndex int, p []Peak,
	updateMz bool, updateIntens bool) error {
	if scanIndex < 0 || scanIndex >= f.NumSpecs() {
		return ErrInvalidScanIndex
	}
	// Some readers fail on empty arrays, write one dummy peak instead
	if len(p) == 0 {
		p = []Peak{{}}
	}
	spec := &f.content.Run.SpectrumList.Spectrum[scanIndex]
	spec.DefaultArrayLength = int64(len(p))
	for i := range spec.BinaryDataArrayList.BinaryDataArray {
		b := &spec.BinaryDataArrayList.BinaryDataArray[i]
		info, err := f.binaryDataPars(b)
		if err != nil {
			return err
		}
		if !(info.mz && updateMz) && !(info.intensity && updateIntens) {
			continue
		}
		v := make([]float64, len(p))
		for j, peak := range p {
			if info.mz {
				v[j] = peak.Mz
			} else {
				v[j] = peak.Intens
			}
		}
		b64, err := encodeBinary(v, info)
		if err != nil {
			return err
		}
		b.Binary = b64
		b.ArrayLength = len(p)
		b.EncodedLength = len(b64)
	}
	return nil
}

// RemapScans replaces the m/z axis of every profile scan of the file
// that has a Mapper under its spectrum ID (see Spectra). It returns the
// number of scans changed.
func (f *MzML) RemapScans(name string, maps map[string]Mapper) (int, error) {
	idx, err := f.profileScans()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, i := range idx {
		m, ok := maps[SpectrumID(name, f.index2id[i])]
		if !ok {
			continue
		}
		p, err := f.ReadScan(i)
		if err != nil {
			return n, err
		}
		for j := range p {
			p[j].Mz = m.Map(p[j].Mz)
			if j > 0 && !(p[j].Mz > p[j-1].Mz) {
				return n, fmt.Errorf("%w: scan %s sample %d", ErrMassAxis, f.index2id[i], j)
			}
		}
		if err := f.UpdateScan(i, p, true, false); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func encodeBinary(v []float64, info arrayInfo) (string, error) {
	var raw []byte
	if info.bits64 {
		raw = make([]byte, len(v)*8)
		for i, x := range v {
			binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(x))
		}
	} else {
		raw = make([]byte, len(v)*4)
		for i, x := range v {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(x)))
		}
	}
	if info.zlib {
		var b bytes.Buffer
		z := zlib.NewWriter(&b)
		if _, err := z.Write(raw); err != nil {
			return "", err
		}
		// Close flushes, the stream is incomplete before that
		if err := z.Close(); err != nil {
			return "", err
		}
		raw = b.Bytes()
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
