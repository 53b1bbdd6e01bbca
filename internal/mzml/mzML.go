// Package mzml reads profile spectra from mzML files and writes mzML files
// with a corrected m/z axis. Only the parts of the document needed for that
// are decoded; everything else is kept as raw XML so it survives a
// read/write cycle.
package mzml

import (
	"encoding/xml"
	"errors"
)

// MzML wraps the contents of the mzML file
type MzML struct {
	content  mzMLContent
	index2id []string
	id2Index map[string]int
	groups   map[string][]CVParam
}

// Peak is one sample of a scan
type Peak struct {
	Mz     float64
	Intens float64
}

// Mapper maps a measured m/z to a corrected one
type Mapper interface {
	Map(mz float64) float64
}

type mzMLContent struct {
	XMLName         xml.Name `xml:"http://psi.hupo.org/ms/mzml mzML"`
	CvList          cvList   `xml:"cvList"`
	FileDescription struct {
		FileDescriptionXML string `xml:",innerxml"`
	} `xml:"fileDescription"`
	ReferenceableParamGroupList *rawList            `xml:"referenceableParamGroupList"`
	SoftwareList                *softwareList       `xml:"softwareList"`
	InstrumentConfigurationList *rawList            `xml:"instrumentConfigurationList"`
	DataProcessingList          *dataProcessingList `xml:"dataProcessingList"`
	Run                         run                 `xml:"run"`
}

// Writing needs its own struct, the namespace attributes are lost otherwise
type mzMLContentWrite struct {
	XMLName         xml.Name `xml:"http://psi.hupo.org/ms/mzml mzML"`
	SchemaLocation  string   `xml:"xsi:schemaLocation,attr"`
	Version         string   `xml:"version,attr"`
	XSI             string   `xml:"xmlns:xsi,attr"`
	CvList          cvList   `xml:"cvList"`
	FileDescription struct {
		FileDescriptionXML string `xml:",innerxml"`
	} `xml:"fileDescription"`
	ReferenceableParamGroupList *rawList            `xml:"referenceableParamGroupList,omitempty"`
	SoftwareList                *softwareList       `xml:"softwareList"`
	InstrumentConfigurationList *rawList            `xml:"instrumentConfigurationList"`
	DataProcessingList          *dataProcessingList `xml:"dataProcessingList"`
	Run                         run                 `xml:"run"`
}

type cvList struct {
	Count     int    `xml:"count,attr,omitempty"`
	CvListXML []byte `xml:",innerxml"`
}

// rawList is a counted list whose children are copied verbatim
type rawList struct {
	Count int    `xml:"count,attr,omitempty"`
	XML   []byte `xml:",innerxml"`
}

type softwareList struct {
	Count    int        `xml:"count,attr,omitempty"`
	Software []software `xml:"software"`
}

type software struct {
	ID      string    `xml:"id,attr,omitempty"`
	Version string    `xml:"version,attr,omitempty"`
	CvPar   []CVParam `xml:"cvParam,omitempty"`
}

type dataProcessingList struct {
	Count          int              `xml:"count,attr,omitempty"`
	DataProcessing []DataProcessing `xml:"dataProcessing,omitempty"`
}

// DataProcessing contains info for the correspondingly named
// tag in mzML
type DataProcessing struct {
	ID             string             `xml:"id,attr,omitempty"`
	ProcessingMeth []ProcessingMethod `xml:"processingMethod"`
}

// ProcessingMethod contains info for the correspondingly named
// tag in mzML
type ProcessingMethod struct {
	Order       int         `xml:"order,attr"`
	SoftwareRef string      `xml:"softwareRef,attr,omitempty"`
	CvPar       []CVParam   `xml:"cvParam,omitempty"`
	UserPar     []userParam `xml:"userParam,omitempty"`
}

type run struct {
	ID                                string       `xml:"id,attr,omitempty"`
	DefaultInstrumentConfigurationRef string       `xml:"defaultInstrumentConfigurationRef,attr,omitempty"`
	StartTimeStamp                    string       `xml:"startTimeStamp,attr,omitempty"`
	DefaultSourceFileRef              string       `xml:"defaultSourceFileRef,attr,omitempty"`
	SpectrumList                      spectrumList `xml:"spectrumList"`
	// Slice so that runs without chromatograms don't get an empty tag
	ChromatogramList []chromatogramList `xml:"chromatogramList,omitempty"`
}

type spectrumList struct {
	Count                    int           `xml:"count,attr,omitempty"`
	DefaultDataProcessingRef string        `xml:"defaultDataProcessingRef,attr,omitempty"`
	Spectrum                 []xmlSpectrum `xml:"spectrum,omitempty"`
}

type chromatogramList struct {
	Count                    int    `xml:"count,attr,omitempty"`
	DefaultDataProcessingRef string `xml:"defaultDataProcessingRef,attr,omitempty"`
	ChromatogramListXML      []byte `xml:",innerxml"`
}

type xmlSpectrum struct {
	Index              int             `xml:"index,attr"`
	ID                 string          `xml:"id,attr"`
	DefaultArrayLength int64           `xml:"defaultArrayLength,attr"`
	ParamGroupRef      []paramGroupRef `xml:"referenceableParamGroupRef,omitempty"`
	CvPar              []CVParam       `xml:"cvParam,omitempty"`
	UserPar            []userParam     `xml:"userParam,omitempty"`
	// The remaining children are optional. Slices keep them out of the
	// output when the input had none.
	ScanList            []rawList           `xml:"scanList,omitempty"`
	PrecursorList       []rawList           `xml:"precursorList,omitempty"`
	BinaryDataArrayList binaryDataArrayList `xml:"binaryDataArrayList"`
}

type binaryDataArrayList struct {
	Count           int               `xml:"count,attr,omitempty"`
	BinaryDataArray []binaryDataArray `xml:"binaryDataArray"`
}

type binaryDataArray struct {
	EncodedLength int             `xml:"encodedLength,attr,omitempty"`
	ArrayLength   int             `xml:"arrayLength,attr,omitempty"`
	ParamGroupRef []paramGroupRef `xml:"referenceableParamGroupRef,omitempty"`
	CvPar         []CVParam       `xml:"cvParam,omitempty"`
	Binary        string          `xml:"binary"`
}

type paramGroupRef struct {
	Ref string `xml:"ref,attr"`
}

// paramGroup is a referenceableParamGroup, decoded from the raw list to
// resolve references in spectra and binary arrays
type paramGroup struct {
	ID    string    `xml:"id,attr"`
	CvPar []CVParam `xml:"cvParam"`
}

type userParam struct {
	Name  string `xml:"name,attr,omitempty"`
	Value string `xml:"value,attr,omitempty"`
	Type  string `xml:"type,attr,omitempty"`
}

// CVParam contains values and attributes of a mzML Controlled Vocabulary term
// (http://www.peptideatlas.org/tmp/mzML1.1.0.html)
type CVParam struct {
	CvRef         string `xml:"cvRef,attr,omitempty"`
	Accession     string `xml:"accession,attr,omitempty"`
	Name          string `xml:"name,attr,omitempty"`
	Value         string `xml:"value,attr,omitempty"`
	UnitCvRef     string `xml:"unitCvRef,attr,omitempty"`
	UnitAccession string `xml:"unitAccession,attr,omitempty"`
	UnitName      string `xml:"unitName,attr,omitempty"`
}

var (
	// ErrInvalidScanID means an invalid scan id is supplied
	ErrInvalidScanID = errors.New("mzml: invalid scan id")
	// ErrInvalidScanIndex means an invalid scan index is supplied
	ErrInvalidScanIndex = errors.New("mzml: invalid scan index")
	// ErrUnsupportedCompression means a binary array uses MS-Numpress
	ErrUnsupportedCompression = errors.New("mzml: unsupported compression")
	// ErrNoProfileScans means the file has no MS1 profile scans
	ErrNoProfileScans = errors.New("mzml: no MS1 profile scans")
	// ErrMassAxis means a corrected m/z axis is not strictly increasing
	ErrMassAxis = errors.New("mzml: corrected m/z axis not increasing")
)
