package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/524D/mztemplate/internal/params"
	"github.com/524D/mztemplate/internal/spectrum"
	"github.com/524D/mztemplate/internal/template"
)

const txtSpectrum = `# exported spectrum
mass intensity
1000.5	10
1001.0	20.5
1001.5,30
1002.0 ; 0
`

func TestReadTxt(t *testing.T) {
	s, err := ReadTxt(strings.NewReader(txtSpectrum), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", s.ID)
	assert.Equal(t, []float64{1000.5, 1001.0, 1001.5, 1002.0}, s.Mass)
	assert.Equal(t, []float64{10, 20.5, 30, 0}, s.Intensity)
}

func TestReadTxtErrors(t *testing.T) {
	_, err := ReadTxt(strings.NewReader("1000 1\n1001\n"), "b.txt")
	assert.ErrorContains(t, err, "b.txt line 2")

	_, err = ReadTxt(strings.NewReader("1000 1\n1001 x\n"), "c.txt")
	assert.ErrorContains(t, err, "invalid number")
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"data/b.txt":            {Data: []byte("1 2\n3 4\n")},
		"data/a.txt":            {Data: []byte("5 6\n")},
		"__MACOSX/data/._a.txt": {Data: []byte("junk")},
		"data/._c.txt":          {Data: []byte("junk")},
		"data/samples.csv":      {Data: []byte("file,group\na.txt,A\nb,B\n")},
		"data/readme.md":        {Data: []byte("# notes")},
	}
	b, err := LoadFS(fsys)
	require.NoError(t, err)

	require.Len(t, b.Spectra, 2)
	assert.Equal(t, "a.txt", b.Spectra[0].ID)
	assert.Equal(t, "b.txt", b.Spectra[1].ID)
	assert.Equal(t, "samples.csv", b.MetaName)
	assert.Equal(t, map[string]string{"a.txt": "A", "b.txt": "B"}, b.Metadata.Labels(b.Spectra))
}

func TestLoadFSKeepsUnparsable(t *testing.T) {
	fsys := fstest.MapFS{
		"a.txt": {Data: []byte("1000 1\n1001 2\n")},
		"b.txt": {Data: []byte("1000 1\n1001\n")},
		"c.txt": {Data: []byte("1000 3\n1001 4\n")},
	}
	b, err := LoadFS(fsys)
	require.NoError(t, err)

	require.Len(t, b.Spectra, 3)
	assert.NoError(t, b.Spectra[0].Err)
	assert.Equal(t, "b.txt", b.Spectra[1].ID)
	assert.ErrorContains(t, b.Spectra[1].Err, "b.txt line 2")
	assert.Empty(t, b.Spectra[1].Mass)
	assert.NoError(t, b.Spectra[2].Err)
	assert.Equal(t, []float64{3, 4}, b.Spectra[2].Intensity)

	err = b.Spectra[1].Validate(1)
	assert.True(t, errors.Is(err, spectrum.ErrMalformedSpectrum))
}

func TestLoadFSEmpty(t *testing.T) {
	_, err := LoadFS(fstest.MapFS{"x.csv": {Data: []byte("file,group\n")}})
	assert.True(t, errors.Is(err, ErrNoSpectra))
}

func TestLoadZip(t *testing.T) {
	meta := excelize.NewFile()
	require.NoError(t, meta.SetSheetRow("Sheet1", "A1", &[]interface{}{"File", "Group"}))
	require.NoError(t, meta.SetSheetRow("Sheet1", "A2", &[]interface{}{"s1.txt", "case"}))
	require.NoError(t, meta.SetSheetRow("Sheet1", "A3", &[]interface{}{"s2.txt", "control"}))
	xlsx, err := meta.WriteToBuffer()
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string][]byte{
		"train/s1.txt":            []byte("1000 1\n1001 2\n"),
		"train/s2.txt":            []byte("1000 3\n1001 4\n"),
		"train/samples.xlsx":      xlsx.Bytes(),
		"__MACOSX/train/._s1.txt": []byte("junk"),
	}
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	name := filepath.Join(t.TempDir(), "train.zip")
	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0o644))

	b, err := Load(name)
	require.NoError(t, err)
	require.Len(t, b.Spectra, 2)
	assert.Equal(t, []float64{3, 4}, b.Spectra[1].Intensity)
	assert.Equal(t, Metadata{"s1.txt": "case", "s2.txt": "control"}, b.Metadata)
}

func TestLoadDirAndFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt"), []byte("1 1\n2 2\n"), 0o644))

	b, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, b.Spectra, 1)
	assert.Nil(t, b.Metadata)

	b, err = Load(filepath.Join(dir, "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x.txt", b.Spectra[0].ID)

	_, err = Load(filepath.Join(dir, "missing.zip"))
	assert.Error(t, err)
}

const profileMzML = `<?xml version="1.0" encoding="utf-8"?>
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">
 <run id="r"><spectrumList count="1">
  <spectrum index="0" id="scan=1" defaultArrayLength="2">
   <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="1"/>
   <cvParam cvRef="MS" accession="MS:1000128" name="profile spectrum"/>
   <binaryDataArrayList count="2">
    <binaryDataArray>
     <cvParam cvRef="MS" accession="MS:1000514" name="m/z array"/>
     <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
     <binary>AAAAAABAj0AAAAAAAECfQA==</binary>
    </binaryDataArray>
    <binaryDataArray>
     <cvParam cvRef="MS" accession="MS:1000515" name="intensity array"/>
     <cvParam cvRef="MS" accession="MS:1000521" name="32-bit float"/>
     <binary>AAAgQQAAoEE=</binary>
    </binaryDataArray>
   </binaryDataArrayList>
  </spectrum>
 </spectrumList></run>
</mzML>
`

func TestLoadMzML(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "run.mzML")
	require.NoError(t, os.WriteFile(name, []byte(profileMzML), 0o644))

	b, err := Load(name)
	require.NoError(t, err)
	require.Len(t, b.Spectra, 1)
	assert.Equal(t, "run.mzML#scan=1", b.Spectra[0].ID)
	assert.Equal(t, []float64{1000, 2000}, b.Spectra[0].Mass)
	assert.Equal(t, []float64{10, 20}, b.Spectra[0].Intensity)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("1 1\n2 2\n"), 0o644))
	b, err = Load(dir)
	require.NoError(t, err)
	require.Len(t, b.Spectra, 2)
	assert.Equal(t, "a.txt", b.Spectra[0].ID)
	assert.Equal(t, "run.mzML#scan=1", b.Spectra[1].ID)
}

func TestMetadataErrors(t *testing.T) {
	_, err := ReadMetadataCSV(strings.NewReader("name,label\na,b\n"))
	assert.True(t, errors.Is(err, ErrMetadata))

	_, err = ReadMetadataCSV(strings.NewReader("file,group\na.txt,A\na.txt,B\n"))
	assert.True(t, errors.Is(err, ErrMetadata))

	m, err := ReadMetadataCSV(strings.NewReader("group,file\nA,C:\\data\\a.txt\n,b.txt\n"))
	require.NoError(t, err)
	assert.Equal(t, Metadata{"a.txt": "A"}, m)
}

func testMatrix() *template.Matrix {
	return &template.Matrix{
		Features: []template.Feature{{ID: "mz_1000", Mass: 1000.001}, {ID: "mz_2000", Mass: 2000.5}},
		Rows: []template.Row{
			{SpectrumID: "a.txt", Group: "A", Values: []float64{1.5, 0}},
			{SpectrumID: "b.txt", Group: "B", Values: []float64{0.25, 3}},
			{SpectrumID: "c.txt", Group: "A", Values: []float64{2.5, 1}},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	m := testMatrix()
	var buf bytes.Buffer

	require.NoError(t, WriteMatrixCSV(&buf, m, true))
	assert.Equal(t, "sample,group,mz_1000,mz_2000\na.txt,A,1.5,0\nb.txt,B,0.25,3\nc.txt,A,2.5,1\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteMatrixCSV(&buf, m, false))
	assert.Equal(t, "sample,mz_1000,mz_2000\na.txt,1.5,0\nb.txt,0.25,3\nc.txt,2.5,1\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteGroupMeansCSV(&buf, m))
	assert.Equal(t, "group,mz_1000,mz_2000\nA,2,0.5\nB,0.25,3\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteTemplateCSV(&buf, template.Template{Features: m.Features}))
	assert.Equal(t, "feature_id,mz\nmz_1000,1000.001\nmz_2000,2000.5\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteParamsCSV(&buf, params.Defaults()))
	assert.True(t, strings.HasPrefix(buf.String(), "parameter,value\nhalfWindowSize,90\nSNR,2\n"))
}

func TestWriteMatrixXLSX(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteMatrixXLSX(name, testMatrix(), false))

	f, err := excelize.OpenFile(name)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Features")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"sample", "mz_1000", "mz_2000"}, rows[0])
	assert.Equal(t, []string{"b.txt", "0.25", "3"}, rows[2])
}

func TestLabelsStem(t *testing.T) {
	m := Metadata{"s1": "A", "s2.txt": "B", "run": "C"}
	spectra := []spectrum.Spectrum{{ID: "s1.txt"}, {ID: "s2.txt"}, {ID: "s3.txt"}, {ID: "run.mzML#scan=1"}}
	assert.Equal(t, map[string]string{"s1.txt": "A", "s2.txt": "B", "run.mzML#scan=1": "C"}, m.Labels(spectra))
}
