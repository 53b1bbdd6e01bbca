package mzml

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMz     = []float64{1000, 1000.5, 1001, 1001.5, 1002}
	testIntens = []float64{1, 4, 9, 2, 0}
)

func encodeT(t *testing.T, v []float64, info arrayInfo) string {
	t.Helper()
	s, err := encodeBinary(v, info)
	require.NoError(t, err)
	return s
}

// testDoc returns a small mzML document with a profile MS1 scan (arrays
// described through a param group), a centroid MS1 scan and an MS2 scan.
// The encoding declaration exercises the charset reader.
func testDoc(t *testing.T, mzCompression string) string {
	profMz := encodeT(t, testMz, arrayInfo{zlib: true, bits64: true})
	profIn := encodeT(t, testIntens, arrayInfo{})
	cenMz := encodeT(t, []float64{500, 600}, arrayInfo{bits64: true})
	cenIn := encodeT(t, []float64{10, 20}, arrayInfo{bits64: true})
	return fmt.Sprintf(`<?xml version="1.0" encoding="ISO-8859-1"?>
<indexedmzML xmlns="http://psi.hupo.org/ms/mzml">
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">
 <cvList count="1"><cv id="MS" fullName="Proteomics Standards Initiative Mass Spectrometry Ontology"/></cvList>
 <fileDescription><fileContent><cvParam cvRef="MS" accession="MS:1000579" name="MS1 spectrum"/></fileContent></fileDescription>
 <referenceableParamGroupList count="2">
  <referenceableParamGroup id="mzArray">
   <cvParam cvRef="MS" accession="MS:1000514" name="m/z array"/>
   <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
   <cvParam cvRef="MS" accession="%s" name="compression"/>
  </referenceableParamGroup>
  <referenceableParamGroup id="profile">
   <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="1"/>
   <cvParam cvRef="MS" accession="MS:1000128" name="profile spectrum"/>
  </referenceableParamGroup>
 </referenceableParamGroupList>
 <softwareList count="1"><software id="acq" version="1.0"/></softwareList>
 <instrumentConfigurationList count="1"><instrumentConfiguration id="IC1"/></instrumentConfigurationList>
 <dataProcessingList count="1"><dataProcessing id="dp"><processingMethod order="1" softwareRef="acq"/></dataProcessing></dataProcessingList>
 <run id="r1" defaultInstrumentConfigurationRef="IC1">
  <spectrumList count="3" defaultDataProcessingRef="dp">
   <spectrum index="0" id="scan=1" defaultArrayLength="5">
    <referenceableParamGroupRef ref="profile"/>
    <scanList count="1"><scan/></scanList>
    <binaryDataArrayList count="2">
     <binaryDataArray>
      <referenceableParamGroupRef ref="mzArray"/>
      <binary>%s</binary>
     </binaryDataArray>
     <binaryDataArray>
      <cvParam cvRef="MS" accession="MS:1000515" name="intensity array"/>
      <cvParam cvRef="MS" accession="MS:1000521" name="32-bit float"/>
      <binary>%s</binary>
     </binaryDataArray>
    </binaryDataArrayList>
   </spectrum>
   <spectrum index="1" id="scan=2" defaultArrayLength="2">
    <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="1"/>
    <cvParam cvRef="MS" accession="MS:1000127" name="centroid spectrum"/>
    <binaryDataArrayList count="2">
     <binaryDataArray>
      <cvParam cvRef="MS" accession="MS:1000514" name="m/z array"/>
      <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
      <binary>%s</binary>
     </binaryDataArray>
     <binaryDataArray>
      <cvParam cvRef="MS" accession="MS:1000515" name="intensity array"/>
      <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
      <binary>%s</binary>
     </binaryDataArray>
    </binaryDataArrayList>
   </spectrum>
   <spectrum index="2" id="scan=3" defaultArrayLength="0">
    <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="2"/>
    <precursorList count="1"><precursor spectrumRef="scan=1"/></precursorList>
    <binaryDataArrayList count="0"/>
   </spectrum>
  </spectrumList>
 </run>
</mzML>
<indexList count="0"/>
</indexedmzML>
`, mzCompression, profMz, profIn, cenMz, cenIn)
}

func readTestDoc(t *testing.T) MzML {
	t.Helper()
	f, err := Read(strings.NewReader(testDoc(t, "MS:1000574")))
	require.NoError(t, err)
	return f
}

func TestRead(t *testing.T) {
	f := readTestDoc(t)
	assert.Equal(t, 3, f.NumSpecs())

	p, err := f.ReadScan(0)
	require.NoError(t, err)
	require.Len(t, p, len(testMz))
	for i := range p {
		assert.Equal(t, testMz[i], p[i].Mz)
		assert.Equal(t, testIntens[i], p[i].Intens)
	}
	_, err = f.ReadScan(3)
	assert.ErrorIs(t, err, ErrInvalidScanIndex)
}

func TestScanProperties(t *testing.T) {
	f := readTestDoc(t)

	centroid, err := f.Centroid(0)
	require.NoError(t, err)
	assert.False(t, centroid)
	centroid, err = f.Centroid(1)
	require.NoError(t, err)
	assert.True(t, centroid)
	_, err = f.Centroid(3)
	assert.ErrorIs(t, err, ErrInvalidScanIndex)

	level, err := f.MSLevel(0)
	require.NoError(t, err)
	assert.Equal(t, 1, level)
	level, err = f.MSLevel(2)
	require.NoError(t, err)
	assert.Equal(t, 2, level)
	_, err = f.MSLevel(-1)
	assert.ErrorIs(t, err, ErrInvalidScanIndex)
}

func TestScanIndexAndID(t *testing.T) {
	f := readTestDoc(t)

	idx, err := f.ScanIndex("scan=2")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	_, err = f.ScanIndex("scan=9")
	assert.ErrorIs(t, err, ErrInvalidScanID)

	id, err := f.ScanID(2)
	require.NoError(t, err)
	assert.Equal(t, "scan=3", id)
	_, err = f.ScanID(3)
	assert.ErrorIs(t, err, ErrInvalidScanIndex)
}

func TestSpectra(t *testing.T) {
	f := readTestDoc(t)
	specs, err := f.Spectra("run.mzML")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "run.mzML#scan=1", specs[0].ID)
	assert.Equal(t, testMz, specs[0].Mass)
	assert.Equal(t, testIntens, specs[0].Intensity)
}

func TestSpectraNoProfile(t *testing.T) {
	doc := `<mzML xmlns="http://psi.hupo.org/ms/mzml"><run><spectrumList count="1">
<spectrum index="0" id="s1" defaultArrayLength="0">
<cvParam accession="MS:1000127" name="centroid spectrum"/>
<binaryDataArrayList count="0"/></spectrum></spectrumList></run></mzML>`
	f, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	_, err = f.Spectra("c.mzML")
	assert.ErrorIs(t, err, ErrNoProfileScans)
}

func TestReadNumpress(t *testing.T) {
	f, err := Read(strings.NewReader(testDoc(t, "MS:1002312")))
	require.NoError(t, err)
	_, err = f.ReadScan(0)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
	_, err = f.Spectra("run.mzML")
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestReadBadIndex(t *testing.T) {
	doc := `<mzML xmlns="http://psi.hupo.org/ms/mzml"><run><spectrumList count="1">
<spectrum index="3" id="s1" defaultArrayLength="0"><binaryDataArrayList count="0"/></spectrum>
</spectrumList></run></mzML>`
	_, err := Read(strings.NewReader(doc))
	assert.ErrorIs(t, err, ErrInvalidScanIndex)
}

func TestReadArrayLengthMismatch(t *testing.T) {
	doc := strings.Replace(testDoc(t, "MS:1000574"),
		`id="scan=1" defaultArrayLength="5"`, `id="scan=1" defaultArrayLength="4"`, 1)
	f, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	_, err = f.ReadScan(0)
	assert.ErrorContains(t, err, "expected 4")
}
