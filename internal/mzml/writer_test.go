package mzml

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shiftMapper float64

func (s shiftMapper) Map(mz float64) float64 { return mz + float64(s) }

type foldMapper struct{}

func (foldMapper) Map(mz float64) float64 { return -mz }

func rewrite(t *testing.T, f *MzML) MzML {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	g, err := Read(&buf)
	require.NoError(t, err)
	return g
}

func TestUpdateScan(t *testing.T) {
	f := readTestDoc(t)
	p, err := f.ReadScan(0)
	require.NoError(t, err)
	p[0].Mz = 42.0
	p[0].Intens = 777.0
	require.NoError(t, f.UpdateScan(0, p, true, false))
	require.NoError(t, f.UpdateScan(1, []Peak{{Mz: 42, Intens: 777}, {Mz: 43, Intens: 1}}, false, true))
	assert.ErrorIs(t, f.UpdateScan(5, p, true, true), ErrInvalidScanIndex)

	g := rewrite(t, &f)
	// Only mz changed for scan 0
	p, err = g.ReadScan(0)
	require.NoError(t, err)
	assert.Equal(t, 42.0, p[0].Mz)
	assert.Equal(t, testIntens[0], p[0].Intens)
	// Only intensity changed for scan 1
	p, err = g.ReadScan(1)
	require.NoError(t, err)
	assert.Equal(t, 500.0, p[0].Mz)
	assert.Equal(t, 777.0, p[0].Intens)
}

func TestWriteStable(t *testing.T) {
	f := readTestDoc(t)
	var a, b bytes.Buffer
	require.NoError(t, f.Write(&a))
	g, err := Read(bytes.NewReader(a.Bytes()))
	require.NoError(t, err)
	require.NoError(t, g.Write(&b))
	assert.Equal(t, a.String(), b.String())

	level, err := g.MSLevel(2)
	require.NoError(t, err)
	assert.Equal(t, 2, level)
	assert.Contains(t, a.String(), `<precursor spectrumRef="scan=1"/>`)
}

func TestRemapScans(t *testing.T) {
	f := readTestDoc(t)
	n, err := f.RemapScans("run.mzML", map[string]Mapper{
		"run.mzML#scan=1": shiftMapper(0.25),
		"run.mzML#scan=2": shiftMapper(1), // centroid, not touched
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.AppendSoftwareInfo("mztemplate", "1.0")
	f.AppendDataProcessing(DataProcessing{
		ID:             "mztemplate_alignment",
		ProcessingMeth: []ProcessingMethod{{Order: 1, SoftwareRef: "mztemplate"}},
	})

	g := rewrite(t, &f)
	specs, err := g.Spectra("run.mzML")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	for i, m := range specs[0].Mass {
		assert.Equal(t, testMz[i]+0.25, m)
	}
	assert.Equal(t, testIntens, specs[0].Intensity)

	p, err := g.ReadScan(1)
	require.NoError(t, err)
	assert.Equal(t, 500.0, p[0].Mz)

	require.NotNil(t, g.content.SoftwareList)
	assert.Equal(t, 2, g.content.SoftwareList.Count)
	assert.Equal(t, "mztemplate", g.content.SoftwareList.Software[1].ID)
	assert.Equal(t, 2, g.content.DataProcessingList.Count)
}

func TestRemapScansRejectsFold(t *testing.T) {
	f := readTestDoc(t)
	_, err := f.RemapScans("run.mzML", map[string]Mapper{"run.mzML#scan=1": foldMapper{}})
	assert.ErrorIs(t, err, ErrMassAxis)
}

func TestEncodeBinary(t *testing.T) {
	v := []float64{1.5, -2.25, 1e6}
	for _, info := range []arrayInfo{{}, {zlib: true}, {bits64: true}, {zlib: true, bits64: true}} {
		s, err := encodeBinary(v, info)
		require.NoError(t, err)
		got, err := decodeBinary(&binaryDataArray{Binary: s}, info)
		require.NoError(t, err)
		assert.Equal(t, v, got, "%+v", info)
	}
}
