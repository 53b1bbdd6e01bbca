package binning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(w float64) func(float64) float64 {
	return func(float64) float64 { return w }
}

func TestCluster(t *testing.T) {
	lists := [][]float64{
		{1000.0, 2000.0},
		{1000.125, 2000.125, 3000},
		{999.875},
	}
	bins := Cluster(lists, fixed(0.25))

	require.Len(t, bins, 3)
	assert.Equal(t, Bin{Mass: 1000, Min: 999.875, Max: 1000.125, Count: 3, Support: 3}, bins[0])
	assert.Equal(t, Bin{Mass: 2000.0625, Min: 2000, Max: 2000.125, Count: 2, Support: 2}, bins[1])
	assert.Equal(t, 1, bins[2].Support)
}

func TestClusterBoundary(t *testing.T) {
	// Exactly one window apart: separate bins
	bins := Cluster([][]float64{{1000.0}, {1000.25}}, fixed(0.25))
	require.Len(t, bins, 2)
	assert.Equal(t, 1000.0, bins[0].Mass)
	assert.Equal(t, 1000.25, bins[1].Mass)

	// Just inside: one bin
	bins = Cluster([][]float64{{1000.0}, {1000.125}}, fixed(0.25))
	require.Len(t, bins, 1)
	assert.Equal(t, 2, bins[0].Support)
}

func TestClusterBoundaryDecimalTolerance(t *testing.T) {
	// 0.008 has no exact binary form; the subtraction rounds either way
	for _, m := range []float64{1000.0, 2000.0, 5000.0} {
		bins := Cluster([][]float64{{m}, {m + 0.008}}, fixed(0.008))
		require.Len(t, bins, 2, "mass %v", m)
		assert.Equal(t, m, bins[0].Mass)
	}
	bins := Cluster([][]float64{{5000.0}, {5000.0079}}, fixed(0.008))
	assert.Len(t, bins, 1)
}

func TestApartWithin(t *testing.T) {
	assert.True(t, Apart(5000.008-5000.0, 0.008))
	assert.True(t, Apart(1000.008-1000.0, 0.008))
	assert.False(t, Apart(0.0079, 0.008))
	assert.True(t, Within(5000.008-5000.0, 0.008))
	assert.True(t, Within(1000.008-1000.0, 0.008))
	assert.False(t, Within(0.0081, 0.008))
}

func TestClusterSupportCountsSpectra(t *testing.T) {
	bins := Cluster([][]float64{{500, 500.0625}, {700}}, fixed(0.25))
	require.Len(t, bins, 2)
	assert.Equal(t, 2, bins[0].Count)
	assert.Equal(t, 1, bins[0].Support)
}

func TestClusterEmpty(t *testing.T) {
	assert.Nil(t, Cluster(nil, fixed(1)))
	assert.Nil(t, Cluster([][]float64{{}, {}}, fixed(1)))
}

func TestMinCount(t *testing.T) {
	assert.Equal(t, 2, MinCount(0.5, 4))
	assert.Equal(t, 3, MinCount(0.5, 5))
	assert.Equal(t, 9, MinCount(0.9, 10))
	assert.Equal(t, 1, MinCount(0.1, 3))
	assert.Equal(t, 1, MinCount(0.5, 0))
	assert.Equal(t, 7, MinCount(0.7, 10))
}

func TestFilter(t *testing.T) {
	bins := []Bin{{Mass: 1, Support: 1}, {Mass: 2, Support: 3}, {Mass: 3, Support: 2}}
	got := Filter(bins, 2)
	assert.Equal(t, []Bin{{Mass: 2, Support: 3}, {Mass: 3, Support: 2}}, got)
}
