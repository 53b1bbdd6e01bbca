// Package binning groups peak masses from many spectra into bins along
// the mass axis.
package binning

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Bin is a group of masses that lie within the matching window of their
// neighbours
type Bin struct {
	Mass    float64 // Mean of the member masses
	Min     float64
	Max     float64
	Count   int // Number of masses
	Support int // Number of distinct spectra contributing
}

// windowEps is the relative slack of window comparisons. Masses read from
// text differ from their decimal value in the last bits, so a gap of one
// window can come out slightly above or below it.
const windowEps = 1e-9

// Apart reports whether gap is at least one window w
func Apart(gap, w float64) bool {
	return gap >= w*(1-windowEps)
}

// Within reports whether distance d is at most one window w
func Within(d, w float64) bool {
	return d <= w*(1+windowEps)
}

type entry struct {
	mass float64
	src  int
}

// Cluster pools the masses of all lists, sorts them and starts a new bin
// whenever the gap to the previous mass is at least window(previous).
// Masses exactly one window apart therefore never share a bin.
// Bins are returned in ascending mass order.
func Cluster(lists [][]float64, window func(mass float64) float64) []Bin {
	var all []entry
	for src, l := range lists {
		for _, m := range l {
			all = append(all, entry{mass: m, src: src})
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].mass != all[j].mass {
			return all[i].mass < all[j].mass
		}
		return all[i].src < all[j].src
	})

	var bins []Bin
	start := 0
	for i := 1; i <= len(all); i++ {
		if i < len(all) && !Apart(all[i].mass-all[i-1].mass, window(all[i-1].mass)) {
			continue
		}
		bins = append(bins, makeBin(all[start:i]))
		start = i
	}
	return bins
}

func makeBin(members []entry) Bin {
	masses := make([]float64, len(members))
	seen := make(map[int]struct{})
	for i, e := range members {
		masses[i] = e.mass
		seen[e.src] = struct{}{}
	}
	return Bin{
		Mass:    stat.Mean(masses, nil),
		Min:     masses[0],
		Max:     masses[len(masses)-1],
		Count:   len(masses),
		Support: len(seen),
	}
}

// MinCount returns the number of spectra out of n that a fraction
// requires, rounded up and never less than 1
func MinCount(fraction float64, n int) int {
	c := int(ceil(fraction * float64(n)))
	if c < 1 {
		c = 1
	}
	return c
}

// ceil rounds up, ignoring floating point noise just above an integer
func ceil(x float64) float64 {
	r := float64(int64(x))
	if x-r > 1e-9 {
		r++
	}
	return r
}

// Filter returns the bins supported by at least minSupport spectra
func Filter(bins []Bin, minSupport int) []Bin {
	var out []Bin
	for _, b := range bins {
		if b.Support >= minSupport {
			out = append(out, b)
		}
	}
	return out
}
