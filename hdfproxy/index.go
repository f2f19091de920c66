package hdfproxy

import (
	"math"
	"slices"
)

// RowMajorIndex returns the linear offset of the multi-index starts in an
// array of shape totalCounts, last dimension varying fastest:
//
//	index = Σ_d starts[d] × Π_{k>d} totalCounts[k]
//
// Every element gathered for a sub-array message is located in the source
// buffer through this formula, and the remote side places it the same way.
func RowMajorIndex(starts, totalCounts []int64) int64 {
	var index int64
	stride := int64(1)
	for d := len(starts) - 1; d >= 0; d-- {
		index += starts[d] * stride
		stride *= totalCounts[d]
	}
	return index
}

// elementCount returns the product of counts. An empty shape has one element.
// Callers validate shapes with ElementCount first.
func elementCount(counts []int64) int64 {
	n := int64(1)
	for _, c := range counts {
		n *= c
	}
	return n
}

// ElementCount returns the product of non-negative counts, or false when a
// count is negative or the product does not fit in an int64.
func ElementCount(counts []int64) (int64, bool) {
	if slices.Contains(counts, 0) {
		return 0, !slices.ContainsFunc(counts, func(c int64) bool { return c < 0 })
	}
	n := int64(1)
	for _, c := range counts {
		if c < 0 || n > math.MaxInt64/c {
			return 0, false
		}
		n *= c
	}
	return n, true
}

// ForEachIndex visits every multi-index of the box [starts, starts+counts)
// in row-major output order, passing the source offset in an array of shape
// totalCounts.
func ForEachIndex(totalCounts, starts, counts []int64, fn func(srcOffset int64)) {
	if elementCount(counts) == 0 {
		return
	}
	dims := len(counts)
	if dims == 0 {
		fn(0)
		return
	}

	idx := make([]int64, dims)
	copy(idx, starts)
	last := dims - 1
	base := RowMajorIndex(idx, totalCounts)
	for {
		// The innermost run is contiguous in the source.
		for i := int64(0); i < counts[last]; i++ {
			fn(base + i)
		}

		// Odometer carry over the outer dimensions.
		d := last - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < starts[d]+counts[d] {
				break
			}
			idx[d] = starts[d]
		}
		if d < 0 {
			return
		}
		base = RowMajorIndex(idx, totalCounts)
	}
}
