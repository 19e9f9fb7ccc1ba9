package pool

import "sort"

// Cumulative returns the normalized cumulative distribution of weights: the
// i-th value is the probability of picking any of entries 0..i, and the last
// value is 1. Negative weights count as zero. If every weight is zero the
// distribution is uniform.
func Cumulative(weights []float64) []float64 {
	if len(weights) == 0 {
		return nil
	}

	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}

	out := make([]float64, len(weights))
	var acc float64
	for i, w := range weights {
		switch {
		case total == 0:
			acc = float64(i+1) / float64(len(weights))
		case w > 0:
			acc += w / total
		}
		out[i] = acc
	}
	out[len(out)-1] = 1
	return out
}

// Sample maps u in [0, 1) onto an index of the cumulative table: the first
// entry whose cumulative value exceeds u. Zero-weight entries share their
// predecessor's value and are never picked. Returns -1 for an empty table.
func Sample(cumulative []float64, u float64) int {
	n := len(cumulative)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return cumulative[i] > u })
	if i == n {
		i = n - 1
	}
	return i
}
