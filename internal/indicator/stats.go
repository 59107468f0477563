package indicator

import (
	"math"
	"sort"
)

// Window statistics. All functions are pure, take the window oldest-first,
// and return 0 (or the documented sentinel) on degenerate input.

// Mean returns the arithmetic mean, 0 for an empty window.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// constant reports whether every element equals the first. Rounding in Mean
// leaves a tiny nonzero spread for values like 0.1, so zero spread is
// detected exactly here instead.
func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// centralMoments returns the mean and the population second, third and
// fourth central moments.
func centralMoments(xs []float64) (mean, m2, m3, m4 float64) {
	mean = Mean(xs)
	for _, x := range xs {
		d := x - mean
		d2 := d * d
		m2 += d2
		m3 += d2 * d
		m4 += d2 * d2
	}
	n := float64(len(xs))
	return mean, m2 / n, m3 / n, m4 / n
}

// ZScore returns (last − mean)/stdDev using the population standard
// deviation. 0 for an empty window or zero spread.
func ZScore(xs []float64) float64 {
	if len(xs) == 0 || constant(xs) {
		return 0
	}
	mean, m2, _, _ := centralMoments(xs)
	std := math.Sqrt(m2)
	if std == 0 {
		return 0
	}
	return (xs[len(xs)-1] - mean) / std
}

// Variance returns the sample variance (Bessel-corrected). 0 if n <= 1.
func Variance(xs []float64) float64 {
	n := len(xs)
	if n <= 1 || constant(xs) {
		return 0
	}
	mean := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return ss / float64(n-1)
}

// Autocorrelation returns Σ(x[i]−mean)(x[i−lag]−mean) / Σ(x[i]−mean)².
// 0 if n <= lag or the denominator is 0.
func Autocorrelation(xs []float64, lag int) float64 {
	if lag < 0 || len(xs) <= lag || constant(xs) {
		return 0
	}
	mean := Mean(xs)
	num, den := 0.0, 0.0
	for i := lag; i < len(xs); i++ {
		num += (xs[i] - mean) * (xs[i-lag] - mean)
	}
	for _, x := range xs {
		d := x - mean
		den += d * d
	}
	return safeDiv(num, den)
}

// Skewness returns the third standardized moment from population moments.
// 0 if n < 3 or the second moment is 0.
func Skewness(xs []float64) float64 {
	if len(xs) < 3 || constant(xs) {
		return 0
	}
	_, m2, m3, _ := centralMoments(xs)
	if m2 == 0 {
		return 0
	}
	return finite(m3 / math.Pow(m2, 1.5))
}

// Kurtosis returns the excess kurtosis (fourth standardized moment − 3).
// 0 if n < 4 or the second moment is 0.
func Kurtosis(xs []float64) float64 {
	if len(xs) < 4 || constant(xs) {
		return 0
	}
	_, m2, _, m4 := centralMoments(xs)
	if m2 == 0 {
		return 0
	}
	return finite(m4/(m2*m2) - 3)
}

// PercentileRank ranks value within a sorted copy of xs as
// firstIndex(sorted >= value) / max(1, n−1). When no element is >= value
// the rank is the last position. Rank-based, not interpolated; 0 for an
// empty window.
func PercentileRank(xs []float64, value float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	sort.Float64s(sorted)

	idx := sort.SearchFloat64s(sorted, value)
	if idx >= n {
		idx = n - 1
	}
	den := n - 1
	if den < 1 {
		den = 1
	}
	return float64(idx) / float64(den)
}
