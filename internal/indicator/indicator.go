// Package indicator provides the incremental statistics behind the feature
// vector: EMA chains, window statistics, and the per-bar trackers for order
// flow, value area, volume profile and volatility.
//
// Every tracker owns bounded state (ringbuf windows or O(1) accumulators) and
// is driven one bar at a time from a single goroutine. All outputs are total:
// degenerate inputs (empty windows, zero volume, zero variance) resolve to
// fixed sentinel values rather than NaN, Inf or errors.
package indicator

import "math"

// safeDiv returns num/den, or 0 when den is 0.
func safeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// finite maps NaN and ±Inf to 0 so no tracker output can poison a record.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
