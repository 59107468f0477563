package indicator

// RSILike is the classic average-gain/average-loss oscillator over the last
// period deltas of series. It is recomputed from the window each time, not
// Wilder-smoothed.
//
// Returns 50 with fewer than period+1 points and 100 when the window holds no
// losses. A zero change counts toward gains.
func RSILike(series []float64, period int) float64 {
	if period < 1 || len(series) < period+1 {
		return 50
	}

	gains, losses := 0.0, 0.0
	for i := len(series) - period; i < len(series); i++ {
		change := series[i] - series[i-1]
		if change >= 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}
