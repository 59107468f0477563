package indicator

import "fmt"

// EMA is an exponential moving average with alpha = 2/(period+1).
// The first observation seeds the average rather than blending with zero.
// O(1) per update, no window storage.
type EMA struct {
	period      int
	alpha       float64
	current     float64
	initialized bool
}

// NewEMA creates an EMA. Period must be at least 1.
func NewEMA(period int) *EMA {
	if period < 1 {
		panic(fmt.Sprintf("indicator: EMA period must be >= 1, got %d", period))
	}
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

// Update blends value into the average and returns the new value.
func (e *EMA) Update(value float64) float64 {
	if !e.initialized {
		e.current = value
		e.initialized = true
		return e.current
	}
	// EMA = value*alpha + EMA_prev*(1-alpha)
	e.current = value*e.alpha + e.current*(1-e.alpha)
	return e.current
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.initialized }
func (e *EMA) Period() int    { return e.period }

// Peek computes what Value() would be after value, without mutating state.
func (e *EMA) Peek(value float64) float64 {
	if !e.initialized {
		return value
	}
	return value*e.alpha + e.current*(1-e.alpha)
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.initialized = false
}

// MACDValue is one step of a MACD cascade.
type MACDValue struct {
	Fast   float64
	Slow   float64
	MACD   float64 // Fast − Slow
	Signal float64 // EMA of MACD
	Hist   float64 // MACD − Signal
}

// MACD chains a fast and slow EMA over the input and a signal EMA over
// their difference.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewMACD creates a MACD cascade (typically 12/26/9).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
	}
}

// Update feeds value through the cascade.
func (m *MACD) Update(value float64) MACDValue {
	f := m.fast.Update(value)
	s := m.slow.Update(value)
	macd := f - s
	sig := m.signal.Update(macd)
	return MACDValue{
		Fast:   f,
		Slow:   s,
		MACD:   macd,
		Signal: sig,
		Hist:   macd - sig,
	}
}

// Reset clears all three averages.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
}
