package indicator

import (
	"math"

	"featureflow/internal/model"
	"featureflow/internal/ringbuf"
)

// Absorption thresholds: a bar absorbs when its delta is small relative to
// volume while its body is large relative to its range.
const (
	absorptionDeltaRatio = 0.2
	absorptionBodyRatio  = 0.5
)

// OrderFlowParams configures the CVD oscillators.
type OrderFlowParams struct {
	FastPeriod   int // CVD fast EMA, typically 12
	SlowPeriod   int // CVD slow EMA, typically 26
	SignalPeriod int // MACD signal EMA, typically 9
	RSIPeriod    int // CVD RSI, typically 14
	StatsWindow  int // CVD z-score/skew/kurtosis window, typically 200
}

// DefaultOrderFlowParams returns the standard periods.
func DefaultOrderFlowParams() OrderFlowParams {
	return OrderFlowParams{
		FastPeriod:   12,
		SlowPeriod:   26,
		SignalPeriod: 9,
		RSIPeriod:    14,
		StatsWindow:  200,
	}
}

// OrderFlow is the per-bar order-flow state.
type OrderFlow struct {
	Delta float64
	CVD   float64

	EmaFast    float64
	EmaSlow    float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64

	RSI  float64
	Z    float64
	Skew float64
	Kurt float64

	Imbalance      float64
	NormalizedFlow float64 // delta/volume, 0 when volume is 0

	Absorption         bool
	AbsorptionStrength float64
}

// OrderFlowEngine accumulates cumulative volume delta and its oscillators.
//
// The CVD series is logically unbounded. Its RSI only ever reads the last
// RSIPeriod+1 points, so that tail is all that is kept for it; the statistics
// window holds the last StatsWindow points.
type OrderFlowEngine struct {
	params  OrderFlowParams
	cvd     float64
	count   int
	macd    *MACD
	rsiTail *ringbuf.Window[float64]
	stats   *ringbuf.Window[float64]
	scratch []float64
}

// NewOrderFlowEngine creates an engine with the given params.
func NewOrderFlowEngine(p OrderFlowParams) *OrderFlowEngine {
	return &OrderFlowEngine{
		params:  p,
		macd:    NewMACD(p.FastPeriod, p.SlowPeriod, p.SignalPeriod),
		rsiTail: ringbuf.New[float64](p.RSIPeriod + 1),
		stats:   ringbuf.New[float64](p.StatsWindow),
		scratch: make([]float64, 0, p.StatsWindow),
	}
}

// CVD returns the latest cumulative volume delta.
func (e *OrderFlowEngine) CVD() float64 { return e.cvd }

// Count returns the number of bars folded into the CVD.
func (e *OrderFlowEngine) Count() int { return e.count }

// Update folds the bar into the CVD and recomputes every oscillator.
func (e *OrderFlowEngine) Update(bar *model.Bar) OrderFlow {
	delta := bar.Delta()
	e.cvd += delta
	e.count++

	of := OrderFlow{
		Delta: delta,
		CVD:   e.cvd,
	}

	m := e.macd.Update(e.cvd)
	of.EmaFast = m.Fast
	of.EmaSlow = m.Slow
	of.MACD = m.MACD
	of.MACDSignal = m.Signal
	of.MACDHist = m.Hist

	e.rsiTail.Push(e.cvd)
	e.stats.Push(e.cvd)

	e.scratch = e.rsiTail.AppendTo(e.scratch[:0])
	of.RSI = RSILike(e.scratch, e.params.RSIPeriod)

	e.scratch = e.stats.AppendTo(e.scratch[:0])
	of.Z = ZScore(e.scratch)
	of.Skew = Skewness(e.scratch)
	of.Kurt = Kurtosis(e.scratch)

	of.Imbalance = math.Max(delta, 0) - math.Max(-delta, 0)
	of.NormalizedFlow = safeDiv(delta, bar.Volume)

	absDelta := math.Abs(delta)
	of.Absorption = absDelta < bar.Volume*absorptionDeltaRatio &&
		math.Abs(bar.Close-bar.Open) > bar.Range()*absorptionBodyRatio
	if of.Absorption {
		of.AbsorptionStrength = (bar.Volume - absDelta) / math.Max(1, bar.Volume)
	}
	return of
}
