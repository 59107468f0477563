package indicator

import (
	"math"

	"featureflow/internal/model"
	"featureflow/internal/ringbuf"
)

// channelWidth is the ATR multiple of the channel half-width.
const channelWidth = 2.0

// Channel is the per-bar volatility state.
type Channel struct {
	TrueRange    float64
	ATR          float64
	ATRNormRange float64 // (high−low)/ATR, 0 when ATR is 0
	Upper        float64 // vwap + 2·ATR
	Lower        float64 // vwap − 2·ATR
	Position     float64 // (close−lower)/(upper−lower), 0 when the band is flat
}

// VolatilityChannel computes an equal-weight ATR over a bounded true-range
// history and a VWAP-centred channel.
//
// The previous close starts at 0, so the first bar's true range is measured
// against 0 and is usually inflated.
type VolatilityChannel struct {
	trueRanges *ringbuf.Window[float64]
	prevClose  float64
	scratch    []float64
}

// NewVolatilityChannel creates a channel with the given ATR period (typically 14).
func NewVolatilityChannel(period int) *VolatilityChannel {
	return &VolatilityChannel{
		trueRanges: ringbuf.New[float64](period),
		scratch:    make([]float64, 0, period),
	}
}

// TrueRange returns max(h−l, |h−prevClose|, |l−prevClose|).
func TrueRange(bar *model.Bar, prevClose float64) float64 {
	return math.Max(bar.Range(), math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
}

// Update records the bar's true range and builds the channel around vwap.
func (v *VolatilityChannel) Update(bar *model.Bar, vwap float64) Channel {
	var ch Channel
	ch.TrueRange = TrueRange(bar, v.prevClose)
	v.prevClose = bar.Close

	v.trueRanges.Push(ch.TrueRange)
	v.scratch = v.trueRanges.AppendTo(v.scratch[:0])
	ch.ATR = Mean(v.scratch)

	ch.ATRNormRange = safeDiv(bar.Range(), ch.ATR)
	ch.Upper = vwap + channelWidth*ch.ATR
	ch.Lower = vwap - channelWidth*ch.ATR
	if ch.Upper != ch.Lower {
		ch.Position = (bar.Close - ch.Lower) / (ch.Upper - ch.Lower)
	}
	return ch
}
