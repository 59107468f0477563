// Package features assembles the per-bar feature vector from the indicator
// trackers and drives it across one or many feeds.
package features

import (
	"time"

	"featureflow/internal/indicator"
	"featureflow/internal/model"
	"featureflow/internal/ringbuf"
	"featureflow/internal/session"
)

// SkipReason explains why a bar produced no record. The empty reason means
// the bar was processed.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipNilBar     SkipReason = "nil_bar"
	SkipBadIndex   SkipReason = "bad_index"
	SkipNonFinite  SkipReason = "non_finite"
	SkipOutOfOrder SkipReason = "out_of_order"
)

// Builder turns one feed's bars into feature records. It owns every tracker
// of the feed and is not safe for concurrent use.
type Builder struct {
	params Params

	sessions   *session.Aggregator
	orderFlow  *indicator.OrderFlowEngine
	valueArea  *indicator.ValueAreaTracker
	volProfile *indicator.VolumeProfileTracker
	volatility *indicator.VolatilityChannel
	returns    *ringbuf.Window[float64]
	scratch    []float64

	lastTS time.Time
	count  int
}

// NewBuilder creates a builder with fresh state.
func NewBuilder(p Params) (*Builder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		params:     p,
		sessions:   session.NewAggregator(p.Calendar, p.SessionRetentionDays),
		orderFlow:  indicator.NewOrderFlowEngine(p.OrderFlow),
		valueArea:  indicator.NewValueAreaTracker(p.MigrationWindow),
		volProfile: indicator.NewVolumeProfileTracker(p.VolumeWindow),
		volatility: indicator.NewVolatilityChannel(p.ATRPeriod),
		returns:    ringbuf.New[float64](p.ReturnWindow),
		scratch:    make([]float64, 0, p.ReturnWindow),
	}, nil
}

// Sessions exposes the session aggregator (read-only use).
func (b *Builder) Sessions() *session.Aggregator { return b.sessions }

// Count returns the number of bars processed.
func (b *Builder) Count() int { return b.count }

// Check reports why bar would be skipped, or SkipNone.
func (b *Builder) Check(bar *model.Bar) SkipReason {
	if reason := checkBar(bar); reason != SkipNone {
		return reason
	}
	if bar.TS.Before(b.lastTS) {
		return SkipOutOfOrder
	}
	return SkipNone
}

// checkBar runs the checks that need no feed history.
func checkBar(bar *model.Bar) SkipReason {
	switch {
	case bar == nil:
		return SkipNilBar
	case !bar.Valid():
		return SkipNonFinite
	}
	return SkipNone
}

// ProcessAt processes the bar at index of a host series. An index outside
// the series or a missing bar is a no-op.
func (b *Builder) ProcessAt(series model.Series, index int) (model.FeatureRecord, SkipReason) {
	if series == nil || index < 0 || index >= series.Len() {
		return model.FeatureRecord{}, SkipBadIndex
	}
	return b.Process(series.At(index))
}

// Process runs one bar through every tracker in a fixed order and assembles
// its record. A skipped bar leaves all state untouched.
func (b *Builder) Process(bar *model.Bar) (model.FeatureRecord, SkipReason) {
	if reason := b.Check(bar); reason != SkipNone {
		return model.FeatureRecord{}, reason
	}
	b.lastTS = bar.TS
	b.count++

	// 1. Session VWAP must be current before the channel is built.
	sessionID := b.sessions.Calendar().Key(bar.TS)
	vwap := b.sessions.Add(sessionID, bar.Volume, bar.TypicalPrice()).VWAP()

	// 2–4. Each tracker reads its prior history before appending this bar.
	of := b.orderFlow.Update(bar)
	va := b.valueArea.Update(bar)
	vp := b.volProfile.Update(bar)

	// 5.
	ch := b.volatility.Update(bar, vwap)

	// 6.
	ret := 0.0
	if bar.Open != 0 {
		ret = (bar.Close - bar.Open) / bar.Open
	}
	b.returns.Push(ret)
	b.scratch = b.returns.AppendTo(b.scratch[:0])
	retVar := indicator.Variance(b.scratch)
	retAcf1 := indicator.Autocorrelation(b.scratch, 1)

	vwapDevBps := 0.0
	if vwap != 0 {
		vwapDevBps = (bar.Close - vwap) / vwap * basisPoint
	}

	// 7.
	rec := model.NewFeatureRecord()
	rec.Set(model.FieldTimestamp, model.Time(bar.TS))
	rec.Set(model.FieldOpen, model.Number(bar.Open))
	rec.Set(model.FieldHigh, model.Number(bar.High))
	rec.Set(model.FieldLow, model.Number(bar.Low))
	rec.Set(model.FieldClose, model.Number(bar.Close))
	rec.Set(model.FieldVolume, model.Number(bar.Volume))

	rec.Set(model.FieldPOC, model.Number(va.POC))
	rec.Set(model.FieldVAH, model.Number(va.VAH))
	rec.Set(model.FieldVAL, model.Number(va.VAL))
	rec.Set(model.FieldNearPOC, model.Number(va.NearPOC))
	rec.Set(model.FieldNearVAH, model.Number(va.NearVAH))
	rec.Set(model.FieldNearVAL, model.Number(va.NearVAL))
	rec.Set(model.FieldValueMigration, model.Number(va.Migration))
	rec.Set(model.FieldValueMigrationSpeed, model.Number(va.MigrationSpeed))
	rec.Set(model.FieldValueMigrationConsistency, model.Number(va.MigrationConsistency))

	rec.Set(model.FieldBarDelta, model.Number(of.Delta))
	rec.Set(model.FieldCVD, model.Number(of.CVD))
	rec.Set(model.FieldCVDEmaFast, model.Number(of.EmaFast))
	rec.Set(model.FieldCVDEmaSlow, model.Number(of.EmaSlow))
	rec.Set(model.FieldCVDMacd, model.Number(of.MACD))
	rec.Set(model.FieldCVDMacdSignal, model.Number(of.MACDSignal))
	rec.Set(model.FieldCVDMacdHist, model.Number(of.MACDHist))
	rec.Set(model.FieldCVDRSI, model.Number(of.RSI))
	rec.Set(model.FieldCVDZ, model.Number(of.Z))
	rec.Set(model.FieldImbalance, model.Number(of.Imbalance))

	rec.Set(model.FieldNearestLVN, model.Optional(vp.LVN, vp.HasNodes))
	rec.Set(model.FieldNearestHVN, model.Optional(vp.HVN, vp.HasNodes))
	rec.Set(model.FieldInLVN, model.Bool(vp.InLVN))
	rec.Set(model.FieldAbsorptionDetected, model.Bool(of.Absorption))
	rec.Set(model.FieldAbsorptionStrength, model.Number(of.AbsorptionStrength))

	rec.Set(model.FieldVolPctl, model.Number(vp.Percentile))
	rec.Set(model.FieldATR, model.Number(ch.ATR))
	rec.Set(model.FieldATRNormRange, model.Number(ch.ATRNormRange))
	rec.Set(model.FieldKeltnerPos, model.Number(ch.Position))
	rec.Set(model.FieldVWAPSession, model.Number(vwap))
	rec.Set(model.FieldVWAPDevBps, model.Number(vwapDevBps))
	rec.Set(model.FieldLSNorm, model.Number(of.NormalizedFlow))
	rec.Set(model.FieldSessionID, model.String(sessionID))

	rec.Set(model.FieldRetVar, model.Number(retVar))
	rec.Set(model.FieldRetAcf1, model.Number(retAcf1))
	rec.Set(model.FieldCVDSkew, model.Number(of.Skew))
	rec.Set(model.FieldCVDKurt, model.Number(of.Kurt))
	rec.Set(model.FieldMigrationAccel, model.Number(va.MigrationAccel))

	return rec, SkipNone
}
