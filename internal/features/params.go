package features

import (
	"fmt"

	"featureflow/internal/indicator"
	"featureflow/internal/session"
)

// basisPoint scales the VWAP deviation into basis points.
const basisPoint = 10000.0

// Params holds every window length and period of the builder.
type Params struct {
	ATRPeriod       int
	VolumeWindow    int
	ReturnWindow    int
	MigrationWindow int
	OrderFlow       indicator.OrderFlowParams

	// Calendar keys sessions; zero value means UTC dates.
	Calendar session.Calendar
	// SessionRetentionDays evicts old VWAP sessions; 0 keeps all of them.
	SessionRetentionDays int
}

// DefaultParams returns the standard configuration.
func DefaultParams() Params {
	return Params{
		ATRPeriod:       14,
		VolumeWindow:    200,
		ReturnWindow:    200,
		MigrationWindow: 20,
		OrderFlow:       indicator.DefaultOrderFlowParams(),
		Calendar:        session.NewCalendar(nil),
	}
}

// Validate checks every period is at least 1.
func (p Params) Validate() error {
	checks := []struct {
		name string
		v    int
	}{
		{"ATR period", p.ATRPeriod},
		{"volume window", p.VolumeWindow},
		{"return window", p.ReturnWindow},
		{"migration window", p.MigrationWindow},
		{"EMA fast period", p.OrderFlow.FastPeriod},
		{"EMA slow period", p.OrderFlow.SlowPeriod},
		{"EMA signal period", p.OrderFlow.SignalPeriod},
		{"RSI period", p.OrderFlow.RSIPeriod},
		{"CVD window", p.OrderFlow.StatsWindow},
	}
	for _, c := range checks {
		if c.v < 1 {
			return fmt.Errorf("features: %s must be >= 1, got %d", c.name, c.v)
		}
	}
	if p.SessionRetentionDays < 0 {
		return fmt.Errorf("features: session retention must be >= 0, got %d", p.SessionRetentionDays)
	}
	return nil
}
