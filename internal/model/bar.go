package model

import (
	"encoding/json"
	"math"
	"time"
)

// Bar is one traded interval of a feed. Prices and volumes are float64
// because crypto feeds carry fractional quantities.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Index      int       `json:"index"`
	TS         time.Time `json:"ts"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	BuyVolume  float64   `json:"buy_volume"`
	SellVolume float64   `json:"sell_volume"`
}

// TypicalPrice returns (high+low+close)/3.
func (b *Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// Delta returns the bar's order-flow delta (buy − sell volume).
func (b *Bar) Delta() float64 {
	return b.BuyVolume - b.SellVolume
}

// Range returns high − low.
func (b *Bar) Range() float64 {
	return b.High - b.Low
}

// Valid reports whether every numeric field is finite.
func (b *Bar) Valid() bool {
	for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume, b.BuyVolume, b.SellVolume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return !b.TS.IsZero()
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}

// Series is a host-owned, index-addressable feed of bars.
// At returns nil for a bar the host cannot supply.
type Series interface {
	Len() int
	At(i int) *Bar
}

// Bars adapts a slice to Series.
type Bars []Bar

func (s Bars) Len() int { return len(s) }

func (s Bars) At(i int) *Bar {
	if i < 0 || i >= len(s) {
		return nil
	}
	return &s[i]
}
