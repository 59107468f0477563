package indicator

import (
	"featureflow/internal/model"
	"featureflow/internal/ringbuf"
)

// valueAreaWidth is the half-width of the value area as a fraction of the
// bar range.
const valueAreaWidth = 0.15

// ValueArea is the per-bar value-area estimate and its migration dynamics.
type ValueArea struct {
	POC float64 // point of control: the bar's typical price
	VAH float64
	VAL float64

	NearPOC float64 // close − POC
	NearVAH float64
	NearVAL float64

	Migration            float64 // POC[t] − POC[t−1]
	MigrationAccel       float64 // Migration[t] − Migration[t−1]
	MigrationConsistency float64 // (positive − negative) / history length
	MigrationSpeed       float64 // Migration / max(1, volume)
}

// ValueAreaTracker keeps bounded POC and migration histories.
type ValueAreaTracker struct {
	pocs       *ringbuf.Window[float64]
	migrations *ringbuf.Window[float64]
}

// NewValueAreaTracker creates a tracker with migration window m (typically 20).
func NewValueAreaTracker(m int) *ValueAreaTracker {
	return &ValueAreaTracker{
		pocs:       ringbuf.New[float64](m),
		migrations: ringbuf.New[float64](m),
	}
}

// Update records the bar's POC and returns the value area state.
func (t *ValueAreaTracker) Update(bar *model.Bar) ValueArea {
	poc := bar.TypicalPrice()
	half := bar.Range() * valueAreaWidth
	va := ValueArea{
		POC: poc,
		VAH: bar.Close + half,
		VAL: bar.Close - half,
	}
	va.NearPOC = bar.Close - va.POC
	va.NearVAH = bar.Close - va.VAH
	va.NearVAL = bar.Close - va.VAL

	t.pocs.Push(poc)
	if n := t.pocs.Len(); n > 1 {
		va.Migration = t.pocs.At(n-1) - t.pocs.At(n-2)
	}

	if prev, ok := t.migrations.Last(); ok {
		va.MigrationAccel = va.Migration - prev
	}
	t.migrations.Push(va.Migration)

	pos, neg := 0, 0
	for i := 0; i < t.migrations.Len(); i++ {
		switch m := t.migrations.At(i); {
		case m > 0:
			pos++
		case m < 0:
			neg++
		}
	}
	if n := t.migrations.Len(); n > 0 {
		va.MigrationConsistency = float64(pos-neg) / float64(n)
	}

	vol := bar.Volume
	if vol < 1 {
		vol = 1
	}
	va.MigrationSpeed = va.Migration / vol
	return va
}
