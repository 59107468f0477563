package sink

import (
	"context"
	"errors"
	"fmt"

	"featureflow/internal/model"
)

// Named pairs a sink with the label used in errors and metrics.
type Named struct {
	Name string
	Sink model.FeatureSink
}

// Multi writes every record to each sink in order. A failing sink does not
// stop the others; all failures are joined.
type Multi struct {
	sinks []Named

	// OnError is called once per failing sink.
	OnError func(name string, err error)
}

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...Named) *Multi {
	return &Multi{sinks: sinks}
}

// Add appends a sink.
func (m *Multi) Add(name string, s model.FeatureSink) {
	m.sinks = append(m.sinks, Named{Name: name, Sink: s})
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Write implements model.FeatureSink.
func (m *Multi) Write(ctx context.Context, symbol string, rec model.FeatureRecord) error {
	var errs []error
	for _, n := range m.sinks {
		if err := n.Sink.Write(ctx, symbol, rec); err != nil {
			if m.OnError != nil {
				m.OnError(n.Name, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink in reverse order.
func (m *Multi) Close() error {
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if err := m.sinks[i].Sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.sinks[i].Name, err))
		}
	}
	return errors.Join(errs...)
}
