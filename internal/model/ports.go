package model

import (
	"context"
)

// ── Port Interfaces ──
// These interfaces decouple the feature engine from concrete bar sources and
// output sinks (files, SQLite, Redis, WebSocket). Each implementation
// satisfies one or more of these interfaces.

// FeatureSink receives one FeatureRecord per processed bar.
type FeatureSink interface {
	// Write persists or emits the record. A non-nil error means the record
	// is lost; callers decide whether to retry.
	Write(ctx context.Context, symbol string, rec FeatureRecord) error

	// Close flushes and releases underlying resources.
	Close() error
}

// BarStreamer pushes bars into a channel in arrival order.
type BarStreamer interface {
	// StreamBars sends bars to out. Blocks until ctx is cancelled or the
	// source is exhausted.
	StreamBars(ctx context.Context, out chan<- Bar) error

	// Close releases underlying resources.
	Close() error
}

// BarReader loads a finite, time-ordered bar history.
type BarReader interface {
	ReadBars(symbol string, afterTS int64) ([]Bar, error)
	Close() error
}
