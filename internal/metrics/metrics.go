// Package metrics exposes the feature engine's Prometheus metrics and the
// HTTP server that carries /metrics, /healthz and the live endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the feature engine.
type Metrics struct {
	BarsTotal      *prometheus.CounterVec // labels: symbol
	BarsSkipped    *prometheus.CounterVec // labels: reason
	RecordsEmitted prometheus.Counter
	SinkErrors     *prometheus.CounterVec // labels: sink
	ComputeDur     prometheus.Histogram
	ActiveSessions *prometheus.GaugeVec // labels: symbol
	BarLag         prometheus.Gauge
	ArchiveDropped prometheus.Counter

	// Circuit breaker on the Redis feature publisher
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// WebSocket hub
	WSClients prometheus.Gauge
}

// NewMetrics creates the metrics and registers them on reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "featengine_bars_total",
			Help: "Bars processed into a feature record",
		}, []string{"symbol"}),
		BarsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "featengine_bars_skipped_total",
			Help: "Bars rejected before processing (by reason)",
		}, []string{"reason"}),
		RecordsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "featengine_records_emitted_total",
			Help: "Feature records handed to the sinks",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "featengine_sink_errors_total",
			Help: "Feature records a sink failed to write (by sink)",
		}, []string{"sink"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "featengine_compute_duration_seconds",
			Help:    "Feature vector compute latency per bar",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "featengine_active_sessions",
			Help: "Session VWAP accumulators held in memory",
		}, []string{"symbol"}),
		BarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "featengine_bar_lag_seconds",
			Help: "Wall clock minus the timestamp of the last processed bar",
		}),
		ArchiveDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "featengine_archive_dropped_total",
			Help: "Bars the SQLite bar archive could not keep up with",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "featengine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "featengine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "featengine_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.BarsSkipped,
		m.RecordsEmitted,
		m.SinkErrors,
		m.ComputeDur,
		m.ActiveSessions,
		m.BarLag,
		m.ArchiveDropped,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.WSClients,
	)

	return m
}
