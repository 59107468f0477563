package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the service health. Redis and SQLite only count
// toward the status once they have been marked as required.
type HealthStatus struct {
	mu sync.RWMutex

	SourceKind     string
	SourceRunning  bool
	LastBarTime    time.Time
	BarsProcessed  int64
	Symbols        []string
	Sinks          []string
	RedisRequired  bool
	RedisConnected bool
	SQLiteRequired bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

// SetSource records the bar source kind and whether it is running.
func (h *HealthStatus) SetSource(kind string, running bool) {
	h.mu.Lock()
	h.SourceKind = kind
	h.SourceRunning = running
	h.mu.Unlock()
}

// SetSinks records the configured sink names.
func (h *HealthStatus) SetSinks(names []string) {
	h.mu.Lock()
	h.Sinks = names
	h.mu.Unlock()
}

// RequireRedis marks Redis as a dependency of the service.
func (h *HealthStatus) RequireRedis() {
	h.mu.Lock()
	h.RedisRequired = true
	h.mu.Unlock()
}

// RequireSQLite marks SQLite as a dependency of the service.
func (h *HealthStatus) RequireSQLite() {
	h.mu.Lock()
	h.SQLiteRequired = true
	h.mu.Unlock()
}

// RecordBar notes a processed bar.
func (h *HealthStatus) RecordBar(ts time.Time) {
	h.mu.Lock()
	h.BarsProcessed++
	if ts.After(h.LastBarTime) {
		h.LastBarTime = ts
	}
	h.mu.Unlock()
}

// SetSymbols records the feeds seen so far.
func (h *HealthStatus) SetSymbols(symbols []string) {
	h.mu.Lock()
	h.Symbols = symbols
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the given dependencies immediately and then
// every interval. Either may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if rdb != nil {
			h.CheckRedis(probeCtx, rdb)
		}
		if sqlDB != nil {
			h.CheckSQLite(probeCtx, sqlDB)
		}
	}
	go func() {
		probe()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

type healthReport struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	Source          string   `json:"source"`
	SourceRunning   bool     `json:"source_running"`
	LastBarTime     string   `json:"last_bar_time,omitempty"`
	BarsProcessed   int64    `json:"bars_processed"`
	Symbols         []string `json:"symbols"`
	Sinks           []string `json:"sinks"`
	RedisConnected  *bool    `json:"redis_connected,omitempty"`
	RedisLatencyMs  float64  `json:"redis_latency_ms,omitempty"`
	SQLiteOK        *bool    `json:"sqlite_ok,omitempty"`
	SQLiteLatencyMs float64  `json:"sqlite_latency_ms,omitempty"`
	LastCheckAt     string   `json:"last_check_at,omitempty"`
}

// report builds the /healthz body and its HTTP status.
func (h *HealthStatus) report() (healthReport, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	down := 0
	if h.RedisRequired && !h.RedisConnected {
		down++
	}
	if h.SQLiteRequired && !h.SQLiteOK {
		down++
	}
	if !h.SourceRunning {
		down++
	}
	switch {
	case down >= 2:
		status, code = "unhealthy", http.StatusServiceUnavailable
	case down == 1:
		status, code = "degraded", http.StatusServiceUnavailable
	}

	r := healthReport{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Source:          h.SourceKind,
		SourceRunning:   h.SourceRunning,
		BarsProcessed:   h.BarsProcessed,
		Symbols:         h.Symbols,
		Sinks:           h.Sinks,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
	}
	if !h.LastBarTime.IsZero() {
		r.LastBarTime = h.LastBarTime.Format(time.RFC3339)
	}
	if !h.LastCheckAt.IsZero() {
		r.LastCheckAt = h.LastCheckAt.Format(time.RFC3339)
	}
	if h.RedisRequired {
		v := h.RedisConnected
		r.RedisConnected = &v
	}
	if h.SQLiteRequired {
		v := h.SQLiteOK
		r.SQLiteOK = &v
	}
	return r, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, code := h.report()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(report)
}

// Server runs an HTTP server exposing /metrics, /healthz and any handlers
// added with Handle before Start.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server. gatherer is usually
// prometheus.DefaultGatherer.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle registers an extra endpoint, e.g. /latest or /ws.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Handler returns the server's mux (for tests).
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
