// Package featengine wires a bar source, the feature engine and the
// configured sinks into one long-running service.
package featengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"featureflow/internal/bus"
	"featureflow/internal/features"
	"featureflow/internal/gateway"
	"featureflow/internal/metrics"
	"featureflow/internal/model"
	"featureflow/internal/sink"
	"featureflow/internal/source"
	redisstore "featureflow/internal/store/redis"
	sqlitestore "featureflow/internal/store/sqlite"
)

const (
	barBuffer      = 5000
	statsInterval  = 5 * time.Second
	probeInterval  = 15 * time.Second
	shutdownWindow = 5 * time.Second
)

// Service is the top-level orchestrator for the feature engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg    Config
	log    *slog.Logger
	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus

	engine *features.Engine
	sinks  *sink.Multi
	source model.BarStreamer

	hub         *gateway.Hub
	redisWriter *redisstore.Writer
	redisReader *redisstore.Reader
	sqlWriter   *sqlitestore.Writer
	sqlReader   *sqlitestore.Reader

	latestMu sync.RWMutex
	latest   map[string]json.RawMessage
}

// New creates a Service from cfg: it opens every configured sink and the bar
// source. Everything opened so far is closed again on error.
func New(cfg Config, log *slog.Logger) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &Service{
		cfg:    cfg,
		log:    log,
		reg:    reg,
		prom:   metrics.NewMetrics(reg),
		health: metrics.NewHealthStatus(),
		sinks:  sink.NewMulti(),
		latest: make(map[string]json.RawMessage),
	}
	if err := svc.openSinks(); err != nil {
		svc.closeAll()
		return nil, err
	}
	if err := svc.openSource(); err != nil {
		svc.closeAll()
		return nil, err
	}

	engine, err := features.NewEngine(cfg.Params, svc.sinks, log)
	if err != nil {
		svc.closeAll()
		return nil, err
	}
	svc.engine = engine
	svc.instrument()
	return svc, nil
}

// openSinks builds the fan-out sink in the order given by SINKS.
func (svc *Service) openSinks() error {
	cfg := svc.cfg
	for _, name := range cfg.Sinks {
		switch name {
		case SinkFile:
			fs, err := sink.NewFile(cfg.OutputDir)
			if err != nil {
				return err
			}
			svc.sinks.Add(name, fs)

		case SinkParquet:
			ps, err := sink.NewParquet(filepath.Join(cfg.OutputDir, "parquet"))
			if err != nil {
				return err
			}
			svc.sinks.Add(name, ps)

		case SinkSQLite:
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return fmt.Errorf("featengine: sqlite dir: %w", err)
			}
			w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
			if err != nil {
				return err
			}
			svc.sqlWriter = w
			svc.sinks.Add(name, w)
			svc.health.RequireSQLite()

			// Serves /latest for symbols not seen since startup.
			if svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath); err != nil {
				return err
			}

		case SinkRedis:
			w, err := redisstore.New(redisstore.WriterConfig{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
			})
			if err != nil {
				return err
			}
			svc.redisWriter = w
			svc.sinks.Add(name, w)
			svc.health.RequireRedis()

		case SinkWS:
			svc.hub = gateway.NewHub()
			svc.sinks.Add(name, svc.hub)
		}
	}
	svc.health.SetSinks(cfg.Sinks)
	return nil
}

// openSource creates the bar streamer for SOURCE.
func (svc *Service) openSource() error {
	cfg := svc.cfg
	switch cfg.Source {
	case SourceCSV, SourceParquet:
		bars, err := source.ReadFile(cfg.SourcePath, cfg.Symbol)
		if err != nil {
			return err
		}
		svc.log.Info("bars loaded", slog.String("path", cfg.SourcePath), slog.Int("bars", len(bars)))
		svc.source = source.NewReplayer(bars, cfg.ReplaySpeed)

	case SourceSQLite:
		if svc.sqlReader == nil {
			r, err := sqlitestore.NewReader(cfg.SQLitePath)
			if err != nil {
				return err
			}
			svc.sqlReader = r
		}
		r := svc.sqlReader
		var err error
		symbols := []string{cfg.Symbol}
		if cfg.Symbol == "" {
			if symbols, err = r.Symbols(); err != nil {
				return err
			}
		}
		rp, err := source.FromReader(r, symbols, 0, cfg.ReplaySpeed)
		if err != nil {
			return err
		}
		svc.log.Info("bars loaded", slog.String("path", cfg.SQLitePath), slog.Any("symbols", symbols), slog.Int("bars", rp.Len()))
		svc.source = rp
		svc.health.RequireSQLite()

	case SourceRedis:
		streams := cfg.BarStreams
		if len(streams) == 0 {
			streams = redisstore.BarStreams([]string{cfg.Symbol})
		}
		r, err := redisstore.NewReader(redisstore.ReaderConfig{
			Addr:          cfg.RedisAddr,
			Password:      cfg.RedisPassword,
			ConsumerGroup: cfg.ConsumerGroup,
			ConsumerName:  cfg.ConsumerName,
			Streams:       streams,
		})
		if err != nil {
			return err
		}
		svc.redisReader = r
		svc.source = r
		svc.health.RequireRedis()

	default:
		return fmt.Errorf("featengine: unknown source %q", cfg.Source)
	}
	return nil
}

// instrument connects engine, sink and breaker callbacks to the metrics.
func (svc *Service) instrument() {
	prom := svc.prom

	svc.engine.OnSkip = func(_ string, reason features.SkipReason) {
		prom.BarsSkipped.WithLabelValues(string(reason)).Inc()
	}
	svc.engine.OnRecord = func(symbol string, rec model.FeatureRecord, elapsed time.Duration) {
		prom.BarsTotal.WithLabelValues(symbol).Inc()
		prom.RecordsEmitted.Inc()
		prom.ComputeDur.Observe(elapsed.Seconds())
		ts := rec.Timestamp()
		prom.BarLag.Set(time.Since(ts).Seconds())
		svc.health.RecordBar(ts)

		svc.latestMu.Lock()
		svc.latest[symbol] = rec.JSON()
		svc.latestMu.Unlock()
	}
	svc.sinks.OnError = func(name string, err error) {
		prom.SinkErrors.WithLabelValues(name).Inc()
	}

	if svc.redisWriter != nil {
		svc.redisWriter.Breaker().OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			svc.log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
	}
}

// Run starts all subsystems and blocks until ctx is cancelled or a finite
// source is exhausted.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc.log.Info("starting feature engine",
		slog.String("source", cfg.Source),
		slog.Any("sinks", cfg.Sinks),
		slog.String("session_tz", cfg.Params.Calendar.Location().String()),
	)

	server := svc.startHTTP()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		server.Stop(shutCtx)
	}()

	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.sqlDB(), probeInterval)
	go svc.statsLoop(ctx)

	srcCh := make(chan model.Bar, barBuffer)
	barCh, archived := svc.archiveBars(ctx, srcCh)

	srcErr := make(chan error, 1)
	svc.health.SetSource(cfg.Source, true)
	go func() {
		defer close(srcCh)
		srcErr <- svc.source.StreamBars(ctx, srcCh)
	}()

	runErr := svc.engine.Run(ctx, barCh)
	svc.health.SetSource(cfg.Source, false)
	err := <-srcErr
	<-archived

	svc.shutdown()
	svc.log.Info("feature engine stopped", slog.Any("symbols", svc.engine.Symbols()))

	if errors.Is(runErr, context.Canceled) || errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("featengine: source: %w", err)
	}
	return runErr
}

// archiveBars fans live bars out to the engine and, when SQLite is a sink and
// the bars do not already come from it, to the SQLite bar table. The archive
// subscriber is lossy so a slow disk never stalls feature computation.
// Returns the engine's channel and a channel closed once the archive has been
// flushed.
func (svc *Service) archiveBars(ctx context.Context, in <-chan model.Bar) (<-chan model.Bar, <-chan struct{}) {
	done := make(chan struct{})
	if svc.sqlWriter == nil || svc.cfg.Source == SourceSQLite {
		close(done)
		return in, done
	}
	fan := bus.New(barBuffer)
	out := fan.Subscribe()
	archive := fan.SubscribeLossy()
	fan.OnDrop = func(_ int, bar model.Bar) {
		svc.prom.ArchiveDropped.Inc()
		svc.log.Warn("bar archive full, dropping bar", slog.String("symbol", bar.Symbol), slog.Time("ts", bar.TS))
	}
	go fan.Run(ctx, in)
	go func() {
		defer close(done)
		svc.sqlWriter.Run(ctx, archive)
	}()
	return out, done
}

// statsLoop refreshes the gauges that have no natural event.
func (svc *Service) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			symbols := svc.engine.Symbols()
			for _, s := range symbols {
				svc.prom.ActiveSessions.WithLabelValues(s).Set(float64(svc.engine.Sessions(s)))
			}
			svc.health.SetSymbols(symbols)
			if svc.hub != nil {
				svc.prom.WSClients.Set(float64(svc.hub.ClientCount()))
			}
		}
	}
}

func (svc *Service) startHTTP() *metrics.Server {
	server := metrics.NewServer(svc.cfg.HTTPAddr, svc.health, svc.reg)
	server.Handle("/latest", http.HandlerFunc(svc.handleLatest))
	if svc.hub != nil {
		server.Handle("/ws", http.HandlerFunc(svc.hub.HandleWS))
		server.Handle("/api/missed", http.HandlerFunc(svc.hub.HandleMissed))
	}
	server.Start()
	return server
}

// handleLatest serves GET /latest (every symbol) or /latest?symbol=X. A
// symbol not seen since startup falls back to the Redis and SQLite stores.
func (svc *Service) handleLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		svc.latestMu.RLock()
		all := make(map[string]json.RawMessage, len(svc.latest))
		for k, v := range svc.latest {
			all[k] = v
		}
		svc.latestMu.RUnlock()
		json.NewEncoder(w).Encode(all)
		return
	}

	svc.latestMu.RLock()
	data, ok := svc.latest[symbol]
	svc.latestMu.RUnlock()
	if ok {
		w.Write(data)
		return
	}

	rec, err := svc.storedLatest(r.Context(), symbol)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if rec == nil {
		http.Error(w, "no record for "+symbol, http.StatusNotFound)
		return
	}
	w.Write(rec.JSON())
}

func (svc *Service) storedLatest(ctx context.Context, symbol string) (*model.FeatureRecord, error) {
	if svc.redisReader != nil {
		if rec, err := svc.redisReader.ReadLatestFeature(ctx, symbol); err != nil || rec != nil {
			return rec, err
		}
	}
	if svc.sqlReader != nil {
		return svc.sqlReader.ReadLatestFeature(symbol)
	}
	return nil, nil
}

func (svc *Service) redisClient() *goredis.Client {
	switch {
	case svc.redisWriter != nil:
		return svc.redisWriter.Client()
	case svc.redisReader != nil:
		return svc.redisReader.Client()
	}
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter != nil {
		return svc.sqlWriter.DB()
	}
	return nil
}

// shutdown flushes the sinks and closes connections.
func (svc *Service) shutdown() {
	svc.log.Info("shutting down, flushing sinks", slog.Int("sinks", svc.sinks.Len()))
	svc.closeAll()
	svc.log.Info("shutdown complete")
}

func (svc *Service) closeAll() {
	if svc.source != nil {
		if err := svc.source.Close(); err != nil {
			svc.log.Warn("source close", slog.Any("error", err))
		}
	}
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if err := svc.sinks.Close(); err != nil {
		svc.log.Error("sink close", slog.Any("error", err))
	}
}
