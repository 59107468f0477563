// cmd/backtest runs a historical bar file through the feature engine and
// writes the records to JSON-lines files and, optionally, parquet archives.
//
// Usage:
//
//	go run ./cmd/backtest --input=data/btcusdt_1m.csv --symbol=BTCUSDT --out=data/features
//	go run ./cmd/backtest --db=data/features.db --tz=Asia/Kolkata --parquet
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"featureflow/internal/features"
	"featureflow/internal/logger"
	"featureflow/internal/model"
	"featureflow/internal/session"
	"featureflow/internal/sink"
	"featureflow/internal/source"
	redisstore "featureflow/internal/store/redis"
	sqlitestore "featureflow/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	input := flag.String("input", "", "CSV or parquet bar file")
	dbPath := flag.String("db", "", "Read bars from this SQLite database instead of --input")
	symbol := flag.String("symbol", "", "Symbol for files without a symbol column (also filters --db)")
	fromMs := flag.Int64("from", 0, "With --db: only bars after this unix ms timestamp")
	outDir := flag.String("out", "data/features", "Output directory")
	writeParquet := flag.Bool("parquet", false, "Also write per-session parquet archives")
	importDB := flag.String("import", "", "Import the input bars into this SQLite database")
	publish := flag.String("publish-redis", "", "Publish the input bars to bar:{symbol} streams at this Redis address")
	tz := flag.String("tz", "UTC", "Session time zone (IANA name, IST, or +05:30)")
	retention := flag.Int("retention-days", 0, "Evict session VWAPs older than N days (0=keep all)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	printEvery := flag.Int("print", 0, "Print every Nth record to stdout (0=none)")
	level := flag.String("log-level", "warn", "debug, info, warn or error")
	flag.Parse()

	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	slogger := logger.InitWriter(os.Stderr, "backtest", lvl)

	bars, err := loadBars(*input, *dbPath, *symbol, *fromMs)
	if err != nil {
		log.Fatalf("[backtest] load bars: %v", err)
	}
	log.Printf("[backtest] loaded %d bars", len(bars))

	if *importDB != "" {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *importDB})
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		if err := w.ImportBars(bars); err != nil {
			log.Fatalf("[backtest] import failed: %v", err)
		}
		w.Close()
		log.Printf("[backtest] imported %d bars into %s", len(bars), *importDB)
	}

	if *publish != "" {
		w, err := redisstore.New(redisstore.WriterConfig{Addr: *publish})
		if err != nil {
			log.Fatalf("[backtest] redis connect failed: %v", err)
		}
		if err := w.PublishBars(context.Background(), bars); err != nil {
			log.Fatalf("[backtest] publish failed: %v", err)
		}
		w.Close()
		log.Printf("[backtest] published %d bars to %s", len(bars), *publish)
	}

	// Build engine + sinks
	loc, err := session.ParseLocation(*tz)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	params := features.DefaultParams()
	params.Calendar = session.NewCalendar(loc)
	params.SessionRetentionDays = *retention

	fileSink, err := sink.NewFile(*outDir)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	out := sink.NewMulti(sink.Named{Name: "file", Sink: fileSink})
	if *writeParquet {
		ps, err := sink.NewParquet(*outDir + "/parquet")
		if err != nil {
			log.Fatalf("[backtest] %v", err)
		}
		out.Add("parquet", ps)
	}

	engine, err := features.NewEngine(params, out, slogger)
	if err != nil {
		log.Fatalf("[backtest] engine init failed: %v", err)
	}

	var (
		mu       sync.Mutex
		skipped  = map[features.SkipReason]int{}
		sessions = map[string]bool{}
		computed time.Duration
		emitted  int
	)
	engine.OnSkip = func(_ string, reason features.SkipReason) {
		mu.Lock()
		skipped[reason]++
		mu.Unlock()
	}
	engine.OnRecord = func(sym string, rec model.FeatureRecord, elapsed time.Duration) {
		mu.Lock()
		emitted++
		computed += elapsed
		sessions[rec.SessionID()] = true
		n := emitted
		mu.Unlock()
		if *printEvery > 0 && n%*printEvery == 0 {
			fmt.Printf("  [%s] %s cvd=%.2f vwap=%.4f poc=%.4f rsi=%.1f\n",
				rec.Timestamp().Format(time.RFC3339), sym,
				rec.Float(model.FieldCVD), rec.Float(model.FieldVWAPSession),
				rec.Float(model.FieldPOC), rec.Float(model.FieldCVDRSI))
		}
	}

	// Setup context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// Replay in background
	replayer := source.NewReplayer(bars, *speed)
	barCh := make(chan model.Bar, 10000)
	go func() {
		if err := replayer.StreamBars(ctx, barCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(barCh)
	}()

	start := time.Now()
	if err := engine.Run(ctx, barCh); err != nil {
		log.Printf("[backtest] stopped: %v", err)
	}
	wall := time.Since(start)
	if err := out.Close(); err != nil {
		log.Printf("[backtest] sink close: %v", err)
	}

	// Print summary
	mu.Lock()
	defer mu.Unlock()
	var perBar time.Duration
	if emitted > 0 {
		perBar = computed / time.Duration(emitted)
	}
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Bars loaded:       %-16d ║\n", len(bars))
	fmt.Printf("║  Records emitted:   %-16d ║\n", emitted)
	fmt.Printf("║  Symbols:           %-16d ║\n", len(engine.Symbols()))
	fmt.Printf("║  Sessions:          %-16d ║\n", len(sessions))
	fmt.Printf("║  Compute / bar:     %-16v ║\n", perBar)
	fmt.Printf("║  Wall time:         %-16v ║\n", wall.Round(time.Millisecond))
	reasons := make([]string, 0, len(skipped))
	for r := range skipped {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Printf("║  Skipped %-10s %-16d ║\n", r+":", skipped[features.SkipReason(r)])
	}
	fmt.Println("╚══════════════════════════════════════╝")
}

func loadBars(input, dbPath, symbol string, fromMs int64) ([]model.Bar, error) {
	if dbPath == "" {
		if input == "" {
			return nil, fmt.Errorf("one of --input or --db is required")
		}
		return source.ReadFile(input, symbol)
	}

	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	symbols := []string{symbol}
	if symbol == "" {
		if symbols, err = reader.Symbols(); err != nil {
			return nil, err
		}
	}
	var all []model.Bar
	for _, s := range symbols {
		bars, err := reader.ReadBars(s, fromMs)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	return all, nil
}
