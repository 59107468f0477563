package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"featureflow/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: ~1 week of 1m bars
	defaultStreamMaxLen = 10080
	defaultLatestTTL    = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	StreamMaxLen int64         // approximate feature stream cap, 0 = default
	LatestTTL    time.Duration // TTL of the latest key, 0 = default

	// Breaker trips after MaxFailures consecutive pipeline errors and
	// probes again after ResetTimeout.
	MaxFailures  int
	ResetTimeout time.Duration
}

// Writer publishes feature records: XADD to the feature stream, SET the
// latest key and PUBLISH, in one pipeline guarded by a circuit breaker.
// It implements model.FeatureSink.
type Writer struct {
	client    *goredis.Client
	breaker   *CircuitBreaker
	maxLen    int64
	latestTTL time.Duration
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker exposes the circuit breaker so callers can hook state changes.
func (w *Writer) Breaker() *CircuitBreaker { return w.breaker }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return newWriter(client, cfg), nil
}

func newWriter(client *goredis.Client, cfg WriterConfig) *Writer {
	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	ttl := cfg.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	reset := cfg.ResetTimeout
	if reset <= 0 {
		reset = 10 * time.Second
	}
	return &Writer{
		client:    client,
		breaker:   NewCircuitBreaker(maxFailures, reset),
		maxLen:    maxLen,
		latestTTL: ttl,
	}
}

// Write implements model.FeatureSink. While the breaker is open the record
// is rejected with ErrCircuitOpen without touching the network.
func (w *Writer) Write(ctx context.Context, symbol string, rec model.FeatureRecord) error {
	jsonBytes, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal feature: %w", err)
	}
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	return w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: FeatureStreamKey(symbol),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{payloadField: jsonData},
		})
		pipe.Set(ctx, FeatureLatestKey(symbol), jsonData, w.latestTTL)
		pipe.Publish(ctx, FeatureChannel(symbol), jsonData)

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis feature pipeline %s: %w", symbol, err)
		}
		return nil
	})
}

// PublishBars appends bars to their symbols' bar streams in one pipeline.
// Used to seed a running engine from a file.
func (w *Writer) PublishBars(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	pipe := w.client.Pipeline()
	for i := range bars {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: BarStreamKey(bars[i].Symbol),
			MaxLen: w.maxLen,
			Approx: true,
			Values: map[string]interface{}{payloadField: string(bars[i].JSON())},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis bar pipeline (%d bars): %w", len(bars), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
