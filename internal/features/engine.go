package features

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"featureflow/internal/logger"
	"featureflow/internal/model"
)

// Engine fans bars from many feeds into one Builder per symbol and emits every
// record to a sink. Records of one symbol reach the sink in bar order.
type Engine struct {
	params Params
	sink   model.FeatureSink
	log    *slog.Logger

	mu       sync.Mutex
	builders map[string]*Builder

	// emitMu serializes sink writes; it is taken before mu is released so
	// emission order matches processing order.
	emitMu sync.Mutex

	// OnSkip is called for every rejected bar.
	OnSkip func(symbol string, reason SkipReason)
	// OnRecord is called after a record is built, with the compute time.
	OnRecord func(symbol string, rec model.FeatureRecord, elapsed time.Duration)
	// OnSinkError is called when the sink rejects a record.
	OnSinkError func(symbol string, err error)
}

// NewEngine creates an engine. A nil sink discards records; a nil logger
// uses slog.Default().
func NewEngine(p Params, sink model.FeatureSink, log *slog.Logger) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		params:   p,
		sink:     sink,
		log:      log,
		builders: make(map[string]*Builder, 16),
	}, nil
}

// Process builds the record for bar and writes it to the sink. ok is false
// when the bar was skipped. A sink error is returned after the record has
// been built; the builder state has already advanced.
func (e *Engine) Process(ctx context.Context, bar *model.Bar) (rec model.FeatureRecord, ok bool, err error) {
	symbol := ""
	if bar != nil {
		symbol = bar.Symbol
	}

	// A bar that can never be processed must not register its feed.
	if reason := checkBar(bar); reason != SkipNone {
		e.skipped(ctx, symbol, reason)
		return rec, false, nil
	}

	e.mu.Lock()
	b, err := e.builderLocked(symbol)
	if err != nil {
		e.mu.Unlock()
		return rec, false, err
	}
	start := time.Now()
	rec, reason := b.Process(bar)
	elapsed := time.Since(start)
	if reason != SkipNone {
		e.mu.Unlock()
		e.skipped(ctx, symbol, reason)
		return rec, false, nil
	}
	e.emitMu.Lock()
	e.mu.Unlock()
	defer e.emitMu.Unlock()

	if e.OnRecord != nil {
		e.OnRecord(symbol, rec, elapsed)
	}
	if e.sink == nil {
		return rec, true, nil
	}
	if werr := e.sink.Write(ctx, symbol, rec); werr != nil {
		if e.OnSinkError != nil {
			e.OnSinkError(symbol, werr)
		}
		return rec, true, fmt.Errorf("features: emit %s@%s: %w", symbol, rec.Timestamp().Format(time.RFC3339), werr)
	}
	return rec, true, nil
}

func (e *Engine) skipped(ctx context.Context, symbol string, reason SkipReason) {
	if e.OnSkip != nil {
		e.OnSkip(symbol, reason)
	}
	e.log.Debug("bar skipped",
		append([]any{slog.String("symbol", symbol), slog.String("reason", string(reason))}, logger.LogWithTrace(ctx)...)...)
}

func (e *Engine) builderLocked(symbol string) (*Builder, error) {
	if b, ok := e.builders[symbol]; ok {
		return b, nil
	}
	b, err := NewBuilder(e.params)
	if err != nil {
		return nil, err
	}
	e.builders[symbol] = b
	e.log.Info("feed registered", slog.String("symbol", symbol))
	return b, nil
}

// Run consumes bars until the channel closes or ctx is done. Sink failures
// are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case bar, ok := <-barCh:
			if !ok {
				return nil
			}
			tctx := logger.WithTraceID(ctx, logger.GenerateTraceID(bar.Symbol, bar.TS))
			if _, _, err := e.Process(tctx, &bar); err != nil {
				e.log.Error("emit failed",
					append([]any{slog.String("symbol", bar.Symbol), slog.Any("error", err)}, logger.LogWithTrace(tctx)...)...)
			}
		}
	}
}

// Symbols returns the registered feeds in sorted order.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.builders))
	for s := range e.builders {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of bars processed for symbol.
func (e *Engine) Count(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.builders[symbol]; ok {
		return b.Count()
	}
	return 0
}

// Sessions returns the number of session VWAP accumulators held for symbol.
func (e *Engine) Sessions(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.builders[symbol]; ok {
		return b.Sessions().Len()
	}
	return 0
}

// Reset drops the state of one feed; its next bar starts from scratch.
func (e *Engine) Reset(symbol string) {
	e.mu.Lock()
	delete(e.builders, symbol)
	e.mu.Unlock()
}
