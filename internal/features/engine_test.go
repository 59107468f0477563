package features

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"featureflow/internal/model"
)

type recordingSink struct {
	mu   sync.Mutex
	recs map[string][]model.FeatureRecord
	err  error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{recs: make(map[string][]model.FeatureRecord)}
}

func (s *recordingSink) Write(_ context.Context, symbol string, rec model.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs[symbol] = append(s.recs[symbol], rec)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) get(symbol string) []model.FeatureRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FeatureRecord(nil), s.recs[symbol]...)
}

func TestEngine_FeedsAreIndependent(t *testing.T) {
	sink := newRecordingSink()
	e, err := NewEngine(DefaultParams(), sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, bar := range threeBars() {
		a := bar
		a.Symbol = "AAA"
		b := bar
		b.Symbol = "BBB"
		b.BuyVolume, b.SellVolume = b.SellVolume, b.BuyVolume
		if _, ok, err := e.Process(ctx, &a); !ok || err != nil {
			t.Fatalf("AAA: ok=%v err=%v", ok, err)
		}
		if _, ok, err := e.Process(ctx, &b); !ok || err != nil {
			t.Fatalf("BBB: ok=%v err=%v", ok, err)
		}
	}

	aaa, bbb := sink.get("AAA"), sink.get("BBB")
	if len(aaa) != 3 || len(bbb) != 3 {
		t.Fatalf("expected 3 records per feed, got %d/%d", len(aaa), len(bbb))
	}
	near(t, "AAA cvd", aaa[2].Float(model.FieldCVD), 1)
	near(t, "BBB cvd", bbb[2].Float(model.FieldCVD), -1)

	if got := e.Symbols(); len(got) != 2 || got[0] != "AAA" || got[1] != "BBB" {
		t.Fatalf("unexpected symbols %v", got)
	}
	if e.Count("AAA") != 3 {
		t.Fatalf("expected count 3, got %d", e.Count("AAA"))
	}
}

func TestEngine_SinkErrorIsReturned(t *testing.T) {
	sink := newRecordingSink()
	sink.err = errors.New("disk full")
	e, _ := NewEngine(DefaultParams(), sink, nil)

	var sinkErrs int
	e.OnSinkError = func(string, error) { sinkErrs++ }

	bar := threeBars()[0]
	_, ok, err := e.Process(context.Background(), &bar)
	if !ok {
		t.Fatal("record should have been built")
	}
	if !errors.Is(err, sink.err) {
		t.Fatalf("expected wrapped sink error, got %v", err)
	}
	if sinkErrs != 1 {
		t.Fatalf("expected 1 sink error callback, got %d", sinkErrs)
	}
}

func TestEngine_SkipHook(t *testing.T) {
	e, _ := NewEngine(DefaultParams(), nil, nil)
	var reasons []SkipReason
	e.OnSkip = func(_ string, r SkipReason) { reasons = append(reasons, r) }

	bars := threeBars()
	e.Process(context.Background(), &bars[1])
	_, ok, err := e.Process(context.Background(), &bars[0])
	if ok || err != nil {
		t.Fatalf("expected silent skip, ok=%v err=%v", ok, err)
	}
	if len(reasons) != 1 || reasons[0] != SkipOutOfOrder {
		t.Fatalf("unexpected skip reasons %v", reasons)
	}
}

func TestEngine_InvalidBarDoesNotRegisterFeed(t *testing.T) {
	e, _ := NewEngine(DefaultParams(), newRecordingSink(), nil)
	var reasons []SkipReason
	e.OnSkip = func(_ string, r SkipReason) { reasons = append(reasons, r) }
	ctx := context.Background()

	if _, ok, err := e.Process(ctx, nil); ok || err != nil {
		t.Fatalf("nil bar: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := e.Process(ctx, &model.Bar{Symbol: "X"}); ok {
		t.Fatal("zero-timestamp bar must be skipped")
	}
	bad := threeBars()[1]
	bad.Symbol = "Y"
	bad.Close = math.NaN()
	if _, ok, _ := e.Process(ctx, &bad); ok {
		t.Fatal("non-finite bar must be skipped")
	}

	if got := e.Symbols(); len(got) != 0 {
		t.Fatalf("expected no registered feeds, got %v", got)
	}
	if len(reasons) != 3 || reasons[0] != SkipNilBar || reasons[1] != SkipNonFinite || reasons[2] != SkipNonFinite {
		t.Fatalf("unexpected skip reasons %v", reasons)
	}

	valid := threeBars()[0]
	if _, ok, err := e.Process(ctx, &valid); !ok || err != nil {
		t.Fatalf("valid bar: ok=%v err=%v", ok, err)
	}
	if got := e.Symbols(); len(got) != 1 || got[0] != "BTCUSDT" {
		t.Fatalf("expected only BTCUSDT, got %v", got)
	}
}

func TestEngine_RunDrainsChannel(t *testing.T) {
	sink := newRecordingSink()
	e, _ := NewEngine(DefaultParams(), sink, nil)

	ch := make(chan model.Bar, 8)
	for _, b := range threeBars() {
		ch <- b
	}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Run(ctx, ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(sink.get("BTCUSDT")); got != 3 {
		t.Fatalf("expected 3 records, got %d", got)
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e, _ := NewEngine(DefaultParams(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx, make(chan model.Bar)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngine_Reset(t *testing.T) {
	e, _ := NewEngine(DefaultParams(), nil, nil)
	bars := threeBars()
	e.Process(context.Background(), &bars[2])
	e.Reset("BTCUSDT")
	if _, ok, _ := e.Process(context.Background(), &bars[0]); !ok {
		t.Fatal("reset feed should accept an earlier bar")
	}
}
