package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"featureflow/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

func TestKeys(t *testing.T) {
	if got := BarStreamKey("BTCUSDT"); got != "bar:BTCUSDT" {
		t.Errorf("bar stream key: %s", got)
	}
	if got := FeatureStreamKey("BTCUSDT"); got != "feat:BTCUSDT" {
		t.Errorf("feature stream key: %s", got)
	}
	if got := FeatureLatestKey("BTCUSDT"); got != "feat:latest:BTCUSDT" {
		t.Errorf("latest key: %s", got)
	}
	if got := FeatureChannel("BTCUSDT"); got != "pub:feat:BTCUSDT" {
		t.Errorf("channel: %s", got)
	}
	if got := SymbolFromBarStream("bar:ETHUSDT"); got != "ETHUSDT" {
		t.Errorf("symbol from stream: %s", got)
	}
	streams := BarStreams([]string{"A", "B"})
	if len(streams) != 2 || streams[1] != "bar:B" {
		t.Errorf("unexpected streams %v", streams)
	}
}

func TestDecodeBar(t *testing.T) {
	in := model.Bar{
		TS:   time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC),
		Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10, BuyVolume: 6, SellVolume: 4,
	}
	bar, err := decodeBar("bar:SOLUSDT", map[string]interface{}{"data": string(in.JSON())})
	if err != nil {
		t.Fatal(err)
	}
	if bar.Symbol != "SOLUSDT" {
		t.Errorf("expected symbol from stream key, got %q", bar.Symbol)
	}
	if !bar.TS.Equal(in.TS) || bar.Close != 1.5 || bar.BuyVolume != 6 {
		t.Errorf("unexpected bar %+v", bar)
	}

	if _, err := decodeBar("bar:X", map[string]interface{}{}); !errors.Is(err, errNoPayload) {
		t.Errorf("expected errNoPayload, got %v", err)
	}
	if _, err := decodeBar("bar:X", map[string]interface{}{"data": "{"}); err == nil {
		t.Error("expected unmarshal error")
	}
}

func TestWriter_BreakerTripsOnUnreachableRedis(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	w := newWriter(client, WriterConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	defer w.Close()

	rec := model.NewFeatureRecord()
	rec.Set(model.FieldTimestamp, model.Time(time.Now()))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := w.Write(ctx, "BTC", rec)
		if err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("write %d: expected connection error, got %v", i, err)
		}
	}
	if err := w.Write(ctx, "BTC", rec); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if w.Breaker().CurrentState() != StateOpen {
		t.Fatalf("expected open breaker, got %v", w.Breaker().CurrentState())
	}
}
