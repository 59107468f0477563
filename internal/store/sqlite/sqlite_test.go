package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"featureflow/internal/model"
)

func testBars(symbol string, start time.Time, n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = model.Bar{
			Symbol: symbol, TS: start.Add(time.Duration(i) * time.Minute),
			Open: p, High: p + 1, Low: p - 1, Close: p + 0.5,
			Volume: 10, BuyVolume: 6, SellVolume: 4,
		}
	}
	return bars
}

func TestImportAndReadBars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	start := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	// Insert out of order; reads must come back sorted.
	bars := testBars("BTC", start, 5)
	if err := w.ImportBars([]model.Bar{bars[3], bars[0], bars[4], bars[1], bars[2]}); err != nil {
		t.Fatal(err)
	}
	if err := w.ImportBars(testBars("ETH", start, 2)); err != nil {
		t.Fatal(err)
	}

	last, err := w.GetLastTimestamp("BTC")
	if err != nil || last != bars[4].TS.UnixMilli() {
		t.Fatalf("expected last ts %d, got %d (err=%v)", bars[4].TS.UnixMilli(), last, err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	got, err := r.ReadBars("BTC", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 bars, got %d", len(got))
	}
	for i := range got {
		if !got[i].TS.Equal(bars[i].TS) || got[i].Close != bars[i].Close || got[i].BuyVolume != 6 {
			t.Fatalf("bar %d mismatch: %+v", i, got[i])
		}
		if got[i].Index != i {
			t.Fatalf("bar %d: expected index %d, got %d", i, i, got[i].Index)
		}
	}

	after, _ := r.ReadBars("BTC", bars[2].TS.UnixMilli())
	if len(after) != 2 {
		t.Fatalf("expected 2 bars after ts, got %d", len(after))
	}

	syms, _ := r.Symbols()
	if len(syms) != 2 || syms[0] != "BTC" || syms[1] != "ETH" {
		t.Fatalf("unexpected symbols %v", syms)
	}
}

func TestWriteFeatureAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ts := time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := model.NewFeatureRecord()
		rec.Set(model.FieldTimestamp, model.Time(ts.Add(time.Duration(i)*time.Minute)))
		rec.Set(model.FieldCVD, model.Number(float64(i)))
		rec.Set(model.FieldSessionID, model.String("20240115"))
		rec.Set(model.FieldNearestHVN, model.Optional(5, i > 0))
		if err := w.Write(context.Background(), "BTC", rec); err != nil {
			t.Fatal(err)
		}
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	recs, err := r.ReadFeatures("BTC", "20240115")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if _, ok := recs[0].Get(model.FieldNearestHVN).Optional(); ok {
		t.Fatal("first record should have no hvn")
	}
	if v, ok := recs[2].Get(model.FieldNearestHVN).Optional(); !ok || v != 5 {
		t.Fatalf("expected hvn 5, got %v ok=%v", v, ok)
	}

	latest, err := r.ReadLatestFeature("BTC")
	if err != nil || latest == nil {
		t.Fatalf("latest: %v %v", latest, err)
	}
	if latest.Float(model.FieldCVD) != 2 {
		t.Fatalf("expected latest cvd 2, got %v", latest.Float(model.FieldCVD))
	}

	none, err := r.ReadLatestFeature("ETH")
	if err != nil || none != nil {
		t.Fatalf("expected nil for unknown symbol, got %v %v", none, err)
	}
}

func TestRunFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ch := make(chan model.Bar, 10)
	for _, b := range testBars("SOL", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 7) {
		ch <- b
	}
	close(ch)
	w.Run(context.Background(), ch)

	var n int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM bars WHERE symbol = 'SOL'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("expected 7 bars, got %d", n)
	}
}
