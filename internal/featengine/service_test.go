package featengine

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"featureflow/internal/features"
	"featureflow/internal/sink"
	sqlitestore "featureflow/internal/store/sqlite"
)

const barsCSV = `timestamp,open,high,low,close,volume,buy_volume,sell_volume
2024-01-15T09:15:00Z,100,101,99,100.5,10,6,4
2024-01-15T09:16:00Z,100.5,102,100,101.5,12,8,4
2024-01-15T09:17:00Z,101.5,101.5,100.5,101,9,3,6
2024-01-16T09:15:00Z,101,103,100.5,102.5,15,10,5
`

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bars.csv")
	if err := os.WriteFile(path, []byte(barsCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	return Config{
		Symbol:     "BTCUSDT",
		Source:     SourceCSV,
		SourcePath: path,
		SQLitePath: filepath.Join(dir, "db", "features.db"),
		Sinks:      []string{SinkFile, SinkParquet, SinkSQLite},
		OutputDir:  filepath.Join(dir, "out"),
		HTTPAddr:   "127.0.0.1:0",
		Params:     features.DefaultParams(),
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestService_RunCSVToSinks(t *testing.T) {
	cfg := testConfig(t)
	svc, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	symDir := filepath.Join(cfg.OutputDir, "BTCUSDT")
	if n := countLines(t, filepath.Join(symDir, sink.SessionFileName("20240115"))); n != 3 {
		t.Errorf("expected 3 records for 20240115, got %d", n)
	}
	if n := countLines(t, filepath.Join(symDir, sink.SessionFileName("20240116"))); n != 1 {
		t.Errorf("expected 1 record for 20240116, got %d", n)
	}

	rows, err := sink.ReadArchive(filepath.Join(cfg.OutputDir, "parquet", "BTCUSDT", sink.ArchiveFileName("20240115")))
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 archived rows, got %d", len(rows))
	}

	r, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	bars, err := r.ReadBars("BTCUSDT", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 4 {
		t.Errorf("expected 4 archived bars, got %d", len(bars))
	}
	latest, err := r.ReadLatestFeature("BTCUSDT")
	if err != nil || latest == nil {
		t.Fatalf("ReadLatestFeature: %v %v", latest, err)
	}
	if latest.SessionID() != "20240116" {
		t.Errorf("expected latest session 20240116, got %s", latest.SessionID())
	}
}

func TestService_HandleLatest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sinks = []string{SinkFile}
	svc, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rr := httptest.NewRecorder()
	svc.handleLatest(rr, httptest.NewRequest(http.MethodGet, "/latest?symbol=BTCUSDT", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var rec map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["session_id"] != "20240116" || rec["close"] != 102.5 {
		t.Errorf("unexpected latest record %v", rec)
	}

	rr = httptest.NewRecorder()
	svc.handleLatest(rr, httptest.NewRequest(http.MethodGet, "/latest?symbol=ETHUSDT", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown symbol, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	svc.handleLatest(rr, httptest.NewRequest(http.MethodGet, "/latest", nil))
	if !strings.Contains(rr.Body.String(), `"BTCUSDT"`) {
		t.Errorf("expected BTCUSDT in /latest, got %s", rr.Body.String())
	}
}

func TestNew_BadSourcePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.SourcePath = filepath.Join(t.TempDir(), "missing.csv")
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for missing source file")
	}
}
