package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"featureflow/internal/model"
)

func testRecord(ts time.Time, close float64, lvn float64, hasLVN bool) model.FeatureRecord {
	rec := model.NewFeatureRecord()
	rec.Set(model.FieldTimestamp, model.Time(ts))
	rec.Set(model.FieldClose, model.Number(close))
	rec.Set(model.FieldCVD, model.Number(close*2))
	rec.Set(model.FieldNearestLVN, model.Optional(lvn, hasLVN))
	rec.Set(model.FieldInLVN, model.Bool(hasLVN))
	rec.Set(model.FieldSessionID, model.String(ts.UTC().Format("20060102")))
	return rec
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
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %d is not JSON: %v", n, err)
		}
		n++
	}
	return n
}

func TestFile_SessionFilesAndLatest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFile(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	day1 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	for i, ts := range []time.Time{day1, day1.Add(time.Minute), day2} {
		if err := s.Write(ctx, "", testRecord(ts, float64(i+1), 0, false)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if n := countLines(t, filepath.Join(dir, SessionFileName("20240115"))); n != 2 {
		t.Fatalf("expected 2 lines for day 1, got %d", n)
	}
	if n := countLines(t, filepath.Join(dir, SessionFileName("20240116"))); n != 1 {
		t.Fatalf("expected 1 line for day 2, got %d", n)
	}

	data, err := os.ReadFile(filepath.Join(dir, latestFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"close\": 3") {
		t.Fatalf("latest.json should be the indented last record, got:\n%s", data)
	}
	var rec model.FeatureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.SessionID() != "20240116" {
		t.Fatalf("expected latest session 20240116, got %s", rec.SessionID())
	}
}

func TestFile_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		s, err := NewFile(dir)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Write(context.Background(), "ETHUSDT", testRecord(ts, 1, 0, false)); err != nil {
			t.Fatal(err)
		}
		s.Close()
	}
	if n := countLines(t, filepath.Join(dir, "ETHUSDT", SessionFileName("20240115"))); n != 2 {
		t.Fatalf("expected 2 appended lines, got %d", n)
	}
}

func TestParquet_ArchivePerSession(t *testing.T) {
	dir := t.TempDir()
	p, err := NewParquet(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	day1 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	p.Write(ctx, "BTC", testRecord(day1, 10, 0, false))
	p.Write(ctx, "BTC", testRecord(day1.Add(time.Minute), 11, 9.5, true))
	// Rollover flushes day 1.
	p.Write(ctx, "BTC", testRecord(day1.Add(24*time.Hour), 12, 9, true))

	rows, err := ReadArchive(filepath.Join(dir, "BTC", ArchiveFileName("20240115")))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].NearestLVN != nil {
		t.Fatalf("expected null lvn on first row, got %v", *rows[0].NearestLVN)
	}
	if rows[1].NearestLVN == nil || *rows[1].NearestLVN != 9.5 {
		t.Fatalf("expected lvn 9.5 on second row, got %v", rows[1].NearestLVN)
	}
	if rows[1].Close != 11 || rows[1].CVD != 22 || !rows[1].InLVN {
		t.Fatalf("unexpected row %+v", rows[1])
	}
	if rows[0].Timestamp != day1.UnixMilli() {
		t.Fatalf("expected ts %d, got %d", day1.UnixMilli(), rows[0].Timestamp)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	rows, err = ReadArchive(filepath.Join(dir, "BTC", ArchiveFileName("20240116")))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SessionID != "20240116" {
		t.Fatalf("unexpected day 2 rows %+v", rows)
	}
}

type failingSink struct {
	err    error
	writes int
	closed bool
}

func (f *failingSink) Write(context.Context, string, model.FeatureRecord) error {
	f.writes++
	return f.err
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestMulti_JoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	a := &failingSink{err: errA}
	b := &failingSink{}
	m := NewMulti(Named{Name: "a", Sink: a})
	m.Add("b", b)

	var failed []string
	m.OnError = func(name string, _ error) { failed = append(failed, name) }

	err := m.Write(context.Background(), "X", testRecord(time.Now(), 1, 0, false))
	if !errors.Is(err, errA) {
		t.Fatalf("expected joined error to wrap a's error, got %v", err)
	}
	if b.writes != 1 {
		t.Fatal("a failing sink must not stop the next one")
	}
	if len(failed) != 1 || failed[0] != "a" {
		t.Fatalf("unexpected failures %v", failed)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !a.closed || !b.closed {
		t.Fatal("expected every sink closed")
	}
}
