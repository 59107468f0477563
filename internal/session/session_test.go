package session

import (
	"math"
	"testing"
	"time"
)

func TestAggregator_VWAP(t *testing.T) {
	a := NewAggregator(NewCalendar(nil), 0)

	a.Add("20240115", 10, 100)
	a.Add("20240115", 10, 200)

	if got := a.VWAP("20240115"); math.Abs(got-150) > 1e-9 {
		t.Errorf("expected vwap=150, got %f", got)
	}
}

func TestAggregator_ZeroVolume(t *testing.T) {
	a := NewAggregator(NewCalendar(nil), 0)

	a.Add("20240115", 0, 100)
	if got := a.VWAP("20240115"); got != 0 {
		t.Errorf("expected vwap=0 with zero volume, got %f", got)
	}
	if got := a.VWAP("20991231"); got != 0 {
		t.Errorf("expected vwap=0 for unknown session, got %f", got)
	}
}

func TestAggregator_SessionsAreIndependent(t *testing.T) {
	a := NewAggregator(NewCalendar(nil), 0)

	a.Add("20240115", 5, 100)
	a.Add("20240116", 5, 300)

	if got := a.VWAP("20240115"); got != 100 {
		t.Errorf("day 1: expected 100, got %f", got)
	}
	if got := a.VWAP("20240116"); got != 300 {
		t.Errorf("day 2: expected 300, got %f", got)
	}
	if a.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", a.Len())
	}
}

func TestAggregator_KeepsAllSessionsWithoutRetention(t *testing.T) {
	a := NewAggregator(NewCalendar(nil), 0)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 400; i++ {
		a.Add(day.AddDate(0, 0, i).Format(KeyLayout), 1, 1)
	}
	if a.Len() != 400 {
		t.Errorf("expected 400 sessions, got %d", a.Len())
	}
}

func TestAggregator_Retention(t *testing.T) {
	a := NewAggregator(NewCalendar(nil), 2)
	var evicted []string
	a.OnEvict = func(key string) { evicted = append(evicted, key) }

	a.Add("20240110", 1, 1)
	a.Add("20240111", 1, 1)
	a.Add("20240112", 1, 1)
	if a.Len() != 3 {
		t.Fatalf("expected 3 sessions within horizon, got %d", a.Len())
	}

	a.Add("20240113", 1, 1)
	if _, ok := a.Get("20240110"); ok {
		t.Error("expected 20240110 to be evicted")
	}
	if len(evicted) != 1 || evicted[0] != "20240110" {
		t.Errorf("expected eviction callback for 20240110, got %v", evicted)
	}
	if a.Len() != 3 {
		t.Errorf("expected 3 sessions after eviction, got %d", a.Len())
	}
}

func TestCalendar_KeyUsesLocation(t *testing.T) {
	// 20:00 UTC on Jan 15 is already Jan 16 in IST.
	ts := time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC)

	if got := NewCalendar(nil).Key(ts); got != "20240115" {
		t.Errorf("UTC key: expected 20240115, got %s", got)
	}
	if got := NewCalendar(IST).Key(ts); got != "20240116" {
		t.Errorf("IST key: expected 20240116, got %s", got)
	}
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in         string
		wantOffset int
	}{
		{"", 0},
		{"UTC", 0},
		{"IST", 5*3600 + 30*60},
		{"+05:30", 5*3600 + 30*60},
		{"-0400", -4 * 3600},
	}
	ref := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		loc, err := ParseLocation(tc.in)
		if err != nil {
			t.Fatalf("ParseLocation(%q): %v", tc.in, err)
		}
		_, off := ref.In(loc).Zone()
		if off != tc.wantOffset {
			t.Errorf("ParseLocation(%q): offset %d, want %d", tc.in, off, tc.wantOffset)
		}
	}

	for _, bad := range []string{"+5", "+25:00", "Not/AZone"} {
		if _, err := ParseLocation(bad); err == nil {
			t.Errorf("ParseLocation(%q): expected error", bad)
		}
	}
}
