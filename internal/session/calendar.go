// Package session derives trading-session keys from bar timestamps and keeps
// the per-session volume-weighted average price accumulators.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyLayout is the calendar-date layout of a session key (e.g. "20240115").
const KeyLayout = "20060102"

// IST is the Indian Standard Time location (UTC+5:30). Kept as a named
// alias because many tz databases do not resolve "IST".
var IST = time.FixedZone("IST", 5*3600+30*60)

// Calendar maps timestamps to session keys in the feed's local convention.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a calendar in loc. A nil loc means UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// Location returns the calendar's time zone.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Key returns the session key of t: its calendar date in the calendar's zone.
// Two bars share a session iff their keys are equal.
func (c Calendar) Key(t time.Time) string {
	return t.In(c.Location()).Format(KeyLayout)
}

// Date parses a session key back into midnight of that date.
func (c Calendar) Date(key string) (time.Time, error) {
	return time.ParseInLocation(KeyLayout, key, c.Location())
}

// ParseLocation resolves a zone name. Accepts IANA names ("Asia/Kolkata"),
// "UTC"/"", "IST", and fixed offsets like "+05:30" or "-0400".
func ParseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	switch strings.ToUpper(name) {
	case "", "UTC", "Z":
		return time.UTC, nil
	case "IST":
		return IST, nil
	}
	if name[0] == '+' || name[0] == '-' {
		return parseOffset(name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("session: load location %q: %w", name, err)
	}
	return loc, nil
}

func parseOffset(s string) (*time.Location, error) {
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(s[1:], ":", "")
	if len(digits) != 4 {
		return nil, fmt.Errorf("session: invalid offset %q", s)
	}
	h, err1 := strconv.Atoi(digits[:2])
	m, err2 := strconv.Atoi(digits[2:])
	if err1 != nil || err2 != nil || h > 14 || m > 59 {
		return nil, fmt.Errorf("session: invalid offset %q", s)
	}
	return time.FixedZone("UTC"+s, sign*(h*3600+m*60)), nil
}
