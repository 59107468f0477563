// Package source loads bar history from files and a SQLite store and replays
// it, in time order, into the feature engine.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"featureflow/internal/model"
)

// ErrUnknownSource is returned for an unrecognised source kind or extension.
var ErrUnknownSource = errors.New("source: unknown source kind")

type column int

const (
	colTimestamp column = iota
	colSymbol
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colBuyVolume
	colSellVolume
	colTakerBuy
	numColumns
)

// Accepted header names per column, lower-cased.
var columnAliases = map[string]column{
	"timestamp": colTimestamp, "time": colTimestamp, "ts": colTimestamp,
	"open_time": colTimestamp, "date": colTimestamp, "datetime": colTimestamp,
	"symbol": colSymbol, "ticker": colSymbol,
	"open": colOpen, "o": colOpen,
	"high": colHigh, "h": colHigh,
	"low": colLow, "l": colLow,
	"close": colClose, "c": colClose,
	"volume": colVolume, "v": colVolume,
	"buy_volume": colBuyVolume, "buyvolume": colBuyVolume,
	"sell_volume": colSellVolume, "sellvolume": colSellVolume,
	"taker_buy_volume": colTakerBuy, "taker_buy_base_asset_volume": colTakerBuy,
	"taker_buy_base_volume": colTakerBuy,
}

var required = []struct {
	c    column
	name string
}{
	{colTimestamp, "timestamp"}, {colOpen, "open"}, {colHigh, "high"},
	{colLow, "low"}, {colClose, "close"}, {colVolume, "volume"},
}

// ReadCSVFile loads bars from a CSV file. See ReadCSV.
func ReadCSVFile(path, symbol string) ([]model.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	bars, err := ReadCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bars, nil
}

// ReadCSV parses a header-mapped bar file. Required columns are timestamp,
// open, high, low, close and volume. Buy/sell split comes from buy_volume and
// sell_volume, or from taker_buy_volume with sell = volume − taker buy.
// A symbol column overrides symbol per row.
//
// Timestamps may be unix seconds, unix milliseconds, RFC3339, or
// "2006-01-02 15:04:05" in UTC. Rows are returned in file order.
func ReadCSV(r io.Reader, symbol string) ([]model.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var idx [numColumns]int
	for i := range idx {
		idx[i] = -1
	}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if c, ok := columnAliases[name]; ok && idx[c] < 0 {
			idx[c] = i
		}
	}
	for _, req := range required {
		if idx[req.c] < 0 {
			return nil, fmt.Errorf("missing %q column in header %v", req.name, header)
		}
	}

	var bars []model.Bar
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		b := model.Bar{Symbol: symbol, Index: len(bars)}
		if b.TS, err = ParseTimestamp(field(rec, idx[colTimestamp])); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if s := field(rec, idx[colSymbol]); s != "" {
			b.Symbol = s
		}
		nums := []struct {
			c   column
			dst *float64
		}{
			{colOpen, &b.Open}, {colHigh, &b.High}, {colLow, &b.Low},
			{colClose, &b.Close}, {colVolume, &b.Volume},
			{colBuyVolume, &b.BuyVolume}, {colSellVolume, &b.SellVolume},
		}
		for _, n := range nums {
			if idx[n.c] < 0 {
				continue
			}
			if *n.dst, err = parseFloat(field(rec, idx[n.c])); err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, header[idx[n.c]], err)
			}
		}
		if idx[colTakerBuy] >= 0 && idx[colBuyVolume] < 0 {
			taker, err := parseFloat(field(rec, idx[colTakerBuy]))
			if err != nil {
				return nil, fmt.Errorf("line %d taker buy: %w", line, err)
			}
			b.BuyVolume = taker
			b.SellVolume = b.Volume - taker
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// Unix values at or above this are taken as milliseconds (year 2001 in ms,
// year 5138 in seconds).
const millisThreshold = 100_000_000_000

// ParseTimestamp accepts unix seconds, unix milliseconds, RFC3339, or
// "2006-01-02 15:04:05" (UTC). The result is in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n >= millisThreshold || n <= -millisThreshold {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.UnixMilli(int64(f * 1000)).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
