package source

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"featureflow/internal/model"
)

// BarRow is the columnar bar layout read from and written to parquet files.
type BarRow struct {
	Symbol     string  `parquet:"symbol,dict"`
	Timestamp  int64   `parquet:"timestamp"` // unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     float64 `parquet:"volume"`
	BuyVolume  float64 `parquet:"buy_volume,optional"`
	SellVolume float64 `parquet:"sell_volume,optional"`
}

// ReadParquet loads bars from a parquet file. An empty symbol column takes
// symbol.
func ReadParquet(path, symbol string) ([]model.Bar, error) {
	rows, err := parquet.ReadFile[BarRow](path)
	if err != nil {
		return nil, fmt.Errorf("parquet read %s: %w", path, err)
	}
	bars := make([]model.Bar, len(rows))
	for i, r := range rows {
		bars[i] = model.Bar{
			Symbol:     r.Symbol,
			Index:      i,
			TS:         time.UnixMilli(r.Timestamp).UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			BuyVolume:  r.BuyVolume,
			SellVolume: r.SellVolume,
		}
		if bars[i].Symbol == "" {
			bars[i].Symbol = symbol
		}
	}
	return bars, nil
}

// WriteParquet stores bars as a parquet file.
func WriteParquet(path string, bars []model.Bar) error {
	rows := make([]BarRow, len(bars))
	for i, b := range bars {
		rows[i] = BarRow{
			Symbol:     b.Symbol,
			Timestamp:  b.TS.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			BuyVolume:  b.BuyVolume,
			SellVolume: b.SellVolume,
		}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("parquet write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads bars from a .csv or .parquet file, chosen by extension.
func ReadFile(path, symbol string) ([]model.Bar, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return ReadCSVFile(path, symbol)
	case ".parquet", ".pq":
		return ReadParquet(path, symbol)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, path)
	}
}
