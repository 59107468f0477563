package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"featureflow/internal/model"
)

// Reader provides read-only access to SQLite for bar replay and feature lookups.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars reads bars of a symbol strictly after afterTS (unix ms), ordered
// by timestamp ascending for correct replay order. Implements model.BarReader.
func (r *Reader) ReadBars(symbol string, afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume, buy_volume, sell_volume
		FROM bars
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsMs int64
		if err := rows.Scan(&b.Symbol, &tsMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.BuyVolume, &b.SellVolume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.UnixMilli(tsMs).UTC()
		b.Index = len(bars)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols lists every symbol with stored bars.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadFeatures loads the feature records of one session of a symbol.
func (r *Reader) ReadFeatures(symbol, sessionID string) ([]model.FeatureRecord, error) {
	rows, err := r.db.Query(`
		SELECT data FROM features
		WHERE symbol = ? AND session_id = ?
		ORDER BY ts ASC
	`, symbol, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query features: %w", err)
	}
	defer rows.Close()

	var out []model.FeatureRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan features: %w", err)
		}
		var rec model.FeatureRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal feature: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReadLatestFeature returns the newest feature record of a symbol, or nil.
func (r *Reader) ReadLatestFeature(symbol string) (*model.FeatureRecord, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM features
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT 1
	`, symbol).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read latest feature: %w", err)
	}
	var rec model.FeatureRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal feature: %w", err)
	}
	return &rec, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
