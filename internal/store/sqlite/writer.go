package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"featureflow/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/features.db"
}

// Writer stores bar history and feature records. Bars are inserted in
// batched transactions; features are written one row per record and make
// the Writer a model.FeatureSink.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol      TEXT    NOT NULL,
			ts          INTEGER NOT NULL,
			open        REAL    NOT NULL,
			high        REAL    NOT NULL,
			low         REAL    NOT NULL,
			close       REAL    NOT NULL,
			volume      REAL    NOT NULL,
			buy_volume  REAL    NOT NULL DEFAULT 0,
			sell_volume REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS features (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			session_id TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE INDEX IF NOT EXISTS idx_features_session ON features (symbol, session_id);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.ImportBars(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d bars in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// ImportBars inserts bars in a single transaction. Re-importing a bar with
// the same symbol and timestamp replaces it.
func (w *Writer) ImportBars(bars []model.Bar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume, buy_volume, sell_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(b.Symbol, b.TS.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume, b.BuyVolume, b.SellVolume)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s@%d: %w", b.Symbol, b.TS.UnixMilli(), err)
		}
	}

	return tx.Commit()
}

// Write stores one feature record as JSON. Implements model.FeatureSink.
func (w *Writer) Write(ctx context.Context, symbol string, rec model.FeatureRecord) error {
	data, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal feature: %w", err)
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO features (symbol, ts, session_id, data) VALUES (?, ?, ?, ?)`,
		symbol, rec.Timestamp().UnixMilli(), rec.SessionID(), string(data),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert feature: %w", err)
	}
	return nil
}

// GetLastTimestamp returns the last stored bar timestamp (unix ms) for a symbol.
// Returns 0 if no bars exist.
func (w *Writer) GetLastTimestamp(symbol string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(`SELECT MAX(ts) FROM bars WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
