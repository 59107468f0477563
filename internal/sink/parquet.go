package sink

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"

	"featureflow/internal/model"
)

// FeatureRow is the columnar form of a FeatureRecord. Absent volume nodes are
// null columns.
type FeatureRow struct {
	Timestamp                 int64    `parquet:"timestamp"` // unix ms
	Open                      float64  `parquet:"open"`
	High                      float64  `parquet:"high"`
	Low                       float64  `parquet:"low"`
	Close                     float64  `parquet:"close"`
	Volume                    float64  `parquet:"volume"`
	POC                       float64  `parquet:"poc"`
	VAH                       float64  `parquet:"vah"`
	VAL                       float64  `parquet:"val"`
	NearPOC                   float64  `parquet:"near_poc"`
	NearVAH                   float64  `parquet:"near_vah"`
	NearVAL                   float64  `parquet:"near_val"`
	ValueMigration            float64  `parquet:"value_migration"`
	ValueMigrationSpeed       float64  `parquet:"value_migration_speed"`
	ValueMigrationConsistency float64  `parquet:"value_migration_consistency"`
	BarDelta                  float64  `parquet:"bar_delta"`
	CVD                       float64  `parquet:"cvd"`
	CVDEmaFast                float64  `parquet:"cvd_ema_fast"`
	CVDEmaSlow                float64  `parquet:"cvd_ema_slow"`
	CVDMacd                   float64  `parquet:"cvd_macd"`
	CVDMacdSignal             float64  `parquet:"cvd_macd_signal"`
	CVDMacdHist               float64  `parquet:"cvd_macd_hist"`
	CVDRSI                    float64  `parquet:"cvd_rsi"`
	CVDZ                      float64  `parquet:"cvd_z"`
	Imbalance                 float64  `parquet:"imbalance"`
	NearestLVN                *float64 `parquet:"nearest_lvn,optional"`
	NearestHVN                *float64 `parquet:"nearest_hvn,optional"`
	InLVN                     bool     `parquet:"in_lvn"`
	AbsorptionDetected        bool     `parquet:"absorption_detected"`
	AbsorptionStrength        float64  `parquet:"absorption_strength"`
	VolPctl                   float64  `parquet:"vol_pctl"`
	ATR                       float64  `parquet:"atr"`
	ATRNormRange              float64  `parquet:"atr_norm_range"`
	KeltnerPos                float64  `parquet:"keltner_pos"`
	VWAPSession               float64  `parquet:"vwap_session"`
	VWAPDevBps                float64  `parquet:"vwap_dev_bps"`
	LSNorm                    float64  `parquet:"ls_norm"`
	SessionID                 string   `parquet:"session_id,dict"`
	RetVar                    float64  `parquet:"ret_var"`
	RetAcf1                   float64  `parquet:"ret_acf1"`
	CVDSkew                   float64  `parquet:"cvd_skew"`
	CVDKurt                   float64  `parquet:"cvd_kurt"`
	MigrationAccel            float64  `parquet:"migration_accel"`
}

func optionalPtr(v model.Value) *float64 {
	x, ok := v.Optional()
	if !ok {
		return nil
	}
	return &x
}

// RowFromRecord flattens a record into its parquet row.
func RowFromRecord(r model.FeatureRecord) FeatureRow {
	f := r.Float
	return FeatureRow{
		Timestamp:                 r.Timestamp().UnixMilli(),
		Open:                      f(model.FieldOpen),
		High:                      f(model.FieldHigh),
		Low:                       f(model.FieldLow),
		Close:                     f(model.FieldClose),
		Volume:                    f(model.FieldVolume),
		POC:                       f(model.FieldPOC),
		VAH:                       f(model.FieldVAH),
		VAL:                       f(model.FieldVAL),
		NearPOC:                   f(model.FieldNearPOC),
		NearVAH:                   f(model.FieldNearVAH),
		NearVAL:                   f(model.FieldNearVAL),
		ValueMigration:            f(model.FieldValueMigration),
		ValueMigrationSpeed:       f(model.FieldValueMigrationSpeed),
		ValueMigrationConsistency: f(model.FieldValueMigrationConsistency),
		BarDelta:                  f(model.FieldBarDelta),
		CVD:                       f(model.FieldCVD),
		CVDEmaFast:                f(model.FieldCVDEmaFast),
		CVDEmaSlow:                f(model.FieldCVDEmaSlow),
		CVDMacd:                   f(model.FieldCVDMacd),
		CVDMacdSignal:             f(model.FieldCVDMacdSignal),
		CVDMacdHist:               f(model.FieldCVDMacdHist),
		CVDRSI:                    f(model.FieldCVDRSI),
		CVDZ:                      f(model.FieldCVDZ),
		Imbalance:                 f(model.FieldImbalance),
		NearestLVN:                optionalPtr(r.Get(model.FieldNearestLVN)),
		NearestHVN:                optionalPtr(r.Get(model.FieldNearestHVN)),
		InLVN:                     r.Get(model.FieldInLVN).Bool(),
		AbsorptionDetected:        r.Get(model.FieldAbsorptionDetected).Bool(),
		AbsorptionStrength:        f(model.FieldAbsorptionStrength),
		VolPctl:                   f(model.FieldVolPctl),
		ATR:                       f(model.FieldATR),
		ATRNormRange:              f(model.FieldATRNormRange),
		KeltnerPos:                f(model.FieldKeltnerPos),
		VWAPSession:               f(model.FieldVWAPSession),
		VWAPDevBps:                f(model.FieldVWAPDevBps),
		LSNorm:                    f(model.FieldLSNorm),
		SessionID:                 r.SessionID(),
		RetVar:                    f(model.FieldRetVar),
		RetAcf1:                   f(model.FieldRetAcf1),
		CVDSkew:                   f(model.FieldCVDSkew),
		CVDKurt:                   f(model.FieldCVDKurt),
		MigrationAccel:            f(model.FieldMigrationAccel),
	}
}

// ArchiveFileName returns the parquet file name of a session key.
func ArchiveFileName(sessionID string) string {
	return "features_" + sessionID + ".parquet"
}

type sessionRows struct {
	id   string
	rows []FeatureRow
}

// Parquet buffers one session of rows per symbol and writes it as
// features_<session>.parquet when the session rolls over or on Close.
// A session flushed twice (e.g. after a restart) is overwritten.
type Parquet struct {
	dir string

	mu      sync.Mutex
	pending map[string]*sessionRows
}

// NewParquet creates the archive directory if needed.
func NewParquet(dir string) (*Parquet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("parquet sink mkdir %s: %w", dir, err)
	}
	return &Parquet{dir: dir, pending: make(map[string]*sessionRows)}, nil
}

// Dir returns the directory a symbol's archives land in.
func (p *Parquet) Dir(symbol string) string {
	if symbol == "" {
		return p.dir
	}
	return filepath.Join(p.dir, symbol)
}

// Write implements model.FeatureSink.
func (p *Parquet) Write(_ context.Context, symbol string, rec model.FeatureRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := rec.SessionID()
	cur, ok := p.pending[symbol]
	if ok && cur.id != id {
		if err := p.flushLocked(symbol, cur); err != nil {
			return err
		}
		ok = false
	}
	if !ok {
		cur = &sessionRows{id: id, rows: make([]FeatureRow, 0, 512)}
		p.pending[symbol] = cur
	}
	cur.rows = append(cur.rows, RowFromRecord(rec))
	return nil
}

// Flush writes every buffered session without waiting for rollover.
func (p *Parquet) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for symbol, cur := range p.pending {
		if err := p.flushLocked(symbol, cur); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parquet) flushLocked(symbol string, cur *sessionRows) error {
	if len(cur.rows) == 0 {
		return nil
	}
	dir := p.Dir(symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("parquet sink mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, ArchiveFileName(cur.id))
	if err := parquet.WriteFile(path, cur.rows); err != nil {
		return fmt.Errorf("parquet sink write %s: %w", path, err)
	}
	log.Printf("[parquet-sink] wrote %d rows to %s", len(cur.rows), path)
	return nil
}

// Close flushes the open sessions.
func (p *Parquet) Close() error {
	err := p.Flush()
	p.mu.Lock()
	p.pending = make(map[string]*sessionRows)
	p.mu.Unlock()
	return err
}

// ReadArchive loads a parquet archive written by this sink.
func ReadArchive(path string) ([]FeatureRow, error) {
	rows, err := parquet.ReadFile[FeatureRow](path)
	if err != nil {
		return nil, fmt.Errorf("parquet read %s: %w", path, err)
	}
	return rows, nil
}
