package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Field names one column of a FeatureRecord. The set is closed: every record
// carries every field, emitted in declaration order.
type Field int

const (
	FieldTimestamp Field = iota
	FieldOpen
	FieldHigh
	FieldLow
	FieldClose
	FieldVolume
	FieldPOC
	FieldVAH
	FieldVAL
	FieldNearPOC
	FieldNearVAH
	FieldNearVAL
	FieldValueMigration
	FieldValueMigrationSpeed
	FieldValueMigrationConsistency
	FieldBarDelta
	FieldCVD
	FieldCVDEmaFast
	FieldCVDEmaSlow
	FieldCVDMacd
	FieldCVDMacdSignal
	FieldCVDMacdHist
	FieldCVDRSI
	FieldCVDZ
	FieldImbalance
	FieldNearestLVN
	FieldNearestHVN
	FieldInLVN
	FieldAbsorptionDetected
	FieldAbsorptionStrength
	FieldVolPctl
	FieldATR
	FieldATRNormRange
	FieldKeltnerPos
	FieldVWAPSession
	FieldVWAPDevBps
	FieldLSNorm
	FieldSessionID
	FieldRetVar
	FieldRetAcf1
	FieldCVDSkew
	FieldCVDKurt
	FieldMigrationAccel

	NumFields
)

var fieldNames = [NumFields]string{
	"timestamp", "open", "high", "low", "close", "volume",
	"poc", "vah", "val", "near_poc", "near_vah", "near_val",
	"value_migration", "value_migration_speed", "value_migration_consistency",
	"bar_delta", "cvd", "cvd_ema_fast", "cvd_ema_slow", "cvd_macd",
	"cvd_macd_signal", "cvd_macd_hist", "cvd_rsi", "cvd_z", "imbalance",
	"nearest_lvn", "nearest_hvn", "in_lvn", "absorption_detected", "absorption_strength",
	"vol_pctl", "atr", "atr_norm_range", "keltner_pos", "vwap_session",
	"vwap_dev_bps", "ls_norm", "session_id",
	"ret_var", "ret_acf1", "cvd_skew", "cvd_kurt", "migration_accel",
}

var fieldKinds = func() [NumFields]Kind {
	var k [NumFields]Kind
	k[FieldTimestamp] = KindTime
	k[FieldSessionID] = KindString
	k[FieldNearestLVN] = KindOptional
	k[FieldNearestHVN] = KindOptional
	k[FieldInLVN] = KindBool
	k[FieldAbsorptionDetected] = KindBool
	return k
}()

var fieldIndex = func() map[string]Field {
	m := make(map[string]Field, NumFields)
	for i, name := range fieldNames {
		m[name] = Field(i)
	}
	return m
}()

// String returns the wire name of the field, e.g. "cvd_macd".
func (f Field) String() string {
	if f < 0 || f >= NumFields {
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldNames[f]
}

// Kind returns the value kind the field always carries.
func (f Field) Kind() Kind { return fieldKinds[f] }

// FieldByName looks up a field by its wire name.
func FieldByName(name string) (Field, bool) {
	f, ok := fieldIndex[name]
	return f, ok
}

// BarFields are the raw bar values echoed into every record.
var BarFields = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume}

// FeatureFields lists the computed features, i.e. every field except the bar echo.
var FeatureFields = func() []Field {
	out := make([]Field, 0, NumFields)
	for f := Field(0); f < NumFields; f++ {
		switch f {
		case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume:
			continue
		}
		out = append(out, f)
	}
	return out
}()

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNumber Kind = iota
	KindBool
	KindOptional
	KindString
	KindTime
)

// Value is a tagged scalar: number, boolean, optional number, or one of the
// two identity variants (string session id, timestamp).
type Value struct {
	kind    Kind
	num     float64
	flag    bool
	present bool
	str     string
	ts      time.Time
}

func Number(v float64) Value { return Value{kind: KindNumber, num: v} }
func Bool(v bool) Value      { return Value{kind: KindBool, flag: v} }
func String(v string) Value  { return Value{kind: KindString, str: v} }
func Time(v time.Time) Value { return Value{kind: KindTime, ts: v} }

// Optional returns a present optional number when ok, otherwise None.
func Optional(v float64, ok bool) Value {
	if !ok {
		return None()
	}
	return Value{kind: KindOptional, num: v, present: true}
}

// None returns an absent optional number.
func None() Value { return Value{kind: KindOptional} }

func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric payload; 0 for non-numeric or absent values.
func (v Value) Float() float64 { return v.num }

func (v Value) Bool() bool { return v.flag }

// Optional returns the payload of an optional number and whether it is present.
func (v Value) Optional() (float64, bool) { return v.num, v.present }

func (v Value) Str() string { return v.str }

func (v Value) Time() time.Time { return v.ts }

// MarshalJSON encodes the variant. Non-finite numbers become null so the
// record always remains valid JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return strconv.AppendBool(nil, v.flag), nil
	case KindOptional:
		if !v.present {
			return []byte("null"), nil
		}
		return appendFloat(nil, v.num), nil
	case KindString:
		return json.Marshal(v.str)
	case KindTime:
		return json.Marshal(v.ts.Format(time.RFC3339Nano))
	default:
		return appendFloat(nil, v.num), nil
	}
}

func appendFloat(dst []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, "null"...)
	}
	return strconv.AppendFloat(dst, f, 'g', -1, 64)
}

func decodeValue(kind Kind, raw json.RawMessage) (Value, error) {
	if kind == KindOptional && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return None(), nil
	}
	switch kind {
	case KindBool:
		var b bool
		err := json.Unmarshal(raw, &b)
		return Bool(b), err
	case KindString:
		var s string
		err := json.Unmarshal(raw, &s)
		return String(s), err
	case KindTime:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		return Time(t), err
	default:
		var f *float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Value{}, err
		}
		if f == nil {
			f = new(float64)
		}
		if kind == KindOptional {
			return Optional(*f, true), nil
		}
		return Number(*f), nil
	}
}

// FeatureRecord is the per-bar output: one value for every Field.
// It is a value type; copies handed to sinks are independent.
type FeatureRecord struct {
	values [NumFields]Value
}

// NewFeatureRecord returns a record with every field at its kind's zero value.
func NewFeatureRecord() FeatureRecord {
	var r FeatureRecord
	for i := range r.values {
		r.values[i].kind = fieldKinds[i]
	}
	return r
}

// Set stores v under f. The value's kind must match the field's kind.
func (r *FeatureRecord) Set(f Field, v Value) {
	if v.kind != fieldKinds[f] {
		panic(fmt.Sprintf("model: field %s expects kind %d, got %d", f, fieldKinds[f], v.kind))
	}
	r.values[f] = v
}

func (r *FeatureRecord) Get(f Field) Value { return r.values[f] }

// Float is shorthand for Get(f).Float().
func (r *FeatureRecord) Float(f Field) float64 { return r.values[f].num }

// Timestamp returns the bar timestamp the record was built from.
func (r *FeatureRecord) Timestamp() time.Time { return r.values[FieldTimestamp].ts }

// SessionID returns the session key of the bar.
func (r *FeatureRecord) SessionID() string { return r.values[FieldSessionID].str }

// MarshalJSON writes the record as one object with keys in field order.
func (r FeatureRecord) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 1024)
	buf = append(buf, '{')
	for i := range r.values {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, fieldNames[i])
		buf = append(buf, ':')
		b, err := r.values[i].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", fieldNames[i], err)
		}
		buf = append(buf, b...)
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON decodes an object produced by MarshalJSON. Unknown keys are
// ignored; missing keys keep their zero value.
func (r *FeatureRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NewFeatureRecord()
	for name, msg := range raw {
		f, ok := fieldIndex[name]
		if !ok {
			continue
		}
		v, err := decodeValue(fieldKinds[f], msg)
		if err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		r.values[f] = v
	}
	return nil
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *FeatureRecord) JSON() []byte {
	b, _ := r.MarshalJSON()
	return b
}
