package engine

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the logical type of a cell value. Filtering and metrics
// dispatch on this enumeration instead of coercing driver values implicitly.
type Kind int

// Cell kinds.
const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindText
	KindTimestamp
	KindBytes
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBoolean:
		return "BOOLEAN"
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "FLOAT"
	case KindText:
		return "TEXT"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindBytes:
		return "BYTES"
	default:
		return "UNKNOWN"
	}
}

// IsNumeric returns true for integer and float kinds.
func (k Kind) IsNumeric() bool {
	return k == KindInteger || k == KindFloat
}

// IsTextual returns true for the text kind.
func (k Kind) IsTextual() bool {
	return k == KindText
}

// IsTemporal returns true for the timestamp kind.
func (k Kind) IsTemporal() bool {
	return k == KindTimestamp
}

// Value is a tagged variant over the cell types the engine produces. The
// zero Value is NULL.
type Value struct {
	kind  Kind
	i     int64
	f     float64
	s     string
	b     bool
	t     time.Time
	bytes []byte
}

// Row is one materialized result row.
type Row []Value

// Column describes one result column: its name, the type name the engine
// declared, and the logical kind derived from it.
type Column struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	Kind         Kind   `json:"-"`
}

// Null returns the NULL value.
func Null() Value { return Value{kind: KindNull} }

// Integer returns an integer value.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float returns a float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Text returns a text value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Boolean returns a boolean value.
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Timestamp returns a timestamp value.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// Bytes returns a binary value.
func Bytes(b []byte) Value { return Value{kind: KindBytes, bytes: b} }

// Kind returns the value's kind tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer representation. Floats truncate.
func (v Value) Int64() int64 {
	if v.kind == KindFloat {
		return int64(v.f)
	}
	return v.i
}

// Float64 returns the numeric representation; integers promote.
func (v Value) Float64() float64 {
	if v.kind == KindInteger {
		return float64(v.i)
	}
	return v.f
}

// Bool returns the boolean representation.
func (v Value) Bool() bool { return v.b }

// Time returns the timestamp representation.
func (v Value) Time() time.Time { return v.t }

// Raw returns the binary representation.
func (v Value) Raw() []byte { return v.bytes }

// String renders the value as text. This rendering is what current-page
// filtering matches against. NULL renders empty.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindTimestamp:
		return v.t.Format("2006-01-02 15:04:05.999999")
	case KindBytes:
		return string(v.bytes)
	default:
		return ""
	}
}

// MarshalJSON renders the value for API responses.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBoolean:
		return strconv.AppendBool(nil, v.b), nil
	case KindInteger:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		return strconv.AppendFloat(nil, v.f, 'g', -1, 64), nil
	default:
		return strconv.AppendQuote(nil, v.String()), nil
	}
}

// FromDriver converts a database/sql scan value into a tagged Value. It
// covers every concrete type the DuckDB driver produces; anything else
// falls back to its printed form as text.
func FromDriver(val any) Value {
	switch v := val.(type) {
	case nil:
		return Null()
	case bool:
		return Boolean(v)
	case int:
		return Integer(int64(v))
	case int8:
		return Integer(int64(v))
	case int16:
		return Integer(int64(v))
	case int32:
		return Integer(int64(v))
	case int64:
		return Integer(v)
	case uint8:
		return Integer(int64(v))
	case uint16:
		return Integer(int64(v))
	case uint32:
		return Integer(int64(v))
	case uint64:
		if v > 1<<63-1 {
			return Text(strconv.FormatUint(v, 10))
		}
		return Integer(int64(v))
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case string:
		return Text(v)
	case []byte:
		return Bytes(v)
	case time.Time:
		return Timestamp(v)
	case *big.Int:
		// HUGEINT scans as *big.Int; keep it integral when it fits.
		if v.IsInt64() {
			return Integer(v.Int64())
		}
		return Text(v.String())
	default:
		return Text(fmt.Sprint(v))
	}
}

// KindForDeclaredType maps an engine type name (sql.ColumnType
// DatabaseTypeName) to a logical kind. Parameterized names such as
// DECIMAL(10,2) match on their prefix.
func KindForDeclaredType(declared string) Kind {
	name := strings.ToUpper(strings.TrimSpace(declared))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}

	switch name {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT":
		return KindInteger
	case "FLOAT", "REAL", "DOUBLE", "DECIMAL", "NUMERIC":
		return KindFloat
	case "VARCHAR", "TEXT", "STRING", "CHAR", "BPCHAR", "UUID", "JSON", "ENUM", "INTERVAL":
		return KindText
	case "BOOLEAN", "BOOL":
		return KindBoolean
	case "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS",
		"DATE", "TIME", "TIMETZ", "DATETIME":
		return KindTimestamp
	case "BLOB", "BYTEA", "BINARY", "VARBINARY":
		return KindBytes
	default:
		return KindText
	}
}
