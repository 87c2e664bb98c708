package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColumnType is the semantic type of a column as declared by a dataset schema or a typed iteration.
type ColumnType uint8

const (
	Unknown ColumnType = iota
	Int
	IntNull
	Long
	LongNull
	Float
	FloatNull
	Str
	StrNull
)

var columnTypeNames = [...]string{
	Unknown:   "UNKNOWN",
	Int:       "INT",
	IntNull:   "INT_NULL",
	Long:      "LONG",
	LongNull:  "LONG_NULL",
	Float:     "FLOAT",
	FloatNull: "FLOAT_NULL",
	Str:       "STR",
	StrNull:   "STR_NULL",
}

func (t ColumnType) String() string {
	if int(t) < len(columnTypeNames) {
		return columnTypeNames[t]
	}
	return fmt.Sprintf("ColumnType(%d)", t)
}

// Nullable returns the nullable form of t.
func (t ColumnType) Nullable() ColumnType {
	switch t {
	case Int:
		return IntNull
	case Long:
		return LongNull
	case Float:
		return FloatNull
	case Str:
		return StrNull
	default:
		return t
	}
}

func (t ColumnType) IsNullable() bool {
	return t == Unknown || t.Nullable() == t
}

// Compatible reports whether a column of type have can be consumed where want is expected. A consumer asking for a
// nullable column accepts the non-null form, and Unknown accepts anything.
func Compatible(want, have ColumnType) bool {
	return want == have || want == Unknown || want == have.Nullable()
}

type valueKind uint8

const (
	kindNull valueKind = iota
	kindInt
	kindFloat
	kindString
)

// Value is an SQL literal.
type Value struct {
	kind valueKind
	i    int64
	f    float64
	s    string
}

func IntValue(v int64) Value     { return Value{kind: kindInt, i: v} }
func FloatValue(v float64) Value { return Value{kind: kindFloat, f: v} }
func StrValue(v string) Value    { return Value{kind: kindString, s: v} }
func Null() Value                { return Value{} }

// IntValues converts a list of integers into Values.
func IntValues(vs ...int64) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = IntValue(v)
	}
	return out
}

func (v Value) IsNull() bool { return v.kind == kindNull }

// SQL renders v as a literal that can be spliced into a statement.
func (v Value) SQL() string {
	switch v.kind {
	case kindInt:
		return strconv.FormatInt(v.i, 10)
	case kindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return "NULL"
		}
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case kindString:
		return "'" + strings.ReplaceAll(v.s, "'", "''") + "'"
	default:
		return "NULL"
	}
}

func (v Value) String() string { return v.SQL() }

// Key returns a string that is the same for values that compare equal in SQL, where 1, 1.0 and '1' are all equal
// once a numeric column's affinity has been applied.
func (v Value) Key() string {
	switch v.kind {
	case kindInt:
		return "n" + strconv.FormatInt(v.i, 10)
	case kindFloat:
		return numberKey(v.f)
	case kindString:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64); err == nil {
			return numberKey(f)
		}
		return "s" + v.s
	default:
		return "null"
	}
}

func numberKey(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return "n" + strconv.FormatInt(int64(f), 10)
	}
	return "n" + strconv.FormatFloat(f, 'g', -1, 64)
}
