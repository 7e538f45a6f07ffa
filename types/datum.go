package types

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrOverflow is returned when a literal does not fit the numeric domain of
// its target column (e.g. a decimal constant exceeding the declared
// precision). Callers treat the predicate as unfoldable rather than fatal.
var ErrOverflow = errors.New("value out of range for column type")

// Kind identifies the concrete representation stored in a Datum.
type Kind uint8

const (
	// KindInvalid represents an invalid datum.
	KindInvalid Kind = iota
	// KindNull represents SQL NULL.
	KindNull
	// KindInt represents a signed integer (TINYINT..BIGINT).
	KindInt
	// KindFloat represents an inexact float (FLOAT/DOUBLE).
	KindFloat
	// KindString represents a character value (CHAR/VARCHAR).
	KindString
	// KindBool represents a boolean.
	KindBool
	// KindDate represents a day count since the Unix epoch.
	KindDate
	// KindTimestamp represents microseconds since the Unix epoch.
	KindTimestamp
	// KindDecimal represents an unscaled fixed-point integer; the scale is
	// carried by the column type, not the datum.
	KindDecimal
)

// MicrosPerDay is the number of microseconds in one day.
const MicrosPerDay = int64(24 * time.Hour / time.Microsecond)

// Datum is a small typed value used for literals, zone maps and scan keys.
//
// The representation is designed to make predicate folding fast and
// predictable: no reflection, no interface boxing, and the struct stays
// comparable so it can key hash sets.
type Datum struct {
	kind Kind
	i64  int64
	f64  float64
	str  string
	b    bool
}

// Null returns a NULL Datum.
func Null() Datum { return Datum{kind: KindNull} }

// Int returns an integer Datum.
func Int(v int64) Datum { return Datum{kind: KindInt, i64: v} }

// Float returns a float Datum.
func Float(v float64) Datum { return Datum{kind: KindFloat, f64: v} }

// String returns a string Datum.
func String(v string) Datum { return Datum{kind: KindString, str: v} }

// Bool returns a boolean Datum.
func Bool(v bool) Datum { return Datum{kind: KindBool, b: v} }

// Date returns a date Datum from a day count since the Unix epoch.
func Date(days int64) Datum { return Datum{kind: KindDate, i64: days} }

// Timestamp returns a timestamp Datum from microseconds since the Unix epoch.
func Timestamp(micros int64) Datum { return Datum{kind: KindTimestamp, i64: micros} }

// Decimal returns a fixed-point Datum from an unscaled integer.
func Decimal(unscaled int64) Datum { return Datum{kind: KindDecimal, i64: unscaled} }

// DateFromTime returns a date Datum for the calendar day of t in UTC.
func DateFromTime(t time.Time) Datum {
	return Date(t.UTC().Truncate(24 * time.Hour).Unix() / 86400)
}

// TimestampFromTime returns a timestamp Datum for t.
func TimestampFromTime(t time.Time) Datum {
	return Timestamp(t.UnixMicro())
}

// Kind returns the concrete representation of d.
func (d Datum) Kind() Kind { return d.kind }

// IsNull reports whether d is SQL NULL.
func (d Datum) IsNull() bool { return d.kind == KindNull }

// Int64 returns the integer payload (valid for KindInt, KindDate,
// KindTimestamp and KindDecimal).
func (d Datum) Int64() int64 { return d.i64 }

// Float64 returns the float payload.
func (d Datum) Float64() float64 { return d.f64 }

// Str returns the string payload.
func (d Datum) Str() string { return d.str }

// BoolValue returns the boolean payload.
func (d Datum) BoolValue() bool { return d.b }

// String implements fmt.Stringer for diagnostics and test output.
func (d Datum) String() string {
	switch d.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(d.i64, 10)
	case KindFloat:
		return strconv.FormatFloat(d.f64, 'g', -1, 64)
	case KindString:
		return strconv.Quote(d.str)
	case KindBool:
		return strconv.FormatBool(d.b)
	case KindDate:
		return time.Unix(d.i64*86400, 0).UTC().Format("2006-01-02")
	case KindTimestamp:
		return time.UnixMicro(d.i64).UTC().Format("2006-01-02 15:04:05.000000")
	case KindDecimal:
		return fmt.Sprintf("decimal(%d)", d.i64)
	default:
		return "invalid"
	}
}

// Compare returns -1, 0 or 1 ordering a before, equal to, or after b.
// Datums of different kinds are ordered by kind; NULL sorts first.
func Compare(a, b Datum) int {
	if a.kind != b.kind {
		if a.kind < b.kind {
			return -1
		}
		return 1
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindInt, KindDate, KindTimestamp, KindDecimal:
		return cmpInt64(a.i64, b.i64)
	case KindFloat:
		switch {
		case a.f64 < b.f64:
			return -1
		case a.f64 > b.f64:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case a.str < b.str:
			return -1
		case a.str > b.str:
			return 1
		default:
			return 0
		}
	case KindBool:
		return cmpInt64(boolInt(a.b), boolInt(b.b))
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Next returns the successor of d within logical type lt. ok is false when d
// is the maximum representable value or the type is not enumerable.
func (d Datum) Next(lt LogicalType) (Datum, bool) {
	if !lt.Enumerable() {
		return Datum{}, false
	}
	max, ok := MaxDatum(lt)
	if ok && Compare(d, max) >= 0 {
		return Datum{}, false
	}
	switch d.kind {
	case KindInt:
		return Int(d.i64 + 1), true
	case KindDate:
		return Date(d.i64 + 1), true
	case KindBool:
		if !d.b {
			return Bool(true), true
		}
		return Datum{}, false
	default:
		return Datum{}, false
	}
}

// MinDatum returns the smallest representable value of lt. ok is false for
// types without a finite lower bound usable in comparisons (strings use the
// empty string, which is a true minimum).
func MinDatum(lt LogicalType) (Datum, bool) {
	switch lt {
	case TypeBoolean:
		return Bool(false), true
	case TypeTinyInt:
		return Int(math.MinInt8), true
	case TypeSmallInt:
		return Int(math.MinInt16), true
	case TypeInt:
		return Int(math.MinInt32), true
	case TypeBigInt:
		return Int(math.MinInt64), true
	case TypeDecimal:
		return Decimal(math.MinInt64), true
	case TypeChar, TypeVarchar:
		return String(""), true
	case TypeDate:
		return Date(math.MinInt32), true
	case TypeDatetime:
		return Timestamp(math.MinInt64), true
	default:
		return Datum{}, false
	}
}

// MaxDatum returns the largest representable value of lt. ok is false for
// types without one (e.g. strings).
func MaxDatum(lt LogicalType) (Datum, bool) {
	switch lt {
	case TypeBoolean:
		return Bool(true), true
	case TypeTinyInt:
		return Int(math.MaxInt8), true
	case TypeSmallInt:
		return Int(math.MaxInt16), true
	case TypeInt:
		return Int(math.MaxInt32), true
	case TypeBigInt:
		return Int(math.MaxInt64), true
	case TypeDecimal:
		return Decimal(math.MaxInt64), true
	case TypeDate:
		return Date(math.MaxInt32), true
	case TypeDatetime:
		return Timestamp(math.MaxInt64), true
	default:
		return Datum{}, false
	}
}

// TimestampToDate narrows a timestamp to its calendar day. exact reports
// whether the timestamp sits on a midnight boundary, i.e. the narrowing lost
// nothing. A day boundary cannot represent a sub-day timestamp, so callers
// must adjust comparison operators when exact is false.
func TimestampToDate(ts Datum) (day Datum, exact bool) {
	micros := ts.i64
	d := floorDiv(micros, MicrosPerDay)
	return Date(d), micros-d*MicrosPerDay == 0
}

// DateToTimestamp widens a date to the timestamp at its midnight boundary.
func DateToTimestamp(day Datum) Datum {
	return Timestamp(day.i64 * MicrosPerDay)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// CheckDecimalOverflow verifies that an unscaled decimal value fits within
// the declared precision. Returns ErrOverflow when it does not.
func CheckDecimalOverflow(precision int, unscaled int64) error {
	if precision <= 0 || precision >= 19 {
		return nil
	}
	factor := int64(1)
	for i := 0; i < precision; i++ {
		factor *= 10
	}
	if unscaled <= -factor || unscaled >= factor {
		return ErrOverflow
	}
	return nil
}

// KindOf returns the datum kind used to store values of lt.
func KindOf(lt LogicalType) Kind {
	switch lt {
	case TypeNull:
		return KindNull
	case TypeBoolean:
		return KindBool
	case TypeTinyInt, TypeSmallInt, TypeInt, TypeBigInt, TypeTime:
		return KindInt
	case TypeFloat, TypeDouble:
		return KindFloat
	case TypeDecimal:
		return KindDecimal
	case TypeChar, TypeVarchar, TypeJSON:
		return KindString
	case TypeDate:
		return KindDate
	case TypeDatetime:
		return KindTimestamp
	default:
		return KindInvalid
	}
}
