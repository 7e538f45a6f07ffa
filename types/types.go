package types

// LogicalType identifies the logical column type of a slot or tablet column.
type LogicalType uint8

const (
	TypeInvalid LogicalType = iota
	TypeNull
	TypeBoolean
	TypeTinyInt
	TypeSmallInt
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDouble
	TypeDecimal
	TypeChar
	TypeVarchar
	TypeDate
	TypeDatetime
	TypeTime
	TypeJSON
)

// String returns the string representation of the LogicalType.
func (t LogicalType) String() string {
	switch t {
	case TypeNull:
		return "Null"
	case TypeBoolean:
		return "Boolean"
	case TypeTinyInt:
		return "TinyInt"
	case TypeSmallInt:
		return "SmallInt"
	case TypeInt:
		return "Int"
	case TypeBigInt:
		return "BigInt"
	case TypeFloat:
		return "Float"
	case TypeDouble:
		return "Double"
	case TypeDecimal:
		return "Decimal"
	case TypeChar:
		return "Char"
	case TypeVarchar:
		return "Varchar"
	case TypeDate:
		return "Date"
	case TypeDatetime:
		return "Datetime"
	case TypeTime:
		return "Time"
	case TypeJSON:
		return "JSON"
	default:
		return "Invalid"
	}
}

// IsIntegral reports whether t is one of the fixed-width integer types.
func (t LogicalType) IsIntegral() bool {
	switch t {
	case TypeTinyInt, TypeSmallInt, TypeInt, TypeBigInt:
		return true
	default:
		return false
	}
}

// IsString reports whether t is a character type.
func (t LogicalType) IsString() bool {
	return t == TypeChar || t == TypeVarchar
}

// IsDateKind reports whether t is a calendar type. A DATE column compared
// against a DATETIME literal is still considered compatible; the literal is
// narrowed back to a day boundary during predicate compilation.
func (t LogicalType) IsDateKind() bool {
	return t == TypeDate || t == TypeDatetime
}

// IsFloat reports whether t is an inexact numeric type.
func (t LogicalType) IsFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

// RangeSupported reports whether a column value range can be built for t.
// Inexact floats, TIME, NULL and JSON columns never produce ranges; predicates
// on them stay residual.
func (t LogicalType) RangeSupported() bool {
	switch t {
	case TypeTime, TypeNull, TypeJSON, TypeFloat, TypeDouble, TypeInvalid:
		return false
	default:
		return true
	}
}

// ColumnExprSupported reports whether a leftover expression on a column of
// type t may be re-expressed as a pushdown column predicate. Only scalar
// types qualify.
func (t LogicalType) ColumnExprSupported() bool {
	switch t {
	case TypeJSON, TypeInvalid, TypeNull:
		return false
	default:
		return true
	}
}

// Enumerable reports whether a closed range of t can be expanded into the
// discrete values it contains. Used by scan-key extension to rewrite key
// ranges into IN lists.
func (t LogicalType) Enumerable() bool {
	return t.IsIntegral() || t == TypeDate || t == TypeBoolean
}
