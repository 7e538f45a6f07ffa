// Package scan compiles SQL conjuncts into storage-level filters: per-column
// value ranges, enumerated short-key scan ranges, and a compiled predicate
// tree, leaving whatever cannot be pushed down as residual expressions.
package scan

import (
	"errors"
	"strings"

	"github.com/amber-create/starrocks/types"
)

// ErrNoRows signals that compiled predicates prove zero matching rows. It is
// a proof-of-no-match, not a failure: callers skip the segment, scan range or
// whole query cheaply instead of scanning.
var ErrNoRows = errors.New("scan: predicates match no rows")

// ErrInvalidFilter is returned when a compiled condition cannot be turned
// into a recognized column predicate. It indicates an internal
// inconsistency, not bad user input, and fails the query.
var ErrInvalidFilter = errors.New("scan: invalid filter")

// errUnfoldable is an internal signal that one expression cannot be folded
// into the current range state; the expression stays residual.
var errUnfoldable = errors.New("scan: predicate not foldable")

// FilterOp is the storage-filter comparison operator.
type FilterOp uint8

const (
	FilterInvalid FilterOp = iota
	// FilterIn matches values inside a fixed set (covers equality).
	FilterIn
	// FilterNotIn matches values outside a fixed set (covers inequality).
	FilterNotIn
	// FilterLess matches values strictly below a bound.
	FilterLess
	// FilterLessOrEqual matches values at or below a bound.
	FilterLessOrEqual
	// FilterLarger matches values strictly above a bound.
	FilterLarger
	// FilterLargerOrEqual matches values at or above a bound.
	FilterLargerOrEqual
	// FilterIsNull is the dedicated null test ("is null" / "is not null").
	FilterIsNull
)

// String returns the operator spelling used in emitted conditions.
func (op FilterOp) String() string {
	switch op {
	case FilterIn:
		return "in"
	case FilterNotIn:
		return "not in"
	case FilterLess:
		return "<"
	case FilterLessOrEqual:
		return "<="
	case FilterLarger:
		return ">"
	case FilterLargerOrEqual:
		return ">="
	case FilterIsNull:
		return "is"
	default:
		return "?"
	}
}

// Condition is one flattened column-level filter handed to the storage
// reader: column, operator and literal value(s).
type Condition struct {
	ColumnName string
	Op         FilterOp
	Values     []types.Datum

	// IndexFilterOnly marks conditions that may prune storage (zone maps,
	// short-key blocks) but must not be re-applied as a row-level filter.
	// Used for min/max runtime filters, which are approximations.
	IndexFilterOnly bool

	// NullTest holds "null" or "not null" for FilterIsNull conditions.
	NullTest string
}

// String renders the condition for logs and tests.
func (c Condition) String() string {
	var sb strings.Builder
	sb.WriteString(c.ColumnName)
	sb.WriteByte(' ')
	sb.WriteString(c.Op.String())
	if c.Op == FilterIsNull {
		sb.WriteByte(' ')
		sb.WriteString(c.NullTest)
		return sb.String()
	}
	sb.WriteString(" (")
	for i, v := range c.Values {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteByte(')')
	return sb.String()
}
