package scan

import (
	"github.com/tidwall/btree"

	"github.com/amber-create/starrocks/types"
)

type rangeState uint8

const (
	// stateInit means no constraint has been folded yet.
	stateInit rangeState = iota
	// stateRange means a closed [low, high] range with optional exclusive ends.
	stateRange
	// stateFixed means a fixed IN allow-list.
	stateFixed
	// stateNotIn means a fixed NOT-IN deny-list.
	stateNotIn
	// stateEmpty means the range provably matches nothing.
	stateEmpty
)

func datumLess(a, b types.Datum) bool { return types.Compare(a, b) < 0 }

// ColumnValueRange is the compiled predicate of one column within an AND
// conjunct group. Its state is exactly one of: unconstrained, closed range,
// fixed IN set, fixed NOT-IN set, or empty (provably no match). The IN /
// NOT-IN states and the range state are mutually exclusive; folding a fixed
// value into a ranged column intersects, never unions.
type ColumnValueRange struct {
	colName   string
	ltype     types.LogicalType
	precision int
	scale     int

	state  rangeState
	low    types.Datum
	high   types.Datum
	hasLow bool
	hasHi  bool
	lowOp  FilterOp // FilterLarger or FilterLargerOrEqual
	highOp FilterOp // FilterLess or FilterLessOrEqual

	fixed *btree.BTreeG[types.Datum]

	indexFilterOnly bool
}

// NewColumnValueRange returns an unconstrained range for the named column.
func NewColumnValueRange(colName string, lt types.LogicalType) *ColumnValueRange {
	return &ColumnValueRange{colName: colName, ltype: lt}
}

// ColumnName returns the column this range constrains.
func (r *ColumnValueRange) ColumnName() string { return r.colName }

// Type returns the column's logical type.
func (r *ColumnValueRange) Type() types.LogicalType { return r.ltype }

// SetPrecision records the declared precision of a fixed-point column.
func (r *ColumnValueRange) SetPrecision(p int) { r.precision = p }

// SetScale records the declared scale of a fixed-point column.
func (r *ColumnValueRange) SetScale(s int) { r.scale = s }

// Precision returns the declared precision.
func (r *ColumnValueRange) Precision() int { return r.precision }

// Scale returns the declared scale.
func (r *ColumnValueRange) Scale() int { return r.scale }

// IsInitState reports whether no constraint has been folded yet.
func (r *ColumnValueRange) IsInitState() bool { return r.state == stateInit }

// IsEmptyValueRange reports whether the range provably matches nothing.
func (r *ColumnValueRange) IsEmptyValueRange() bool { return r.state == stateEmpty }

// IsFixedValueRange reports whether the range is a fixed IN allow-list.
func (r *ColumnValueRange) IsFixedValueRange() bool { return r.state == stateFixed }

// SetIndexFilterOnly marks the range as usable for index pruning only. The
// marker survives on every condition the range later emits.
func (r *ColumnValueRange) SetIndexFilterOnly(v bool) { r.indexFilterOnly = v }

// IndexFilterOnly reports the index-filter-only marker.
func (r *ColumnValueRange) IndexFilterOnly() bool { return r.indexFilterOnly }

// FixedValuesCount returns the size of the fixed set, 0 otherwise.
func (r *ColumnValueRange) FixedValuesCount() int {
	if r.fixed == nil {
		return 0
	}
	return r.fixed.Len()
}

// FixedValues returns the fixed allow-list in ascending order.
func (r *ColumnValueRange) FixedValues() []types.Datum {
	if r.state != stateFixed || r.fixed == nil {
		return nil
	}
	out := make([]types.Datum, 0, r.fixed.Len())
	r.fixed.Scan(func(v types.Datum) bool {
		out = append(out, v)
		return true
	})
	return out
}

func (r *ColumnValueRange) checkKind(v types.Datum) bool {
	return v.Kind() == types.KindOf(r.ltype)
}

func newDatumSet(values []types.Datum) *btree.BTreeG[types.Datum] {
	t := btree.NewBTreeG[types.Datum](datumLess)
	for _, v := range values {
		t.Set(v)
	}
	return t
}

// AddFixedValues folds an IN allow-list or NOT-IN deny-list into the range,
// intersecting with whatever constraint is already present. Returns
// errUnfoldable when the combination cannot be expressed; the caller then
// leaves the originating expression as a residual conjunct.
func (r *ColumnValueRange) AddFixedValues(op FilterOp, values []types.Datum) error {
	for _, v := range values {
		if !r.checkKind(v) {
			return errUnfoldable
		}
	}
	switch op {
	case FilterIn:
		return r.addInValues(values)
	case FilterNotIn:
		return r.addNotInValues(values)
	default:
		return errUnfoldable
	}
}

func (r *ColumnValueRange) addInValues(values []types.Datum) error {
	switch r.state {
	case stateEmpty:
		return nil

	case stateInit:
		r.fixed = newDatumSet(values)
		r.state = stateFixed

	case stateFixed:
		kept := btree.NewBTreeG[types.Datum](datumLess)
		for _, v := range values {
			if _, ok := r.fixed.Get(v); ok {
				kept.Set(v)
			}
		}
		r.fixed = kept

	case stateRange:
		kept := btree.NewBTreeG[types.Datum](datumLess)
		for _, v := range values {
			if r.boundsContain(v) {
				kept.Set(v)
			}
		}
		r.fixed = kept
		r.hasLow, r.hasHi = false, false
		r.state = stateFixed

	case stateNotIn:
		kept := btree.NewBTreeG[types.Datum](datumLess)
		for _, v := range values {
			if _, denied := r.fixed.Get(v); !denied {
				kept.Set(v)
			}
		}
		r.fixed = kept
		r.state = stateFixed
	}

	if r.state == stateFixed && r.fixed.Len() == 0 {
		r.state = stateEmpty
	}
	return nil
}

func (r *ColumnValueRange) addNotInValues(values []types.Datum) error {
	switch r.state {
	case stateEmpty:
		return nil

	case stateInit:
		r.fixed = newDatumSet(values)
		r.state = stateNotIn
		return nil

	case stateNotIn:
		for _, v := range values {
			r.fixed.Set(v)
		}
		return nil

	case stateFixed:
		for _, v := range values {
			r.fixed.Delete(v)
		}
		if r.fixed.Len() == 0 {
			r.state = stateEmpty
		}
		return nil

	default: // stateRange: deny-list and range are mutually exclusive.
		return errUnfoldable
	}
}

// AddRange tightens the range with one comparison bound. Folding a bound
// into a fixed allow-list filters the list; a deny-list refuses the fold.
func (r *ColumnValueRange) AddRange(op FilterOp, v types.Datum) error {
	switch op {
	case FilterLess, FilterLessOrEqual, FilterLarger, FilterLargerOrEqual:
	default:
		return errUnfoldable
	}
	if !r.checkKind(v) {
		return errUnfoldable
	}

	switch r.state {
	case stateEmpty:
		return nil

	case stateNotIn:
		return errUnfoldable

	case stateFixed:
		kept := btree.NewBTreeG[types.Datum](datumLess)
		r.fixed.Scan(func(existing types.Datum) bool {
			if opMatches(op, types.Compare(existing, v)) {
				kept.Set(existing)
			}
			return true
		})
		r.fixed = kept
		if r.fixed.Len() == 0 {
			r.state = stateEmpty
		}
		return nil

	default: // stateInit or stateRange
		r.tightenBound(op, v)
		r.state = stateRange
		if r.boundsEmpty() {
			r.state = stateEmpty
		}
		return nil
	}
}

func (r *ColumnValueRange) tightenBound(op FilterOp, v types.Datum) {
	switch op {
	case FilterLarger, FilterLargerOrEqual:
		cmp := 0
		if r.hasLow {
			cmp = types.Compare(v, r.low)
		}
		if !r.hasLow || cmp > 0 || (cmp == 0 && op == FilterLarger) {
			r.low, r.lowOp, r.hasLow = v, op, true
		}
	case FilterLess, FilterLessOrEqual:
		cmp := 0
		if r.hasHi {
			cmp = types.Compare(v, r.high)
		}
		if !r.hasHi || cmp < 0 || (cmp == 0 && op == FilterLess) {
			r.high, r.highOp, r.hasHi = v, op, true
		}
	}
}

func (r *ColumnValueRange) boundsEmpty() bool {
	if !r.hasLow || !r.hasHi {
		return false
	}
	cmp := types.Compare(r.low, r.high)
	if cmp > 0 {
		return true
	}
	return cmp == 0 && (r.lowOp == FilterLarger || r.highOp == FilterLess)
}

func (r *ColumnValueRange) boundsContain(v types.Datum) bool {
	if r.hasLow && !opMatches(r.lowOp, types.Compare(v, r.low)) {
		return false
	}
	if r.hasHi && !opMatches(r.highOp, types.Compare(v, r.high)) {
		return false
	}
	return true
}

// opMatches reports whether `value <op> bound` holds given cmp =
// Compare(value, bound).
func opMatches(op FilterOp, cmp int) bool {
	switch op {
	case FilterLess:
		return cmp < 0
	case FilterLessOrEqual:
		return cmp <= 0
	case FilterLarger:
		return cmp > 0
	case FilterLargerOrEqual:
		return cmp >= 0
	default:
		return false
	}
}

// LowBound returns the lower bound, its operator, and whether one exists.
func (r *ColumnValueRange) LowBound() (types.Datum, FilterOp, bool) {
	if r.state != stateRange || !r.hasLow {
		return types.Datum{}, FilterInvalid, false
	}
	return r.low, r.lowOp, true
}

// HighBound returns the upper bound, its operator, and whether one exists.
func (r *ColumnValueRange) HighBound() (types.Datum, FilterOp, bool) {
	if r.state != stateRange || !r.hasHi {
		return types.Datum{}, FilterInvalid, false
	}
	return r.high, r.highOp, true
}

// ToConditions flattens the range into storage filter conditions. An
// unconstrained range yields none; callers must check IsEmptyValueRange
// before flattening.
func (r *ColumnValueRange) ToConditions() []Condition {
	var conds []Condition
	switch r.state {
	case stateFixed:
		conds = append(conds, Condition{
			ColumnName:      r.colName,
			Op:              FilterIn,
			Values:          r.FixedValues(),
			IndexFilterOnly: r.indexFilterOnly,
		})
	case stateNotIn:
		values := make([]types.Datum, 0, r.fixed.Len())
		r.fixed.Scan(func(v types.Datum) bool {
			values = append(values, v)
			return true
		})
		conds = append(conds, Condition{
			ColumnName:      r.colName,
			Op:              FilterNotIn,
			Values:          values,
			IndexFilterOnly: r.indexFilterOnly,
		})
	case stateRange:
		if r.hasLow {
			conds = append(conds, Condition{
				ColumnName:      r.colName,
				Op:              r.lowOp,
				Values:          []types.Datum{r.low},
				IndexFilterOnly: r.indexFilterOnly,
			})
		}
		if r.hasHi {
			conds = append(conds, Condition{
				ColumnName:      r.colName,
				Op:              r.highOp,
				Values:          []types.Datum{r.high},
				IndexFilterOnly: r.indexFilterOnly,
			})
		}
	}
	return conds
}

// EnumerateValues expands the range into the discrete values it contains,
// ascending. ok is false when the range is not a fixed set and not an
// enumerable closed range, or when the expansion would exceed max values.
func (r *ColumnValueRange) EnumerateValues(max int) ([]types.Datum, bool) {
	switch r.state {
	case stateFixed:
		values := r.FixedValues()
		if max > 0 && len(values) > max {
			return nil, false
		}
		return values, true

	case stateRange:
		if !r.ltype.Enumerable() || !r.hasLow || !r.hasHi {
			return nil, false
		}
		if max <= 0 {
			// Even unlimited callers get a sane ceiling on range expansion.
			max = 1 << 16
		}
		start := r.low
		if r.lowOp == FilterLarger {
			next, ok := start.Next(r.ltype)
			if !ok {
				return nil, false
			}
			start = next
		}
		var values []types.Datum
		for v := start; ; {
			cmp := types.Compare(v, r.high)
			if cmp > 0 || (cmp == 0 && r.highOp == FilterLess) {
				break
			}
			values = append(values, v)
			if max > 0 && len(values) > max {
				return nil, false
			}
			next, ok := v.Next(r.ltype)
			if !ok {
				break
			}
			v = next
		}
		return values, true

	default:
		return nil, false
	}
}
