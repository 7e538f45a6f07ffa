package scan

import (
	"errors"

	"github.com/amber-create/starrocks/types"
)

// errStopExtend is an internal signal that scan-key extension must stop at
// the current key column; already-extended keys stay valid.
var errStopExtend = errors.New("scan: scan key extension stopped")

// KeyRange is one enumerated short-key scan range: a pair of typed key-prefix
// tuples with inclusive/exclusive bounds. An empty range scans everything.
type KeyRange struct {
	Begin          []types.Datum
	End            []types.Datum
	BeginInclusive bool
	EndInclusive   bool
}

// Full reports whether the range covers the whole segment.
func (kr KeyRange) Full() bool { return len(kr.Begin) == 0 && len(kr.End) == 0 }

// ScanKeys accumulates the cartesian product of leading key-column values so
// that range predicates on key columns become IN-lists of concrete key-prefix
// tuples, each assignable to an independent parallel scan unit.
//
// For example `c0 BETWEEN 1 AND 3 AND c1 BETWEEN 12 AND 13` on key columns
// (c0, c1) expands to the six prefixes (1,12) (1,13) (2,12) (2,13) (3,12)
// (3,13).
type ScanKeys struct {
	begin [][]types.Datum
	end   [][]types.Datum

	beginInclude bool
	endInclude   bool

	// hasRange is set once a non-enumerable range bound has been appended;
	// no further key column may extend after that.
	hasRange  bool
	unlimited bool
}

// NewScanKeys returns an empty scan key set. unlimited disables the
// MaxScanKeyNum cap.
func NewScanKeys(unlimited bool) *ScanKeys {
	return &ScanKeys{beginInclude: true, endInclude: true, unlimited: unlimited}
}

// HasRangeValue reports whether a range bound terminated extension.
func (sk *ScanKeys) HasRangeValue() bool { return sk.hasRange }

// NumRanges returns the number of enumerated key ranges.
func (sk *ScanKeys) NumRanges() int { return len(sk.begin) }

// Extend folds the next leading key column's range into the scan keys.
// Fixed value sets multiply the current tuples; enumerable closed ranges are
// first rewritten into their discrete values; anything else contributes its
// bounds once and stops further extension.
func (sk *ScanKeys) Extend(r *ColumnValueRange, maxScanKeyNum int) error {
	if sk.hasRange {
		return errStopExtend
	}

	capacity := 0
	if !sk.unlimited {
		existing := len(sk.begin)
		if existing == 0 {
			existing = 1
		}
		capacity = maxScanKeyNum / existing
		if capacity == 0 {
			return errStopExtend
		}
	}

	if values, ok := r.EnumerateValues(capacity); ok && len(values) > 0 {
		sk.extendFixed(values)
		return nil
	}

	return sk.extendRange(r)
}

func (sk *ScanKeys) extendFixed(values []types.Datum) {
	if len(sk.begin) == 0 {
		for _, v := range values {
			sk.begin = append(sk.begin, []types.Datum{v})
			sk.end = append(sk.end, []types.Datum{v})
		}
		return
	}
	newBegin := make([][]types.Datum, 0, len(sk.begin)*len(values))
	newEnd := make([][]types.Datum, 0, len(sk.end)*len(values))
	for i := range sk.begin {
		for _, v := range values {
			b := append(append([]types.Datum{}, sk.begin[i]...), v)
			e := append(append([]types.Datum{}, sk.end[i]...), v)
			newBegin = append(newBegin, b)
			newEnd = append(newEnd, e)
		}
	}
	sk.begin, sk.end = newBegin, newEnd
}

func (sk *ScanKeys) extendRange(r *ColumnValueRange) error {
	low, lowOp, hasLow := r.LowBound()
	high, highOp, hasHigh := r.HighBound()
	if !hasLow && !hasHigh {
		return errStopExtend
	}
	if !hasLow {
		min, ok := types.MinDatum(r.Type())
		if !ok {
			return errStopExtend
		}
		low, lowOp = min, FilterLargerOrEqual
	}
	if !hasHigh {
		max, ok := types.MaxDatum(r.Type())
		if !ok {
			return errStopExtend
		}
		high, highOp = max, FilterLessOrEqual
	}

	if len(sk.begin) == 0 {
		sk.begin = append(sk.begin, []types.Datum{low})
		sk.end = append(sk.end, []types.Datum{high})
	} else {
		for i := range sk.begin {
			sk.begin[i] = append(sk.begin[i], low)
			sk.end[i] = append(sk.end[i], high)
		}
	}
	sk.beginInclude = lowOp == FilterLargerOrEqual
	sk.endInclude = highOp == FilterLessOrEqual
	sk.hasRange = true
	return nil
}

// KeyRanges materializes the enumerated ranges. When nothing was extended it
// returns the single full range so callers always get at least one range.
func (sk *ScanKeys) KeyRanges() []KeyRange {
	if len(sk.begin) == 0 {
		return []KeyRange{{BeginInclusive: true, EndInclusive: true}}
	}
	out := make([]KeyRange, len(sk.begin))
	for i := range sk.begin {
		out[i] = KeyRange{
			Begin:          sk.begin[i],
			End:            sk.end[i],
			BeginInclusive: sk.beginInclude,
			EndInclusive:   sk.endInclude,
		}
	}
	return out
}
