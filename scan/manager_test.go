package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amber-create/starrocks/expr"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/types"
)

// testTuple mirrors a scan over (k1 int, k2 int, v1 int, d1 date, m1 decimal).
func testTuple() *schema.TupleDescriptor {
	return &schema.TupleDescriptor{Slots: []*schema.SlotDescriptor{
		{ID: 1, ColName: "k1", Type: types.TypeInt},
		{ID: 2, ColName: "k2", Type: types.TypeInt},
		{ID: 3, ColName: "v1", Type: types.TypeInt},
		{ID: 4, ColName: "d1", Type: types.TypeDate},
		{ID: 5, ColName: "m1", Type: types.TypeDecimal, Precision: 5, Scale: 2},
	}}
}

func slotRef(t *testing.T, tuple *schema.TupleDescriptor, id schema.SlotID) *expr.Expr {
	t.Helper()
	s := tuple.SlotByID(id)
	require.NotNil(t, s)
	return expr.NewSlotRef(s)
}

func newManager(tuple *schema.TupleDescriptor, conjuncts []expr.Container, mutate ...func(*Options)) *ConjunctsManager {
	opts := &Options{
		TupleDesc:                     tuple,
		Conjuncts:                     conjuncts,
		KeyColumnNames:                []string{"k1", "k2"},
		ShortKeyForSingleColumnFilter: true,
	}
	for _, m := range mutate {
		m(opts)
	}
	return NewConjunctsManager(opts)
}

func TestParseConjunctsInAndBinary(t *testing.T) {
	tuple := testTuple()
	conjuncts := expr.Raw(
		expr.NewIn(slotRef(t, tuple, 1), ints(5, 1, 3), false),
		expr.NewBinary(expr.OpGT, slotRef(t, tuple, 3), expr.NewLiteral(types.Int(100), types.TypeInt)),
	)

	m := newManager(tuple, conjuncts)
	require.NoError(t, m.EvalConstConjuncts())
	require.NoError(t, m.ParseConjuncts())

	filters := m.Filters()
	require.Len(t, filters, 2)
	assert.Equal(t, "k1 in (1, 3, 5)", filters[0].String())
	assert.Equal(t, "v1 > (100)", filters[1].String())

	ranges := m.KeyRanges()
	require.Len(t, ranges, 3)
	assert.Equal(t, ints(1), ranges[0].Begin)
	assert.Equal(t, ints(3), ranges[1].Begin)
	assert.Equal(t, ints(5), ranges[2].Begin)

	assert.Empty(t, m.NotPushDownConjuncts())

	preds, err := m.ColumnPredicates(DatumParser{})
	require.NoError(t, err)
	assert.Len(t, preds, 2)
}

func TestParseConjunctsReversedOperands(t *testing.T) {
	tuple := testTuple()
	// '100 < v1' normalizes to 'v1 > 100'.
	m := newManager(tuple, expr.Raw(
		expr.NewBinary(expr.OpLT, expr.NewLiteral(types.Int(100), types.TypeInt), slotRef(t, tuple, 3)),
	))
	require.NoError(t, m.ParseConjuncts())
	filters := m.Filters()
	require.Len(t, filters, 1)
	assert.Equal(t, "v1 > (100)", filters[0].String())
}

func TestEvalConstConjuncts(t *testing.T) {
	tuple := testTuple()
	lit := func(b bool) *expr.Expr { return expr.NewLiteral(types.Bool(b), types.TypeBoolean) }

	m := newManager(tuple, expr.Raw(lit(true)))
	assert.NoError(t, m.EvalConstConjuncts())

	m = newManager(tuple, expr.Raw(lit(false)))
	assert.ErrorIs(t, m.EvalConstConjuncts(), ErrNoRows)

	// '1 = NULL' is NULL, which also proves no rows.
	m = newManager(tuple, expr.Raw(expr.NewBinary(expr.OpEQ,
		expr.NewLiteral(types.Int(1), types.TypeInt),
		expr.NewLiteral(types.Null(), types.TypeInt))))
	assert.ErrorIs(t, m.EvalConstConjuncts(), ErrNoRows)
}

func TestParseConjunctsEmptyRange(t *testing.T) {
	tuple := testTuple()
	m := newManager(tuple, expr.Raw(
		expr.NewBinary(expr.OpGT, slotRef(t, tuple, 3), expr.NewLiteral(types.Int(10), types.TypeInt)),
		expr.NewBinary(expr.OpLT, slotRef(t, tuple, 3), expr.NewLiteral(types.Int(5), types.TypeInt)),
	))
	assert.ErrorIs(t, m.ParseConjuncts(), ErrNoRows)
}

func TestParseConjunctsInListCap(t *testing.T) {
	tuple := testTuple()
	m := newManager(tuple, expr.Raw(
		expr.NewIn(slotRef(t, tuple, 1), ints(1, 2, 3, 4, 5), false),
	), func(o *Options) { o.MaxPushdownConditionsPerColumn = 4 })
	require.NoError(t, m.ParseConjuncts())

	// Oversized IN lists stay residual instead of exploding scan keys.
	assert.Empty(t, m.Filters())
	assert.Len(t, m.NotPushDownConjuncts(), 1)
}

func TestParseConjunctsNullInList(t *testing.T) {
	tuple := testTuple()
	m := newManager(tuple, expr.Raw(
		expr.NewIn(slotRef(t, tuple, 1), []types.Datum{types.Int(1), types.Null()}, false),
	))
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.Filters())
	assert.Len(t, m.NotPushDownConjuncts(), 1)
}

func TestParseConjunctsIsNull(t *testing.T) {
	tuple := testTuple()
	m := newManager(tuple, expr.Raw(
		expr.NewIsNull(slotRef(t, tuple, 3), false),
		expr.NewIsNull(slotRef(t, tuple, 1), true),
	))
	require.NoError(t, m.ParseConjuncts())

	filters := m.Filters()
	require.Len(t, filters, 2)
	assert.Equal(t, "k1 is not null", filters[0].String())
	assert.Equal(t, "v1 is null", filters[1].String())
	assert.Empty(t, m.NotPushDownConjuncts())
}

func dateCol(t *testing.T, tuple *schema.TupleDescriptor) *expr.Expr {
	t.Helper()
	return expr.NewCast(slotRef(t, tuple, 4), types.TypeDatetime)
}

func TestDatePredicateRewrites(t *testing.T) {
	tuple := testTuple()
	day := int64(19800)
	midnight := types.Timestamp(day * types.MicrosPerDay)
	afternoon := types.Timestamp(day*types.MicrosPerDay + 3600*1_000_000)
	tsLit := func(v types.Datum) *expr.Expr { return expr.NewLiteral(v, types.TypeDatetime) }

	tests := []struct {
		name string
		op   expr.Op
		lit  types.Datum
		want string
	}{
		{"ge midnight keeps op", expr.OpGE, midnight, "d1 >= (2024-03-18)"},
		{"ge sub-day tightens to gt", expr.OpGE, afternoon, "d1 > (2024-03-18)"},
		{"lt sub-day relaxes to le", expr.OpLT, afternoon, "d1 <= (2024-03-18)"},
		{"lt midnight keeps op", expr.OpLT, midnight, "d1 < (2024-03-18)"},
		{"gt sub-day unchanged", expr.OpGT, afternoon, "d1 > (2024-03-18)"},
		{"eq midnight folds", expr.OpEQ, midnight, "d1 in (2024-03-18)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(tuple, expr.Raw(expr.NewBinary(tt.op, dateCol(t, tuple), tsLit(tt.lit))))
			require.NoError(t, m.ParseConjuncts())
			filters := m.Filters()
			require.Len(t, filters, 1)
			assert.Equal(t, tt.want, filters[0].String())
			assert.Empty(t, m.NotPushDownConjuncts())
		})
	}

	// Equality against a sub-day timestamp can never match a date.
	m := newManager(tuple, expr.Raw(expr.NewBinary(expr.OpEQ, dateCol(t, tuple), tsLit(afternoon))))
	assert.ErrorIs(t, m.ParseConjuncts(), ErrNoRows)

	// Inequality against a sub-day timestamp is trivially true for non-null
	// dates; rewriting is unsafe, so it stays residual.
	m = newManager(tuple, expr.Raw(expr.NewBinary(expr.OpNE, dateCol(t, tuple), tsLit(afternoon))))
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.Filters())
	assert.Len(t, m.NotPushDownConjuncts(), 1)
}

func TestDateInListRewrites(t *testing.T) {
	tuple := testTuple()
	day := int64(19800)
	midnight := types.Timestamp(day * types.MicrosPerDay)
	afternoon := types.Timestamp(day*types.MicrosPerDay + 1)

	// Sub-day values are dropped from the list.
	m := newManager(tuple, expr.Raw(
		expr.NewIn(dateCol(t, tuple), []types.Datum{midnight, afternoon}, false),
	))
	require.NoError(t, m.ParseConjuncts())
	filters := m.Filters()
	require.Len(t, filters, 1)
	assert.Equal(t, "d1 in (2024-03-18)", filters[0].String())

	// Dropping every value proves no rows.
	m = newManager(tuple, expr.Raw(
		expr.NewIn(dateCol(t, tuple), []types.Datum{afternoon}, false),
	))
	assert.ErrorIs(t, m.ParseConjuncts(), ErrNoRows)

	// NOT IN with sub-day values excludes nothing; it stays residual.
	m = newManager(tuple, expr.Raw(
		expr.NewIn(dateCol(t, tuple), []types.Datum{afternoon}, true),
	))
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.Filters())
	assert.Len(t, m.NotPushDownConjuncts(), 1)
}

func TestDecimalOverflowStaysResidual(t *testing.T) {
	tuple := testTuple()
	// m1 has precision 5: 100000 unscaled does not fit.
	m := newManager(tuple, expr.Raw(expr.NewBinary(expr.OpGT,
		slotRef(t, tuple, 5), expr.NewLiteral(types.Decimal(100000), types.TypeDecimal))))
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.Filters())
	assert.Len(t, m.NotPushDownConjuncts(), 1)

	// Within precision it folds.
	m = newManager(tuple, expr.Raw(expr.NewBinary(expr.OpGT,
		slotRef(t, tuple, 5), expr.NewLiteral(types.Decimal(99999), types.TypeDecimal))))
	require.NoError(t, m.ParseConjuncts())
	assert.Len(t, m.Filters(), 1)
}

func TestScanKeySingleColumnGate(t *testing.T) {
	tuple := testTuple()
	conjuncts := func() []expr.Container {
		return expr.Raw(expr.NewIn(slotRef(t, tuple, 1), ints(1, 2), false))
	}

	m := newManager(tuple, conjuncts(), func(o *Options) { o.ShortKeyForSingleColumnFilter = false })
	require.NoError(t, m.ParseConjuncts())
	ranges := m.KeyRanges()
	require.Len(t, ranges, 1)
	assert.True(t, ranges[0].Full())

	m = newManager(tuple, conjuncts())
	require.NoError(t, m.ParseConjuncts())
	assert.Len(t, m.KeyRanges(), 2)
}

func TestScanKeySkipsGapInKeyPrefix(t *testing.T) {
	tuple := testTuple()
	// Constraint on k2 only: no leading prefix, no enumeration.
	m := newManager(tuple, expr.Raw(
		expr.NewIn(slotRef(t, tuple, 2), ints(1, 2), false),
	))
	require.NoError(t, m.ParseConjuncts())
	ranges := m.KeyRanges()
	require.Len(t, ranges, 1)
	assert.True(t, ranges[0].Full())
	// The condition is still pushed down as a filter.
	assert.Len(t, m.Filters(), 1)
}

func TestCompoundOrClaimedWhole(t *testing.T) {
	tuple := testTuple()
	or := expr.NewCompound(expr.OpOr,
		expr.NewBinary(expr.OpEQ, slotRef(t, tuple, 3), expr.NewLiteral(types.Int(1), types.TypeInt)),
		expr.NewBinary(expr.OpGT, slotRef(t, tuple, 1), expr.NewLiteral(types.Int(50), types.TypeInt)),
	)
	m := newManager(tuple, expr.Raw(or), func(o *Options) { o.EnableColumnExprPredicate = true })
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.NotPushDownConjuncts())

	tree, err := m.ChunkPredicate(DatumParser{})
	require.NoError(t, err)

	row := map[string]types.Datum{"v1": types.Int(1), "k1": types.Int(0)}
	get := func(col string) (types.Datum, bool) { v, ok := row[col]; return v, ok }
	match, err := tree.Matches(get)
	require.NoError(t, err)
	assert.True(t, match)

	row["v1"] = types.Int(2)
	match, err = tree.Matches(get)
	require.NoError(t, err)
	assert.False(t, match)

	row["k1"] = types.Int(51)
	match, err = tree.Matches(get)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestCompoundOrPartiallyFoldableStaysResidual(t *testing.T) {
	tuple := testTuple()
	// One branch touches two slots; the whole OR must stay residual.
	or := expr.NewCompound(expr.OpOr,
		expr.NewBinary(expr.OpEQ, slotRef(t, tuple, 3), expr.NewLiteral(types.Int(1), types.TypeInt)),
		expr.NewBinary(expr.OpEQ, slotRef(t, tuple, 3), slotRef(t, tuple, 1)),
	)
	m := newManager(tuple, expr.Raw(or), func(o *Options) { o.EnableColumnExprPredicate = true })
	require.NoError(t, m.ParseConjuncts())
	assert.Len(t, m.NotPushDownConjuncts(), 1)

	// And without column expression pushdown no OR is ever claimed.
	simple := expr.NewCompound(expr.OpOr,
		expr.NewBinary(expr.OpEQ, slotRef(t, tuple, 3), expr.NewLiteral(types.Int(1), types.TypeInt)),
		expr.NewBinary(expr.OpEQ, slotRef(t, tuple, 1), expr.NewLiteral(types.Int(2), types.TypeInt)),
	)
	m = newManager(tuple, expr.Raw(simple))
	require.NoError(t, m.ParseConjuncts())
	assert.Len(t, m.NotPushDownConjuncts(), 1)
}

func TestColumnExprPredicatePushdown(t *testing.T) {
	tuple := testTuple()
	udf := &expr.Expr{Node: expr.NodeFunctionCall, Type: types.TypeBoolean, FuncName: "is_null",
		Children: []*expr.Expr{expr.NewBinary(expr.OpGT, slotRef(t, tuple, 3),
			expr.NewLiteral(types.Int(1), types.TypeInt))}}

	m := newManager(tuple, expr.Raw(udf), func(o *Options) { o.EnableColumnExprPredicate = true })
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.NotPushDownConjuncts())

	preds, err := m.ColumnPredicates(DatumParser{})
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "v1", preds[0].ColumnName())

	// Without the option it stays residual.
	m = newManager(tuple, expr.Raw(udf))
	require.NoError(t, m.ParseConjuncts())
	assert.Len(t, m.NotPushDownConjuncts(), 1)
}

func TestInListRuntimeFilterAlwaysClaimed(t *testing.T) {
	tuple := testTuple()
	rf := expr.NewIn(slotRef(t, tuple, 3), ints(1, 2, 3), false)
	rf.JoinRuntimeFilter = true
	m := newManager(tuple, expr.Raw(rf))
	require.NoError(t, m.ParseConjuncts())

	// The filter folds into the range and is never re-evaluated per row.
	assert.Empty(t, m.NotPushDownConjuncts())
	require.Len(t, m.Filters(), 1)
	assert.Equal(t, "v1 in (1, 2, 3)", m.Filters()[0].String())

	// Even an unfoldable runtime filter is claimed: the join semantics allow
	// dropping it, re-evaluating it would be wasted work.
	big := expr.NewIn(slotRef(t, tuple, 3), ints(1, 2, 3, 4, 5), false)
	big.JoinRuntimeFilter = true
	m = newManager(tuple, expr.Raw(big), func(o *Options) { o.MaxPushdownConditionsPerColumn = 4 })
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.NotPushDownConjuncts())
	assert.Empty(t, m.Filters())
}

func TestMinMaxRuntimeFilter(t *testing.T) {
	tuple := testTuple()
	desc := NewRuntimeFilterProbeDescriptor(7, 3)
	desc.SetRuntimeFilter(&JoinRuntimeFilter{Min: types.Int(5), Max: types.Int(10)})
	coll := NewRuntimeFilterCollection()
	coll.Add(desc)

	// Without an exact predicate the envelope is index-filter-only.
	m := newManager(tuple, nil, func(o *Options) { o.RuntimeFilters = coll })
	require.NoError(t, m.ParseConjuncts())
	filters := m.Filters()
	require.Len(t, filters, 2)
	for _, f := range filters {
		assert.True(t, f.IndexFilterOnly, f.String())
	}
	assert.Equal(t, "v1 >= (5)", filters[0].String())
	assert.Equal(t, "v1 <= (10)", filters[1].String())

	// With an exact predicate the envelope tightens the real range.
	m = newManager(tuple, expr.Raw(expr.NewBinary(expr.OpGE,
		slotRef(t, tuple, 3), expr.NewLiteral(types.Int(8), types.TypeInt))),
		func(o *Options) { o.RuntimeFilters = coll })
	require.NoError(t, m.ParseConjuncts())
	filters = m.Filters()
	require.Len(t, filters, 2)
	assert.Equal(t, "v1 >= (8)", filters[0].String())
	assert.False(t, filters[0].IndexFilterOnly)
	assert.Equal(t, "v1 <= (10)", filters[1].String())
}

func TestMinMaxRuntimeFilterWithNulls(t *testing.T) {
	tuple := testTuple()
	desc := NewRuntimeFilterProbeDescriptor(7, 3)
	desc.SetRuntimeFilter(&JoinRuntimeFilter{HasNull: true, Min: types.Int(5), Max: types.Int(10)})
	coll := NewRuntimeFilterCollection()
	coll.Add(desc)

	m := newManager(tuple, nil, func(o *Options) { o.RuntimeFilters = coll })
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.Filters())
}

func TestUnarrivedRuntimeFilter(t *testing.T) {
	tuple := testTuple()
	coll := NewRuntimeFilterCollection()
	coll.Add(NewRuntimeFilterProbeDescriptor(7, 3))

	m := newManager(tuple, nil, func(o *Options) { o.RuntimeFilters = coll })
	require.NoError(t, m.ParseConjuncts())
	assert.Empty(t, m.Filters())

	unarrived := m.UnarrivedRuntimeFilters()
	require.Len(t, unarrived, 1)
	assert.Equal(t, 7, unarrived[0].Desc.FilterID)
	assert.Equal(t, "v1", unarrived[0].Slot.ColName)
}

func TestDateRuntimeFilterBounds(t *testing.T) {
	tuple := testTuple()
	day := int64(19800)
	desc := NewRuntimeFilterProbeDescriptor(1, 4)
	desc.SetRuntimeFilter(&JoinRuntimeFilter{
		Min: types.Timestamp(day*types.MicrosPerDay + 1),
		Max: types.Timestamp(day*types.MicrosPerDay + 2),
	})
	coll := NewRuntimeFilterCollection()
	coll.Add(desc)

	m := newManager(tuple, nil, func(o *Options) { o.RuntimeFilters = coll })
	require.NoError(t, m.ParseConjuncts())
	filters := m.Filters()
	require.Len(t, filters, 2)
	// Lower bound floors to the day, upper bound rounds up a day so the
	// envelope stays conservative.
	assert.Equal(t, "d1 >= (2024-03-18)", filters[0].String())
	assert.Equal(t, "d1 <= (2024-03-19)", filters[1].String())
}
