package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amber-create/starrocks/expr"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/types"
)

func parseCond(t *testing.T, c Condition) ColumnPredicate {
	t.Helper()
	p, err := DatumParser{}.ParseCondition(c)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestSetPredicate(t *testing.T) {
	p := parseCond(t, Condition{ColumnName: "c", Op: FilterIn, Values: ints(1, 5, 9)})

	assert.True(t, p.Matches(types.Int(5)))
	assert.False(t, p.Matches(types.Int(4)))
	assert.False(t, p.Matches(types.Null()))

	// Zone maps: a page overlapping any set value might match.
	assert.True(t, p.MatchesZoneMap(types.Int(4), types.Int(6), false))
	assert.False(t, p.MatchesZoneMap(types.Int(6), types.Int(8), false))
	assert.False(t, p.MatchesZoneMap(types.Null(), types.Null(), true))
}

func TestNotInPredicate(t *testing.T) {
	p := parseCond(t, Condition{ColumnName: "c", Op: FilterNotIn, Values: ints(5)})

	assert.True(t, p.Matches(types.Int(4)))
	assert.False(t, p.Matches(types.Int(5)))
	assert.False(t, p.Matches(types.Null()))

	// Only a constant page entirely inside the deny list is prunable.
	assert.False(t, p.MatchesZoneMap(types.Int(5), types.Int(5), false))
	assert.True(t, p.MatchesZoneMap(types.Int(5), types.Int(6), false))
	assert.False(t, p.MatchesZoneMap(types.Null(), types.Null(), true))
}

func TestCmpPredicate(t *testing.T) {
	p := parseCond(t, Condition{ColumnName: "c", Op: FilterLarger, Values: ints(10)})

	assert.True(t, p.Matches(types.Int(11)))
	assert.False(t, p.Matches(types.Int(10)))
	assert.False(t, p.Matches(types.Null()))

	assert.True(t, p.MatchesZoneMap(types.Int(0), types.Int(11), false))
	assert.False(t, p.MatchesZoneMap(types.Int(0), types.Int(10), false))
	assert.False(t, p.MatchesZoneMap(types.Null(), types.Null(), true))
}

func TestNullPredicate(t *testing.T) {
	isNull := parseCond(t, Condition{ColumnName: "c", Op: FilterIsNull, NullTest: "null"})
	assert.True(t, isNull.Matches(types.Null()))
	assert.False(t, isNull.Matches(types.Int(1)))
	assert.True(t, isNull.MatchesZoneMap(types.Int(0), types.Int(9), true))
	assert.False(t, isNull.MatchesZoneMap(types.Int(0), types.Int(9), false))

	notNull := parseCond(t, Condition{ColumnName: "c", Op: FilterIsNull, NullTest: "not null"})
	assert.False(t, notNull.Matches(types.Null()))
	assert.True(t, notNull.Matches(types.Int(1)))
	assert.False(t, notNull.MatchesZoneMap(types.Null(), types.Null(), true))
	assert.True(t, notNull.MatchesZoneMap(types.Int(0), types.Int(9), true))
}

func TestParseConditionRejectsUnknown(t *testing.T) {
	p, err := DatumParser{}.ParseCondition(Condition{ColumnName: "c", Op: FilterInvalid})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = DatumParser{}.ParseCondition(Condition{ColumnName: "c", Op: FilterIn})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestExprPredicate(t *testing.T) {
	slot := &schema.SlotDescriptor{ID: 1, ColName: "v", Type: types.TypeInt}
	// v > 10 AND v != 15, expressed as a leftover expression.
	root := expr.NewCompound(expr.OpAnd,
		expr.NewBinary(expr.OpGT, expr.NewSlotRef(slot), expr.NewLiteral(types.Int(10), types.TypeInt)),
		expr.NewBinary(expr.OpNE, expr.NewSlotRef(slot), expr.NewLiteral(types.Int(15), types.TypeInt)),
	)
	ctx := expr.NewContext(root, expr.ConstEvaluator{})

	p, err := DatumParser{}.ParseExprContext(slot, ctx)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.True(t, p.Matches(types.Int(11)))
	assert.False(t, p.Matches(types.Int(15)))
	assert.False(t, p.Matches(types.Int(10)))
	assert.False(t, p.Matches(types.Null()))
	// No monotonicity assumption: zone maps never prune.
	assert.True(t, p.MatchesZoneMap(types.Int(0), types.Int(5), false))
}

func TestExprPredicateRejectsForeignSlots(t *testing.T) {
	slot := &schema.SlotDescriptor{ID: 1, ColName: "v", Type: types.TypeInt}
	other := &schema.SlotDescriptor{ID: 2, ColName: "w", Type: types.TypeInt}
	root := expr.NewBinary(expr.OpGT, expr.NewSlotRef(other), expr.NewLiteral(types.Int(1), types.TypeInt))
	_, err := DatumParser{}.ParseExprContext(slot, expr.NewContext(root, expr.ConstEvaluator{}))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestCompoundChunkPredicate(t *testing.T) {
	inPred := parseCond(t, Condition{ColumnName: "a", Op: FilterIn, Values: ints(1, 2)})
	gtPred := parseCond(t, Condition{ColumnName: "b", Op: FilterLarger, Values: ints(10)})

	and := newCompoundChunkPredicate(true)
	and.addChild(columnChunkPredicate{pred: inPred})
	and.addChild(columnChunkPredicate{pred: gtPred})

	row := map[string]types.Datum{"a": types.Int(1), "b": types.Int(11)}
	get := func(col string) (types.Datum, bool) {
		v, ok := row[col]
		return v, ok
	}

	match, err := and.Matches(get)
	require.NoError(t, err)
	assert.True(t, match)

	row["b"] = types.Int(10)
	match, err = and.Matches(get)
	require.NoError(t, err)
	assert.False(t, match)

	or := newCompoundChunkPredicate(false)
	or.addChild(columnChunkPredicate{pred: inPred})
	or.addChild(columnChunkPredicate{pred: gtPred})
	match, err = or.Matches(get)
	require.NoError(t, err)
	assert.True(t, match)

	assert.ElementsMatch(t, []string{"a", "b"}, and.Columns(nil))
}
