package scan

import (
	"fmt"

	"github.com/amber-create/starrocks/expr"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/types"
)

// ColumnPredicate is one compiled single-column filter. Matches evaluates a
// row value; MatchesZoneMap answers "might any row in [min, max] match",
// where a NULL min and max means an all-null page.
type ColumnPredicate interface {
	ColumnName() string
	Matches(v types.Datum) bool
	MatchesZoneMap(min, max types.Datum, hasNulls bool) bool
	// IndexFilterOnly reports whether the predicate may only prune pages and
	// blocks, never reject individual rows.
	IndexFilterOnly() bool
}

// PredicateParser turns flattened conditions and leftover column expressions
// into executable column predicates. Returning a nil predicate (with nil
// error) means the input is not recognized; the scan fails with
// ErrInvalidFilter.
type PredicateParser interface {
	ParseCondition(c Condition) (ColumnPredicate, error)
	ParseExprContext(slot *schema.SlotDescriptor, ctx *expr.Context) (ColumnPredicate, error)
}

// ChunkPredicate is the compiled predicate tree evaluated inside the storage
// reader: column predicates at the leaves, AND/OR compounds above them.
// Matches resolves column values through get; a missing column reads as NULL.
type ChunkPredicate interface {
	Matches(get func(col string) (types.Datum, bool)) (bool, error)
	// Columns appends the distinct referenced column names to dst.
	Columns(dst []string) []string
}

type compoundChunkPredicate struct {
	and      bool
	children []ChunkPredicate
}

func newCompoundChunkPredicate(and bool) *compoundChunkPredicate {
	return &compoundChunkPredicate{and: and}
}

func (p *compoundChunkPredicate) addChild(c ChunkPredicate) {
	p.children = append(p.children, c)
}

func (p *compoundChunkPredicate) Matches(get func(col string) (types.Datum, bool)) (bool, error) {
	for _, c := range p.children {
		ok, err := c.Matches(get)
		if err != nil {
			return false, err
		}
		if p.and && !ok {
			return false, nil
		}
		if !p.and && ok {
			return true, nil
		}
	}
	// An empty AND matches; an empty OR would reject everything, but empty
	// compounds are never built.
	return p.and, nil
}

func (p *compoundChunkPredicate) Columns(dst []string) []string {
	for _, c := range p.children {
		dst = c.Columns(dst)
	}
	return dst
}

type columnChunkPredicate struct {
	pred ColumnPredicate
}

func (p columnChunkPredicate) Matches(get func(col string) (types.Datum, bool)) (bool, error) {
	if p.pred.IndexFilterOnly() {
		// Approximate predicates prune storage; at row level they pass.
		return true, nil
	}
	v, ok := get(p.pred.ColumnName())
	if !ok {
		v = types.Null()
	}
	return p.pred.Matches(v), nil
}

func (p columnChunkPredicate) Columns(dst []string) []string {
	name := p.pred.ColumnName()
	for _, existing := range dst {
		if existing == name {
			return dst
		}
	}
	return append(dst, name)
}

// DatumParser is the default PredicateParser over Datum-valued rows.
type DatumParser struct{}

// ParseCondition implements PredicateParser.
func (DatumParser) ParseCondition(c Condition) (ColumnPredicate, error) {
	switch c.Op {
	case FilterIn, FilterNotIn:
		if len(c.Values) == 0 {
			return nil, nil
		}
		set := make(map[types.Datum]struct{}, len(c.Values))
		min, max := c.Values[0], c.Values[0]
		for _, v := range c.Values {
			set[v] = struct{}{}
			if types.Compare(v, min) < 0 {
				min = v
			}
			if types.Compare(v, max) > 0 {
				max = v
			}
		}
		return &setPredicate{
			col:             c.ColumnName,
			set:             set,
			min:             min,
			max:             max,
			notIn:           c.Op == FilterNotIn,
			indexFilterOnly: c.IndexFilterOnly,
		}, nil

	case FilterLess, FilterLessOrEqual, FilterLarger, FilterLargerOrEqual:
		if len(c.Values) != 1 {
			return nil, nil
		}
		return &cmpPredicate{
			col:             c.ColumnName,
			op:              c.Op,
			bound:           c.Values[0],
			indexFilterOnly: c.IndexFilterOnly,
		}, nil

	case FilterIsNull:
		switch c.NullTest {
		case "null", "not null":
			return &nullPredicate{col: c.ColumnName, wantNull: c.NullTest == "null"}, nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// ParseExprContext implements PredicateParser. The expression references
// exactly one slot; each row value is bound to it and the tree is evaluated
// with three-valued logic (NULL rejects).
func (DatumParser) ParseExprContext(slot *schema.SlotDescriptor, ctx *expr.Context) (ColumnPredicate, error) {
	if ctx == nil || ctx.Root() == nil {
		return nil, nil
	}
	if !ctx.Root().ReferencesOnly(slot.ID) {
		return nil, fmt.Errorf("%w: expression on %q references other slots", ErrInvalidFilter, slot.ColName)
	}
	return &exprPredicate{col: slot.ColName, slotID: slot.ID, ctx: ctx}, nil
}

type setPredicate struct {
	col             string
	set             map[types.Datum]struct{}
	min, max        types.Datum
	notIn           bool
	indexFilterOnly bool
}

func (p *setPredicate) ColumnName() string    { return p.col }
func (p *setPredicate) IndexFilterOnly() bool { return p.indexFilterOnly }

func (p *setPredicate) Matches(v types.Datum) bool {
	if v.IsNull() {
		return false
	}
	_, found := p.set[v]
	if p.notIn {
		return !found
	}
	return found
}

func (p *setPredicate) MatchesZoneMap(min, max types.Datum, hasNulls bool) bool {
	if min.IsNull() && max.IsNull() {
		// All-null page: no non-null value can match either direction.
		return false
	}
	if p.notIn {
		// Only a constant page entirely inside the deny list is prunable;
		// null rows never match NOT IN, so hasNulls changes nothing.
		if types.Compare(min, max) == 0 {
			if _, denied := p.set[min]; denied {
				return false
			}
		}
		return true
	}
	for v := range p.set {
		if types.Compare(v, min) >= 0 && types.Compare(v, max) <= 0 {
			return true
		}
	}
	return false
}

type cmpPredicate struct {
	col             string
	op              FilterOp
	bound           types.Datum
	indexFilterOnly bool
}

func (p *cmpPredicate) ColumnName() string    { return p.col }
func (p *cmpPredicate) IndexFilterOnly() bool { return p.indexFilterOnly }

func (p *cmpPredicate) Matches(v types.Datum) bool {
	if v.IsNull() {
		return false
	}
	return opMatches(p.op, types.Compare(v, p.bound))
}

func (p *cmpPredicate) MatchesZoneMap(min, max types.Datum, hasNulls bool) bool {
	if min.IsNull() && max.IsNull() {
		return false
	}
	switch p.op {
	case FilterLess, FilterLessOrEqual:
		return opMatches(p.op, types.Compare(min, p.bound))
	case FilterLarger, FilterLargerOrEqual:
		return opMatches(p.op, types.Compare(max, p.bound))
	default:
		return true
	}
}

type nullPredicate struct {
	col      string
	wantNull bool
}

func (p *nullPredicate) ColumnName() string    { return p.col }
func (p *nullPredicate) IndexFilterOnly() bool { return false }

func (p *nullPredicate) Matches(v types.Datum) bool {
	return v.IsNull() == p.wantNull
}

func (p *nullPredicate) MatchesZoneMap(min, max types.Datum, hasNulls bool) bool {
	if p.wantNull {
		return hasNulls
	}
	// Some non-null value exists unless the page is entirely null.
	return !(min.IsNull() && max.IsNull())
}

type exprPredicate struct {
	col    string
	slotID schema.SlotID
	ctx    *expr.Context
}

func (p *exprPredicate) ColumnName() string    { return p.col }
func (p *exprPredicate) IndexFilterOnly() bool { return false }

func (p *exprPredicate) Matches(v types.Datum) bool {
	bind := func(id schema.SlotID) (types.Datum, bool) {
		if id != p.slotID || v.IsNull() {
			return types.Datum{}, false
		}
		return v, true
	}
	out, err := p.ctx.Eval(p.ctx.Root(), bind)
	if err != nil || out.IsNull() {
		return false
	}
	return out.BoolValue()
}

func (p *exprPredicate) MatchesZoneMap(min, max types.Datum, hasNulls bool) bool {
	// A generic expression has no monotonicity guarantee; never prune on it.
	return true
}
