package scan

import (
	"errors"

	"github.com/amber-create/starrocks/expr"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/types"
)

type compoundType uint8

const (
	compoundAnd compoundType = iota
	compoundOr
)

// ignoreCast reports whether a type mismatch between a slot and an operand
// is benign: date-kind compared with date-kind, or string with string.
func ignoreCast(slot *schema.SlotDescriptor, e *expr.Expr) bool {
	if slot.Type.IsDateKind() && e.Type.IsDateKind() {
		return true
	}
	return slot.Type.IsString() && e.Type.IsString()
}

// ChunkPredicateBuilder compiles one conjunct group (a flat list of boolean
// expressions, all implicitly ANDed or all implicitly ORed) into per-column
// value ranges, flattened filter conditions, scan keys, and recursively
// compiled child builders for compound sub-trees it cannot flatten.
//
// A builder is constructed once per conjunct group, mutated only during the
// single compilation pass, and read-only afterwards. Child builders borrow
// the shared options owned by the top-level manager.
type ChunkPredicateBuilder struct {
	opts         *Options
	typ          compoundType
	exprs        []expr.Container
	allowPartial bool

	// normalized[i] marks inputs folded into ranges/filters; later passes
	// must skip expressions already claimed.
	normalized []bool

	childBuilders []*ChunkPredicateBuilder

	columnRanges map[string]*ColumnValueRange
	rangeOrder   []string

	filters     []Condition
	isNullConds []Condition
	scanKeys    *ScanKeys

	// slotExprs collects leftover single-slot expressions re-expressed as
	// generic column predicates, keyed by slot position.
	slotExprs map[int][]*expr.Context
	slotOrder []int

	unarrived []UnarrivedRuntimeFilter
}

func newChunkPredicateBuilder(opts *Options, typ compoundType, exprs []expr.Container, allowPartial bool) *ChunkPredicateBuilder {
	return &ChunkPredicateBuilder{
		opts:         opts,
		typ:          typ,
		exprs:        exprs,
		allowPartial: allowPartial,
		normalized:   make([]bool, len(exprs)),
		columnRanges: make(map[string]*ColumnValueRange),
		scanKeys:     NewScanKeys(opts.ScanKeysUnlimited),
		slotExprs:    make(map[int][]*expr.Context),
	}
}

// parseConjuncts runs the single compilation pass. The returned bool reports
// whether every input expression was claimed; builders that disallow partial
// normalization (compound children) are discarded by their parent when it is
// false.
func (b *ChunkPredicateBuilder) parseConjuncts() (bool, error) {
	if b.allowPartial {
		if err := b.normalizeExpressions(); err != nil {
			return false, err
		}
		if err := b.buildOlapFilters(); err != nil {
			return false, err
		}
		b.buildScanKeys()
	}

	if b.opts.EnableColumnExprPredicate {
		if err := b.buildColumnExprPredicates(); err != nil {
			return false, err
		}
	}

	return b.normalizeAndOrPredicates()
}

// normalizeExpressions builds one value range per referenced column, slot by
// slot, in the fixed pass order.
func (b *ChunkPredicateBuilder) normalizeExpressions() error {
	for _, slot := range b.opts.TupleDesc.Slots {
		if !slot.Type.RangeSupported() {
			continue
		}
		r, ok := b.columnRanges[slot.ColName]
		if !ok {
			r = NewColumnValueRange(slot.ColName, normalizedRangeType(slot.Type))
			if slot.Type == types.TypeDecimal {
				r.SetPrecision(slot.Precision)
				r.SetScale(slot.Scale)
			}
			b.columnRanges[slot.ColName] = r
			b.rangeOrder = append(b.rangeOrder, slot.ColName)
		}
		if err := b.normalizePredicate(slot, r); err != nil {
			return err
		}
	}
	return nil
}

// normalizedRangeType maps CHAR to VARCHAR so both share one range domain.
func normalizedRangeType(lt types.LogicalType) types.LogicalType {
	if lt == types.TypeChar {
		return types.TypeVarchar
	}
	return lt
}

// normalizePredicate applies the folding passes in their fixed order. The
// order matters: every pass skips expressions already claimed, and runtime
// filters must fold last so exact predicates win the range state.
func (b *ChunkPredicateBuilder) normalizePredicate(slot *schema.SlotDescriptor, r *ColumnValueRange) error {
	if err := b.normalizeInOrEqual(slot, r); err != nil {
		return err
	}
	if err := b.normalizeBinary(slot, r); err != nil {
		return err
	}
	if err := b.normalizeNotInOrNotEqual(slot, r); err != nil {
		return err
	}
	b.normalizeIsNull(slot)
	return b.normalizeJoinRuntimeFilter(slot, r)
}

// slotOperand unwraps the probe-side operand of a predicate on slot: strips
// a benign cast on date columns and verifies the operand is a reference to
// exactly this slot with a compatible type. Returns nil when the expression
// does not target slot.
func slotOperand(slot *schema.SlotDescriptor, l *expr.Expr) *expr.Expr {
	if l.Type != slot.Type && !ignoreCast(slot, l) {
		return nil
	}
	if slot.Type == types.TypeDate && l.Node == expr.NodeCast {
		l = l.Child(0)
	}
	if l == nil || !l.IsSlotRef() || l.SlotID != slot.ID {
		return nil
	}
	return l
}

func (b *ChunkPredicateBuilder) normalizeInOrEqual(slot *schema.SlotDescriptor, r *ColumnValueRange) error {
	for i := range b.exprs {
		if b.normalized[i] {
			continue
		}
		root := b.exprs[i].Root()

		// 'col IN (v1, v2, v3)'
		if root.Node == expr.NodeInPred && !root.NotIn {
			l := root.Child(0)
			predType := l.Type
			if slotOperand(slot, l) == nil {
				continue
			}
			// Join runtime filters fold in the dedicated last pass.
			if root.JoinRuntimeFilter {
				continue
			}
			if root.NullInSet || len(root.InSet) > b.opts.MaxPushdownConditionsPerColumn {
				continue
			}
			values, err := inValuesForSlot(slot, predType, root)
			if err != nil {
				return err
			}
			if values == nil {
				continue
			}
			if r.AddFixedValues(FilterIn, values) == nil {
				b.normalized[i] = true
			}
			continue
		}

		// 'col = value'
		if root.Node == expr.NodeBinaryPred && root.Op == expr.OpEQ {
			v, fop, ok, err := b.predicateValue(slot, b.exprs[i], root)
			if err != nil {
				return err
			}
			if ok && fop == FilterIn && r.AddFixedValues(FilterIn, []types.Datum{v}) == nil {
				b.normalized[i] = true
			}
		}
	}
	return nil
}

// inValuesForSlot extracts the IN-list values for slot, narrowing timestamp
// literals to day boundaries on DATE columns. Timestamps with a sub-day
// component can never match a DATE value; dropping every value proves the
// conjunct group matches nothing.
func inValuesForSlot(slot *schema.SlotDescriptor, predType types.LogicalType, in *expr.Expr) ([]types.Datum, error) {
	values := make([]types.Datum, 0, len(in.InSet))
	if slot.Type == types.TypeDate && predType == types.TypeDatetime {
		for v := range in.InSet {
			if day, exact := types.TimestampToDate(v); exact {
				values = append(values, day)
			}
		}
		if len(values) == 0 {
			return nil, ErrNoRows
		}
		return values, nil
	}
	for v := range in.InSet {
		values = append(values, v)
	}
	return values, nil
}

func (b *ChunkPredicateBuilder) normalizeBinary(slot *schema.SlotDescriptor, r *ColumnValueRange) error {
	for i := range b.exprs {
		if b.normalized[i] {
			continue
		}
		root := b.exprs[i].Root()
		if root.Node != expr.NodeBinaryPred {
			continue
		}
		v, fop, ok, err := b.predicateValue(slot, b.exprs[i], root)
		if err != nil {
			return err
		}
		if ok && r.AddRange(fop, v) == nil {
			b.normalized[i] = true
		}
	}
	return nil
}

func (b *ChunkPredicateBuilder) normalizeNotInOrNotEqual(slot *schema.SlotDescriptor, r *ColumnValueRange) error {
	for i := range b.exprs {
		if b.normalized[i] {
			continue
		}
		root := b.exprs[i].Root()

		// 'col != value'
		if root.Node == expr.NodeBinaryPred && root.Op == expr.OpNE {
			v, fop, ok, err := b.predicateValue(slot, b.exprs[i], root)
			if err != nil {
				return err
			}
			if ok && fop == FilterNotIn && r.AddFixedValues(FilterNotIn, []types.Datum{v}) == nil {
				b.normalized[i] = true
			}
			continue
		}

		// 'col NOT IN (v1, v2, v3)'
		if root.Node == expr.NodeInPred && root.NotIn {
			l := root.Child(0)
			predType := l.Type
			if slotOperand(slot, l) == nil {
				continue
			}
			if root.NullInSet || len(root.InSet) > b.opts.MaxPushdownConditionsPerColumn {
				continue
			}
			if slot.Type == types.TypeDate && predType == types.TypeDatetime {
				// A sub-day timestamp in the deny list excludes nothing from
				// a DATE column; rewriting is unsafe, keep it residual.
				continue
			}
			values := make([]types.Datum, 0, len(root.InSet))
			for v := range root.InSet {
				values = append(values, v)
			}
			if r.AddFixedValues(FilterNotIn, values) == nil {
				b.normalized[i] = true
			}
		}
	}
	return nil
}

func (b *ChunkPredicateBuilder) normalizeIsNull(slot *schema.SlotDescriptor) {
	for i := range b.exprs {
		if b.normalized[i] {
			continue
		}
		root := b.exprs[i].Root()
		nullTest, ok := root.IsNullScalarFunction()
		if !ok {
			continue
		}
		child := root.Child(0)
		if child == nil || !child.IsSlotRef() || child.SlotID != slot.ID {
			continue
		}
		b.isNullConds = append(b.isNullConds, Condition{
			ColumnName: slot.ColName,
			Op:         FilterIsNull,
			NullTest:   nullTest,
		})
		b.normalized[i] = true
	}
}

func (b *ChunkPredicateBuilder) normalizeJoinRuntimeFilter(slot *schema.SlotDescriptor, r *ColumnValueRange) error {
	// IN-list runtime filters pushed down as conjuncts by the join.
	for i := range b.exprs {
		if b.normalized[i] {
			continue
		}
		root := b.exprs[i].Root()
		if root.Node != expr.NodeInPred || !root.JoinRuntimeFilter {
			continue
		}
		if slotOperand(slot, root.Child(0)) == nil {
			continue
		}

		// Claim the conjunct regardless of whether it folds: the scanner
		// must never re-evaluate a consumed runtime filter per row.
		b.normalized[i] = true

		if root.NotIn || root.NullInSet || len(root.InSet) > b.opts.MaxPushdownConditionsPerColumn {
			continue
		}
		values := make([]types.Datum, 0, len(root.InSet))
		for v := range root.InSet {
			values = append(values, v)
		}
		_ = r.AddFixedValues(FilterIn, values)
	}

	// Bloom/min-max runtime filters arriving asynchronously from the build
	// side of a join.
	for _, desc := range b.opts.RuntimeFilters.Descriptors() {
		if desc.ProbeSlotID != slot.ID {
			continue
		}
		rf := desc.RuntimeFilter()
		if rf == nil {
			b.unarrived = append(b.unarrived, UnarrivedRuntimeFilter{Desc: desc, Slot: slot})
			continue
		}
		if rf.HasNull {
			// A summary built over nulls cannot safely prune.
			continue
		}
		if r.IsInitState() {
			// Without an exact predicate on this column the min/max envelope
			// is an approximation: prune with it, never filter rows by it.
			r.SetIndexFilterOnly(true)
		}
		if min, ok := boundForSlot(slot, rf.Min, false); ok {
			_ = r.AddRange(FilterLargerOrEqual, min)
		}
		if max, ok := boundForSlot(slot, rf.Max, true); ok {
			_ = r.AddRange(FilterLessOrEqual, max)
		}
	}
	return nil
}

// boundForSlot adapts a runtime-filter envelope bound to the slot's domain.
// Timestamp bounds on DATE columns widen outward so pruning stays sound.
func boundForSlot(slot *schema.SlotDescriptor, v types.Datum, upper bool) (types.Datum, bool) {
	if v.Kind() == types.KindInvalid || v.IsNull() {
		return types.Datum{}, false
	}
	if slot.Type == types.TypeDate && v.Kind() == types.KindTimestamp {
		day, exact := types.TimestampToDate(v)
		if upper && !exact {
			// Round the upper bound up to keep the envelope conservative.
			if next, ok := day.Next(types.TypeDate); ok {
				day = next
			}
		}
		return day, true
	}
	if v.Kind() != types.KindOf(slot.Type) {
		return types.Datum{}, false
	}
	return v, true
}

// predicateValue extracts (value, operator) from a binary comparison against
// slot. Reversed operand order is normalized by flipping the operator. DATE
// columns narrow timestamp literals to day boundaries, adjusting the
// operator when the literal has a sub-day component; an exact match against
// such a literal proves no rows. Decimal literals that overflow the declared
// precision are left unfoldable.
func (b *ChunkPredicateBuilder) predicateValue(slot *schema.SlotDescriptor, c expr.Container, root *expr.Expr) (types.Datum, FilterOp, bool, error) {
	if root.Node != expr.NodeBinaryPred || len(root.Children) != 2 {
		return types.Datum{}, FilterInvalid, false, nil
	}

	l, rc := root.Child(0), root.Child(1)
	reversed := false
	if !rc.IsConstant() {
		l, rc = rc, l
		reversed = true
	}
	if !rc.IsConstant() || slotOperand(slot, l) == nil {
		return types.Datum{}, FilterInvalid, false, nil
	}

	ctx, err := c.Context(b.opts.Evaluator)
	if err != nil {
		return types.Datum{}, FilterInvalid, false, err
	}
	v, err := ctx.EvalConst(rc)
	if err != nil || v.IsNull() {
		// An unevaluable or NULL operand stays residual.
		return types.Datum{}, FilterInvalid, false, nil
	}

	op := root.Op
	if reversed && op != expr.OpEQ && op != expr.OpNE {
		op = op.Reverse()
	}
	var fop FilterOp
	switch op {
	case expr.OpEQ:
		fop = FilterIn
	case expr.OpNE:
		fop = FilterNotIn
	case expr.OpLT:
		fop = FilterLess
	case expr.OpLE:
		fop = FilterLessOrEqual
	case expr.OpGT:
		fop = FilterLarger
	case expr.OpGE:
		fop = FilterLargerOrEqual
	default:
		return types.Datum{}, FilterInvalid, false, nil
	}

	if slot.Type == types.TypeDate && v.Kind() == types.KindTimestamp {
		day, exact := types.TimestampToDate(v)
		v = day
		if !exact {
			switch fop {
			case FilterLargerOrEqual:
				// (c >= '2020-01-01 01:00:00') becomes (c > '2020-01-01').
				fop = FilterLarger
			case FilterLess:
				// (c < '2020-01-01 01:00:00') becomes (c <= '2020-01-01').
				fop = FilterLessOrEqual
			case FilterLarger, FilterLessOrEqual:
				// The time component is irrelevant for these.
			case FilterIn:
				return types.Datum{}, FilterInvalid, false, ErrNoRows
			case FilterNotIn:
				// Would need a rewrite to IS NOT NULL; keep it residual.
				return types.Datum{}, FilterInvalid, false, nil
			}
		}
	}
	if slot.Type == types.TypeDatetime && v.Kind() == types.KindDate {
		v = types.DateToTimestamp(v)
	}

	if slot.Type == types.TypeDecimal && v.Kind() == types.KindDecimal {
		if types.CheckDecimalOverflow(slot.Precision, v.Int64()) != nil {
			return types.Datum{}, FilterInvalid, false, nil
		}
	}

	return v, fop, true, nil
}

// buildOlapFilters flattens every completed range into storage filter
// conditions, failing the whole conjunct group when any range is empty.
func (b *ChunkPredicateBuilder) buildOlapFilters() error {
	b.filters = b.filters[:0]
	for _, name := range b.rangeOrder {
		r := b.columnRanges[name]
		if r.IsEmptyValueRange() {
			return ErrNoRows
		}
		b.filters = append(b.filters, r.ToConditions()...)
	}
	return nil
}

// buildScanKeys converts the leading prefix of constrained key columns into
// enumerated scan keys. Extension failures only stop enumeration; the
// conditions remain pushed down as filters.
func (b *ChunkPredicateBuilder) buildScanKeys() {
	conditional := 0
	for _, name := range b.opts.KeyColumnNames {
		r, ok := b.columnRanges[name]
		if !ok || r.IsInitState() {
			break
		}
		conditional++
	}
	if conditional == 0 {
		return
	}
	if conditional == 1 && !b.opts.ShortKeyForSingleColumnFilter {
		return
	}
	for i := 0; i < conditional && !b.scanKeys.HasRangeValue(); i++ {
		r := b.columnRanges[b.opts.KeyColumnNames[i]]
		if err := b.scanKeys.Extend(r, b.opts.MaxScanKeyNum); err != nil {
			break
		}
	}
}

// buildColumnExprPredicates re-expresses unclaimed single-slot expressions of
// scalar type as generic pushdown column predicates.
func (b *ChunkPredicateBuilder) buildColumnExprPredicates() error {
	for i := range b.exprs {
		if b.normalized[i] {
			continue
		}
		root := b.exprs[i].Root()
		ids := root.SlotIDs(nil)
		if len(ids) != 1 {
			continue
		}
		index := b.opts.TupleDesc.SlotIndexByID(ids[0])
		if index < 0 {
			continue
		}
		slot := b.opts.TupleDesc.Slots[index]
		if !slot.Type.ColumnExprSupported() {
			continue
		}
		ctx, err := b.exprs[i].Context(b.opts.Evaluator)
		if err != nil {
			return err
		}
		if _, ok := b.slotExprs[index]; !ok {
			b.slotOrder = append(b.slotOrder, index)
		}
		b.slotExprs[index] = append(b.slotExprs[index], ctx)
		b.normalized[i] = true
	}
	return nil
}

// normalizeAndOrPredicates recursively compiles compound AND/OR sub-trees
// into child builders. A child is kept only when it claims every one of its
// conjuncts; otherwise the whole sub-tree stays residual.
func (b *ChunkPredicateBuilder) normalizeAndOrPredicates() (bool, error) {
	for i := range b.exprs {
		if b.normalized[i] {
			continue
		}
		ok, err := b.normalizeAndOrPredicate(b.exprs[i].Root())
		if err != nil {
			return false, err
		}
		if !ok && !b.allowPartial {
			return false, nil
		}
		b.normalized[i] = ok
	}
	return true, nil
}

func (b *ChunkPredicateBuilder) normalizeAndOrPredicate(root *expr.Expr) (bool, error) {
	if root.Node != expr.NodeCompoundPred || len(root.Children) == 0 {
		return false, nil
	}
	var typ compoundType
	switch root.Op {
	case expr.OpAnd:
		typ = compoundAnd
	case expr.OpOr:
		typ = compoundOr
	default:
		return false, nil
	}
	child := newChunkPredicateBuilder(b.opts, typ, expr.Raw(root.Children...), false)
	ok, err := child.parseConjuncts()
	if err != nil {
		return false, err
	}
	if ok {
		b.childBuilders = append(b.childBuilders, child)
	}
	return ok, nil
}

func (b *ChunkPredicateBuilder) isPredNormalized(i int) bool {
	return i < len(b.normalized) && b.normalized[i]
}

// getColumnPredicates turns every flattened condition and leftover column
// expression into parsed column predicates. A parser rejection is an
// internal inconsistency and fails the query with ErrInvalidFilter.
func (b *ChunkPredicateBuilder) getColumnPredicates(parser PredicateParser) ([]ColumnPredicate, error) {
	var preds []ColumnPredicate
	for _, f := range b.filters {
		p, err := parser.ParseCondition(f)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrInvalidFilter
		}
		preds = append(preds, p)
	}
	for _, f := range b.isNullConds {
		p, err := parser.ParseCondition(f)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrInvalidFilter
		}
		preds = append(preds, p)
	}
	for _, index := range b.slotOrder {
		slot := b.opts.TupleDesc.Slots[index]
		for _, ctx := range b.slotExprs[index] {
			p, err := parser.ParseExprContext(slot, ctx)
			if err != nil {
				return nil, err
			}
			if p == nil {
				return nil, errors.Join(ErrInvalidFilter, errors.New("slot "+slot.ColName))
			}
			preds = append(preds, p)
		}
	}
	return preds, nil
}

// getChunkPredicate assembles the compiled predicate tree for in-storage
// evaluation: column predicates as leaves, child builders as nested
// AND/OR compounds.
func (b *ChunkPredicateBuilder) getChunkPredicate(parser PredicateParser) (ChunkPredicate, error) {
	compound := newCompoundChunkPredicate(b.typ == compoundAnd)
	preds, err := b.getColumnPredicates(parser)
	if err != nil {
		return nil, err
	}
	for _, p := range preds {
		compound.addChild(columnChunkPredicate{pred: p})
	}
	for _, child := range b.childBuilders {
		cp, err := child.getChunkPredicate(parser)
		if err != nil {
			return nil, err
		}
		compound.addChild(cp)
	}
	return compound, nil
}
