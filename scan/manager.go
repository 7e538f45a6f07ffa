package scan

import (
	"io"
	"log/slog"

	"github.com/amber-create/starrocks/expr"
	"github.com/amber-create/starrocks/schema"
)

const (
	// DefaultMaxScanKeyNum caps the number of enumerated scan key tuples.
	DefaultMaxScanKeyNum = 1024
	// DefaultMaxPushdownConditionsPerColumn caps the size of an IN list that
	// may still be folded into a column range.
	DefaultMaxPushdownConditionsPerColumn = 1024
)

// Options configures conjunct compilation for one scan.
type Options struct {
	// TupleDesc describes the output slots of the scan.
	TupleDesc *schema.TupleDescriptor

	// Conjuncts are the ANDed boolean expressions attached to the scan node.
	Conjuncts []expr.Container

	// KeyColumnNames lists the sort key columns in key order.
	KeyColumnNames []string

	// RuntimeFilters holds the join runtime filters targeting this scan.
	// May be nil.
	RuntimeFilters *RuntimeFilterCollection

	// Evaluator folds constant subtrees. Defaults to expr.ConstEvaluator.
	Evaluator expr.Evaluator

	// MaxScanKeyNum caps scan-key enumeration; 0 means the default.
	MaxScanKeyNum int

	// MaxPushdownConditionsPerColumn caps foldable IN lists; 0 means the
	// default.
	MaxPushdownConditionsPerColumn int

	// ScanKeysUnlimited disables the scan-key cap entirely.
	ScanKeysUnlimited bool

	// EnableColumnExprPredicate re-expresses leftover single-column
	// expressions as pushdown predicates instead of residual conjuncts.
	EnableColumnExprPredicate bool

	// ShortKeyForSingleColumnFilter enables scan-key enumeration even when
	// only the first key column is constrained.
	ShortKeyForSingleColumnFilter bool

	Logger *slog.Logger
}

func (o *Options) withDefaults() *Options {
	out := *o
	if out.Evaluator == nil {
		out.Evaluator = expr.ConstEvaluator{}
	}
	if out.MaxScanKeyNum <= 0 {
		out.MaxScanKeyNum = DefaultMaxScanKeyNum
	}
	if out.MaxPushdownConditionsPerColumn <= 0 {
		out.MaxPushdownConditionsPerColumn = DefaultMaxPushdownConditionsPerColumn
	}
	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &out
}

// ConjunctsManager compiles the conjuncts of one scan into everything the
// storage reader consumes: flattened filter conditions, enumerated short-key
// ranges, a compiled predicate tree, the list of conjuncts that could not be
// pushed down, and the runtime filters still in flight.
//
// Usage is strictly two-phase: ParseConjuncts once, then any number of
// concurrent reads through the getters.
type ConjunctsManager struct {
	opts *Options
	root *ChunkPredicateBuilder
}

// NewConjunctsManager returns a manager for the given scan.
func NewConjunctsManager(opts *Options) *ConjunctsManager {
	o := opts.withDefaults()
	return &ConjunctsManager{
		opts: o,
		root: newChunkPredicateBuilder(o, compoundAnd, o.Conjuncts, true),
	}
}

// ParseConjuncts runs the compilation pass. ErrNoRows means the conjuncts
// provably match nothing and the scan can be skipped outright; any other
// error is fatal for the query.
func (m *ConjunctsManager) ParseConjuncts() error {
	_, err := m.root.parseConjuncts()
	if err != nil {
		return err
	}
	m.opts.Logger.Debug("parsed scan conjuncts",
		slog.Int("conjuncts", len(m.opts.Conjuncts)),
		slog.Int("filters", len(m.root.filters)),
		slog.Int("scan_ranges", m.root.scanKeys.NumRanges()),
		slog.Int("unarrived_runtime_filters", len(m.root.unarrived)),
	)
	return nil
}

// EvalConstConjuncts evaluates every constant conjunct. A conjunct that
// evaluates to FALSE or NULL proves the scan empty and yields ErrNoRows; an
// evaluation failure is fatal.
func (m *ConjunctsManager) EvalConstConjuncts() error {
	for _, c := range m.opts.Conjuncts {
		root := c.Root()
		if root == nil || !root.IsConstant() {
			continue
		}
		ctx, err := c.Context(m.opts.Evaluator)
		if err != nil {
			return err
		}
		v, err := ctx.EvalConst(root)
		if err != nil {
			return err
		}
		if v.IsNull() || !v.BoolValue() {
			return ErrNoRows
		}
	}
	return nil
}

// Filters returns the flattened column filter conditions, including the
// dedicated null tests.
func (m *ConjunctsManager) Filters() []Condition {
	out := make([]Condition, 0, len(m.root.filters)+len(m.root.isNullConds))
	out = append(out, m.root.filters...)
	out = append(out, m.root.isNullConds...)
	return out
}

// KeyRanges returns the enumerated short-key scan ranges. With no key-column
// constraint this is the single full range.
func (m *ConjunctsManager) KeyRanges() []KeyRange {
	return m.root.scanKeys.KeyRanges()
}

// ColumnPredicates parses every pushed-down condition into executable column
// predicates.
func (m *ConjunctsManager) ColumnPredicates(parser PredicateParser) ([]ColumnPredicate, error) {
	return m.root.getColumnPredicates(parser)
}

// ChunkPredicate assembles the full compiled predicate tree, including the
// compound sub-trees claimed by child builders.
func (m *ConjunctsManager) ChunkPredicate(parser PredicateParser) (ChunkPredicate, error) {
	return m.root.getChunkPredicate(parser)
}

// NotPushDownConjuncts returns the conjuncts that survived no folding pass
// and must be re-evaluated row by row above the storage reader.
func (m *ConjunctsManager) NotPushDownConjuncts() []expr.Container {
	var out []expr.Container
	for i, c := range m.opts.Conjuncts {
		if !m.root.isPredNormalized(i) {
			out = append(out, c)
		}
	}
	return out
}

// UnarrivedRuntimeFilters returns the runtime filters that had not arrived at
// compile time. Callers may recompile once they arrive.
func (m *ConjunctsManager) UnarrivedRuntimeFilters() []UnarrivedRuntimeFilter {
	return m.root.unarrived
}
