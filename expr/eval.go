package expr

import (
	"errors"
	"fmt"

	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/types"
)

// ErrNotConstant is returned when a constant evaluation reaches a slot
// reference with no binding.
var ErrNotConstant = errors.New("expression is not constant")

// Binding resolves a slot reference to a row value during evaluation.
// ok=false means the slot value is NULL or unavailable.
type Binding func(schema.SlotID) (types.Datum, bool)

// Evaluator is the opaque expression-evaluation capability consumed by the
// predicate compiler. Implementations must be safe for concurrent use.
type Evaluator interface {
	// Eval evaluates e, resolving slot references through bind. A nil bind
	// restricts evaluation to constant subtrees.
	Eval(e *Expr, bind Binding) (types.Datum, error)
}

// Context pairs an expression tree with the evaluator used to fold its
// constant parts. It mirrors the prepared/opened expression context handed
// down by the execution layer.
type Context struct {
	root *Expr
	ev   Evaluator
}

// NewContext returns a Context for root using ev.
func NewContext(root *Expr, ev Evaluator) *Context {
	return &Context{root: root, ev: ev}
}

// Root returns the root expression.
func (c *Context) Root() *Expr { return c.root }

// EvalConst evaluates a constant subtree.
func (c *Context) EvalConst(e *Expr) (types.Datum, error) {
	return c.ev.Eval(e, nil)
}

// Eval evaluates e against a row binding.
func (c *Context) Eval(e *Expr, bind Binding) (types.Datum, error) {
	return c.ev.Eval(e, bind)
}

// Container unifies the two ways conjuncts reach the scan layer: raw trees
// straight from the planner and contexts already prepared by the execution
// layer. Both expose the root node and can produce an evaluation context.
type Container interface {
	Root() *Expr
	Context(ev Evaluator) (*Context, error)
}

// RawContainer wraps a planner expression that has not been prepared yet.
type RawContainer struct {
	Expr *Expr
}

// Root returns the wrapped expression.
func (c RawContainer) Root() *Expr { return c.Expr }

// Context prepares a fresh evaluation context for the expression.
func (c RawContainer) Context(ev Evaluator) (*Context, error) {
	if c.Expr == nil {
		return nil, errors.New("expr: nil expression")
	}
	return NewContext(c.Expr, ev), nil
}

// BoundContainer wraps an already-prepared context.
type BoundContainer struct {
	Ctx *Context
}

// Root returns the context's root expression.
func (c BoundContainer) Root() *Expr { return c.Ctx.Root() }

// Context returns the prepared context unchanged.
func (c BoundContainer) Context(Evaluator) (*Context, error) { return c.Ctx, nil }

// Raw wraps a list of expressions into containers.
func Raw(exprs ...*Expr) []Container {
	out := make([]Container, len(exprs))
	for i, e := range exprs {
		out[i] = RawContainer{Expr: e}
	}
	return out
}

// ConstEvaluator is the reference Evaluator. It folds literals, casts,
// comparisons, IN lists, null tests and boolean compounds with SQL
// three-valued logic. Anything else is rejected; the scan layer then keeps
// the expression as a residual conjunct.
type ConstEvaluator struct{}

// Eval implements Evaluator.
func (ev ConstEvaluator) Eval(e *Expr, bind Binding) (types.Datum, error) {
	switch e.Node {
	case NodeLiteral:
		return e.Value, nil

	case NodeSlotRef:
		if bind == nil {
			return types.Datum{}, ErrNotConstant
		}
		v, ok := bind(e.SlotID)
		if !ok {
			return types.Null(), nil
		}
		return v, nil

	case NodeCast:
		v, err := ev.Eval(e.Child(0), bind)
		if err != nil {
			return types.Datum{}, err
		}
		return castDatum(v, e.Type)

	case NodeBinaryPred:
		l, err := ev.Eval(e.Child(0), bind)
		if err != nil {
			return types.Datum{}, err
		}
		r, err := ev.Eval(e.Child(1), bind)
		if err != nil {
			return types.Datum{}, err
		}
		if l.IsNull() || r.IsNull() {
			return types.Null(), nil
		}
		l, r = alignKinds(l, r)
		cmp := types.Compare(l, r)
		switch e.Op {
		case OpEQ:
			return types.Bool(cmp == 0), nil
		case OpNE:
			return types.Bool(cmp != 0), nil
		case OpLT:
			return types.Bool(cmp < 0), nil
		case OpLE:
			return types.Bool(cmp <= 0), nil
		case OpGT:
			return types.Bool(cmp > 0), nil
		case OpGE:
			return types.Bool(cmp >= 0), nil
		default:
			return types.Datum{}, fmt.Errorf("expr: unsupported binary op %s", e.Op)
		}

	case NodeInPred:
		v, err := ev.Eval(e.Child(0), bind)
		if err != nil {
			return types.Datum{}, err
		}
		if v.IsNull() {
			return types.Null(), nil
		}
		_, found := e.InSet[v]
		if !found && e.NullInSet {
			// x IN (..., NULL) is NULL rather than false.
			return types.Null(), nil
		}
		if e.NotIn {
			return types.Bool(!found), nil
		}
		return types.Bool(found), nil

	case NodeFunctionCall:
		if nullStr, ok := e.IsNullScalarFunction(); ok {
			v, err := ev.Eval(e.Child(0), bind)
			if err != nil {
				return types.Datum{}, err
			}
			if nullStr == "null" {
				return types.Bool(v.IsNull()), nil
			}
			return types.Bool(!v.IsNull()), nil
		}
		return types.Datum{}, fmt.Errorf("expr: cannot evaluate function %q", e.FuncName)

	case NodeCompoundPred:
		return ev.evalCompound(e, bind)

	default:
		return types.Datum{}, fmt.Errorf("expr: cannot evaluate node type %d", e.Node)
	}
}

func (ev ConstEvaluator) evalCompound(e *Expr, bind Binding) (types.Datum, error) {
	switch e.Op {
	case OpNot:
		v, err := ev.Eval(e.Child(0), bind)
		if err != nil {
			return types.Datum{}, err
		}
		if v.IsNull() {
			return types.Null(), nil
		}
		return types.Bool(!v.BoolValue()), nil

	case OpAnd, OpOr:
		sawNull := false
		for _, c := range e.Children {
			v, err := ev.Eval(c, bind)
			if err != nil {
				return types.Datum{}, err
			}
			if v.IsNull() {
				sawNull = true
				continue
			}
			if e.Op == OpAnd && !v.BoolValue() {
				return types.Bool(false), nil
			}
			if e.Op == OpOr && v.BoolValue() {
				return types.Bool(true), nil
			}
		}
		if sawNull {
			return types.Null(), nil
		}
		return types.Bool(e.Op == OpAnd), nil

	default:
		return types.Datum{}, fmt.Errorf("expr: unsupported compound op %s", e.Op)
	}
}

// alignKinds widens mismatched numeric kinds so Compare is meaningful.
func alignKinds(l, r types.Datum) (types.Datum, types.Datum) {
	if l.Kind() == r.Kind() {
		return l, r
	}
	if l.Kind() == types.KindDate && r.Kind() == types.KindTimestamp {
		return types.DateToTimestamp(l), r
	}
	if l.Kind() == types.KindTimestamp && r.Kind() == types.KindDate {
		return l, types.DateToTimestamp(r)
	}
	if l.Kind() == types.KindInt && r.Kind() == types.KindFloat {
		return types.Float(float64(l.Int64())), r
	}
	if l.Kind() == types.KindFloat && r.Kind() == types.KindInt {
		return l, types.Float(float64(r.Int64()))
	}
	return l, r
}

func castDatum(v types.Datum, to types.LogicalType) (types.Datum, error) {
	if v.IsNull() {
		return v, nil
	}
	want := types.KindOf(to)
	if v.Kind() == want {
		return v, nil
	}
	switch {
	case v.Kind() == types.KindDate && want == types.KindTimestamp:
		return types.DateToTimestamp(v), nil
	case v.Kind() == types.KindTimestamp && want == types.KindDate:
		day, _ := types.TimestampToDate(v)
		return day, nil
	case v.Kind() == types.KindInt && want == types.KindFloat:
		return types.Float(float64(v.Int64())), nil
	case v.Kind() == types.KindFloat && want == types.KindInt:
		return types.Int(int64(v.Float64())), nil
	case v.Kind() == types.KindBool && want == types.KindInt:
		if v.BoolValue() {
			return types.Int(1), nil
		}
		return types.Int(0), nil
	default:
		return types.Datum{}, fmt.Errorf("expr: unsupported cast from kind %d to %s", v.Kind(), to)
	}
}
