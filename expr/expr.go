// Package expr defines the boolean expression trees handed to the scan layer
// by the planner, plus the small evaluation capability the predicate compiler
// needs to fold constant sub-expressions.
//
// The trees are read-only after construction and safe to share across
// parallel scan units.
package expr

import (
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/types"
)

// NodeType identifies the shape of an expression node.
type NodeType uint8

const (
	// NodeInvalid represents an invalid node.
	NodeInvalid NodeType = iota
	// NodeSlotRef references one slot of the scan tuple.
	NodeSlotRef
	// NodeLiteral is a constant value.
	NodeLiteral
	// NodeBinaryPred is a two-operand comparison.
	NodeBinaryPred
	// NodeInPred is an IN or NOT IN list membership test.
	NodeInPred
	// NodeCompoundPred is a boolean AND/OR/NOT combination.
	NodeCompoundPred
	// NodeFunctionCall is an opaque scalar function invocation.
	NodeFunctionCall
	// NodeCast converts its single child to the node's result type.
	NodeCast
)

// Op is the operator carried by comparison and compound nodes.
type Op uint8

const (
	OpNone Op = iota
	OpEQ
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
	OpAnd
	OpOr
	OpNot
)

// String returns the SQL spelling of op.
func (o Op) String() string {
	switch o {
	case OpEQ:
		return "="
	case OpNE:
		return "!="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	default:
		return "?"
	}
}

// Reverse returns the operator with swapped operand order, e.g. `5 < col`
// becomes `col > 5`. Equality operators are symmetric.
func (o Op) Reverse() Op {
	switch o {
	case OpLT:
		return OpGT
	case OpLE:
		return OpGE
	case OpGT:
		return OpLT
	case OpGE:
		return OpLE
	default:
		return o
	}
}

// Expr is one node of an expression tree.
type Expr struct {
	Node      NodeType
	Op        Op
	Type      types.LogicalType
	Precision int
	Scale     int
	Children  []*Expr

	// SlotID is set for NodeSlotRef.
	SlotID schema.SlotID

	// Value is set for NodeLiteral.
	Value types.Datum

	// FuncName is set for NodeFunctionCall.
	FuncName string

	// IN predicate payload.
	NotIn             bool
	InSet             map[types.Datum]struct{}
	NullInSet         bool
	JoinRuntimeFilter bool
}

// NewSlotRef returns a slot reference for slot.
func NewSlotRef(slot *schema.SlotDescriptor) *Expr {
	return &Expr{
		Node:      NodeSlotRef,
		Type:      slot.Type,
		Precision: slot.Precision,
		Scale:     slot.Scale,
		SlotID:    slot.ID,
	}
}

// NewLiteral returns a constant of the given logical type.
func NewLiteral(v types.Datum, lt types.LogicalType) *Expr {
	return &Expr{Node: NodeLiteral, Type: lt, Value: v}
}

// NewBinary returns a comparison l <op> r.
func NewBinary(op Op, l, r *Expr) *Expr {
	return &Expr{Node: NodeBinaryPred, Op: op, Type: types.TypeBoolean, Children: []*Expr{l, r}}
}

// NewIn returns an IN (or NOT IN) membership test over the given values.
func NewIn(child *Expr, values []types.Datum, notIn bool) *Expr {
	set := make(map[types.Datum]struct{}, len(values))
	nullInSet := false
	for _, v := range values {
		if v.IsNull() {
			nullInSet = true
			continue
		}
		set[v] = struct{}{}
	}
	return &Expr{
		Node:      NodeInPred,
		Type:      types.TypeBoolean,
		Children:  []*Expr{child},
		NotIn:     notIn,
		InSet:     set,
		NullInSet: nullInSet,
	}
}

// NewCompound returns an AND/OR/NOT combination of children.
func NewCompound(op Op, children ...*Expr) *Expr {
	return &Expr{Node: NodeCompoundPred, Op: op, Type: types.TypeBoolean, Children: children}
}

// NewIsNull returns an is-null (or is-not-null) test on child.
func NewIsNull(child *Expr, negated bool) *Expr {
	name := "is_null"
	if negated {
		name = "is_not_null"
	}
	return &Expr{Node: NodeFunctionCall, Type: types.TypeBoolean, FuncName: name, Children: []*Expr{child}}
}

// NewCast returns a cast of child to the target logical type.
func NewCast(child *Expr, to types.LogicalType) *Expr {
	return &Expr{Node: NodeCast, Type: to, Children: []*Expr{child}}
}

// Child returns the i-th child, or nil.
func (e *Expr) Child(i int) *Expr {
	if i < 0 || i >= len(e.Children) {
		return nil
	}
	return e.Children[i]
}

// IsSlotRef reports whether e directly references a slot.
func (e *Expr) IsSlotRef() bool { return e.Node == NodeSlotRef }

// IsConstant reports whether the subtree contains no slot references.
func (e *Expr) IsConstant() bool {
	if e.Node == NodeSlotRef {
		return false
	}
	for _, c := range e.Children {
		if !c.IsConstant() {
			return false
		}
	}
	return true
}

// SlotIDs appends every slot reference in the subtree to dst, one entry per
// occurrence, and returns the result.
func (e *Expr) SlotIDs(dst []schema.SlotID) []schema.SlotID {
	if e.Node == NodeSlotRef {
		return append(dst, e.SlotID)
	}
	for _, c := range e.Children {
		dst = c.SlotIDs(dst)
	}
	return dst
}

// ReferencesOnly reports whether the subtree references exactly one slot and
// it is id.
func (e *Expr) ReferencesOnly(id schema.SlotID) bool {
	ids := e.SlotIDs(nil)
	return len(ids) == 1 && ids[0] == id
}

// IsNullScalarFunction reports whether e is a recognized null-test function
// call on its single child. The returned string is the value recorded in the
// emitted null-test condition ("null" or "not null").
func (e *Expr) IsNullScalarFunction() (string, bool) {
	if e.Node != NodeFunctionCall || len(e.Children) != 1 {
		return "", false
	}
	switch e.FuncName {
	case "is_null":
		return "null", true
	case "is_not_null":
		return "not null", true
	default:
		return "", false
	}
}
