package expr

import (
	"math/big"

	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/primitives"
)

// Exclusive reports whether two states can never be active together. It is
// used to decide disjointness of in_state atoms; nil means "unknown".
type Exclusive func(a, b string) bool

// Disjoint reports whether a and b are provably never true together, using
// only their structure. A nil guard is true. The analysis is conservative:
// false means "may overlap".
//
// Supported reasoning: constant guards, negation, && and ||, comparisons of
// the same operand against constants (numeric intervals, string and bool
// equality) and in_state atoms over mutually exclusive states.
func Disjoint(a, b primitives.Expr, excl Exclusive) bool {
	return disjoint(nnf(a, false), nnf(b, false), excl)
}

func disjoint(a, b primitives.Expr, excl Exclusive) bool {
	if isConst(a, false) || isConst(b, false) {
		return true
	}
	if x, ok := a.(primitives.Binary); ok {
		switch x.Op {
		case primitives.OpOr:
			return disjoint(x.X, b, excl) && disjoint(x.Y, b, excl)
		case primitives.OpAnd:
			return disjoint(x.X, b, excl) || disjoint(x.Y, b, excl)
		}
	}
	if y, ok := b.(primitives.Binary); ok {
		switch y.Op {
		case primitives.OpOr:
			return disjoint(a, y.X, excl) && disjoint(a, y.Y, excl)
		case primitives.OpAnd:
			return disjoint(a, y.X, excl) || disjoint(a, y.Y, excl)
		}
	}
	return atomsDisjoint(a, b, excl)
}

func isConst(e primitives.Expr, want bool) bool {
	l, ok := e.(primitives.Literal)
	return ok && l.Value.Type() == cty.Bool && l.Value.IsKnown() && !l.Value.IsNull() && l.Value.True() == want
}

// nnf pushes negations down to atoms, flipping comparisons where possible.
func nnf(e primitives.Expr, neg bool) primitives.Expr {
	if e == nil {
		return primitives.Literal{Value: cty.BoolVal(!neg)}
	}
	switch n := e.(type) {
	case primitives.Unary:
		if n.Op == primitives.OpNot {
			return nnf(n.X, !neg)
		}
	case primitives.Binary:
		switch n.Op {
		case primitives.OpAnd, primitives.OpOr:
			op := n.Op
			if neg {
				op = primitives.OpAnd + primitives.OpOr - n.Op
			}
			return primitives.Binary{Op: op, X: nnf(n.X, neg), Y: nnf(n.Y, neg)}
		}
		if neg && n.Op.IsComparison() {
			return primitives.Binary{Op: negated[n.Op], X: n.X, Y: n.Y}
		}
	case primitives.Literal:
		if neg && n.Value.Type() == cty.Bool && n.Value.IsKnown() && !n.Value.IsNull() {
			return primitives.Literal{Value: n.Value.Not()}
		}
	}
	if neg {
		return primitives.Unary{Op: primitives.OpNot, X: e}
	}
	return e
}

var negated = map[primitives.Op]primitives.Op{
	primitives.OpEq: primitives.OpNe,
	primitives.OpNe: primitives.OpEq,
	primitives.OpLt: primitives.OpGe,
	primitives.OpLe: primitives.OpGt,
	primitives.OpGt: primitives.OpLe,
	primitives.OpGe: primitives.OpLt,
}

var flipped = map[primitives.Op]primitives.Op{
	primitives.OpEq: primitives.OpEq,
	primitives.OpNe: primitives.OpNe,
	primitives.OpLt: primitives.OpGt,
	primitives.OpLe: primitives.OpGe,
	primitives.OpGt: primitives.OpLt,
	primitives.OpGe: primitives.OpLe,
}

// atom is "operand op constant".
type atom struct {
	key string
	op  primitives.Op
	val cty.Value
}

func toAtom(e primitives.Expr) (atom, bool) {
	switch n := e.(type) {
	case primitives.FieldRef, primitives.EventParam:
		return atom{key: n.String(), op: primitives.OpEq, val: cty.True}, true
	case primitives.Unary:
		if n.Op != primitives.OpNot {
			return atom{}, false
		}
		switch x := n.X.(type) {
		case primitives.FieldRef, primitives.EventParam:
			return atom{key: x.String(), op: primitives.OpEq, val: cty.False}, true
		}
	case primitives.Binary:
		if !n.Op.IsComparison() {
			return atom{}, false
		}
		if c, ok := constant(n.Y); ok && operand(n.X) {
			return atom{key: n.X.String(), op: n.Op, val: c}, true
		}
		if c, ok := constant(n.X); ok && operand(n.Y) {
			return atom{key: n.Y.String(), op: flipped[n.Op], val: c}, true
		}
	}
	return atom{}, false
}

func operand(e primitives.Expr) bool {
	switch e.(type) {
	case primitives.FieldRef, primitives.EventParam:
		return true
	}
	return false
}

func constant(e primitives.Expr) (cty.Value, bool) {
	switch n := e.(type) {
	case primitives.Literal:
		return n.Value, n.Value.IsKnown() && !n.Value.IsNull()
	case primitives.Unary:
		if l, ok := n.X.(primitives.Literal); ok && n.Op == primitives.OpNeg && l.Value.Type() == cty.Number && l.Value.IsKnown() && !l.Value.IsNull() {
			return l.Value.Negate(), true
		}
	}
	return cty.NilVal, false
}

func atomsDisjoint(a, b primitives.Expr, excl Exclusive) bool {
	if sa, ok := a.(primitives.InState); ok {
		if sb, ok := b.(primitives.InState); ok {
			return excl != nil && sa.State != sb.State && excl(sa.State, sb.State)
		}
	}
	// x and !x.
	if u, ok := b.(primitives.Unary); ok && u.Op == primitives.OpNot && u.X.String() == a.String() {
		return true
	}
	if u, ok := a.(primitives.Unary); ok && u.Op == primitives.OpNot && u.X.String() == b.String() {
		return true
	}
	x, okx := toAtom(a)
	y, oky := toAtom(b)
	if !okx || !oky || x.key != y.key || x.val.Type() != y.val.Type() {
		return false
	}
	if x.val.Type() == cty.Number {
		return numericDisjoint(x, y)
	}
	// Non-numeric constants only support equality reasoning.
	eq := x.val.Equals(y.val).True()
	switch {
	case x.op == primitives.OpEq && y.op == primitives.OpEq:
		return !eq
	case x.op == primitives.OpEq && y.op == primitives.OpNe, x.op == primitives.OpNe && y.op == primitives.OpEq:
		return eq
	}
	return false
}

// numericDisjoint checks satisfiability of two constraints on one real
// variable. The satisfying sets are unions of intervals bounded by the two
// constants, so probing the constants, their midpoint and one point beyond
// each side decides the question.
func numericDisjoint(x, y atom) bool {
	c1, c2 := x.val.AsBigFloat(), y.val.AsBigFloat()
	lo, hi := c1, c2
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	one := big.NewFloat(1)
	mid := new(big.Float).Add(lo, hi)
	mid.Quo(mid, big.NewFloat(2))
	probes := []*big.Float{
		new(big.Float).Sub(lo, one),
		lo,
		mid,
		hi,
		new(big.Float).Add(hi, one),
	}
	for _, p := range probes {
		if holds(x.op, p, c1) && holds(y.op, p, c2) {
			return false
		}
	}
	return true
}

func holds(op primitives.Op, v, c *big.Float) bool {
	cmp := v.Cmp(c)
	switch op {
	case primitives.OpEq:
		return cmp == 0
	case primitives.OpNe:
		return cmp != 0
	case primitives.OpLt:
		return cmp < 0
	case primitives.OpLe:
		return cmp <= 0
	case primitives.OpGt:
		return cmp > 0
	case primitives.OpGe:
		return cmp >= 0
	}
	return false
}
