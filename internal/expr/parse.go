package expr

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/primitives"
)

// EventRoot is the variable through which expressions read event parameters.
const EventRoot = "event"

// InStateFunc is the pseudo-function testing state activity.
const InStateFunc = "in_state"

// Parse parses an expression written in HCL expression syntax into an Expr
// tree. loc positions the expression within its enclosing document so that
// errors point at the right line.
func Parse(src string, loc primitives.Location) (primitives.Expr, error) {
	start := hcl.Pos{Line: 1, Column: 1, Byte: 0}
	if loc.Line > 0 {
		start.Line = loc.Line
	}
	if loc.Column > 0 {
		start.Column = loc.Column
	}
	node, diags := hclsyntax.ParseExpression([]byte(src), loc.File, start)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %w", src, diags)
	}
	return convertNode(node)
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) primitives.Expr {
	e, err := Parse(src, primitives.Location{})
	if err != nil {
		panic(err)
	}
	return e
}

var binaryOps = map[*hclsyntax.Operation]primitives.Op{
	hclsyntax.OpLogicalOr:          primitives.OpOr,
	hclsyntax.OpLogicalAnd:         primitives.OpAnd,
	hclsyntax.OpEqual:              primitives.OpEq,
	hclsyntax.OpNotEqual:           primitives.OpNe,
	hclsyntax.OpLessThan:           primitives.OpLt,
	hclsyntax.OpLessThanOrEqual:    primitives.OpLe,
	hclsyntax.OpGreaterThan:        primitives.OpGt,
	hclsyntax.OpGreaterThanOrEqual: primitives.OpGe,
	hclsyntax.OpAdd:                primitives.OpAdd,
	hclsyntax.OpSubtract:           primitives.OpSub,
	hclsyntax.OpMultiply:           primitives.OpMul,
	hclsyntax.OpDivide:             primitives.OpDiv,
	hclsyntax.OpModulo:             primitives.OpMod,
}

func convertNode(node hclsyntax.Expression) (primitives.Expr, error) {
	switch e := node.(type) {
	case *hclsyntax.LiteralValueExpr:
		return primitives.Literal{Value: e.Val}, nil
	case *hclsyntax.TemplateExpr:
		if !e.IsStringLiteral() {
			return nil, unsupported(e, "string interpolation")
		}
		v, diags := e.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		return primitives.Literal{Value: v}, nil
	case *hclsyntax.ParenthesesExpr:
		return convertNode(e.Expression)
	case *hclsyntax.ScopeTraversalExpr:
		return convertTraversal(e)
	case *hclsyntax.UnaryOpExpr:
		x, err := convertNode(e.Val)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case hclsyntax.OpLogicalNot:
			return primitives.Unary{Op: primitives.OpNot, X: x}, nil
		case hclsyntax.OpNegate:
			// Fold negative literals so they stay constants.
			if l, ok := x.(primitives.Literal); ok && l.Value.Type() == cty.Number && l.Value.IsKnown() && !l.Value.IsNull() {
				return primitives.Literal{Value: l.Value.Negate()}, nil
			}
			return primitives.Unary{Op: primitives.OpNeg, X: x}, nil
		}
	case *hclsyntax.BinaryOpExpr:
		op, ok := binaryOps[e.Op]
		if !ok {
			return nil, unsupported(e, "operator")
		}
		x, err := convertNode(e.LHS)
		if err != nil {
			return nil, err
		}
		y, err := convertNode(e.RHS)
		if err != nil {
			return nil, err
		}
		return primitives.Binary{Op: op, X: x, Y: y}, nil
	case *hclsyntax.FunctionCallExpr:
		if e.ExpandFinal {
			return nil, unsupported(e, "argument expansion")
		}
		args := make([]primitives.Expr, len(e.Args))
		for i, a := range e.Args {
			x, err := convertNode(a)
			if err != nil {
				return nil, err
			}
			args[i] = x
		}
		if e.Name == InStateFunc {
			if len(args) != 1 {
				return nil, unsupported(e, "in_state arity")
			}
			l, ok := args[0].(primitives.Literal)
			if !ok || l.Value.Type() != cty.String || !l.Value.IsKnown() || l.Value.IsNull() {
				return nil, unsupported(e, "in_state with a non-literal state name")
			}
			return primitives.InState{State: l.Value.AsString()}, nil
		}
		return primitives.Call{Func: e.Name, Args: args}, nil
	}
	return nil, unsupported(node, "expression")
}

func convertTraversal(e *hclsyntax.ScopeTraversalExpr) (primitives.Expr, error) {
	t := e.Traversal
	root := t.RootName()
	switch {
	case len(t) == 1:
		if root == EventRoot {
			return nil, unsupported(e, "bare event reference")
		}
		return primitives.FieldRef{Name: root}, nil
	case len(t) == 2 && root == EventRoot:
		if attr, ok := t[1].(hcl.TraverseAttr); ok {
			return primitives.EventParam{Name: attr.Name}, nil
		}
	}
	return nil, unsupported(e, "traversal")
}

func unsupported(node hclsyntax.Expression, what string) error {
	r := node.Range()
	return fmt.Errorf("%s: unsupported %s", r.String(), what)
}
