// Package expr evaluates guard and value expressions over go-cty values.
//
// The same evaluator serves the engine, where every input is known, and the
// verifier, where context fields and event parameters are cty unknowns. With
// unknown inputs cty propagates unknown results, which yields constant folding
// for free: an expression whose result is known does not depend on runtime
// data.
package expr

import (
	"errors"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/comalice/hsmkit/internal/primitives"
)

var (
	ErrUnknownField    = errors.New("unknown context field")
	ErrUnknownParam    = errors.New("unknown event parameter")
	ErrUnknownFunction = errors.New("unknown function")
	ErrUnknownState    = errors.New("unknown state")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrNotBool         = errors.New("guard is not a boolean")
)

// Error reports which expression failed to evaluate.
type Error struct {
	Expr string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("evaluating %s: %v", e.Expr, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Env supplies the inputs of an evaluation.
type Env struct {
	Fields map[string]cty.Value
	// Params holds event parameters. When Symbolic is set, missing params
	// evaluate to cty.DynamicVal instead of failing.
	Params   map[string]cty.Value
	Symbolic bool
	// InState answers in_state(name).
	InState func(name string) (cty.Value, error)
	Funcs   Functions
}

// Eval evaluates e.
func Eval(e primitives.Expr, env *Env) (v cty.Value, err error) {
	defer func() {
		// cty panics on some malformed operand combinations.
		if r := recover(); r != nil {
			v, err = cty.NilVal, &Error{Expr: e.String(), Err: fmt.Errorf("%v", r)}
		}
	}()
	return eval(e, env)
}

// EvalGuard evaluates a guard to a boolean (possibly unknown) value. A nil
// guard is true.
func EvalGuard(e primitives.Expr, env *Env) (cty.Value, error) {
	if e == nil {
		return cty.True, nil
	}
	v, err := Eval(e, env)
	if err != nil {
		return cty.NilVal, err
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil || b.IsNull() {
		return cty.NilVal, &Error{Expr: e.String(), Err: ErrNotBool}
	}
	return b, nil
}

func eval(e primitives.Expr, env *Env) (cty.Value, error) {
	switch n := e.(type) {
	case primitives.Literal:
		return n.Value, nil
	case primitives.FieldRef:
		v, ok := env.Fields[n.Name]
		if !ok {
			return cty.NilVal, &Error{Expr: n.String(), Err: ErrUnknownField}
		}
		return v, nil
	case primitives.EventParam:
		v, ok := env.Params[n.Name]
		if !ok {
			if env.Symbolic {
				return cty.DynamicVal, nil
			}
			return cty.NilVal, &Error{Expr: n.String(), Err: ErrUnknownParam}
		}
		return v, nil
	case primitives.InState:
		if env.InState == nil {
			return cty.UnknownVal(cty.Bool), nil
		}
		v, err := env.InState(n.State)
		if err != nil {
			return cty.NilVal, &Error{Expr: n.String(), Err: err}
		}
		return v, nil
	case primitives.Unary:
		x, err := eval(n.X, env)
		if err != nil {
			return cty.NilVal, err
		}
		fn := stdlib.NotFunc
		if n.Op == primitives.OpNeg {
			fn = stdlib.NegateFunc
		}
		return call(n, fn, x)
	case primitives.Binary:
		return evalBinary(n, env)
	case primitives.Call:
		f, ok := env.Funcs[n.Func]
		if !ok {
			return cty.NilVal, &Error{Expr: n.String(), Err: ErrUnknownFunction}
		}
		args := make([]cty.Value, len(n.Args))
		for i, a := range n.Args {
			v, err := eval(a, env)
			if err != nil {
				return cty.NilVal, err
			}
			args[i] = v
		}
		return call(n, f.Impl, args...)
	}
	return cty.NilVal, fmt.Errorf("unsupported expression %T", e)
}

var binaryFuncs = map[primitives.Op]function.Function{
	primitives.OpEq:  stdlib.EqualFunc,
	primitives.OpNe:  stdlib.NotEqualFunc,
	primitives.OpLt:  stdlib.LessThanFunc,
	primitives.OpLe:  stdlib.LessThanOrEqualToFunc,
	primitives.OpGt:  stdlib.GreaterThanFunc,
	primitives.OpGe:  stdlib.GreaterThanOrEqualToFunc,
	primitives.OpAdd: stdlib.AddFunc,
	primitives.OpSub: stdlib.SubtractFunc,
	primitives.OpMul: stdlib.MultiplyFunc,
	primitives.OpDiv: stdlib.DivideFunc,
	primitives.OpMod: stdlib.ModuloFunc,
}

func evalBinary(n primitives.Binary, env *Env) (cty.Value, error) {
	x, err := eval(n.X, env)
	if err != nil {
		return cty.NilVal, err
	}
	if n.Op == primitives.OpAnd || n.Op == primitives.OpOr {
		return shortCircuit(n, x, env)
	}
	y, err := eval(n.Y, env)
	if err != nil {
		return cty.NilVal, err
	}
	if (n.Op == primitives.OpDiv || n.Op == primitives.OpMod) && y.IsKnown() && !y.IsNull() {
		if num, err := convert.Convert(y, cty.Number); err == nil && num.RawEquals(cty.Zero) {
			return cty.NilVal, &Error{Expr: n.String(), Err: ErrDivisionByZero}
		}
	}
	return call(n, binaryFuncs[n.Op], x, y)
}

// shortCircuit implements && and || so that a known dominating operand
// decides the result even when the other side is unknown.
func shortCircuit(n primitives.Binary, x cty.Value, env *Env) (cty.Value, error) {
	dominant := n.Op == primitives.OpOr
	bx, err := toBool(n.X, x)
	if err != nil {
		return cty.NilVal, err
	}
	if bx.IsKnown() && bx.True() == dominant {
		return cty.BoolVal(dominant), nil
	}
	y, err := eval(n.Y, env)
	if err != nil {
		return cty.NilVal, err
	}
	by, err := toBool(n.Y, y)
	if err != nil {
		return cty.NilVal, err
	}
	switch {
	case by.IsKnown() && by.True() == dominant:
		return cty.BoolVal(dominant), nil
	case !bx.IsKnown() || !by.IsKnown():
		return cty.UnknownVal(cty.Bool), nil
	}
	return cty.BoolVal(!dominant), nil
}

func toBool(e primitives.Expr, v cty.Value) (cty.Value, error) {
	b, err := convert.Convert(v, cty.Bool)
	if err != nil || (b.IsKnown() && b.IsNull()) {
		return cty.NilVal, &Error{Expr: e.String(), Err: ErrNotBool}
	}
	return b, nil
}

func call(e primitives.Expr, fn function.Function, args ...cty.Value) (cty.Value, error) {
	v, err := fn.Call(args)
	if err != nil {
		return cty.NilVal, &Error{Expr: e.String(), Err: err}
	}
	return v, nil
}
