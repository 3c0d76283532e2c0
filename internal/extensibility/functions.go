// Package extensibility connects hosts to engines: custom expression
// functions and goroutine-safe event sources pumped into an engine.
package extensibility

import (
	"log/slog"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/comalice/hsmkit/internal/expr"
)

// Predicate registers a pure single-argument boolean function usable in
// guards.
func Predicate(param cty.Type, fn func(cty.Value) bool) expr.Func {
	return expr.Func{Impl: function.New(&function.Spec{
		Params: []function.Parameter{{Name: "v", Type: param}},
		Type:   function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(fn(args[0])), nil
		},
	})}
}

// Action registers an impure function for use in action statements. Its
// result is ignored unless assigned.
func Action(params []function.Parameter, ret cty.Type, fn func(args []cty.Value) (cty.Value, error)) expr.Func {
	return expr.Func{Impure: true, Impl: function.New(&function.Spec{
		Params: params,
		Type:   function.StaticReturnType(ret),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return fn(args)
		},
	})}
}

// WithLogging wraps every function in fs so each call is logged at debug
// level with its duration and error.
func WithLogging(fs expr.Functions, log *slog.Logger) expr.Functions {
	out := make(expr.Functions, len(fs))
	for name, f := range fs {
		inner := f.Impl
		spec := &function.Spec{
			Params:   inner.Params(),
			VarParam: inner.VarParam(),
			Type: func(args []cty.Value) (cty.Type, error) {
				return inner.ReturnTypeForValues(args)
			},
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				start := time.Now()
				v, err := inner.Call(args)
				log.Debug("function call", "func", name, "took", time.Since(start), "err", err)
				return v, err
			},
		}
		out[name] = expr.Func{Impl: function.New(spec), Impure: f.Impure}
	}
	return out
}
