package expr

import (
	"maps"
	"slices"

	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/comalice/hsmkit/internal/primitives"
)

// Func is a function callable from expressions.
type Func struct {
	Impl function.Function
	// Impure functions may be used in actions but never in guards.
	Impure bool
}

// Functions is a function table keyed by name.
type Functions map[string]Func

// Builtins returns the default table of pure functions.
func Builtins() Functions {
	return Functions{
		"abs":      {Impl: stdlib.AbsoluteFunc},
		"min":      {Impl: stdlib.MinFunc},
		"max":      {Impl: stdlib.MaxFunc},
		"floor":    {Impl: stdlib.FloorFunc},
		"ceil":     {Impl: stdlib.CeilFunc},
		"signum":   {Impl: stdlib.SignumFunc},
		"upper":    {Impl: stdlib.UpperFunc},
		"lower":    {Impl: stdlib.LowerFunc},
		"strlen":   {Impl: stdlib.StrlenFunc},
		"length":   {Impl: stdlib.LengthFunc},
		"contains": {Impl: stdlib.ContainsFunc},
		"coalesce": {Impl: stdlib.CoalesceFunc},
		"format":   {Impl: stdlib.FormatFunc},
	}
}

// With returns a copy of fs extended (or overridden) by extra.
func (fs Functions) With(extra Functions) Functions {
	out := maps.Clone(fs)
	if out == nil {
		out = Functions{}
	}
	maps.Copy(out, extra)
	return out
}

// ImpureCalls lists, sorted and deduplicated, the calls in e that are not
// known pure functions. An empty result means the guard is side-effect free.
func ImpureCalls(e primitives.Expr, fs Functions) []string {
	var bad []string
	primitives.WalkExpr(e, func(n primitives.Expr) bool {
		if c, ok := n.(primitives.Call); ok {
			if f, known := fs[c.Func]; !known || f.Impure {
				bad = append(bad, c.Func)
			}
		}
		return true
	})
	slices.Sort(bad)
	return slices.Compact(bad)
}

// References lists the context fields read by e.
func References(e primitives.Expr) []string {
	var out []string
	primitives.WalkExpr(e, func(n primitives.Expr) bool {
		if f, ok := n.(primitives.FieldRef); ok {
			out = append(out, f.Name)
		}
		return true
	})
	slices.Sort(out)
	return slices.Compact(out)
}
