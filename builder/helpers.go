// Package builder holds shorthand for writing machines in Go with
// primitives.MachineBuilder: guards and actions are given in the same
// expression language the YAML loader accepts.
//
//	mb := primitives.NewMachineBuilder("door")
//	mb.Field("opens", cty.Number, cty.Zero)
//	mb.Atomic("Closed").On("OPEN", "Open").When(builder.When("opens < 3")).Do(builder.Do("opens = opens + 1")...)
//
// The helpers panic on malformed source, like regexp.MustCompile.
package builder

import (
	"fmt"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
)

// When parses a guard expression.
func When(src string) primitives.Expr { return expr.MustParse(src) }

// Do parses action statements in order.
func Do(src ...string) []primitives.Stmt {
	out := make([]primitives.Stmt, len(src))
	for i, s := range src {
		st, err := expr.ParseStmt(s, primitives.Location{})
		if err != nil {
			panic(fmt.Sprintf("builder.Do(%q): %v", s, err))
		}
		out[i] = st
	}
	return out
}

// Set assigns the value of an expression to a field.
func Set(field, value string) primitives.Stmt {
	return primitives.Assign{Field: field, Value: expr.MustParse(value)}
}

// Raise enqueues an internal event.
func Raise(event string) primitives.Stmt { return primitives.Raise{Event: event} }

// Send delivers an event to the instance named target.
func Send(event, target string) primitives.Stmt { return primitives.Send{Event: event, Target: target} }

// Log writes msg to the engine logger.
func Log(msg string) primitives.Stmt { return primitives.Log{Message: msg} }

// Cycle declares simple states that advance to the next one, wrapping
// around, on event.
func Cycle(mb *primitives.MachineBuilder, event string, states ...string) {
	for i, s := range states {
		mb.Atomic(s).On(event, states[(i+1)%len(states)])
	}
}
