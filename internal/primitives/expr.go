package primitives

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Expr is a node of a guard or value expression. The set of node types is
// closed; evaluation lives in package expr.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Op is a unary or binary operator.
type Op uint8

const (
	OpNot Op = iota
	OpNeg
	OpOr
	OpAnd
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var opSymbols = [...]string{
	OpNot: "!",
	OpNeg: "-",
	OpOr:  "||",
	OpAnd: "&&",
	OpEq:  "==",
	OpNe:  "!=",
	OpLt:  "<",
	OpLe:  "<=",
	OpGt:  ">",
	OpGe:  ">=",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
	OpMod: "%",
}

func (o Op) String() string {
	if int(o) < len(opSymbols) {
		return opSymbols[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// IsComparison reports whether o is one of == != < <= > >=.
func (o Op) IsComparison() bool {
	return o >= OpEq && o <= OpGe
}

// Literal is a constant value.
type Literal struct {
	Value cty.Value
}

// FieldRef reads a context field.
type FieldRef struct {
	Name string
}

// EventParam reads a parameter of the event being processed.
type EventParam struct {
	Name string
}

// InState is true while the named state is active.
type InState struct {
	State string
}

type Unary struct {
	Op Op
	X  Expr
}

type Binary struct {
	Op   Op
	X, Y Expr
}

// Call invokes a registered pure function.
type Call struct {
	Func string
	Args []Expr
}

func (Literal) isExpr()    {}
func (FieldRef) isExpr()   {}
func (EventParam) isExpr() {}
func (InState) isExpr()    {}
func (Unary) isExpr()      {}
func (Binary) isExpr()     {}
func (Call) isExpr()       {}

func (l Literal) String() string { return FormatValue(l.Value) }

func (f FieldRef) String() string { return f.Name }

func (p EventParam) String() string { return "event." + p.Name }

func (s InState) String() string { return "in_state(" + strconv.Quote(s.State) + ")" }

func (u Unary) String() string { return u.Op.String() + wrap(u.X) }

func (b Binary) String() string { return wrap(b.X) + " " + b.Op.String() + " " + wrap(b.Y) }

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Func + "(" + strings.Join(args, ", ") + ")"
}

func wrap(e Expr) string {
	switch e.(type) {
	case Binary:
		return "(" + e.String() + ")"
	}
	return e.String()
}

// FormatValue renders a cty value the way it would be written in a guard.
func FormatValue(v cty.Value) string {
	switch {
	case !v.IsKnown():
		return "(unknown)"
	case v.IsNull():
		return "null"
	}
	switch v.Type() {
	case cty.String:
		return strconv.Quote(v.AsString())
	case cty.Number:
		return v.AsBigFloat().Text('g', -1)
	case cty.Bool:
		return strconv.FormatBool(v.True())
	}
	return v.GoString()
}

// True is the guard used when a transition declares none.
var True Expr = Literal{Value: cty.True}

// Stmt is one action statement.
type Stmt interface {
	fmt.Stringer
	isStmt()
}

// Assign stores the value of an expression into a context field.
type Assign struct {
	Field string
	Value Expr
}

// Raise enqueues an internal event for the current instance.
type Raise struct {
	Event string
}

// Send delivers an event to another instance by name.
type Send struct {
	Event  string
	Target string
}

// Log emits a message on the engine logger.
type Log struct {
	Message string
}

func (Assign) isStmt() {}
func (Raise) isStmt()  {}
func (Send) isStmt()   {}
func (Log) isStmt()    {}

func (a Assign) String() string { return a.Field + " = " + a.Value.String() }
func (r Raise) String() string  { return "raise " + r.Event }
func (s Send) String() string   { return "send " + s.Event + " to " + s.Target }
func (l Log) String() string    { return "log " + strconv.Quote(l.Message) }

// WalkExpr calls fn for e and every sub-expression in depth-first order. It
// stops descending into a node when fn returns false.
func WalkExpr(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case Unary:
		WalkExpr(n.X, fn)
	case Binary:
		WalkExpr(n.X, fn)
		WalkExpr(n.Y, fn)
	case Call:
		for _, a := range n.Args {
			WalkExpr(a, fn)
		}
	}
}
