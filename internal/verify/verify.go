// Package verify is the static verifier. It runs the selection and
// micro-step code the engine uses over every statically reachable abstract
// state, with context fields and event parameters unknown, and reports
// determinism conflicts, reachability problems, deferral cycles and guard
// defects as diagnostics.
package verify

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/semantics"
)

const (
	DefaultMaxConfigurations = 10000
	// DefaultMaxUnknownGuards bounds the unknown guards enumerated per
	// selection; beyond it, remaining unknown guards are assumed true.
	DefaultMaxUnknownGuards = 10
)

// Option configures Verify.
type Option func(*verifier)

// WithMaxConfigurations bounds the explored abstract states.
func WithMaxConfigurations(n int) Option {
	return func(v *verifier) {
		if n > 0 {
			v.maxStates = n
		}
	}
}

// WithFunctions extends the builtin expression functions.
func WithFunctions(fs expr.Functions) Option {
	return func(v *verifier) { v.funcs = v.funcs.With(fs) }
}

// WithLogger sets the logger for progress messages.
func WithLogger(l *slog.Logger) Option {
	return func(v *verifier) {
		if l != nil {
			v.log = l
		}
	}
}

type verifier struct {
	g         *primitives.Graph
	m         *semantics.Model
	funcs     expr.Functions
	log       *slog.Logger
	maxStates int
	maxGuards int
	report    *Report

	guardErr map[primitives.TransitionID]bool
	pairs    map[[2]primitives.TransitionID]bool
}

// Verify analyzes g. It never fails: malformed graphs are reported as
// INVALID_GRAPH diagnostics and analysis stops there.
func Verify(g *primitives.Graph, opts ...Option) *Report {
	v := &verifier{
		g:         g,
		funcs:     expr.Builtins(),
		log:       slog.New(slog.DiscardHandler),
		maxStates: DefaultMaxConfigurations,
		maxGuards: DefaultMaxUnknownGuards,
		report:    &Report{},
		guardErr:  map[primitives.TransitionID]bool{},
		pairs:     map[[2]primitives.TransitionID]bool{},
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.With("machine", g.Name)

	if err := primitives.Validate(g); err != nil {
		v.invalid(err)
		v.report.sort()
		return v.report
	}
	v.m = semantics.NewModel(g)

	v.guards()
	v.determinism()
	v.choices()
	v.completionCycles()
	v.explore()

	v.report.sort()
	v.log.Debug("verified", "configurations", v.report.Configurations, "diagnostics", len(v.report.Diagnostics))
	return v.report
}

func (v *verifier) invalid(err error) {
	var verr *primitives.ValidationError
	if !errors.As(err, &verr) {
		v.report.add(Diagnostic{Code: CodeInvalidGraph, Severity: SeverityError, Message: err.Error()})
		return
	}
	for _, is := range verr.Issues {
		v.report.add(Diagnostic{
			Code:     CodeInvalidGraph,
			Severity: SeverityError,
			Message:  is.Code + ": " + is.Message,
			Loc:      is.Loc,
		})
	}
}

// symbolicEnv has every field unknown. With cfg set, in_state is answered
// from it; otherwise in_state is unknown too.
func (v *verifier) symbolicEnv(cfg *semantics.Configuration) *expr.Env {
	fields := make(map[string]cty.Value, len(v.g.Fields))
	for _, f := range v.g.Fields {
		fields[f.Name] = cty.UnknownVal(f.Type)
	}
	env := &expr.Env{Fields: fields, Symbolic: true, Funcs: v.funcs}
	if cfg != nil {
		env.InState = func(name string) (cty.Value, error) {
			id, ok := v.g.Lookup(name)
			if !ok {
				return cty.NilVal, fmt.Errorf("%w: %q", expr.ErrUnknownState, name)
			}
			return cty.BoolVal(cfg.Active(id)), nil
		}
	}
	return env
}

// verdict evaluates a guard symbolically. Errors count as Maybe; they are
// reported once by guards.
func (v *verifier) verdict(t *primitives.Transition, cfg *semantics.Configuration) expr.Verdict {
	if t.Guard == nil {
		return expr.Always
	}
	b, err := expr.EvalGuard(t.Guard, v.symbolicEnv(cfg))
	if err != nil {
		return expr.Maybe
	}
	return expr.Classify(b)
}

// exclusive reports whether two named states can never be active together:
// they sit in different children of one region.
func (v *verifier) exclusive(a, b string) bool {
	ia, oka := v.g.Lookup(a)
	ib, okb := v.g.Lookup(b)
	if !oka || !okb {
		return false
	}
	x := v.m.X
	l := x.LCA(ia, ib)
	if l == ia || l == ib {
		return false
	}
	return x.RegionToward(l, ia) == x.RegionToward(l, ib)
}

func (v *verifier) disjoint(a, b *primitives.Transition) bool {
	return expr.Disjoint(a.Guard, b.Guard, v.exclusive)
}

// guards checks guard purity and evaluability.
func (v *verifier) guards() {
	for i := range v.g.Transitions {
		t := &v.g.Transitions[i]
		if t.Guard == nil {
			continue
		}
		if bad := expr.ImpureCalls(t.Guard, v.funcs); len(bad) > 0 {
			v.report.add(Diagnostic{
				Code:     CodeImpureGuard,
				Severity: SeverityError,
				Message:  fmt.Sprintf("guard of %q calls functions that are not known to be pure: %v", t.Name, bad),
				Loc:      t.Loc,
				Subjects: []string{t.Name},
			})
			v.guardErr[t.ID] = true
			continue
		}
		if _, err := expr.EvalGuard(t.Guard, v.symbolicEnv(nil)); err != nil {
			v.report.add(Diagnostic{
				Code:     CodeGuardTypeError,
				Severity: SeverityError,
				Message:  fmt.Sprintf("guard of %q: %v", t.Name, err),
				Loc:      t.Loc,
				Subjects: []string{t.Name},
			})
			v.guardErr[t.ID] = true
		}
	}
}

func triggerKey(t *primitives.Transition) string {
	switch t.Trigger.Kind {
	case primitives.TriggerEvent:
		return "event " + t.Trigger.Event
	case primitives.TriggerTimer:
		return fmt.Sprintf("timer %d", t.Trigger.Timer)
	}
	return "completion"
}

func (v *verifier) triggerLabel(t *primitives.Transition) string {
	switch t.Trigger.Kind {
	case primitives.TriggerEvent:
		return t.Trigger.Event
	case primitives.TriggerTimer:
		return "timer " + v.g.Timer(t.Trigger.Timer).Name
	}
	return "completion"
}

// determinism reports every pair of transitions leaving one state on the
// same trigger with equal priority whose guards may hold together.
func (v *verifier) determinism() {
	for i := range v.g.States {
		s := &v.g.States[i]
		if s.Kind.IsPseudostate() {
			continue
		}
		out := v.g.Outgoing(s.ID)
		for a := 0; a < len(out); a++ {
			ta := v.g.Transition(out[a])
			if v.verdict(ta, nil) == expr.Never {
				continue
			}
			for b := a + 1; b < len(out); b++ {
				tb := v.g.Transition(out[b])
				if tb.Priority != ta.Priority || triggerKey(ta) != triggerKey(tb) {
					continue
				}
				if v.verdict(tb, nil) == expr.Never || v.disjoint(ta, tb) {
					continue
				}
				v.conflict(s.ID, ta, tb)
			}
		}
	}
}

func (v *verifier) conflict(s primitives.StateID, a, b *primitives.Transition) {
	if a.Order > b.Order {
		a, b = b, a
	}
	key := [2]primitives.TransitionID{a.ID, b.ID}
	if v.pairs[key] {
		return
	}
	v.pairs[key] = true
	v.report.add(Diagnostic{
		Code:     CodeNondeterministic,
		Severity: SeverityError,
		Message: fmt.Sprintf("transitions %q and %q leave %q on %s with priority %d and their guards may both hold",
			a.Name, b.Name, v.g.StateName(s), v.triggerLabel(a), a.Priority),
		Loc:      a.Loc,
		Related:  []primitives.Location{b.Loc},
		Subjects: []string{a.Name, b.Name},
	})
}

// choices reports choice pseudostates that may find no enabled branch.
func (v *verifier) choices() {
	for i := range v.g.States {
		s := &v.g.States[i]
		if s.Kind != primitives.KindChoice {
			continue
		}
		hasDefault := slices.ContainsFunc(v.g.Outgoing(s.ID), func(id primitives.TransitionID) bool {
			return v.verdict(v.g.Transition(id), nil) == expr.Always
		})
		if !hasDefault {
			v.report.add(Diagnostic{
				Code:     CodeChoiceWithoutDefault,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("choice %q has no unguarded branch; entering it with every guard false is a runtime fault", s.Name),
				Loc:      s.Loc,
				Subjects: []string{s.Name},
			})
		}
	}
}

// completionCycles reports loops of always-enabled completion transitions,
// which the engine stops with a completion-depth fault.
func (v *verifier) completionCycles() {
	g := v.g
	next := map[primitives.StateID][]primitives.StateID{}
	for i := range g.Transitions {
		t := &g.Transitions[i]
		src := g.State(t.Source)
		if t.Trigger.Kind != primitives.TriggerNone || src.Kind != primitives.KindSimple {
			continue
		}
		if v.verdict(t, nil) != expr.Always {
			continue
		}
		next[t.Source] = append(next[t.Source], v.settled(t.Target, map[primitives.StateID]bool{})...)
	}

	const (
		white = iota
		grey
		black
	)
	color := map[primitives.StateID]int{}
	reported := map[primitives.StateID]bool{}
	var stack []primitives.StateID
	var visit func(s primitives.StateID)
	visit = func(s primitives.StateID) {
		color[s] = grey
		stack = append(stack, s)
		for _, n := range next[s] {
			switch color[n] {
			case white:
				visit(n)
			case grey:
				i := slices.Index(stack, n)
				cycle := slices.Clone(stack[i:])
				if reported[cycle[0]] {
					continue
				}
				for _, c := range cycle {
					reported[c] = true
				}
				names := g.Names(cycle)
				v.report.add(Diagnostic{
					Code:     CodeCompletionCycle,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("completion transitions loop through %v without an event", names),
					Loc:      g.State(cycle[0]).Loc,
					Subjects: names,
				})
			}
		}
		stack = stack[:len(stack)-1]
		color[s] = black
	}
	for i := range g.States {
		if s := primitives.StateID(i); color[s] == white && len(next[s]) > 0 {
			visit(s)
		}
	}
}

// settled lists the simple states that entering s can leave active, following
// pseudostate branches and default entries.
func (v *verifier) settled(s primitives.StateID, seen map[primitives.StateID]bool) []primitives.StateID {
	if seen[s] {
		return nil
	}
	seen[s] = true
	g := v.g
	st := g.State(s)
	var out []primitives.StateID
	switch {
	case st.Kind == primitives.KindSimple:
		return []primitives.StateID{s}
	case st.Kind.IsPseudostate():
		for _, tid := range g.Outgoing(s) {
			out = append(out, v.settled(g.Transition(tid).Target, seen)...)
		}
	case st.Kind.OwnsRegions():
		for _, r := range st.Regions {
			if it, ok := g.InitialTransition(r); ok {
				out = append(out, v.settled(it.Target, seen)...)
			}
		}
	}
	return out
}
