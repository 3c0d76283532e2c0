package core

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/comalice/hsmkit/internal/primitives"
)

// BreakpointKind names the step boundary a breakpoint pauses at.
type BreakpointKind string

const (
	// BeforeEvent pauses before an external or timer event with the target
	// name is processed. The event stays queued.
	BeforeEvent BreakpointKind = "before-event"
	// AfterEvent pauses once the step for the named event has completed.
	AfterEvent BreakpointKind = "after-event"
	// AfterEnter pauses after a step that entered the target state.
	AfterEnter BreakpointKind = "after-enter"
	// AfterExit pauses after a step that exited the target state.
	AfterExit BreakpointKind = "after-exit"
	// AfterTransition pauses after a step that took the named transition.
	AfterTransition BreakpointKind = "after-transition"
)

// Breakpoint is a registered pause condition.
type Breakpoint struct {
	ID     string         `json:"id" yaml:"id"`
	Kind   BreakpointKind `json:"kind" yaml:"kind"`
	Target string         `json:"target" yaml:"target"`
}

func (b Breakpoint) String() string { return fmt.Sprintf("%s %s", b.Kind, b.Target) }

// SetBreakpoint registers a breakpoint and returns its ID. Pauses only ever
// happen between run-to-completion steps.
func (e *Engine) SetBreakpoint(kind BreakpointKind, target string) (string, error) {
	const op = "set_breakpoint"
	if !e.knownTarget(kind, target) {
		return "", misuse(op, ErrUnknownTarget, "%s %q", kind, target)
	}
	bp := Breakpoint{ID: uuid.NewString(), Kind: kind, Target: target}
	e.breakpoints = append(e.breakpoints, bp)
	return bp.ID, nil
}

// ClearBreakpoint removes a breakpoint.
func (e *Engine) ClearBreakpoint(id string) error {
	i := slices.IndexFunc(e.breakpoints, func(b Breakpoint) bool { return b.ID == id })
	if i < 0 {
		return misuse("clear_breakpoint", ErrUnknownBreakpoint, "%q", id)
	}
	e.breakpoints = slices.Delete(e.breakpoints, i, i+1)
	return nil
}

// Breakpoints lists registered breakpoints in registration order.
func (e *Engine) Breakpoints() []Breakpoint { return slices.Clone(e.breakpoints) }

func (e *Engine) knownTarget(kind BreakpointKind, target string) bool {
	g := e.g
	switch kind {
	case BeforeEvent, AfterEvent:
		if slices.Contains(g.Events(), target) {
			return true
		}
		return slices.ContainsFunc(g.Timers, func(t primitives.Timer) bool { return t.Name == target })
	case AfterEnter, AfterExit:
		id, ok := g.Lookup(target)
		return ok && !g.State(id).Kind.IsPseudostate()
	case AfterTransition:
		return slices.ContainsFunc(g.Transitions, func(t primitives.Transition) bool { return t.Name == target })
	}
	return false
}

// breakBefore reports a BeforeEvent breakpoint matching ev.
func (e *Engine) breakBefore(ev *primitives.Event) (Breakpoint, bool) {
	for _, b := range e.breakpoints {
		if b.Kind == BeforeEvent && b.Target == ev.Name {
			return b, true
		}
	}
	return Breakpoint{}, false
}

// breakAfter reports the first after-breakpoint matched by rec.
func (e *Engine) breakAfter(rec *StepRecord) (Breakpoint, bool) {
	for _, b := range e.breakpoints {
		var hit bool
		switch b.Kind {
		case AfterEvent:
			hit = rec.Event == b.Target
		case AfterEnter:
			hit = slices.Contains(rec.Entered, b.Target)
		case AfterExit:
			hit = slices.Contains(rec.Exited, b.Target)
		case AfterTransition:
			hit = slices.Contains(rec.Transitions, b.Target)
		}
		if hit {
			return b, true
		}
	}
	return Breakpoint{}, false
}
