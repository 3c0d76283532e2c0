package primitives

import (
	"cmp"
	"slices"

	"github.com/zclconf/go-cty/cty"
)

// Root is the ID of the implicit top-level composite state.
const Root StateID = 0

// RootName is the name given to the root state by MachineBuilder.
const RootName = "$root"

// Field declares one context field.
type Field struct {
	Name    string
	Type    cty.Type
	Default cty.Value
	Loc     Location
}

// Graph is the immutable machine description.
type Graph struct {
	Version     int
	Name        string
	States      []State
	Regions     []Region
	Transitions []Transition
	Timers      []Timer
	Fields      []Field

	byName   map[string]StateID
	fieldIdx map[string]int
	outgoing [][]TransitionID
	incoming [][]TransitionID
	events   []string
}

// Finalize computes the derived lookup tables. It must be called once after
// the exported slices are populated and before the graph is shared.
func (g *Graph) Finalize() {
	g.byName = make(map[string]StateID, len(g.States))
	g.outgoing = make([][]TransitionID, len(g.States))
	g.incoming = make([][]TransitionID, len(g.States))
	for i := range g.States {
		s := &g.States[i]
		g.byName[s.Name] = s.ID
		s.Depth = 0
		// Bounded so that a malformed parent cycle cannot hang; Validate
		// reports it.
		for p := s.Parent; g.validState(p) && s.Depth < len(g.States); p = g.States[p].Parent {
			s.Depth++
		}
	}

	names := map[string]bool{}
	for i := range g.Transitions {
		t := &g.Transitions[i]
		if g.validState(t.Source) {
			g.outgoing[t.Source] = append(g.outgoing[t.Source], t.ID)
		}
		if g.validState(t.Target) {
			g.incoming[t.Target] = append(g.incoming[t.Target], t.ID)
		}
		if t.Trigger.Kind == TriggerEvent {
			names[t.Trigger.Event] = true
		}
	}
	for _, out := range g.outgoing {
		slices.SortStableFunc(out, func(a, b TransitionID) int {
			ta, tb := &g.Transitions[a], &g.Transitions[b]
			if c := cmp.Compare(ta.Priority, tb.Priority); c != 0 {
				return c
			}
			return cmp.Compare(ta.Order, tb.Order)
		})
	}
	for i := range g.States {
		for _, d := range g.States[i].Defers {
			names[d] = true
		}
	}
	g.events = g.events[:0]
	for n := range names {
		g.events = append(g.events, n)
	}
	slices.Sort(g.events)

	g.fieldIdx = make(map[string]int, len(g.Fields))
	for i, f := range g.Fields {
		g.fieldIdx[f.Name] = i
	}
}

func (g *Graph) validState(id StateID) bool {
	return id >= 0 && int(id) < len(g.States)
}

// State returns the state with the given ID.
func (g *Graph) State(id StateID) *State { return &g.States[id] }

// Region returns the region with the given ID.
func (g *Graph) Region(id RegionID) *Region { return &g.Regions[id] }

// Transition returns the transition with the given ID.
func (g *Graph) Transition(id TransitionID) *Transition { return &g.Transitions[id] }

// Timer returns the timer with the given ID.
func (g *Graph) Timer(id TimerID) *Timer { return &g.Timers[id] }

// Lookup resolves a state by name.
func (g *Graph) Lookup(name string) (StateID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// StateName returns the name of id, tolerating NoState.
func (g *Graph) StateName(id StateID) string {
	if !g.validState(id) {
		return ""
	}
	return g.States[id].Name
}

// Names maps IDs to state names.
func (g *Graph) Names(ids []StateID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = g.StateName(id)
	}
	return out
}

// Outgoing returns the transitions leaving s ordered by (priority, order).
func (g *Graph) Outgoing(s StateID) []TransitionID {
	if !g.validState(s) {
		return nil
	}
	return g.outgoing[s]
}

// Incoming returns the transitions entering s in declaration order.
func (g *Graph) Incoming(s StateID) []TransitionID {
	if !g.validState(s) {
		return nil
	}
	return g.incoming[s]
}

// Field returns the declaration of a context field.
func (g *Graph) Field(name string) (*Field, bool) {
	i, ok := g.fieldIdx[name]
	if !ok {
		return nil, false
	}
	return &g.Fields[i], true
}

// Events lists every named event used as a trigger or deferred, sorted.
func (g *Graph) Events() []string { return g.events }

// TimerByName finds a timer owned by s or one of its ancestors, innermost
// owner first.
func (g *Graph) TimerByName(s StateID, name string) (TimerID, bool) {
	for cur := s; g.validState(cur); cur = g.States[cur].Parent {
		for _, tid := range g.States[cur].Timers {
			if g.Timers[tid].Name == name {
				return tid, true
			}
		}
	}
	return NoTimer, false
}

// InitialTransition returns the single outgoing transition of a region's
// initial pseudostate.
func (g *Graph) InitialTransition(r RegionID) (*Transition, bool) {
	out := g.Outgoing(g.Regions[r].Initial)
	if len(out) != 1 {
		return nil, false
	}
	return &g.Transitions[out[0]], true
}

// HistoryDefault returns the default transition of a history pseudostate.
func (g *Graph) HistoryDefault(h StateID) (*Transition, bool) {
	out := g.Outgoing(h)
	if len(out) == 0 {
		return nil, false
	}
	return &g.Transitions[out[0]], true
}

// TransitionLabel is a human readable description used in traces and
// diagnostics.
func (g *Graph) TransitionLabel(id TransitionID) string {
	t := &g.Transitions[id]
	if t.Name != "" {
		return t.Name
	}
	return g.defaultTransitionName(t)
}

func (g *Graph) defaultTransitionName(t *Transition) string {
	src, tgt := g.StateName(t.Source), g.StateName(t.Target)
	switch t.Trigger.Kind {
	case TriggerEvent:
		return src + "-" + t.Trigger.Event + "->" + tgt
	case TriggerTimer:
		name := ""
		if int(t.Trigger.Timer) >= 0 && int(t.Trigger.Timer) < len(g.Timers) {
			name = g.Timers[t.Trigger.Timer].Name
		}
		return src + "-" + name + "->" + tgt
	}
	return src + "->" + tgt
}
