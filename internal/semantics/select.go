package semantics

import (
	"errors"
	"fmt"
	"slices"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
)

// ErrAmbiguous is returned when two enabled transitions at one ancestor level
// share both priority and declaration order. Validated graphs never produce
// it; seeing it means the graph was corrupted after validation.
var ErrAmbiguous = errors.New("ambiguous transition selection")

// Oracle decides guards for Select. The engine answers with concrete values
// (Never or Always); the verifier may answer Maybe.
type Oracle interface {
	Guard(t *primitives.Transition, ev *primitives.Event) (expr.Verdict, error)
	// Disjoint reports whether two guards are known never to hold together.
	Disjoint(a, b *primitives.Transition) bool
}

// Compound is one compound transition chosen for execution: its first
// segments (several for a join) and the junction continuation resolved
// during selection.
type Compound struct {
	Sources   []TransitionID
	Junctions []TransitionID
}

// Primary is the segment that represents the compound in traces.
func (c Compound) Primary() TransitionID { return c.Sources[0] }

// Conflict is a pair of transitions that may be enabled together at the same
// ancestor level with equal priority. A is declared before B.
type Conflict struct {
	State StateID
	A, B  TransitionID
}

// Preemption records that Kept won over Dropped.
type Preemption struct {
	Kept, Dropped TransitionID
}

// Selection is the result of Select.
type Selection struct {
	Compounds []Compound
	Conflicts []Conflict
	// Preempted lists transitions dropped because their exit sets overlapped
	// with a transition that took precedence.
	Preempted []Preemption
	// Joins holds, per join pseudostate that did not fire, the mask of its
	// incoming transitions (bit i = i-th incoming) armed in earlier steps or
	// enabled by this event. Store it with Configuration.SettleJoins.
	Joins map[StateID]uint64
	// Armed lists the joins that gained a bit from this event.
	Armed []StateID
}

// Empty reports whether nothing was selected.
func (s *Selection) Empty() bool { return len(s.Compounds) == 0 }

// Idle reports whether the event neither fires a transition nor arms a join.
func (s *Selection) Idle() bool { return s.Empty() && len(s.Armed) == 0 }

type candidate struct {
	comp    Compound
	verdict expr.Verdict
}

type selector struct {
	m   *Model
	cfg *Configuration
	ev  *primitives.Event
	o   Oracle
	sel *Selection
}

// Select computes the transition set an event fires in a configuration. It
// has no side effects.
//
// Every active leaf, in document order, walks its ancestor chain innermost
// first. The first level holding a possibly enabled transition whose trigger
// matches ends the walk for that leaf; within the level the lowest priority
// wins and declaration order breaks ties. Transitions whose exit sets overlap
// an earlier choice are dropped unless their source lies inside the earlier
// transition's source, in which case they replace it.
func Select(m *Model, cfg *Configuration, ev *primitives.Event, o Oracle) (*Selection, error) {
	s := &selector{m: m, cfg: cfg, ev: ev, o: o, sel: &Selection{}}
	var picks []Compound
	seen := map[TransitionID]bool{}
	for _, leaf := range cfg.Leaves() {
		for _, st := range m.X.Ancestors(leaf) {
			cands, err := s.level(st)
			if err != nil {
				return nil, err
			}
			if len(cands) == 0 {
				continue
			}
			if p := cands[0].comp; !seen[p.Primary()] {
				seen[p.Primary()] = true
				picks = append(picks, p)
			}
			break
		}
	}
	s.resolve(picks)
	return s.sel, nil
}

// level collects the possibly enabled transitions leaving st, in precedence
// order, and records equal-priority conflicts among them.
func (s *selector) level(st StateID) ([]candidate, error) {
	g := s.m.G
	var cands []candidate
	for _, tid := range g.Outgoing(st) {
		t := g.Transition(tid)
		if !t.Matches(s.ev) {
			continue
		}
		c, err := s.enable(t)
		if err != nil {
			return nil, err
		}
		if c.verdict.Possible() {
			cands = append(cands, c)
		}
	}
	for i := range cands {
		a := g.Transition(cands[i].comp.Primary())
		for j := i + 1; j < len(cands); j++ {
			b := g.Transition(cands[j].comp.Primary())
			if a.Priority != b.Priority {
				break
			}
			if a.Order == b.Order {
				return nil, fmt.Errorf("%w: %q and %q", ErrAmbiguous, a.Name, b.Name)
			}
			if !s.o.Disjoint(a, b) {
				s.addConflict(Conflict{State: st, A: a.ID, B: b.ID})
			}
		}
	}
	return cands, nil
}

func (s *selector) addConflict(c Conflict) {
	if !slices.Contains(s.sel.Conflicts, c) {
		s.sel.Conflicts = append(s.sel.Conflicts, c)
	}
}

// enable decides whether t can fire, following static junction chains and
// checking that every branch of a join is enabled.
func (s *selector) enable(t *primitives.Transition) (candidate, error) {
	g := s.m.G
	v, err := s.o.Guard(t, s.ev)
	if err != nil || v == expr.Never {
		return candidate{}, err
	}
	c := candidate{comp: Compound{Sources: []TransitionID{t.ID}}, verdict: v}
	switch g.State(t.Target).Kind {
	case primitives.KindJunction:
		path, pv, err := s.junction(t.Target, map[StateID]bool{})
		if err != nil {
			return candidate{}, err
		}
		c.comp.Junctions = path
		c.verdict = min(c.verdict, pv)
	case primitives.KindJoin:
		return s.join(t.Target)
	}
	return c, nil
}

// junction resolves the first possibly enabled branch of a junction chain.
func (s *selector) junction(j StateID, visited map[StateID]bool) ([]TransitionID, expr.Verdict, error) {
	if visited[j] {
		return nil, expr.Never, nil
	}
	visited[j] = true
	g := s.m.G
	for _, tid := range g.Outgoing(j) {
		t := g.Transition(tid)
		v, err := s.o.Guard(t, s.ev)
		if err != nil {
			return nil, expr.Never, err
		}
		if v == expr.Never {
			continue
		}
		if g.State(t.Target).Kind != primitives.KindJunction {
			return []TransitionID{tid}, v, nil
		}
		rest, rv, err := s.junction(t.Target, visited)
		if err != nil {
			return nil, expr.Never, err
		}
		if rv != expr.Never {
			return append([]TransitionID{tid}, rest...), min(v, rv), nil
		}
	}
	return nil, expr.Never, nil
}

// join enables a join once every incoming transition has been taken. Bits
// armed by earlier events stay set while their source is active; the current
// event adds the incoming transitions it enables.
func (s *selector) join(j StateID) (candidate, error) {
	g := s.m.G
	in := g.Incoming(j)
	armed := s.cfg.JoinMask(j)
	var mask uint64
	verdict := expr.Always
	for i, tid := range in {
		t := g.Transition(tid)
		if !s.cfg.Active(t.Source) {
			continue
		}
		if armed&(1<<uint(i)) != 0 {
			mask |= 1 << uint(i)
			continue
		}
		if !t.Matches(s.ev) {
			continue
		}
		v, err := s.o.Guard(t, s.ev)
		if err != nil {
			return candidate{}, err
		}
		if v.Possible() {
			mask |= 1 << uint(i)
			verdict = min(verdict, v)
		}
	}
	if mask != 1<<uint(len(in))-1 {
		if s.sel.Joins == nil {
			s.sel.Joins = map[StateID]uint64{}
		}
		s.sel.Joins[j] = mask
		if mask&^armed != 0 && !slices.Contains(s.sel.Armed, j) {
			s.sel.Armed = append(s.sel.Armed, j)
		}
		return candidate{}, nil
	}
	return candidate{comp: Compound{Sources: slices.Clone(in)}, verdict: verdict}, nil
}

// resolve drops transitions whose exit sets overlap an earlier choice.
func (s *selector) resolve(picks []Compound) {
	type entry struct {
		comp  Compound
		exits []StateID
	}
	var kept []entry
	for _, p := range picks {
		exits := s.m.ExitSet(s.cfg, p.Sources)
		src := s.m.G.Transition(p.Primary()).Source
		winner := primitives.NoTransition
		var replace []int
		for i, k := range kept {
			if !overlaps(exits, k.exits) {
				continue
			}
			ksrc := s.m.G.Transition(k.comp.Primary()).Source
			if src != ksrc && s.m.X.IsDescendant(src, ksrc) {
				replace = append(replace, i)
				continue
			}
			winner = k.comp.Primary()
			break
		}
		if winner != primitives.NoTransition {
			s.sel.Preempted = append(s.sel.Preempted, Preemption{Kept: winner, Dropped: p.Primary()})
			continue
		}
		for n := len(replace) - 1; n >= 0; n-- {
			i := replace[n]
			s.sel.Preempted = append(s.sel.Preempted, Preemption{Kept: p.Primary(), Dropped: kept[i].comp.Primary()})
			kept = slices.Delete(kept, i, i+1)
		}
		kept = append(kept, entry{comp: p, exits: exits})
	}
	for _, k := range kept {
		s.sel.Compounds = append(s.sel.Compounds, k.comp)
	}
}

func overlaps(a, b []StateID) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

// ExitSet lists, in exit order (reverse document order), the active states
// the given first segments leave.
func (m *Model) ExitSet(cfg *Configuration, segs []TransitionID) []StateID {
	var out []StateID
	active := cfg.States()
	for _, tid := range segs {
		sc := m.X.ScopeOf(m.G.Transition(tid))
		for _, s := range active {
			if m.X.Contains(sc, s) && !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	m.X.SortPreorder(out)
	slices.Reverse(out)
	return out
}
