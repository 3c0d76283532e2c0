package semantics

import (
	"errors"
	"fmt"
	"slices"

	"github.com/comalice/hsmkit/internal/ancestry"
	"github.com/comalice/hsmkit/internal/primitives"
)

// ErrChoiceDeadEnd is returned by Hooks.Choose implementations when no branch
// of a choice pseudostate is enabled.
var ErrChoiceDeadEnd = errors.New("no enabled branch at choice")

// Hooks receives the effects of a micro-step in execution order. The engine
// runs actions and manages timers in them; the verifier only tracks
// structure.
type Hooks interface {
	// Exit runs after history was recorded and before s leaves the
	// configuration.
	Exit(s StateID) error
	// Effect runs the actions of a transition segment, including initial
	// and history default transitions.
	Effect(t TransitionID) error
	// Enter runs after s joined the configuration.
	Enter(s StateID) error
	// Choose picks the branch of a dynamic choice.
	Choose(choice StateID, branches []TransitionID) (TransitionID, error)
	// HistoryFallback reports entry through an empty history without a
	// default; target is the region's initial state used instead.
	HistoryFallback(hist, target StateID)
}

// Micro describes one executed compound transition (or initial entry).
type Micro struct {
	Transitions []TransitionID
	Exited      []StateID
	Entered     []StateID
}

type executor struct {
	m     *Model
	cfg   *Configuration
	hist  *HistoryStore
	hooks Hooks
	out   *Micro
}

// Initialize enters the initial configuration from scratch.
func Initialize(m *Model, cfg *Configuration, hist *HistoryStore, hooks Hooks) (*Micro, error) {
	cfg.Clear()
	ex := &executor{m: m, cfg: cfg, hist: hist, hooks: hooks, out: &Micro{}}
	root := ancestry.Scope{State: primitives.Root, Region: primitives.NoRegion}
	if err := ex.descend(primitives.Root, root, nil); err != nil {
		return ex.out, err
	}
	return ex.out, nil
}

// Execute performs one compound transition: exits innermost first, history
// recorded before any exit action, segment actions in order, entries
// outermost first, then default entry of any region left empty.
func Execute(m *Model, cfg *Configuration, hist *HistoryStore, c Compound, hooks Hooks) (*Micro, error) {
	ex := &executor{m: m, cfg: cfg, hist: hist, hooks: hooks, out: &Micro{}}
	segs := c.Sources
	junctions := c.Junctions
	for guard := 0; len(segs) > 0; guard++ {
		if guard > len(m.G.States)+len(m.G.Transitions) {
			return ex.out, fmt.Errorf("pseudostate chain does not terminate at %q", m.Name(m.G.Transition(segs[0]).Source))
		}
		next, err := ex.segment(segs, &junctions)
		if err != nil {
			return ex.out, err
		}
		segs = next
	}
	if err := ex.fill(); err != nil {
		return ex.out, err
	}
	return ex.out, nil
}

// segment runs one group of parallel segments and returns the continuation.
func (ex *executor) segment(segs []TransitionID, junctions *[]TransitionID) ([]TransitionID, error) {
	g := ex.m.G
	if err := ex.exit(ex.m.ExitSet(ex.cfg, segs)); err != nil {
		return nil, err
	}
	for _, tid := range segs {
		ex.out.Transitions = append(ex.out.Transitions, tid)
		if err := ex.hooks.Effect(tid); err != nil {
			return nil, err
		}
	}

	sc := ex.m.X.ScopeOf(g.Transition(segs[0]))
	targets := make([]StateID, len(segs))
	for i, tid := range segs {
		targets[i] = g.Transition(tid).Target
	}
	pseudo := g.State(targets[0])
	if !pseudo.Kind.IsPseudostate() {
		return nil, ex.enter(sc, targets)
	}
	if len(targets) > 1 && pseudo.Kind != primitives.KindJoin {
		return nil, fmt.Errorf("fork %q leads into pseudostate %q", g.StateName(g.Transition(segs[0]).Source), pseudo.Name)
	}

	// An exit point leaves its owner; every other pseudostate is reached by
	// entering the states above it.
	if pseudo.Kind != primitives.KindExitPoint {
		if err := ex.enterPath(sc, pseudo.Parent); err != nil {
			return nil, err
		}
	}

	out := g.Outgoing(pseudo.ID)
	switch pseudo.Kind {
	case primitives.KindJunction:
		if len(*junctions) == 0 {
			return nil, fmt.Errorf("junction %q was not resolved during selection", pseudo.Name)
		}
		next := (*junctions)[0]
		*junctions = (*junctions)[1:]
		return []TransitionID{next}, nil
	case primitives.KindChoice:
		pick, err := ex.hooks.Choose(pseudo.ID, out)
		if err != nil {
			return nil, err
		}
		return []TransitionID{pick}, nil
	case primitives.KindFork:
		return out, nil
	case primitives.KindHistory:
		return ex.restore(pseudo)
	case primitives.KindJoin, primitives.KindEntryPoint, primitives.KindExitPoint:
		if len(out) == 0 {
			return nil, fmt.Errorf("%s %q has no outgoing transition", pseudo.Kind, pseudo.Name)
		}
		return out[:1], nil
	}
	return nil, fmt.Errorf("cannot continue through %s %q", pseudo.Kind, pseudo.Name)
}

// exit leaves states in the given (innermost first) order. History of every
// leaving composite is recorded before the first exit action runs.
func (ex *executor) exit(states []StateID) error {
	for _, s := range states {
		if len(ex.m.Histories(s)) > 0 {
			ex.hist.Record(ex.m, ex.cfg, s)
		}
	}
	for _, s := range states {
		if err := ex.hooks.Exit(s); err != nil {
			return err
		}
		ex.cfg.Remove(s)
		ex.out.Exited = append(ex.out.Exited, s)
	}
	return nil
}

// restore enters a composite through one of its history pseudostates.
func (ex *executor) restore(h *primitives.State) ([]TransitionID, error) {
	owner := h.Parent
	region := ex.m.G.State(owner).Regions[0]
	sc := ancestry.Scope{State: owner, Region: region}
	if rec, ok := ex.hist.Get(h.ID); ok && len(rec) > 0 {
		return nil, ex.enter(sc, rec)
	}
	if def, ok := ex.m.G.HistoryDefault(h.ID); ok {
		return []TransitionID{def.ID}, nil
	}
	if it, ok := ex.m.G.InitialTransition(region); ok {
		ex.hooks.HistoryFallback(h.ID, it.Target)
	}
	return nil, ex.enter(sc, nil)
}

// enterPath enters the states from just below the scope down to anchor,
// without completing their regions.
func (ex *executor) enterPath(sc ancestry.Scope, anchor StateID) error {
	if sc.Empty || !ex.m.X.IsDescendant(anchor, sc.State) {
		return nil
	}
	for _, s := range ex.m.X.EntryPath(sc, anchor) {
		if err := ex.activate(s); err != nil {
			return err
		}
	}
	return nil
}

// enter makes every target active, entering the states on the way from the
// scope and default-entering every region not on an explicit path.
func (ex *executor) enter(sc ancestry.Scope, targets []StateID) error {
	if sc.Empty {
		return nil
	}
	path := map[StateID]bool{}
	for _, t := range targets {
		for _, s := range ex.m.X.EntryPath(sc, t) {
			path[s] = true
		}
	}
	return ex.descend(sc.State, sc, path)
}

func (ex *executor) descend(s StateID, sc ancestry.Scope, path map[StateID]bool) error {
	if err := ex.activate(s); err != nil {
		return err
	}
	for _, r := range ex.m.X.Regions(s) {
		if s == sc.State && sc.Region != primitives.NoRegion && r != sc.Region {
			continue
		}
		next := primitives.NoState
		for _, c := range ex.m.G.Region(r).States {
			if path[c] {
				next = c
				break
			}
		}
		if next != primitives.NoState {
			if err := ex.descend(next, sc, path); err != nil {
				return err
			}
			continue
		}
		if ex.cfg.ActiveIn(r) != primitives.NoState {
			continue
		}
		if err := ex.defaultEnter(r, sc, path); err != nil {
			return err
		}
	}
	return nil
}

func (ex *executor) defaultEnter(r RegionID, sc ancestry.Scope, path map[StateID]bool) error {
	it, ok := ex.m.G.InitialTransition(r)
	if !ok {
		return fmt.Errorf("region %q has no initial transition", ex.m.G.Region(r).Name)
	}
	if err := ex.hooks.Effect(it.ID); err != nil {
		return err
	}
	return ex.descend(it.Target, sc, path)
}

func (ex *executor) activate(s StateID) error {
	if ex.cfg.Active(s) {
		return nil
	}
	ex.cfg.Add(s)
	if s == primitives.Root {
		return nil
	}
	ex.out.Entered = append(ex.out.Entered, s)
	return ex.hooks.Enter(s)
}

// fill default-enters every region of an active state that has no active
// child, which happens when a path was entered towards a pseudostate.
func (ex *executor) fill() error {
	for _, s := range ex.cfg.States() {
		for _, r := range ex.m.X.Regions(s) {
			if ex.cfg.ActiveIn(r) != primitives.NoState {
				continue
			}
			sc := ancestry.Scope{State: s, Region: r}
			if err := ex.defaultEnter(r, sc, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Completed returns, in document order, the states whose completion is
// announced after the given states were entered: simple states with
// completion transitions, and composite or parallel states all of whose
// regions now rest in a final state.
func Completed(m *Model, cfg *Configuration, entered []StateID) []StateID {
	var out []StateID
	add := func(s StateID) {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	for _, s := range entered {
		st := m.G.State(s)
		switch st.Kind {
		case primitives.KindSimple:
			if m.HasCompletion(s) {
				add(s)
			}
		case primitives.KindFinal:
			if st.Parent != primitives.Root && allFinal(m, cfg, st.Parent) {
				add(st.Parent)
			}
		}
	}
	m.X.SortPreorder(out)
	return out
}

func allFinal(m *Model, cfg *Configuration, s StateID) bool {
	for _, r := range m.G.State(s).Regions {
		c := cfg.ActiveIn(r)
		if c == primitives.NoState || m.G.State(c).Kind != primitives.KindFinal {
			return false
		}
	}
	return true
}

// HasCompletion reports whether s has an outgoing completion transition.
func (m *Model) HasCompletion(s StateID) bool {
	for _, tid := range m.G.Outgoing(s) {
		if m.G.Transition(tid).Trigger.Kind == primitives.TriggerNone {
			return true
		}
	}
	return false
}
