package primitives

import (
	"strconv"

	"github.com/zclconf/go-cty/cty"
)

// MachineBuilder assembles a Graph fluently. Containers are opened with
// Compound, Parallel or Submachine and closed with Up; states declared in
// between become their children.
//
//	b := NewMachineBuilder("light")
//	b.Atomic("Red").After("t", 30000)
//	b.Atomic("Green")
//	b.Transition("Red", "Green").OnTimer("t")
//	g, err := b.Build()
//
// The first non-pseudostate child of a region is its initial state unless
// WithInitial says otherwise.
type MachineBuilder struct {
	name        string
	version     int
	states      []*stateDraft
	regions     []*regionDraft
	transitions []*TransitionBuilder
	timers      []*timerDraft
	fields      []Field
	byName      map[string]int
	stack       []frame
	err         ValidationError
}

type frame struct {
	state  int
	region int // -1 while a parallel state has no open region
}

type stateDraft struct {
	name       string
	kind       Kind
	parent     int
	region     int
	regions    []int
	entry      []Stmt
	exit       []Stmt
	defers     []string
	history    HistoryDepth
	submachine string
	loc        Location
}

type regionDraft struct {
	name       string
	owner      int
	states     []int
	initial    string
	initialDo  []Stmt
	initialLoc Location
	rank       int
	loc        Location
}

type timerDraft struct {
	owner  int
	name   string
	kind   TimerKind
	period int64
	loc    Location
}

// NewMachineBuilder creates a builder whose root region is open.
func NewMachineBuilder(name string) *MachineBuilder {
	b := &MachineBuilder{name: name, version: FormatVersion, byName: map[string]int{}}
	b.states = append(b.states, &stateDraft{name: RootName, kind: KindComposite, parent: -1, region: -1})
	b.byName[RootName] = 0
	b.regions = append(b.regions, &regionDraft{name: name, owner: 0})
	b.states[0].regions = []int{0}
	b.stack = []frame{{state: 0, region: 0}}
	return b
}

// Version overrides the graph format version.
func (b *MachineBuilder) Version(v int) *MachineBuilder {
	b.version = v
	return b
}

// Field declares a context field. A NilVal default becomes the zero value of
// the type.
func (b *MachineBuilder) Field(name string, typ cty.Type, def cty.Value) *MachineBuilder {
	if def == cty.NilVal && typ != cty.NilType {
		def = ZeroValue(typ)
	}
	b.fields = append(b.fields, Field{Name: name, Type: typ, Default: def})
	return b
}

// FieldAt is Field with a source location.
func (b *MachineBuilder) FieldAt(name string, typ cty.Type, def cty.Value, loc Location) *MachineBuilder {
	b.Field(name, typ, def)
	b.fields[len(b.fields)-1].Loc = loc
	return b
}

func (b *MachineBuilder) top() *frame { return &b.stack[len(b.stack)-1] }

func (b *MachineBuilder) add(name string, kind Kind) *StateBuilder {
	f := b.top()
	d := &stateDraft{name: name, kind: kind, parent: f.state, region: f.region}
	idx := len(b.states)
	if _, dup := b.byName[name]; dup {
		b.err.Add(IssueDuplicateName, Location{}, "state %q declared twice", name)
	} else {
		b.byName[name] = idx
	}
	b.states = append(b.states, d)
	switch {
	case kind == KindEntryPoint || kind == KindExitPoint:
		d.region = -1
		if f.state == 0 {
			b.err.Add(IssueBoundaryShape, Location{}, "%s %q must be declared inside a composite state", kind, name)
		}
	case f.region < 0:
		b.err.Add(IssueInvalidParent, Location{}, "state %q declared in parallel %q before any Region", name, b.states[f.state].name)
	default:
		b.regions[f.region].states = append(b.regions[f.region].states, idx)
	}
	return &StateBuilder{mb: b, idx: idx}
}

func (b *MachineBuilder) push(sb *StateBuilder, withRegion bool) *StateBuilder {
	fr := frame{state: sb.idx, region: -1}
	if withRegion {
		fr.region = b.newRegion(sb.idx, b.states[sb.idx].name)
	}
	b.stack = append(b.stack, fr)
	return sb
}

func (b *MachineBuilder) newRegion(owner int, name string) int {
	r := len(b.regions)
	rank := len(b.states[owner].regions)
	b.regions = append(b.regions, &regionDraft{name: name, owner: owner, rank: rank})
	b.states[owner].regions = append(b.states[owner].regions, r)
	return r
}

// Atomic declares a simple state in the open region.
func (b *MachineBuilder) Atomic(name string) *StateBuilder { return b.add(name, KindSimple) }

// State is sugar for Atomic.
func (b *MachineBuilder) State(name string) *StateBuilder { return b.Atomic(name) }

// Final declares a final state.
func (b *MachineBuilder) Final(name string) *StateBuilder { return b.add(name, KindFinal) }

// Compound declares a composite state and opens its region.
func (b *MachineBuilder) Compound(name string) *StateBuilder {
	return b.push(b.add(name, KindComposite), true)
}

// Submachine declares a submachine reference whose inlined body follows,
// and opens its region.
func (b *MachineBuilder) Submachine(name, machine string) *StateBuilder {
	sb := b.add(name, KindSubmachineRef)
	b.states[sb.idx].submachine = machine
	return b.push(sb, true)
}

// Parallel declares a parallel state. Its regions are opened with Region.
func (b *MachineBuilder) Parallel(name string) *StateBuilder {
	return b.push(b.add(name, KindParallel), false)
}

// Region opens the next region of the innermost open parallel state.
func (b *MachineBuilder) Region(name string) *MachineBuilder {
	f := b.top()
	if b.states[f.state].kind != KindParallel {
		b.err.Add(IssueRegionCount, Location{}, "region %q declared outside a parallel state", name)
		return b
	}
	f.region = b.newRegion(f.state, name)
	return b
}

// Rank overrides the dispatch rank of the open region.
func (b *MachineBuilder) Rank(rank int) *MachineBuilder {
	if f := b.top(); f.region >= 0 {
		b.regions[f.region].rank = rank
	}
	return b
}

// Choice declares a dynamic choice pseudostate.
func (b *MachineBuilder) Choice(name string) *StateBuilder { return b.add(name, KindChoice) }

// Junction declares a static junction pseudostate.
func (b *MachineBuilder) Junction(name string) *StateBuilder { return b.add(name, KindJunction) }

// Fork declares a fork pseudostate.
func (b *MachineBuilder) Fork(name string) *StateBuilder { return b.add(name, KindFork) }

// Join declares a join pseudostate.
func (b *MachineBuilder) Join(name string) *StateBuilder { return b.add(name, KindJoin) }

// History declares a history pseudostate of the open composite.
func (b *MachineBuilder) History(name string, depth HistoryDepth) *StateBuilder {
	sb := b.add(name, KindHistory)
	b.states[sb.idx].history = depth
	return sb
}

// EntryPoint declares an entry point on the boundary of the open composite.
func (b *MachineBuilder) EntryPoint(name string) *StateBuilder { return b.add(name, KindEntryPoint) }

// ExitPoint declares an exit point on the boundary of the open composite.
func (b *MachineBuilder) ExitPoint(name string) *StateBuilder { return b.add(name, KindExitPoint) }

// WithInitial names the initial state of the open region; actions run on the
// initial transition.
func (b *MachineBuilder) WithInitial(target string, actions ...Stmt) *MachineBuilder {
	if f := b.top(); f.region >= 0 {
		r := b.regions[f.region]
		r.initial, r.initialDo = target, actions
	}
	return b
}

// Up closes the innermost open container.
func (b *MachineBuilder) Up() *MachineBuilder {
	if len(b.stack) > 1 {
		b.stack = b.stack[:len(b.stack)-1]
	}
	return b
}

// Transition declares a transition between two named states. Without a
// trigger it is a completion transition (or a pseudostate segment).
func (b *MachineBuilder) Transition(source, target string) *TransitionBuilder {
	tb := &TransitionBuilder{source: source, target: target}
	b.transitions = append(b.transitions, tb)
	return tb
}

// StateBuilder configures one declared state.
type StateBuilder struct {
	mb  *MachineBuilder
	idx int
}

// Name returns the state name.
func (sb *StateBuilder) Name() string { return sb.mb.states[sb.idx].name }

// OnEntry appends entry actions.
func (sb *StateBuilder) OnEntry(stmts ...Stmt) *StateBuilder {
	d := sb.mb.states[sb.idx]
	d.entry = append(d.entry, stmts...)
	return sb
}

// OnExit appends exit actions.
func (sb *StateBuilder) OnExit(stmts ...Stmt) *StateBuilder {
	d := sb.mb.states[sb.idx]
	d.exit = append(d.exit, stmts...)
	return sb
}

// Defer adds events this state defers.
func (sb *StateBuilder) Defer(events ...string) *StateBuilder {
	d := sb.mb.states[sb.idx]
	d.defers = append(d.defers, events...)
	return sb
}

// After declares a one-shot timer owned by this state.
func (sb *StateBuilder) After(timer string, ms int64) *StateBuilder {
	sb.mb.timers = append(sb.mb.timers, &timerDraft{owner: sb.idx, name: timer, kind: TimerAfter, period: ms})
	return sb
}

// Every declares a periodic timer owned by this state.
func (sb *StateBuilder) Every(timer string, ms int64) *StateBuilder {
	sb.mb.timers = append(sb.mb.timers, &timerDraft{owner: sb.idx, name: timer, kind: TimerEvery, period: ms})
	return sb
}

// TimerAt sets the location of the most recently declared timer.
func (sb *StateBuilder) TimerAt(loc Location) *StateBuilder {
	if n := len(sb.mb.timers); n > 0 {
		sb.mb.timers[n-1].loc = loc
	}
	return sb
}

// At records the source location of the state.
func (sb *StateBuilder) At(loc Location) *StateBuilder {
	sb.mb.states[sb.idx].loc = loc
	return sb
}

// On declares an event-triggered transition from this state.
func (sb *StateBuilder) On(event, target string) *TransitionBuilder {
	return sb.mb.Transition(sb.Name(), target).On(event)
}

// OnTimer declares a timer-triggered transition from this state.
func (sb *StateBuilder) OnTimer(timer, target string) *TransitionBuilder {
	return sb.mb.Transition(sb.Name(), target).OnTimer(timer)
}

// To declares a trigger-less transition from this state: a completion
// transition, or a branch of a pseudostate.
func (sb *StateBuilder) To(target string) *TransitionBuilder {
	return sb.mb.Transition(sb.Name(), target)
}

// Up closes the innermost open container.
func (sb *StateBuilder) Up() *MachineBuilder { return sb.mb.Up() }

// TransitionBuilder configures one declared transition.
type TransitionBuilder struct {
	source, target string
	trigger        TriggerKind
	event, timer   string
	guard          Expr
	actions        []Stmt
	priority       int
	internal       bool
	name           string
	loc            Location
}

// On sets an event trigger.
func (tb *TransitionBuilder) On(event string) *TransitionBuilder {
	tb.trigger, tb.event = TriggerEvent, event
	return tb
}

// OnTimer sets a timer trigger; the timer is looked up on the source state
// and its ancestors.
func (tb *TransitionBuilder) OnTimer(timer string) *TransitionBuilder {
	tb.trigger, tb.timer = TriggerTimer, timer
	return tb
}

// When sets the guard.
func (tb *TransitionBuilder) When(guard Expr) *TransitionBuilder {
	tb.guard = guard
	return tb
}

// Do appends transition actions.
func (tb *TransitionBuilder) Do(stmts ...Stmt) *TransitionBuilder {
	tb.actions = append(tb.actions, stmts...)
	return tb
}

// Priority sets the priority; lower wins.
func (tb *TransitionBuilder) Priority(p int) *TransitionBuilder {
	tb.priority = p
	return tb
}

// Internal marks the transition internal.
func (tb *TransitionBuilder) Internal() *TransitionBuilder {
	tb.internal = true
	return tb
}

// Named overrides the generated transition name.
func (tb *TransitionBuilder) Named(name string) *TransitionBuilder {
	tb.name = name
	return tb
}

// At records the source location.
func (tb *TransitionBuilder) At(loc Location) *TransitionBuilder {
	tb.loc = loc
	return tb
}

// Build resolves names, synthesizes initial pseudostates and validates the
// graph. The returned error is a *ValidationError.
func (b *MachineBuilder) Build() (*Graph, error) {
	g := &Graph{Version: b.version, Name: b.name, Fields: append([]Field(nil), b.fields...)}
	verr := &ValidationError{Issues: append([]ValidationIssue(nil), b.err.Issues...)}

	for i, d := range b.states {
		g.States = append(g.States, State{
			ID:           StateID(i),
			Name:         d.name,
			Kind:         d.kind,
			Parent:       StateID(d.parent),
			ParentRegion: RegionID(d.region),
			Entry:        d.entry,
			Exit:         d.exit,
			Defers:       d.defers,
			History:      d.history,
			Submachine:   d.submachine,
			Loc:          d.loc,
		})
		for _, r := range d.regions {
			g.States[i].Regions = append(g.States[i].Regions, RegionID(r))
		}
	}
	for i, t := range b.timers {
		g.Timers = append(g.Timers, Timer{ID: TimerID(i), Name: t.name, Owner: StateID(t.owner), Kind: t.kind, Period: t.period, Loc: t.loc})
		g.States[t.owner].Timers = append(g.States[t.owner].Timers, TimerID(i))
	}

	resolve := func(name string, loc Location) StateID {
		if id, ok := b.byName[name]; ok {
			return StateID(id)
		}
		verr.Add(IssueUnknownState, loc, "unknown state %q", name)
		return NoState
	}
	for _, tb := range b.transitions {
		t := Transition{
			ID:       TransitionID(len(g.Transitions)),
			Name:     tb.name,
			Source:   resolve(tb.source, tb.loc),
			Target:   resolve(tb.target, tb.loc),
			Trigger:  Trigger{Kind: tb.trigger, Event: tb.event, Timer: NoTimer},
			Guard:    tb.guard,
			Actions:  tb.actions,
			Priority: tb.priority,
			Internal: tb.internal,
			Order:    len(g.Transitions),
			Loc:      tb.loc,
		}
		if tb.trigger == TriggerTimer && t.Source != NoState {
			tid, ok := g.TimerByName(t.Source, tb.timer)
			if !ok {
				verr.Add(IssueInvalidTimer, tb.loc, "timer %q is not owned by %q or an ancestor", tb.timer, tb.source)
			}
			t.Trigger.Timer = tid
		}
		g.Transitions = append(g.Transitions, t)
	}

	// Initial pseudostates and their transitions come last so that user
	// declaration order is preserved in IDs.
	for i, rd := range b.regions {
		owner := &g.States[rd.owner]
		init := StateID(len(g.States))
		g.States = append(g.States, State{
			ID:           init,
			Name:         "$initial:" + owner.Name + ":" + rd.name,
			Kind:         KindInitial,
			Parent:       owner.ID,
			ParentRegion: RegionID(i),
			Loc:          rd.initialLoc,
		})
		region := Region{ID: RegionID(i), Name: rd.name, Owner: owner.ID, Initial: init, Rank: rd.rank, Loc: rd.loc}
		region.States = append(region.States, init)
		for _, s := range rd.states {
			region.States = append(region.States, StateID(s))
		}
		g.Regions = append(g.Regions, region)

		target := NoState
		if rd.initial != "" {
			target = resolve(rd.initial, rd.initialLoc)
		} else {
			for _, s := range rd.states {
				if !b.states[s].kind.IsPseudostate() {
					target = StateID(s)
					break
				}
			}
		}
		if target == NoState {
			if rd.initial == "" {
				verr.Add(IssueMissingInitial, rd.loc, "region %q of %q has no state to start in", rd.name, owner.Name)
			}
			continue
		}
		g.Transitions = append(g.Transitions, Transition{
			ID:      TransitionID(len(g.Transitions)),
			Source:  init,
			Target:  target,
			Trigger: Trigger{Timer: NoTimer},
			Actions: rd.initialDo,
			Order:   len(g.Transitions),
			Loc:     rd.initialLoc,
		})
	}

	if verr.HasIssues() {
		return nil, verr
	}
	g.Finalize()
	nameTransitions(g)
	if err := Validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

// MustBuild is Build for statically known graphs; it panics on error.
func (b *MachineBuilder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

func nameTransitions(g *Graph) {
	used := map[string]int{}
	for i := range g.Transitions {
		t := &g.Transitions[i]
		if t.Name == "" {
			t.Name = g.defaultTransitionName(t)
		}
		used[t.Name]++
		if n := used[t.Name]; n > 1 {
			t.Name += "#" + strconv.Itoa(n)
		}
	}
}

// ZeroValue returns the value a field of type t holds when no default is
// declared.
func ZeroValue(t cty.Type) cty.Value {
	switch {
	case t == cty.Number:
		return cty.Zero
	case t == cty.String:
		return cty.StringVal("")
	case t == cty.Bool:
		return cty.False
	case t.IsListType():
		return cty.ListValEmpty(t.ElementType())
	case t.IsMapType():
		return cty.MapValEmpty(t.ElementType())
	case t.IsSetType():
		return cty.SetValEmpty(t.ElementType())
	}
	return cty.NullVal(t)
}

// SetLocation attaches a location to the region opened most recently.
func (b *MachineBuilder) SetLocation(loc Location) *MachineBuilder {
	if f := b.top(); f.region >= 0 {
		b.regions[f.region].loc = loc
	}
	return b
}
