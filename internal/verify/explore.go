package verify

import (
	"errors"
	"fmt"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/semantics"
)

type StateID = primitives.StateID

// node is one abstract state: a configuration plus history slots. Context
// fields are always unknown, so they are not part of it.
type node struct {
	cfg  *semantics.Configuration
	hist *semantics.HistoryStore
}

func (n node) key() string { return n.cfg.Key() + "|" + n.hist.Key() }

func (n node) clone() node { return node{cfg: n.cfg.Clone(), hist: n.hist.Clone()} }

// coverage accumulates what exploration saw.
type coverage struct {
	active     map[StateID]bool
	targeted   map[StateID]bool
	undeferred map[string]bool
	fallbacks  map[StateID]bool
	preempt    map[semantics.Preemption]bool
}

// explore enumerates abstract states breadth first from the initial
// configuration. Every named event, every timer of an active state and the
// pending completion event are tried in each state; unknown guards are
// enumerated both ways and every possible choice branch is followed.
func (v *verifier) explore() {
	cov := &coverage{
		active:     map[StateID]bool{},
		targeted:   map[StateID]bool{},
		undeferred: map[string]bool{},
		fallbacks:  map[StateID]bool{},
		preempt:    map[semantics.Preemption]bool{},
	}
	start := node{cfg: semantics.NewConfiguration(v.m), hist: semantics.NewHistoryStore()}
	initial := v.outcomes(start, cov, func(n node, h *exploreHooks) error {
		_, err := semantics.Initialize(v.m, n.cfg, n.hist, h)
		return err
	})

	seen := map[string]bool{}
	var queue []node
	push := func(n node) bool {
		k := n.key()
		if seen[k] {
			return true
		}
		if len(seen) >= v.maxStates {
			return false
		}
		seen[k] = true
		queue = append(queue, n)
		return true
	}
	truncated := false
	for _, n := range initial {
		truncated = !push(n) || truncated
	}
	for len(queue) > 0 && !truncated {
		n := queue[0]
		queue = queue[1:]
		v.observe(n, cov)
		for _, ev := range v.stimuli(n) {
			for _, succ := range v.successors(n, ev, cov) {
				if !push(succ) {
					truncated = true
					break
				}
			}
			if truncated {
				break
			}
		}
	}
	v.report.Configurations = len(seen)
	v.report.Truncated = truncated

	v.reportPreemptions(cov)
	if truncated {
		v.report.add(Diagnostic{
			Code:     CodeStateSpaceTruncated,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("exploration stopped after %d configurations; reachability checks skipped", v.maxStates),
		})
		return
	}
	v.reachability(cov)
}

func (v *verifier) observe(n node, cov *coverage) {
	for _, s := range n.cfg.States() {
		cov.active[s] = true
	}
	for _, name := range v.g.Events() {
		if cov.undeferred[name] {
			continue
		}
		ev := primitives.NewEvent(name, nil)
		if v.holder(n.cfg, &ev) == primitives.NoState {
			cov.undeferred[name] = true
		}
	}
}

func (v *verifier) holder(cfg *semantics.Configuration, ev *primitives.Event) StateID {
	active := cfg.States()
	for i := len(active) - 1; i >= 0; i-- {
		if v.g.State(active[i]).DefersEvent(ev.Name) {
			return active[i]
		}
	}
	return primitives.NoState
}

func (v *verifier) stimuli(n node) []primitives.Event {
	var out []primitives.Event
	for _, name := range v.g.Events() {
		out = append(out, primitives.NewEvent(name, nil))
	}
	for _, s := range n.cfg.States() {
		for _, tid := range v.g.State(s).Timers {
			out = append(out, primitives.NewTimerEvent(v.g.Timer(tid)))
		}
	}
	var done []StateID
	for _, s := range semantics.Completed(v.m, n.cfg, n.cfg.States()) {
		if v.m.HasCompletion(s) {
			done = append(done, s)
		}
	}
	if len(done) > 0 {
		out = append(out, primitives.NewCompletionEvent(done))
	}
	return out
}

// successors runs Select under every assignment of the unknown guards it
// consults, then executes each resulting selection. A selection that only
// arms a join still yields a successor carrying the new join progress.
func (v *verifier) successors(n node, ev primitives.Event, cov *coverage) []node {
	var out []node
	o := &symbolicOracle{v: v, cfg: n.cfg, assigned: map[primitives.TransitionID]bool{}}
	for {
		sel, err := semantics.Select(v.m, n.cfg, &ev, o)
		if err != nil {
			v.log.Debug("selection failed", "event", ev.Name, "error", err)
		} else {
			for _, c := range sel.Conflicts {
				v.conflict(c.State, v.g.Transition(c.A), v.g.Transition(c.B))
			}
			for _, p := range sel.Preempted {
				cov.preempt[p] = true
			}
			if !sel.Idle() {
				out = append(out, v.outcomes(n, cov, func(m node, h *exploreHooks) error {
					for _, c := range sel.Compounds {
						if _, err := semantics.Execute(v.m, m.cfg, m.hist, c, h); err != nil {
							return err
						}
					}
					m.cfg.SettleJoins(sel.Joins)
					return nil
				})...)
			}
		}
		if !o.next() {
			return out
		}
	}
}

// outcomes runs fn on a copy of n once per combination of choice decisions.
func (v *verifier) outcomes(n node, cov *coverage, fn func(node, *exploreHooks) error) []node {
	var out []node
	h := &exploreHooks{v: v, cov: cov}
	for {
		m := n.clone()
		h.reset(m.cfg)
		switch err := fn(m, h); {
		case err == nil:
			out = append(out, m)
		case !errors.Is(err, semantics.ErrChoiceDeadEnd):
			v.log.Debug("execution failed", "configuration", n.cfg.String(), "error", err)
		}
		if !h.next() {
			return out
		}
	}
}

// symbolicOracle answers guards from the abstract configuration. Guards that
// stay unknown are assigned true first, then false, depth first.
type symbolicOracle struct {
	v        *verifier
	cfg      *semantics.Configuration
	assigned map[primitives.TransitionID]bool
	stack    []primitives.TransitionID
}

func (o *symbolicOracle) Guard(t *primitives.Transition, _ *primitives.Event) (expr.Verdict, error) {
	vd := o.v.verdict(t, o.cfg)
	if vd != expr.Maybe {
		return vd, nil
	}
	if b, ok := o.assigned[t.ID]; ok {
		if b {
			return expr.Always, nil
		}
		return expr.Never, nil
	}
	if len(o.stack) >= o.v.maxGuards {
		return expr.Maybe, nil
	}
	o.assigned[t.ID] = true
	o.stack = append(o.stack, t.ID)
	return expr.Always, nil
}

func (o *symbolicOracle) Disjoint(a, b *primitives.Transition) bool { return o.v.disjoint(a, b) }

// next flips the deepest guard still assigned true and forgets the ones
// after it. It reports false once every assignment was tried.
func (o *symbolicOracle) next() bool {
	for len(o.stack) > 0 {
		top := o.stack[len(o.stack)-1]
		if o.assigned[top] {
			o.assigned[top] = false
			return true
		}
		delete(o.assigned, top)
		o.stack = o.stack[:len(o.stack)-1]
	}
	return false
}

// exploreHooks tracks structure during abstract execution. Choice decisions
// follow a script that next advances like an odometer.
type exploreHooks struct {
	v   *verifier
	cov *coverage
	cfg *semantics.Configuration

	script []int
	width  []int
	pos    int
}

func (h *exploreHooks) reset(cfg *semantics.Configuration) {
	h.cfg = cfg
	h.pos = 0
}

func (h *exploreHooks) next() bool {
	h.script = h.script[:h.pos]
	h.width = h.width[:h.pos]
	for i := len(h.script) - 1; i >= 0; i-- {
		if h.script[i]+1 < h.width[i] {
			h.script[i]++
			h.script = h.script[:i+1]
			h.width = h.width[:i+1]
			return true
		}
	}
	return false
}

func (h *exploreHooks) Exit(StateID) error { return nil }

func (h *exploreHooks) Effect(t primitives.TransitionID) error {
	h.cov.targeted[h.v.g.Transition(t).Target] = true
	return nil
}

func (h *exploreHooks) Enter(StateID) error { return nil }

func (h *exploreHooks) Choose(choice StateID, branches []primitives.TransitionID) (primitives.TransitionID, error) {
	var possible []primitives.TransitionID
	for _, tid := range branches {
		vd := h.v.verdict(h.v.g.Transition(tid), h.cfg)
		if vd.Possible() {
			possible = append(possible, tid)
		}
		if vd == expr.Always {
			break
		}
	}
	if len(possible) == 0 {
		return primitives.NoTransition, fmt.Errorf("%w %q", semantics.ErrChoiceDeadEnd, h.v.g.StateName(choice))
	}
	if h.pos == len(h.script) {
		h.script = append(h.script, 0)
		h.width = append(h.width, len(possible))
	}
	pick := possible[min(h.script[h.pos], len(possible)-1)]
	h.pos++
	return pick, nil
}

func (h *exploreHooks) HistoryFallback(hist, _ StateID) {
	h.cov.fallbacks[hist] = true
}

func (v *verifier) reportPreemptions(cov *coverage) {
	for p := range cov.preempt {
		kept, dropped := v.g.Transition(p.Kept), v.g.Transition(p.Dropped)
		v.report.add(Diagnostic{
			Code:     CodeRegionConflict,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("transition %q preempts %q: both leave a common state", kept.Name, dropped.Name),
			Loc:      dropped.Loc,
			Related:  []primitives.Location{kept.Loc},
			Subjects: []string{kept.Name, dropped.Name},
		})
	}
	for h := range cov.fallbacks {
		st := v.g.State(h)
		v.report.add(Diagnostic{
			Code:     CodeHistoryWithoutDefault,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("history %q can be entered before %q was ever exited and has no default transition", st.Name, v.g.StateName(st.Parent)),
			Loc:      st.Loc,
			Subjects: []string{st.Name},
		})
	}
}

func (v *verifier) reachability(cov *coverage) {
	g := v.g
	for i := range g.States {
		st := &g.States[i]
		if st.ID == primitives.Root {
			continue
		}
		switch {
		case st.Kind == primitives.KindHistory:
			if !cov.targeted[st.ID] {
				v.report.add(Diagnostic{
					Code:     CodeUnreachableHistory,
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("history %q is never entered", st.Name),
					Loc:      st.Loc,
					Subjects: []string{st.Name},
				})
			}
		case st.Kind == primitives.KindInitial:
		case st.Kind.IsPseudostate():
			if !cov.targeted[st.ID] {
				v.unreachable(st)
			}
		default:
			if !cov.active[st.ID] {
				v.unreachable(st)
			}
		}
	}
	for _, name := range g.Events() {
		if cov.undeferred[name] || !v.deferredAnywhere(name) {
			continue
		}
		v.report.add(Diagnostic{
			Code:     CodePermanentlyDeferredEvent,
			Severity: SeverityError,
			Message:  fmt.Sprintf("event %s is deferred in every reachable configuration", name),
			Loc:      v.firstDeferrer(name),
			Subjects: []string{name},
		})
	}
}

func (v *verifier) unreachable(st *primitives.State) {
	v.report.add(Diagnostic{
		Code:     CodeUnreachableState,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("%s %q is unreachable", st.Kind, st.Name),
		Loc:      st.Loc,
		Subjects: []string{st.Name},
	})
}

func (v *verifier) deferredAnywhere(name string) bool {
	for i := range v.g.States {
		if v.g.States[i].DefersEvent(name) {
			return true
		}
	}
	return false
}

func (v *verifier) firstDeferrer(name string) primitives.Location {
	for i := range v.g.States {
		if v.g.States[i].DefersEvent(name) {
			return v.g.States[i].Loc
		}
	}
	return primitives.Location{}
}
