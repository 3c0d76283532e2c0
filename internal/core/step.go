package core

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/semantics"
)

// run processes queued events until both queues are empty, the instance
// pauses, or an error occurs. Internal events always go first; an external
// event is only taken at a macro-step boundary, which is also the only place
// a pending breakpoint pauses.
func (e *Engine) run() error {
	for e.status == StatusRunning {
		ev, ok := e.internal.Pop()
		if ok {
			if ev.Kind == primitives.EventCompletion {
				if e.completions >= e.maxCompletion {
					return fmt.Errorf("%w: %d consecutive completion events", ErrCompletionDepth, e.completions)
				}
				e.completions++
			}
		} else {
			if e.pause != nil {
				e.enterPause(*e.pause)
				return nil
			}
			next, ok := e.external.Peek()
			if !ok {
				return nil
			}
			if next.Seq == e.heldAt {
				e.heldAt = 0
			} else if bp, hit := e.breakBefore(&next); hit {
				e.heldAt = next.Seq
				e.enterPause(bp)
				return nil
			}
			e.external.Pop()
			ev = next
			e.completions = 0
		}
		if err := e.step(ev); err != nil {
			return err
		}
	}
	return nil
}

// advance fires due timers up to the tick target, draining the queues
// before each one.
func (e *Engine) advance() error {
	for {
		if err := e.run(); err != nil || e.status != StatusRunning {
			return err
		}
		ti, ok := e.timers.next(e.tickTarget)
		if !ok {
			e.now = e.tickTarget
			e.ticking = false
			return nil
		}
		e.now = ti.due
		e.timers.fire(ti)
		if err := e.enqueue(e.external, primitives.NewTimerEvent(e.g.Timer(ti.id)), false); err != nil {
			return err
		}
	}
}

func (e *Engine) enterPause(bp Breakpoint) {
	e.pause = nil
	e.status = StatusPaused
	cfg := e.cfg.Names()
	e.emit(StepRecord{Kind: StepPaused, Before: cfg, After: cfg, Notes: []string{bp.String()}})
	e.log.Info("paused at breakpoint", "breakpoint", bp.String())
}

// step is one run-to-completion step for ev.
func (e *Engine) step(ev primitives.Event) error {
	rec := StepRecord{
		Kind:      StepTransition,
		Event:     ev.Name,
		EventKind: ev.Kind.String(),
		Before:    e.cfg.Names(),
	}
	sel, err := semantics.Select(e.m, e.cfg, &ev, oracle{e})
	if err != nil {
		return err
	}

	if sel.Empty() && len(sel.Armed) > 0 {
		e.cfg.SettleJoins(sel.Joins)
		rec.After = rec.Before
		for _, j := range sel.Armed {
			rec.Notes = append(rec.Notes, fmt.Sprintf("join %s armed %b", e.g.StateName(j), e.cfg.JoinMask(j)))
		}
		e.emit(rec)
		return nil
	}
	if sel.Empty() {
		rec.After = rec.Before
		if holder := e.deferrer(&ev); holder != primitives.NoState {
			rec.Kind = StepDeferred
			rec.Notes = []string{"held by " + e.g.StateName(holder)}
			if err := e.hold(holder, ev); err != nil {
				return err
			}
		} else {
			rec.Kind = StepDiscarded
		}
		e.emit(rec)
		return nil
	}

	h := &stepHooks{e: e, ev: &ev, rec: &rec}
	var exited, entered []StateID
	for _, c := range sel.Compounds {
		micro, err := semantics.Execute(e.m, e.cfg, e.hist, c, h)
		if err != nil {
			return err
		}
		for _, t := range micro.Transitions {
			rec.Transitions = append(rec.Transitions, e.g.Transition(t).Name)
		}
		exited = append(exited, micro.Exited...)
		entered = append(entered, micro.Entered...)
	}
	e.cfg.SettleJoins(sel.Joins)
	rec.Exited = e.g.Names(exited)
	rec.Entered = e.g.Names(entered)
	rec.After = e.cfg.Names()
	e.emit(rec)
	if err := e.checkConfiguration(); err != nil {
		return err
	}
	if bp, hit := e.breakAfter(&rec); hit && e.pause == nil {
		e.pause = &bp
	}
	return e.settle(entered, exited)
}

// settle queues the completion event for the states just completed and
// releases deferred events whose holders were exited.
func (e *Engine) settle(entered, exited []StateID) error {
	var done []StateID
	for _, s := range semantics.Completed(e.m, e.cfg, entered) {
		if e.m.HasCompletion(s) {
			done = append(done, s)
		}
	}
	if len(done) > 0 {
		if err := e.enqueue(e.internal, primitives.NewCompletionEvent(done), true); err != nil {
			return err
		}
	}
	return e.release(exited)
}

// deferrer returns the innermost active state deferring ev, or NoState.
func (e *Engine) deferrer(ev *primitives.Event) StateID {
	if !ev.Deferrable() {
		return primitives.NoState
	}
	active := e.cfg.States()
	for i := len(active) - 1; i >= 0; i-- {
		if e.g.State(active[i]).DefersEvent(ev.Name) {
			return active[i]
		}
	}
	return primitives.NoState
}

func (e *Engine) hold(holder StateID, ev primitives.Event) error {
	q, ok := e.deferred[holder]
	if !ok {
		q = NewQueue[primitives.Event](e.capDeferred, e.policy)
		e.deferred[holder] = q
	}
	dropped, err := q.PushBack(ev)
	if err != nil {
		return fmt.Errorf("deferred queue of %q: %w", e.g.StateName(holder), err)
	}
	if dropped != nil {
		e.overflow("deferred", dropped)
	}
	return nil
}

// release empties the deferred buffers of exited states. Events still
// deferred move to their new holder; the rest go to the front of the
// external queue in their original order.
func (e *Engine) release(exited []StateID) error {
	var out []primitives.Event
	for _, s := range exited {
		q, ok := e.deferred[s]
		if !ok {
			continue
		}
		delete(e.deferred, s)
		out = append(out, q.Items()...)
	}
	slices.SortFunc(out, func(a, b primitives.Event) int { return cmp.Compare(a.Seq, b.Seq) })
	var free []primitives.Event
	for _, ev := range out {
		if h := e.deferrer(&ev); h != primitives.NoState {
			if err := e.hold(h, ev); err != nil {
				return err
			}
			continue
		}
		free = append(free, ev)
	}
	for i := len(free) - 1; i >= 0; i-- {
		if err := e.enqueue(e.external, free[i], true); err != nil {
			return err
		}
	}
	return nil
}

// enqueue stamps and queues ev under the overflow policy.
func (e *Engine) enqueue(q *Queue[primitives.Event], ev primitives.Event, front bool) error {
	if ev.Seq == 0 {
		e.eventSeq++
		ev.Seq = e.eventSeq
	}
	push := q.PushBack
	if front {
		push = q.PushFront
	}
	which := "external"
	if q == e.internal {
		which = "internal"
	}
	dropped, err := push(ev)
	if err != nil {
		return fmt.Errorf("%s queue: %w", which, err)
	}
	if dropped != nil {
		e.overflow(which, dropped)
	}
	return nil
}

func (e *Engine) overflow(which string, dropped *primitives.Event) {
	note := fmt.Sprintf("%s queue full: %s", which, e.policy)
	cfg := e.cfg.Names()
	e.emit(StepRecord{
		Kind:      StepOverflow,
		Event:     dropped.Name,
		EventKind: dropped.Kind.String(),
		Before:    cfg,
		After:     cfg,
		Notes:     []string{note},
	})
	e.log.Warn("event dropped", "queue", which, "event", dropped.Name, "policy", e.policy.String())
}

func (e *Engine) env(ev *primitives.Event) *expr.Env {
	env := &expr.Env{Fields: e.fields, InState: e.inState, Funcs: e.funcs}
	if ev != nil {
		env.Params = ev.Params
	}
	return env
}

func (e *Engine) inState(name string) (cty.Value, error) {
	id, ok := e.g.Lookup(name)
	if !ok {
		return cty.NilVal, fmt.Errorf("%w: %q", expr.ErrUnknownState, name)
	}
	return cty.BoolVal(e.cfg.Active(id)), nil
}

// oracle evaluates guards against the live context.
type oracle struct{ e *Engine }

func (o oracle) Guard(t *primitives.Transition, ev *primitives.Event) (expr.Verdict, error) {
	if t.Guard == nil {
		return expr.Always, nil
	}
	v, err := expr.EvalGuard(t.Guard, o.e.env(ev))
	if err != nil {
		return expr.Never, err
	}
	return expr.Classify(v), nil
}

// Disjoint is only used to report conflicts, which is the verifier's job.
func (oracle) Disjoint(_, _ *primitives.Transition) bool { return true }

// stepHooks runs actions and timers for one step.
type stepHooks struct {
	e   *Engine
	ev  *primitives.Event
	rec *StepRecord
}

func (h *stepHooks) Exit(s StateID) error {
	st := h.e.g.State(s)
	h.e.timers.cancel(s)
	return h.e.exec(st.Exit, h.ev, h.rec, st.Name)
}

func (h *stepHooks) Effect(t primitives.TransitionID) error {
	tr := h.e.g.Transition(t)
	return h.e.exec(tr.Actions, h.ev, h.rec, h.e.g.StateName(tr.Source))
}

func (h *stepHooks) Enter(s StateID) error {
	st := h.e.g.State(s)
	h.e.timers.start(s, h.e.now)
	return h.e.exec(st.Entry, h.ev, h.rec, st.Name)
}

func (h *stepHooks) Choose(choice StateID, branches []primitives.TransitionID) (primitives.TransitionID, error) {
	o := oracle{h.e}
	for _, tid := range branches {
		v, err := o.Guard(h.e.g.Transition(tid), h.ev)
		if err != nil {
			return primitives.NoTransition, err
		}
		if v == expr.Always {
			return tid, nil
		}
	}
	return primitives.NoTransition, fmt.Errorf("%w %q", semantics.ErrChoiceDeadEnd, h.e.g.StateName(choice))
}

func (h *stepHooks) HistoryFallback(hist, target StateID) {
	g := h.e.g
	h.rec.Notes = append(h.rec.Notes, fmt.Sprintf("history %s empty: entered initial %s", g.StateName(hist), g.StateName(target)))
	h.e.log.Warn("history entered before any exit", "history", g.StateName(hist), "fallback", g.StateName(target))
}

// exec runs statements in order.
func (e *Engine) exec(stmts []primitives.Stmt, ev *primitives.Event, rec *StepRecord, state string) error {
	for _, stmt := range stmts {
		rec.Actions = append(rec.Actions, stmt.String())
		switch s := stmt.(type) {
		case primitives.Assign:
			if err := e.assign(s, ev); err != nil {
				return err
			}
		case primitives.Raise:
			if err := e.enqueue(e.internal, primitives.NewInternalEvent(s.Event), false); err != nil {
				return err
			}
		case primitives.Send:
			if err := e.send(s, rec); err != nil {
				return err
			}
		case primitives.Log:
			e.log.Info(s.Message, "state", state)
		default:
			return fmt.Errorf("unsupported statement %T", stmt)
		}
	}
	return nil
}

func (e *Engine) assign(s primitives.Assign, ev *primitives.Event) error {
	f, ok := e.g.Field(s.Field)
	if !ok {
		return &expr.Error{Expr: s.String(), Err: expr.ErrUnknownField}
	}
	v, err := expr.Eval(s.Value, e.env(ev))
	if err != nil {
		return err
	}
	cv, err := convert.Convert(v, f.Type)
	if err != nil {
		return &expr.Error{Expr: s.String(), Err: err}
	}
	e.fields[s.Field] = cv
	return nil
}

// send delivers an event to another instance by a nested, synchronous
// Dispatch. Sending to self raises. Delivery failures are noted on the
// sender's record and do not affect the sender.
func (e *Engine) send(s primitives.Send, rec *StepRecord) error {
	if s.Target == e.name {
		return e.enqueue(e.internal, primitives.NewInternalEvent(s.Event), false)
	}
	note := func(err error) {
		rec.Notes = append(rec.Notes, fmt.Sprintf("send %s to %s: %v", s.Event, s.Target, err))
		e.log.Warn("send failed", "event", s.Event, "target", s.Target, "err", err)
	}
	if e.registry == nil {
		note(ErrNotFound)
		return nil
	}
	target, err := e.registry.Lookup(s.Target)
	if err != nil {
		note(err)
		return nil
	}
	recs, err := target.Dispatch(primitives.NewEvent(s.Event, nil))
	if err != nil {
		note(err)
		return nil
	}
	rec.Notes = append(rec.Notes, fmt.Sprintf("sent %s to %s: %d steps", s.Event, s.Target, len(recs)))
	return nil
}

// checkConfiguration fails with ErrInternal when a step left the active set
// inconsistent.
func (e *Engine) checkConfiguration() error {
	if err := e.cfg.Check(); err != nil {
		return fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return nil
}

// checkParams rejects an event that lacks a parameter read by the guard or
// actions of a transition it triggers. The check runs before the event is
// queued, so a rejected event leaves the instance untouched.
func (e *Engine) checkParams(ev *primitives.Event) error {
	for _, name := range e.params[ev.Name] {
		if _, ok := ev.Params[name]; !ok {
			return misuse("dispatch", ErrMissingParam, "%s needs event.%s", ev.Name, name)
		}
	}
	return nil
}

// paramRefs lists, per event name, the event parameters read by the
// transitions that event triggers.
func paramRefs(g *primitives.Graph) map[string][]string {
	out := map[string][]string{}
	for i := range g.Transitions {
		t := &g.Transitions[i]
		if t.Trigger.Kind != primitives.TriggerEvent {
			continue
		}
		collect := func(x primitives.Expr) bool {
			if p, ok := x.(primitives.EventParam); ok && !slices.Contains(out[t.Trigger.Event], p.Name) {
				out[t.Trigger.Event] = append(out[t.Trigger.Event], p.Name)
			}
			return true
		}
		primitives.WalkExpr(t.Guard, collect)
		for _, st := range t.Actions {
			if a, ok := st.(primitives.Assign); ok {
				primitives.WalkExpr(a.Value, collect)
			}
		}
	}
	return out
}
