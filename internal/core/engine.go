// Package core is the execution engine. An Engine owns the mutable runtime
// state of one machine instance (configuration, context, history, join
// masks, timers and queues) over a shared, immutable graph, and advances it
// only inside Init, Dispatch, Tick and Resume, one run-to-completion step at
// a time.
//
// Engines do no locking. Callers serialize calls into one instance; separate
// instances are fully independent.
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/semantics"
)

type StateID = primitives.StateID

const (
	DefaultQueueCapacity      = 64
	DefaultDeferredCapacity   = 16
	DefaultMaxCompletionDepth = 100
)

// Status is the lifecycle state of an engine instance.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusRunning
	StatusPaused
	StatusTerminated
)

var statusNames = [...]string{"uninitialized", "running", "paused", "terminated"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Engine runs one machine instance.
type Engine struct {
	g         *primitives.Graph
	m         *semantics.Model
	name      string
	log       *slog.Logger
	funcs     expr.Functions
	registry  *Registry
	observers []Observer

	capExternal   int
	capInternal   int
	capDeferred   int
	policy        OverflowPolicy
	maxCompletion int

	status   Status
	cfg      *semantics.Configuration
	hist     *semantics.HistoryStore
	fields   map[string]cty.Value
	params   map[string][]string
	timers   *timerRegistry
	external *Queue[primitives.Event]
	internal *Queue[primitives.Event]
	deferred map[StateID]*Queue[primitives.Event]

	now         int64
	tickTarget  int64
	ticking     bool
	eventSeq    uint64
	stepSeq     uint64
	completions int
	busy        bool
	pause       *Breakpoint
	heldAt      uint64
	breakpoints []Breakpoint
	out         []StepRecord
}

// NewEngine creates an uninitialized engine over g. The graph is validated
// by Init.
func NewEngine(g *primitives.Graph, opts ...Option) (*Engine, error) {
	e := &Engine{
		g:             g,
		name:          uuid.NewString(),
		log:           slog.New(slog.DiscardHandler),
		funcs:         expr.Builtins(),
		capExternal:   DefaultQueueCapacity,
		capInternal:   DefaultQueueCapacity,
		capDeferred:   DefaultDeferredCapacity,
		policy:        OverflowError,
		maxCompletion: DefaultMaxCompletionDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("machine", g.Name, "instance", e.name)
	if e.registry != nil {
		if err := e.registry.Register(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Name is the instance name.
func (e *Engine) Name() string { return e.name }

// Graph returns the machine graph.
func (e *Engine) Graph() *primitives.Graph { return e.g }

// Status returns the lifecycle state.
func (e *Engine) Status() Status { return e.status }

// Now is the virtual time in milliseconds since Init.
func (e *Engine) Now() int64 { return e.now }

// Init validates the graph, sets the context from field defaults and
// overrides, and enters the initial configuration. Completion and raised
// events caused by the initial entry are processed before Init returns.
func (e *Engine) Init(overrides map[string]any) (snap Snapshot, err error) {
	const op = "init"
	switch {
	case e.busy:
		return Snapshot{}, misuse(op, ErrReentrant, "")
	case e.status == StatusTerminated:
		return Snapshot{}, misuse(op, ErrTerminated, "")
	case e.status != StatusUninitialized:
		return Snapshot{}, misuse(op, ErrAlreadyInitialized, "")
	}
	e.busy = true
	e.out = nil
	defer func() {
		if r := recover(); r != nil {
			err = e.fail(op, ErrInternal, fmt.Errorf("panic: %v", r))
		}
		e.busy = false
		e.out = nil
	}()

	if e.m == nil {
		if verr := primitives.Validate(e.g); verr != nil {
			return Snapshot{}, e.fail(op, ErrMalformedGraph, verr)
		}
		e.m = semantics.NewModel(e.g)
		e.params = paramRefs(e.g)
	}
	fields, ferr := e.initialFields(overrides)
	if ferr != nil {
		return Snapshot{}, ferr
	}
	e.clearRuntime()
	e.fields = fields
	e.status = StatusRunning

	rec := StepRecord{Kind: StepInit}
	h := &stepHooks{e: e, rec: &rec}
	micro, xerr := semantics.Initialize(e.m, e.cfg, e.hist, h)
	if xerr == nil {
		rec.Entered = e.g.Names(micro.Entered)
		rec.After = e.cfg.Names()
		e.emit(rec)
		xerr = e.checkConfiguration()
	}
	if xerr == nil {
		xerr = e.settle(micro.Entered, nil)
	}
	if xerr == nil {
		xerr = e.run()
	}
	if xerr != nil {
		return Snapshot{}, e.fail(op, classify(xerr), xerr)
	}
	return e.Configuration(), nil
}

func (e *Engine) clearRuntime() {
	e.cfg = semantics.NewConfiguration(e.m)
	e.hist = semantics.NewHistoryStore()
	e.timers = newTimerRegistry(e.g)
	e.external = NewQueue[primitives.Event](e.capExternal, e.policy)
	e.internal = NewQueue[primitives.Event](e.capInternal, e.policy)
	e.deferred = map[StateID]*Queue[primitives.Event]{}
	e.fields = nil
	e.now, e.tickTarget, e.ticking = 0, 0, false
	e.eventSeq, e.completions, e.heldAt = 0, 0, 0
	e.pause = nil
}

func (e *Engine) initialFields(overrides map[string]any) (map[string]cty.Value, error) {
	fields := make(map[string]cty.Value, len(e.g.Fields))
	for _, f := range e.g.Fields {
		fields[f.Name] = f.Default
	}
	for name, raw := range overrides {
		f, ok := e.g.Field(name)
		if !ok {
			return nil, misuse("init", ErrUnknownField, "%q", name)
		}
		v, err := toCty(raw, f.Type)
		if err != nil {
			return nil, misuse("init", ErrInvalidValue, "%q: %v", name, err)
		}
		fields[name] = v
	}
	return fields, nil
}

// toCty converts a Go or cty value to the field type.
func toCty(raw any, ty cty.Type) (cty.Value, error) {
	if v, ok := raw.(cty.Value); ok {
		return convert.Convert(v, ty)
	}
	implied, err := gocty.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, err
	}
	v, err := gocty.ToCtyValue(raw, implied)
	if err != nil {
		return cty.NilVal, err
	}
	return convert.Convert(v, ty)
}

// call runs fn as the body of a public operation: it checks the lifecycle,
// collects the emitted records, and turns errors and panics into
// EngineErrors. Errors that are not already EngineErrors are fatal.
func (e *Engine) call(op string, want Status, fn func() error) (recs []StepRecord, err error) {
	if e.busy {
		return nil, misuse(op, ErrReentrant, "")
	}
	if e.status != want {
		switch e.status {
		case StatusUninitialized:
			return nil, misuse(op, ErrNotInitialized, "")
		case StatusPaused:
			return nil, misuse(op, ErrPaused, "")
		case StatusTerminated:
			return nil, misuse(op, ErrTerminated, "")
		default:
			return nil, misuse(op, ErrNotPaused, "")
		}
	}
	e.busy = true
	e.out = nil
	defer func() {
		if r := recover(); r != nil {
			err = e.fail(op, ErrInternal, fmt.Errorf("panic: %v", r))
		}
		e.busy = false
		recs, e.out = e.out, nil
	}()
	if ferr := fn(); ferr != nil {
		var ee *EngineError
		if errors.As(ferr, &ee) {
			return nil, ee
		}
		return nil, e.fail(op, classify(ferr), ferr)
	}
	return nil, nil
}

// Dispatch queues an external event and runs steps until the queues are
// empty or a breakpoint pauses the instance.
func (e *Engine) Dispatch(ev primitives.Event) ([]StepRecord, error) {
	return e.call("dispatch", StatusRunning, func() error {
		ev.Kind, ev.Timer, ev.Completed, ev.Seq = primitives.EventExternal, primitives.NoTimer, nil, 0
		if err := e.checkParams(&ev); err != nil {
			return err
		}
		if err := e.enqueue(e.external, ev, false); err != nil {
			return err
		}
		return e.run()
	})
}

// Tick advances the virtual clock by elapsed milliseconds, firing every
// timer that falls due in chronological order.
func (e *Engine) Tick(elapsed int64) ([]StepRecord, error) {
	if elapsed < 0 {
		return nil, misuse("tick", ErrInvalidTick, "%d", elapsed)
	}
	return e.call("tick", StatusRunning, func() error {
		e.tickTarget = e.now + elapsed
		e.ticking = true
		return e.advance()
	})
}

// Resume continues a paused instance: queued events first, then whatever is
// left of an interrupted Tick.
func (e *Engine) Resume() ([]StepRecord, error) {
	return e.call("resume", StatusPaused, func() error {
		e.status = StatusRunning
		if e.ticking {
			return e.advance()
		}
		return e.run()
	})
}

// Reset discards all runtime state and returns to StatusUninitialized.
// Breakpoints and options are kept.
func (e *Engine) Reset() error {
	if e.busy {
		return misuse("reset", ErrReentrant, "")
	}
	if e.m != nil {
		e.clearRuntime()
	}
	e.status = StatusUninitialized
	return nil
}

// SetContextField overrides a context field outside any transition. The
// change is recorded as a context-override step.
func (e *Engine) SetContextField(name string, value any) error {
	const op = "set_context_field"
	switch {
	case e.busy:
		return misuse(op, ErrReentrant, "")
	case e.status == StatusUninitialized:
		return misuse(op, ErrNotInitialized, "")
	case e.status == StatusTerminated:
		return misuse(op, ErrTerminated, "")
	}
	f, ok := e.g.Field(name)
	if !ok {
		return misuse(op, ErrUnknownField, "%q", name)
	}
	v, err := toCty(value, f.Type)
	if err != nil {
		return misuse(op, ErrInvalidValue, "%q: %v", name, err)
	}
	e.fields[name] = v
	cfg := e.cfg.Names()
	e.emit(StepRecord{
		Kind:   StepContextOverride,
		Before: cfg,
		After:  cfg,
		Notes:  []string{name + " = " + primitives.FormatValue(v)},
	})
	e.out = nil
	return nil
}

// Context returns a copy of the context fields.
func (e *Engine) Context() map[string]cty.Value { return maps.Clone(e.fields) }

// Configuration returns a snapshot of the runtime state.
func (e *Engine) Configuration() Snapshot {
	snap := Snapshot{Machine: e.g.Name, Instance: e.name, Status: e.status.String(), Time: e.now}
	if e.cfg == nil {
		return snap
	}
	g := e.g
	snap.Configuration = e.cfg.Names()
	snap.Active = g.Names(e.cfg.States())
	snap.Context = maps.Clone(e.fields)
	for h, states := range e.hist.Snapshot() {
		if snap.History == nil {
			snap.History = map[string][]string{}
		}
		snap.History[g.StateName(h)] = g.Names(states)
	}
	for j, mask := range e.cfg.Joins() {
		if snap.Joins == nil {
			snap.Joins = map[string]uint64{}
		}
		snap.Joins[g.StateName(j)] = mask
	}
	snap.Timers = e.timers.snapshot()
	for _, ev := range e.external.Items() {
		snap.Queued = append(snap.Queued, ev.Name)
	}
	for s, q := range e.deferred {
		if snap.Held == nil {
			snap.Held = map[string][]string{}
		}
		for _, ev := range q.Items() {
			snap.Held[g.StateName(s)] = append(snap.Held[g.StateName(s)], ev.Name)
		}
	}
	return snap
}

// fail terminates the instance.
func (e *Engine) fail(op string, kind, err error) *EngineError {
	ee := &EngineError{Kind: kind, Op: op, Fatal: true, Err: err}
	e.status = StatusTerminated
	e.ticking = false
	rec := StepRecord{Kind: StepFault, Notes: []string{ee.Error()}}
	if e.cfg != nil {
		rec.Before = e.cfg.Names()
		rec.After = rec.Before
	}
	e.emit(rec)
	e.log.Error("engine terminated", "op", op, "err", ee)
	return ee
}

// classify maps an internal error to its EngineError kind.
func classify(err error) error {
	var xe *expr.Error
	for _, kind := range []error{ErrCompletionDepth, ErrAssertion, ErrQueueOverflow, ErrInternal} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	switch {
	case errors.Is(err, semantics.ErrChoiceDeadEnd):
		return ErrChoiceDeadEnd
	case errors.Is(err, semantics.ErrAmbiguous):
		return ErrAmbiguousSelection
	case errors.As(err, &xe):
		return ErrEvaluation
	}
	return ErrInternal
}

func (e *Engine) emit(rec StepRecord) {
	e.stepSeq++
	rec.Seq = e.stepSeq
	rec.Time = e.now
	e.out = append(e.out, rec)
	for _, o := range e.observers {
		o.Observe(rec)
	}
	e.log.Debug("step",
		"seq", rec.Seq,
		"kind", rec.Kind,
		"event", rec.Event,
		"transitions", rec.Transitions,
		"config", rec.After,
	)
}
