package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
)

func newEngine(t *testing.T, b *primitives.MachineBuilder, opts ...Option) *Engine {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	e, err := NewEngine(g, opts...)
	require.NoError(t, err)
	return e
}

func started(t *testing.T, b *primitives.MachineBuilder, opts ...Option) *Engine {
	t.Helper()
	e := newEngine(t, b, opts...)
	_, err := e.Init(nil)
	require.NoError(t, err)
	return e
}

func send(t *testing.T, e *Engine, name string) []StepRecord {
	t.Helper()
	recs, err := e.Dispatch(primitives.NewEvent(name, nil))
	require.NoError(t, err)
	return recs
}

func kinds(recs []StepRecord) []StepKind {
	out := make([]StepKind, len(recs))
	for i, r := range recs {
		out[i] = r.Kind
	}
	return out
}

func TestTrafficLightTimers(t *testing.T) {
	b := primitives.NewMachineBuilder("traffic")
	b.Atomic("Red").After("red", 30000).OnTimer("red", "Green")
	b.Atomic("Green").After("green", 30000).OnTimer("green", "Yellow")
	b.Atomic("Yellow").After("yellow", 5000).OnTimer("yellow", "Red")
	e := newEngine(t, b)

	snap, err := e.Init(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Red"}, snap.Configuration)

	for _, step := range []struct {
		elapsed int64
		want    string
	}{
		{30001, "Green"},
		{30001, "Yellow"},
		{5001, "Red"},
	} {
		recs, err := e.Tick(step.elapsed)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, []string{step.want}, e.Configuration().Configuration)
	}
	require.Equal(t, int64(65003), e.Now())
}

func heartbeat() *primitives.MachineBuilder {
	b := primitives.NewMachineBuilder("heartbeat")
	b.Field("beats", cty.Number, cty.NilVal)
	b.Atomic("Alive").Every("beat", 1000)
	b.Transition("Alive", "Alive").OnTimer("beat").Internal().
		Do(primitives.Assign{Field: "beats", Value: expr.MustParse("beats + 1")})
	return b
}

func TestPeriodicTimerIsDriftFree(t *testing.T) {
	whole := started(t, heartbeat())
	chunked := started(t, heartbeat())

	recs, err := whole.Tick(1000)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(1000), recs[0].Time)

	recs, err = chunked.Tick(500)
	require.NoError(t, err)
	require.Empty(t, recs)
	recs, err = chunked.Tick(500)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(1000), recs[0].Time)

	recs, err = chunked.Tick(3000)
	require.NoError(t, err)
	var times []int64
	for _, r := range recs {
		times = append(times, r.Time)
	}
	require.Equal(t, []int64{2000, 3000, 4000}, times)
	require.True(t, chunked.Context()["beats"].Equals(cty.NumberIntVal(4)).True())
}

func TestExternalSelfTransitionRestartsTimers(t *testing.T) {
	b := primitives.NewMachineBuilder("restart")
	b.Atomic("Wait").After("timeout", 100).OnTimer("timeout", "Done")
	b.Atomic("Done")
	b.Transition("Wait", "Wait").On("poke")
	e := started(t, b)

	_, err := e.Tick(60)
	require.NoError(t, err)
	send(t, e, "poke")
	_, err = e.Tick(60)
	require.NoError(t, err)
	require.Equal(t, []string{"Wait"}, e.Configuration().Configuration, "timer restarted at 60")
	_, err = e.Tick(40)
	require.NoError(t, err)
	require.Equal(t, []string{"Done"}, e.Configuration().Configuration)
}

func TestParallelDispatchKeepsOtherRegion(t *testing.T) {
	b := primitives.NewMachineBuilder("par")
	b.Parallel("P")
	b.Region("A")
	b.Atomic("Idle").On("start", "Active")
	b.Atomic("Active")
	b.Region("B")
	b.Atomic("Off").On("flip", "On")
	b.Atomic("On")
	e := started(t, b)

	recs := send(t, e, "start")
	require.Equal(t, []string{"Active", "Off"}, e.Configuration().Configuration)
	require.Equal(t, []string{"Idle"}, recs[0].Exited)
	require.Equal(t, []string{"Active"}, recs[0].Entered)
	require.Contains(t, e.Configuration().Active, "P")
}

func TestDeferredEventIsReleasedFirst(t *testing.T) {
	b := primitives.NewMachineBuilder("defer")
	b.Atomic("S").Defer("E").On("go", "T")
	b.Atomic("T").On("E", "U")
	b.Atomic("U").On("other", "V")
	b.Atomic("V")
	e := started(t, b)

	recs := send(t, e, "E")
	require.Equal(t, []StepKind{StepDeferred}, kinds(recs))
	require.Equal(t, []string{"S"}, recs[0].After)
	require.Equal(t, map[string][]string{"S": {"E"}}, e.Configuration().Held)

	// Queue go and other together so the release has to overtake other.
	require.NoError(t, e.enqueue(e.external, primitives.NewEvent("go", nil), false))
	require.NoError(t, e.enqueue(e.external, primitives.NewEvent("other", nil), false))
	recs, err := e.call("dispatch", StatusRunning, e.run)
	require.NoError(t, err)

	var events []string
	for _, r := range recs {
		events = append(events, r.Event)
	}
	require.Equal(t, []string{"go", "E", "other"}, events)
	require.Equal(t, []string{"V"}, e.Configuration().Configuration)
	require.Empty(t, e.Configuration().Held)
}

func TestDeferredEventMovesToNextHolder(t *testing.T) {
	b := primitives.NewMachineBuilder("defer2")
	b.Atomic("S").Defer("E").On("go", "T")
	b.Atomic("T").Defer("E").On("go", "U")
	b.Atomic("U").On("E", "V")
	b.Atomic("V")
	e := started(t, b)

	send(t, e, "E")
	recs := send(t, e, "go")
	require.Equal(t, []StepKind{StepTransition}, kinds(recs))
	require.Equal(t, map[string][]string{"T": {"E"}}, e.Configuration().Held)

	recs = send(t, e, "go")
	require.Equal(t, []StepKind{StepTransition, StepTransition}, kinds(recs))
	require.Equal(t, []string{"V"}, e.Configuration().Configuration)
}

func TestCompletionChainDepth(t *testing.T) {
	chain := func(n int) *primitives.MachineBuilder {
		b := primitives.NewMachineBuilder("chain")
		for i := 0; i <= n; i++ {
			b.Atomic(fmt.Sprintf("S%d", i))
		}
		for i := 0; i < n; i++ {
			b.Transition(fmt.Sprintf("S%d", i), fmt.Sprintf("S%d", i+1))
		}
		return b
	}

	ok := newEngine(t, chain(100))
	snap, err := ok.Init(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"S100"}, snap.Configuration)

	var last StepRecord
	bad := newEngine(t, chain(101), WithObserver(ObserverFunc(func(r StepRecord) { last = r })))
	_, err = bad.Init(nil)
	require.ErrorIs(t, err, ErrCompletionDepth)
	require.True(t, IsFatal(err))
	require.Equal(t, StatusTerminated, bad.Status())
	require.Equal(t, StepFault, last.Kind)
	require.Equal(t, []string{"S100"}, last.After)

	_, err = bad.Dispatch(primitives.NewEvent("x", nil))
	require.ErrorIs(t, err, ErrTerminated)
	require.False(t, IsFatal(err))
}

func TestCompositeCompletion(t *testing.T) {
	b := primitives.NewMachineBuilder("job")
	b.Compound("Job")
	b.Atomic("Work").On("finish", "Finished")
	b.Final("Finished")
	b.Up()
	b.Atomic("Next")
	b.Transition("Job", "Next")
	e := started(t, b)

	recs := send(t, e, "finish")
	require.Len(t, recs, 2)
	require.Equal(t, "completion", recs[1].Event)
	require.Equal(t, []string{"Job->Next"}, recs[1].Transitions)
	require.Equal(t, []string{"Next"}, e.Configuration().Configuration)
}

func TestTopLevelFinalStaysRunning(t *testing.T) {
	b := primitives.NewMachineBuilder("done")
	b.Atomic("A").On("stop", "End")
	b.Final("End")
	e := started(t, b)

	send(t, e, "stop")
	require.Equal(t, StatusRunning, e.Status())
	recs := send(t, e, "anything")
	require.Equal(t, []StepKind{StepDiscarded}, kinds(recs))
}

func raiser(policy OverflowPolicy) (*primitives.MachineBuilder, []Option) {
	b := primitives.NewMachineBuilder("raiser")
	b.Atomic("A").OnEntry(primitives.Raise{Event: "x"}, primitives.Raise{Event: "y"})
	return b, []Option{WithQueueCapacity(4, 1, 1), WithOverflowPolicy(policy)}
}

func TestOverflowPolicies(t *testing.T) {
	for _, tc := range []struct {
		policy  OverflowPolicy
		dropped string
		fatal   error
	}{
		{policy: OverflowDropNewest, dropped: "y"},
		{policy: OverflowDropOldest, dropped: "x"},
		{policy: OverflowError, fatal: ErrQueueOverflow},
		{policy: OverflowAssert, fatal: ErrAssertion},
	} {
		t.Run(tc.policy.String(), func(t *testing.T) {
			var recs []StepRecord
			b, opts := raiser(tc.policy)
			opts = append(opts, WithObserver(ObserverFunc(func(r StepRecord) { recs = append(recs, r) })))
			e := newEngine(t, b, opts...)
			_, err := e.Init(nil)
			if tc.fatal != nil {
				require.ErrorIs(t, err, tc.fatal)
				require.Equal(t, StatusTerminated, e.Status())
				return
			}
			require.NoError(t, err)
			require.Equal(t, []StepKind{StepOverflow, StepInit, StepDiscarded}, kinds(recs))
			require.Equal(t, tc.dropped, recs[0].Event)
		})
	}
}

func TestCallerMisuse(t *testing.T) {
	b := primitives.NewMachineBuilder("misuse")
	b.Field("count", cty.Number, cty.NumberIntVal(1))
	b.Atomic("A").On("go", "B")
	b.Atomic("B")
	e := newEngine(t, b)

	_, err := e.Dispatch(primitives.NewEvent("go", nil))
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, e.SetContextField("count", 2), ErrNotInitialized)

	_, err = e.Init(map[string]any{"nope": 1})
	require.ErrorIs(t, err, ErrUnknownField)
	require.Equal(t, StatusUninitialized, e.Status())

	_, err = e.Init(map[string]any{"count": "not a number"})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = e.Init(map[string]any{"count": 7})
	require.NoError(t, err)
	require.True(t, e.Context()["count"].Equals(cty.NumberIntVal(7)).True())

	_, err = e.Init(nil)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
	_, err = e.Tick(-1)
	require.ErrorIs(t, err, ErrInvalidTick)
	require.ErrorIs(t, e.SetContextField("missing", 1), ErrUnknownField)

	send(t, e, "go")
	require.Equal(t, []string{"B"}, e.Configuration().Configuration)

	require.NoError(t, e.Reset())
	require.Equal(t, StatusUninitialized, e.Status())
	_, err = e.Init(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, e.Configuration().Configuration)
}

func TestSetContextFieldIsRecorded(t *testing.T) {
	var recs []StepRecord
	b := primitives.NewMachineBuilder("override")
	b.Field("limit", cty.Number, cty.NumberIntVal(1))
	b.Atomic("Low").On("check", "High").When(expr.MustParse("limit > 3"))
	b.Atomic("High")
	e := started(t, b, WithObserver(ObserverFunc(func(r StepRecord) { recs = append(recs, r) })))

	send(t, e, "check")
	require.Equal(t, []string{"Low"}, e.Configuration().Configuration)

	require.NoError(t, e.SetContextField("limit", 5))
	last := recs[len(recs)-1]
	if diff := cmp.Diff(StepRecord{
		Seq:    last.Seq,
		Kind:   StepContextOverride,
		Before: []string{"Low"},
		After:  []string{"Low"},
		Notes:  []string{"limit = 5"},
	}, last); diff != "" {
		t.Fatalf("override record mismatch (-want +got):\n%s", diff)
	}

	send(t, e, "check")
	require.Equal(t, []string{"High"}, e.Configuration().Configuration)
}

func TestGuardsAndActionsSeeEventParams(t *testing.T) {
	b := primitives.NewMachineBuilder("params")
	b.Field("total", cty.Number, cty.NilVal)
	b.Atomic("Open").
		On("add", "Open").Internal().
		When(expr.MustParse("event.amount > 0")).
		Do(primitives.Assign{Field: "total", Value: expr.MustParse("total + event.amount")})
	e := started(t, b)

	_, err := e.Dispatch(primitives.NewEvent("add", map[string]cty.Value{"amount": cty.NumberIntVal(5)}))
	require.NoError(t, err)
	_, err = e.Dispatch(primitives.NewEvent("add", map[string]cty.Value{"amount": cty.NumberIntVal(-2)}))
	require.NoError(t, err)
	require.True(t, e.Context()["total"].Equals(cty.NumberIntVal(5)).True())

	recs, err := e.Dispatch(primitives.NewEvent("add", nil))
	require.ErrorIs(t, err, ErrMissingParam)
	require.False(t, IsFatal(err))
	require.Empty(t, recs)
	require.Equal(t, StatusRunning, e.Status())
	require.True(t, e.Context()["total"].Equals(cty.NumberIntVal(5)).True())

	_, err = e.Dispatch(primitives.NewEvent("add", map[string]cty.Value{"amount": cty.NumberIntVal(1)}))
	require.NoError(t, err, "the instance is still usable")
	require.True(t, e.Context()["total"].Equals(cty.NumberIntVal(6)).True())
}

func TestChoiceDeadEndIsFatal(t *testing.T) {
	b := primitives.NewMachineBuilder("choice")
	b.Field("n", cty.Number, cty.NilVal)
	b.Atomic("S").On("pick", "C")
	b.Choice("C")
	b.Atomic("Pos")
	b.Atomic("Neg")
	b.Transition("C", "Pos").When(expr.MustParse("n > 0"))
	b.Transition("C", "Neg").When(expr.MustParse("n < 0"))
	e := started(t, b)

	_, err := e.Dispatch(primitives.NewEvent("pick", nil))
	require.ErrorIs(t, err, ErrChoiceDeadEnd)
	require.Equal(t, StatusTerminated, e.Status())
}

func TestChoiceSeesTransitionEffects(t *testing.T) {
	b := primitives.NewMachineBuilder("choice2")
	b.Field("n", cty.Number, cty.NilVal)
	b.Atomic("S").On("pick", "C").Do(primitives.Assign{Field: "n", Value: expr.MustParse("n + 1")})
	b.Choice("C")
	b.Atomic("Pos")
	b.Atomic("Other")
	b.Transition("C", "Pos").When(expr.MustParse("n > 0"))
	b.Transition("C", "Other")
	e := started(t, b)

	send(t, e, "pick")
	require.Equal(t, []string{"Pos"}, e.Configuration().Configuration)
}

func TestHistoryFallbackIsNoted(t *testing.T) {
	b := primitives.NewMachineBuilder("fallback")
	b.Atomic("Off").On("on", "H")
	b.Compound("Active")
	b.History("H", primitives.Shallow)
	b.Atomic("Slow")
	b.Atomic("Fast")
	e := started(t, b)

	recs := send(t, e, "on")
	require.Equal(t, []string{"Slow"}, e.Configuration().Configuration)
	require.Equal(t, []string{"history H empty: entered initial Slow"}, recs[0].Notes)
	require.Empty(t, e.Configuration().History)
}

func TestBreakpoints(t *testing.T) {
	b := primitives.NewMachineBuilder("debug")
	b.Atomic("A").On("go", "B")
	b.Atomic("B").On("go", "C")
	b.Atomic("C")
	e := started(t, b)

	_, err := e.SetBreakpoint(AfterEnter, "Nope")
	require.ErrorIs(t, err, ErrUnknownTarget)

	id, err := e.SetBreakpoint(BeforeEvent, "go")
	require.NoError(t, err)
	recs := send(t, e, "go")
	require.Equal(t, []StepKind{StepPaused}, kinds(recs))
	require.Equal(t, StatusPaused, e.Status())
	require.Equal(t, []string{"go"}, e.Configuration().Queued)

	_, err = e.Dispatch(primitives.NewEvent("go", nil))
	require.ErrorIs(t, err, ErrPaused)
	require.NoError(t, e.ClearBreakpoint(id))
	require.ErrorIs(t, e.ClearBreakpoint(id), ErrUnknownBreakpoint)

	_, err = e.SetBreakpoint(AfterEnter, "B")
	require.NoError(t, err)
	recs, err = e.Resume()
	require.NoError(t, err)
	require.Equal(t, []StepKind{StepTransition, StepPaused}, kinds(recs))
	require.Equal(t, []string{"B"}, e.Configuration().Configuration)

	recs, err = e.Resume()
	require.NoError(t, err)
	require.Empty(t, recs)
	_, err = e.Resume()
	require.ErrorIs(t, err, ErrNotPaused)
}

func TestBreakpointInterruptsTick(t *testing.T) {
	b := primitives.NewMachineBuilder("ticker")
	b.Atomic("A").After("t1", 10).OnTimer("t1", "B")
	b.Atomic("B").After("t2", 10).OnTimer("t2", "C")
	b.Atomic("C")
	e := started(t, b)
	_, err := e.SetBreakpoint(AfterEnter, "B")
	require.NoError(t, err)

	recs, err := e.Tick(100)
	require.NoError(t, err)
	require.Equal(t, []StepKind{StepTransition, StepPaused}, kinds(recs))
	require.Equal(t, int64(10), e.Now())

	recs, err = e.Resume()
	require.NoError(t, err)
	require.Equal(t, []StepKind{StepTransition}, kinds(recs))
	require.Equal(t, int64(20), recs[0].Time)
	require.Equal(t, int64(100), e.Now())
	require.Equal(t, []string{"C"}, e.Configuration().Configuration)
}

func TestSendBetweenInstances(t *testing.T) {
	reg := NewRegistry()

	pb := primitives.NewMachineBuilder("pinger")
	pb.Atomic("Idle").On("start", "Sent").Do(primitives.Send{Event: "ping", Target: "ponger"}, primitives.Send{Event: "ping", Target: "ghost"})
	pb.Atomic("Sent")
	pinger := started(t, pb, WithRegistry(reg), WithName("pinger"))

	qb := primitives.NewMachineBuilder("ponger")
	qb.Atomic("Wait").On("ping", "Got")
	qb.Atomic("Got")
	ponger := started(t, qb, WithRegistry(reg), WithName("ponger"))

	require.Equal(t, []string{"pinger", "ponger"}, reg.Names())
	recs := send(t, pinger, "start")
	require.Equal(t, []string{"Got"}, ponger.Configuration().Configuration, "delivered before the sender's step ends")
	require.Len(t, recs[0].Notes, 2)
	require.Equal(t, "sent ping to ponger: 1 steps", recs[0].Notes[0])
	require.Contains(t, recs[0].Notes[1], "ghost")

	_, err := NewEngine(pinger.Graph(), WithRegistry(reg), WithName("pinger"))
	require.True(t, errors.Is(err, ErrExists))
}

func TestMalformedGraphTerminates(t *testing.T) {
	b := primitives.NewMachineBuilder("future")
	b.Atomic("A")
	g, err := b.Build()
	require.NoError(t, err)
	g.Version = primitives.FormatVersion + 1

	e, err := NewEngine(g)
	require.NoError(t, err)
	_, err = e.Init(nil)
	require.ErrorIs(t, err, ErrMalformedGraph)
	require.True(t, IsFatal(err))
}

func TestEqualDueTimersFireInDeclarationOrder(t *testing.T) {
	for _, tc := range []struct {
		name   string
		bFirst bool
		want   []string
	}{
		{name: "region order", want: []string{"ta", "tb"}},
		{name: "reverse order", bFirst: true, want: []string{"tb", "ta"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := primitives.NewMachineBuilder("ties")
			b.Parallel("P")
			b.Region("A")
			a1 := b.Atomic("A1")
			b.Atomic("A2")
			b.Region("B")
			b1 := b.Atomic("B1")
			b.Atomic("B2")
			b.Up()
			if tc.bFirst {
				b1.After("tb", 100)
				a1.After("ta", 100)
			} else {
				a1.After("ta", 100)
				b1.After("tb", 100)
			}
			a1.OnTimer("ta", "A2")
			b1.OnTimer("tb", "B2")
			e := started(t, b)

			recs, err := e.Tick(100)
			require.NoError(t, err)
			var got []string
			for _, r := range recs {
				got = append(got, r.Event)
			}
			require.Equal(t, tc.want, got)
			require.Equal(t, []string{"A2", "B2"}, e.Configuration().Configuration)
		})
	}
}

func joinMachine() *primitives.MachineBuilder {
	b := primitives.NewMachineBuilder("join")
	b.Parallel("P")
	b.Region("A")
	b.Atomic("A1")
	b.Atomic("A0")
	b.Region("B")
	b.Atomic("B1")
	b.Up()
	b.Join("J")
	b.Atomic("Done")
	b.Transition("A1", "J").On("a")
	b.Transition("B1", "J").On("b")
	b.Transition("A1", "A0").On("reset")
	b.Transition("A0", "A1").On("again")
	b.Transition("J", "Done")
	return b
}

func TestJoinCollectsRegionsAcrossEvents(t *testing.T) {
	e := started(t, joinMachine())

	recs := send(t, e, "a")
	require.Equal(t, []StepKind{StepTransition}, kinds(recs))
	require.Equal(t, []string{"join J armed 1"}, recs[0].Notes)
	require.Equal(t, []string{"A1", "B1"}, e.Configuration().Configuration)
	require.Equal(t, map[string]uint64{"J": 0b01}, e.Configuration().Joins)

	recs = send(t, e, "b")
	require.Equal(t, []string{"Done"}, e.Configuration().Configuration)
	require.Equal(t, []string{"A1-a->J", "B1-b->J", "J->Done"}, recs[0].Transitions)
	require.Empty(t, e.Configuration().Joins)
}

func TestJoinProgressClearsWhenSourceIsLeft(t *testing.T) {
	e := started(t, joinMachine())

	send(t, e, "a")
	send(t, e, "reset")
	require.Equal(t, []string{"A0", "B1"}, e.Configuration().Configuration)
	require.Empty(t, e.Configuration().Joins)

	send(t, e, "again")
	recs := send(t, e, "b")
	require.Equal(t, []string{"join J armed 10"}, recs[0].Notes)
	require.Equal(t, []string{"A1", "B1"}, e.Configuration().Configuration, "region A has to arrive again")

	send(t, e, "a")
	require.Equal(t, []string{"Done"}, e.Configuration().Configuration)
}

func TestInconsistentConfigurationIsInternalFault(t *testing.T) {
	b := primitives.NewMachineBuilder("corrupt")
	b.Parallel("P")
	b.Region("A")
	b.Atomic("Idle").On("start", "Active")
	b.Atomic("Active")
	b.Region("B")
	b.Atomic("Off")
	e := started(t, b)

	off, ok := e.g.Lookup("Off")
	require.True(t, ok)
	e.cfg.Remove(off)

	_, err := e.Dispatch(primitives.NewEvent("start", nil))
	require.ErrorIs(t, err, ErrInternal)
	require.True(t, IsFatal(err))
	require.Equal(t, StatusTerminated, e.Status())
}
