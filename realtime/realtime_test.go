package realtime

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/primitives"
)

func worker(t *testing.T) *core.Engine {
	t.Helper()
	b := primitives.NewMachineBuilder("worker")
	b.Field("level", cty.Number, cty.NumberIntVal(0))
	b.Atomic("Idle")
	b.Atomic("Busy").After("done", 100)
	b.Transition("Idle", "Busy").On("GO")
	b.Transition("Busy", "Idle").OnTimer("done")
	b.Transition("Idle", "Idle").On("SET").Internal().Do(primitives.Assign{
		Field: "level", Value: primitives.EventParam{Name: "level"},
	})
	e, err := core.NewEngine(b.MustBuild(), core.WithName("w1"))
	require.NoError(t, err)
	_, err = e.Init(nil)
	require.NoError(t, err)
	return e
}

type hit struct {
	Time       int64
	Transition string
}

func transitions(recs []core.StepRecord) []hit {
	var out []hit
	for _, r := range recs {
		if r.Kind == core.StepTransition {
			out = append(out, hit{r.Time, r.Transitions[0]})
		}
	}
	return out
}

func TestSimulatorOrdering(t *testing.T) {
	sim := NewSimulator(worker(t), Config{})
	sim.Schedule(50, 0, primitives.NewEvent("A", nil))
	sim.Schedule(50, 5, primitives.NewEvent("B", nil))
	sim.Schedule(10, 0, primitives.NewEvent("C", nil))
	sim.Schedule(50, 0, primitives.NewEvent("D", nil))

	var names []string
	for _, s := range sim.Pending() {
		names = append(names, s.Event.Name)
	}
	require.Equal(t, []string{"C", "B", "A", "D"}, names)
}

func TestSimulatorRun(t *testing.T) {
	e := worker(t)
	sim := NewSimulator(e, Config{Step: 10})
	sim.Schedule(20, 0, primitives.NewEvent("GO", nil))
	sim.Schedule(300, 0, primitives.NewEvent("GO", nil))

	recs, err := sim.Run(context.Background(), 200)
	require.NoError(t, err)
	want := []hit{{20, "Idle-GO->Busy"}, {120, "Busy-done->Idle"}}
	if diff := cmp.Diff(want, transitions(recs)); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
	require.Equal(t, int64(200), e.Now())
	require.Len(t, sim.Pending(), 1)

	recs, err = sim.Run(context.Background(), 450)
	require.NoError(t, err)
	want = []hit{{300, "Idle-GO->Busy"}, {400, "Busy-done->Idle"}}
	if diff := cmp.Diff(want, transitions(recs)); diff != "" {
		t.Errorf("transitions (-want +got):\n%s", diff)
	}
	require.Empty(t, sim.Pending())
}

func TestSimulatorStopsAtBreakpoint(t *testing.T) {
	e := worker(t)
	_, err := e.SetBreakpoint(core.AfterEnter, "Busy")
	require.NoError(t, err)
	sim := NewSimulator(e, Config{})
	sim.Schedule(20, 0, primitives.NewEvent("GO", nil))
	sim.Schedule(50, 0, primitives.NewEvent("PING", nil))

	_, err = sim.Run(context.Background(), 500)
	require.NoError(t, err)
	require.Equal(t, core.StatusPaused, e.Status())
	require.Equal(t, int64(20), e.Now())
	require.Len(t, sim.Pending(), 1)

	_, err = e.Resume()
	require.NoError(t, err)
	_, err = sim.Run(context.Background(), 500)
	require.NoError(t, err)
	require.Equal(t, int64(500), e.Now())
	require.Empty(t, sim.Pending())
}

func TestSimulatorContextCancelled(t *testing.T) {
	sim := NewSimulator(worker(t), Config{Step: 1})
	sim.Schedule(20, 0, primitives.NewEvent("GO", nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.Run(ctx, 100)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, sim.Pending(), 1)
}

func TestScript(t *testing.T) {
	src := `
step: 25
events:
  - {at: 10, event: SET, params: {level: 3}}
  - {at: 40, event: GO}
`
	s, err := LoadScript([]byte(src))
	require.NoError(t, err)
	require.Equal(t, int64(40), s.Until)

	e := worker(t)
	sim := NewSimulator(e, Config{Step: s.Step})
	require.NoError(t, s.Schedule(sim))
	recs, err := sim.Run(context.Background(), s.Until+100)
	require.NoError(t, err)
	require.True(t, e.Context()["level"].RawEquals(cty.NumberIntVal(3)))
	require.Equal(t, []hit{{10, "Idle-SET->Idle"}, {40, "Idle-GO->Busy"}, {140, "Busy-done->Idle"}}, transitions(recs))

	for _, bad := range []string{"events: [{at: 1}]", "events: [{at: -1, event: X}]", "step: -1", "events: ["} {
		_, err := LoadScript([]byte(bad))
		require.Error(t, err, bad)
	}
}
