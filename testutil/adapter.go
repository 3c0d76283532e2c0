// Package testutil runs the same scripted scenario through more than one
// engine driver and checks that every driver observes the same StepRecords.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/realtime"
)

// Step is one scenario input: an event when Event is set, a clock advance
// otherwise.
type Step struct {
	Event  string
	Params map[string]cty.Value
	Tick   int64
}

// Send is a Step dispatching the named event.
func Send(event string) Step { return Step{Event: event} }

// Tick is a Step advancing the clock.
func Tick(ms int64) Step { return Step{Tick: ms} }

// Driver feeds scenario steps to an initialized engine.
type Driver interface {
	Name() string
	Run(ctx context.Context, e *core.Engine, steps []Step) error
}

// DirectDriver calls Dispatch and Tick in step order.
type DirectDriver struct{}

func (DirectDriver) Name() string { return "direct" }

func (DirectDriver) Run(_ context.Context, e *core.Engine, steps []Step) error {
	for _, st := range steps {
		var err error
		if st.Event != "" {
			_, err = e.Dispatch(primitives.NewEvent(st.Event, st.Params))
		} else {
			_, err = e.Tick(st.Tick)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// SimulatorDriver schedules the events at their cumulative times on a
// realtime.Simulator ticking in steps of Step milliseconds.
type SimulatorDriver struct {
	Step int64
}

func (d SimulatorDriver) Name() string { return fmt.Sprintf("simulator/%d", d.Step) }

func (d SimulatorDriver) Run(ctx context.Context, e *core.Engine, steps []Step) error {
	sim := realtime.NewSimulator(e, realtime.Config{Step: d.Step})
	at := e.Now()
	for _, st := range steps {
		if st.Event == "" {
			at += st.Tick
			continue
		}
		sim.Schedule(at, 0, primitives.NewEvent(st.Event, st.Params))
	}
	_, err := sim.Run(ctx, at)
	return err
}

// Scenario is a graph, its inputs and the expected outcome.
type Scenario struct {
	Graph     *primitives.Graph
	Overrides map[string]any
	Steps     []Step
	// Want, when set, is the full expected record sequence, Init included.
	Want []core.StepRecord
	// Configuration, when set, is the expected final configuration.
	Configuration []string
}

// Drivers is the default driver set.
var Drivers = []Driver{DirectDriver{}, SimulatorDriver{}, SimulatorDriver{Step: 1}}

// RunConformance runs sc once per driver and requires all of them to emit
// the same records, matching sc.Want when it is set.
func RunConformance(t *testing.T, sc Scenario, drivers ...Driver) []core.StepRecord {
	t.Helper()
	if len(drivers) == 0 {
		drivers = Drivers
	}
	var first []core.StepRecord
	for i, d := range drivers {
		var got []core.StepRecord
		e, err := core.NewEngine(sc.Graph, core.WithObserver(core.ObserverFunc(func(r core.StepRecord) {
			got = append(got, r)
		})))
		require.NoError(t, err, d.Name())
		_, err = e.Init(sc.Overrides)
		require.NoError(t, err, d.Name())
		require.NoError(t, d.Run(context.Background(), e, sc.Steps), d.Name())

		if sc.Configuration != nil {
			require.Equal(t, sc.Configuration, e.Configuration().Configuration, d.Name())
		}
		if sc.Want != nil {
			if diff := cmp.Diff(sc.Want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("%s: records (-want +got):\n%s", d.Name(), diff)
			}
		}
		if i == 0 {
			first = got
			continue
		}
		if diff := cmp.Diff(first, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%s disagrees with %s (-%s +%s):\n%s", d.Name(), drivers[0].Name(), drivers[0].Name(), d.Name(), diff)
		}
	}
	return first
}
