package extensibility

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/verify"
)

func customGraph() *primitives.Graph {
	mb := primitives.NewMachineBuilder("custom")
	mb.Field("total", cty.Number, cty.Zero)
	mb.Atomic("Idle").On("ADD", "Idle").Internal().
		When(expr.MustParse("even(event.n)")).
		Do(primitives.Assign{Field: "total", Value: expr.MustParse("record(total + event.n)")})
	return mb.MustBuild()
}

func TestCustomFunctions(t *testing.T) {
	var seen []int64
	fs := expr.Functions{
		"even": Predicate(cty.Number, func(v cty.Value) bool {
			n, _ := v.AsBigFloat().Int64()
			return n%2 == 0
		}),
		"record": Action([]function.Parameter{{Name: "v", Type: cty.Number}}, cty.Number, func(args []cty.Value) (cty.Value, error) {
			n, _ := args[0].AsBigFloat().Int64()
			seen = append(seen, n)
			return args[0], nil
		}),
	}
	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	g := customGraph()
	require.Empty(t, verify.Verify(g, verify.WithFunctions(fs)).Diagnostics)

	e, err := core.NewEngine(g, core.WithFunctions(WithLogging(fs, log)))
	require.NoError(t, err)
	_, err = e.Init(nil)
	require.NoError(t, err)
	for _, n := range []int64{2, 3, 4} {
		_, err := e.Dispatch(primitives.NewEvent("ADD", map[string]cty.Value{"n": cty.NumberIntVal(n)}))
		require.NoError(t, err)
	}
	require.Equal(t, []int64{2, 6}, seen)
	require.True(t, e.Context()["total"].RawEquals(cty.NumberIntVal(6)))
	require.Contains(t, logs.String(), "func=even")
	require.Contains(t, logs.String(), "func=record")
}

func TestPump(t *testing.T) {
	mb := primitives.NewMachineBuilder("pumped")
	mb.Atomic("Off").On("ON", "On")
	mb.Atomic("On").After("auto", 30).OnTimer("auto", "Off")
	var mu sync.Mutex
	var taken []string
	e, err := core.NewEngine(mb.MustBuild(), core.WithObserver(core.ObserverFunc(func(r core.StepRecord) {
		mu.Lock()
		defer mu.Unlock()
		taken = append(taken, r.Transitions...)
	})))
	require.NoError(t, err)
	_, err = e.Init(nil)
	require.NoError(t, err)

	ch := make(chan primitives.Event, 1)
	p := NewPump(e, NewChannelEventSource(ch), time.Millisecond)
	clock := time.Unix(0, 0)
	p.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(10 * time.Millisecond)
		return clock
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	ch <- primitives.NewEvent("ON", nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(taken) == 2
	}, time.Second, time.Millisecond)
	cancel()
	require.True(t, Stopped(<-done))
	require.Equal(t, []string{"Off-ON->On", "On-auto->Off"}, taken)

	close(ch)
	require.NoError(t, p.Run(context.Background()))
}
