package hsmkit_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit"
)

const pingPong = `version: 1
name: player
fields:
  hits: {type: number, default: 0}
states:
  - name: Waiting
    transitions:
      - {on: SERVE, to: Waiting, internal: true, do: ["hits = hits + 1", "send BALL to other"]}
      - {on: BALL, to: Waiting, internal: true, when: "hits < 3", do: ["hits = hits + 1", "send BALL to other"]}
      - {on: BALL, to: Done, when: "hits >= 3"}
  - name: Done
    kind: final
`

func TestFacadeEndToEnd(t *testing.T) {
	g, err := hsmkit.Load("player.yaml", []byte(pingPong))
	require.NoError(t, err)
	require.False(t, hsmkit.Verify(g).HasErrors())

	reg := hsmkit.NewRegistry()
	var records int
	obs := hsmkitObserver(func(hsmkit.StepRecord) { records++ })
	a, err := hsmkit.NewEngine(g, hsmkit.WithName("me"), hsmkit.WithRegistry(reg), hsmkit.WithObserver(obs))
	require.NoError(t, err)
	mb := hsmkit.NewMachineBuilder("wall")
	mb.Atomic("Up").On("BALL", "Hit")
	mb.Atomic("Hit")
	b, err := hsmkit.NewEngine(mb.MustBuild(), hsmkit.WithName("other"), hsmkit.WithRegistry(reg))
	require.NoError(t, err)
	require.Equal(t, []string{"me", "other"}, reg.Names())

	_, err = a.Init(nil)
	require.NoError(t, err)
	_, err = b.Init(nil)
	require.NoError(t, err)

	_, err = a.Dispatch(hsmkit.NewEvent("SERVE", nil))
	require.NoError(t, err)
	require.True(t, a.Context()["hits"].RawEquals(cty.NumberIntVal(1)))
	require.Equal(t, []string{"Hit"}, b.Configuration().Configuration)
	require.Positive(t, records)
}

type hsmkitObserver func(hsmkit.StepRecord)

func (f hsmkitObserver) Observe(r hsmkit.StepRecord) { f(r) }

func TestFacadeBuilderAndVerify(t *testing.T) {
	mb := hsmkit.NewMachineBuilder("race")
	mb.Atomic("Idle").On("GO", "A")
	mb.Atomic("A")
	mb.Transition("Idle", "B").On("GO")
	mb.Atomic("B")
	g, err := mb.Build()
	require.NoError(t, err)

	rep := hsmkit.Verify(g, hsmkit.WithMaxConfigurations(100))
	require.True(t, rep.HasErrors())
	require.Len(t, rep.ByCode("NONDETERMINISTIC_TRANSITIONS"), 1)

	_, err = hsmkit.Load("bad.yaml", []byte("states: []"))
	require.ErrorIs(t, err, hsmkit.ErrDocument)
}
