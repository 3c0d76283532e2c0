package builder

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/primitives"
)

func TestHelpersBuildRunnableMachine(t *testing.T) {
	mb := primitives.NewMachineBuilder("door")
	mb.Field("opens", cty.Number, cty.Zero)
	mb.Atomic("Closed").On("OPEN", "Open").When(When("opens < 2")).Do(append(Do("opens = opens + 1"), Log("opening"))...)
	mb.Atomic("Open").On("CLOSE", "Closed").Do(Set("opens", "opens"), Raise("CLOSED"))
	g := mb.MustBuild()

	e, err := core.NewEngine(g)
	require.NoError(t, err)
	_, err = e.Init(nil)
	require.NoError(t, err)
	for _, ev := range []string{"OPEN", "CLOSE", "OPEN", "CLOSE", "OPEN"} {
		_, err := e.Dispatch(primitives.NewEvent(ev, nil))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"Closed"}, e.Configuration().Configuration)
	require.True(t, e.Context()["opens"].RawEquals(cty.NumberIntVal(2)))
}

func TestCycle(t *testing.T) {
	mb := primitives.NewMachineBuilder("rr")
	Cycle(mb, "NEXT", "A", "B", "C")
	g := mb.MustBuild()
	id, _ := g.Lookup("C")
	require.Equal(t, "C-NEXT->A", g.Transition(g.Outgoing(id)[0]).Name)
}

func TestDoPanicsOnBadSource(t *testing.T) {
	require.Panics(t, func() { Do("x ==") })
	require.Panics(t, func() { When("1 +") })
	require.Equal(t, "send PING to other", Send("PING", "other").String())
}
