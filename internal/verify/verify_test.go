package verify

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
)

func codes(r *Report) []string {
	var out []string
	for _, d := range r.Diagnostics {
		out = append(out, d.Code)
	}
	return out
}

func TestConflictingTransitionsReportedOnce(t *testing.T) {
	b := primitives.NewMachineBuilder("conflict")
	b.Atomic("Idle")
	b.Atomic("A")
	b.Atomic("B")
	b.Transition("Idle", "A").On("GO")
	b.Transition("Idle", "B").On("GO")

	r := Verify(b.MustBuild())
	got := r.ByCode(CodeNondeterministic)
	require.Len(t, got, 1)
	require.Equal(t, SeverityError, got[0].Severity)
	require.Equal(t, []string{"Idle-GO->A", "Idle-GO->B"}, got[0].Subjects)
	require.True(t, r.HasErrors())
}

func TestDisjointGuardsAreDeterministic(t *testing.T) {
	b := primitives.NewMachineBuilder("disjoint")
	b.Field("x", cty.Number, cty.NumberIntVal(0))
	b.Atomic("Idle")
	b.Atomic("A")
	b.Atomic("B")
	b.Transition("Idle", "A").On("GO").When(expr.MustParse("x > 5"))
	b.Transition("Idle", "B").On("GO").When(expr.MustParse("x < 3"))
	b.Transition("A", "Idle").On("BACK")
	b.Transition("B", "Idle").On("BACK")

	r := Verify(b.MustBuild())
	require.Empty(t, r.Diagnostics, "both guards are explored, so A and B are reachable")
	require.Equal(t, 3, r.Configurations)
	require.False(t, r.Truncated)
}

func TestPriorityResolvesOverlap(t *testing.T) {
	b := primitives.NewMachineBuilder("prio")
	b.Atomic("Idle")
	b.Atomic("A")
	b.Atomic("B")
	b.Transition("Idle", "A").On("GO").Priority(1)
	b.Transition("Idle", "B").On("GO").Priority(2)

	r := Verify(b.MustBuild())
	require.Empty(t, r.ByCode(CodeNondeterministic))
	require.Len(t, r.ByCode(CodeUnreachableState), 1, "B is shadowed by the higher priority transition")
}

func TestUnreachableState(t *testing.T) {
	b := primitives.NewMachineBuilder("unreachable")
	b.Atomic("Idle")
	b.Atomic("A")
	b.Atomic("Orphan")
	b.Transition("Idle", "A").On("GO")

	r := Verify(b.MustBuild())
	got := r.ByCode(CodeUnreachableState)
	require.Len(t, got, 1)
	require.Equal(t, []string{"Orphan"}, got[0].Subjects)
	require.Equal(t, SeverityWarning, got[0].Severity)
	require.False(t, r.HasErrors())
}

func TestPermanentlyDeferredEvent(t *testing.T) {
	build := func(tDefers bool) *primitives.Graph {
		b := primitives.NewMachineBuilder("defer")
		b.Atomic("S").Defer("E")
		tb := b.Atomic("T")
		if tDefers {
			tb.Defer("E")
		}
		b.Transition("S", "T").On("GO")
		return b.MustBuild()
	}

	r := Verify(build(true))
	got := r.ByCode(CodePermanentlyDeferredEvent)
	require.Len(t, got, 1)
	require.Equal(t, []string{"E"}, got[0].Subjects)

	r = Verify(build(false))
	require.Empty(t, r.ByCode(CodePermanentlyDeferredEvent))
}

func TestGuardChecks(t *testing.T) {
	b := primitives.NewMachineBuilder("guards")
	b.Field("x", cty.Number, cty.NumberIntVal(0))
	b.Atomic("Idle")
	b.Atomic("A")
	b.Atomic("B")
	b.Transition("Idle", "A").On("ROLL").When(expr.MustParse("roll() > 3"))
	b.Transition("Idle", "B").On("GO").When(expr.MustParse("missing > 1"))

	g := b.MustBuild()
	r := Verify(g)
	require.Equal(t, []string{"Idle-ROLL->A"}, r.ByCode(CodeImpureGuard)[0].Subjects)
	require.Equal(t, []string{"Idle-GO->B"}, r.ByCode(CodeGuardTypeError)[0].Subjects)

	pure := expr.Functions{"roll": {Impl: expr.Builtins()["abs"].Impl}}
	require.Empty(t, Verify(g, WithFunctions(pure)).ByCode(CodeImpureGuard))
}

func TestChoiceWithoutDefault(t *testing.T) {
	b := primitives.NewMachineBuilder("choice")
	b.Field("x", cty.Number, cty.NumberIntVal(0))
	b.Atomic("S")
	b.Choice("C")
	b.Atomic("A")
	b.Atomic("B")
	b.Transition("S", "C").On("GO")
	b.Transition("C", "A").When(expr.MustParse("x > 1"))
	b.Transition("C", "B").When(expr.MustParse("x <= 1"))

	r := Verify(b.MustBuild())
	got := r.ByCode(CodeChoiceWithoutDefault)
	require.Len(t, got, 1)
	require.Equal(t, []string{"C"}, got[0].Subjects)
	require.Empty(t, r.ByCode(CodeUnreachableState), "both branches are followed")
}

func TestCompletionCycle(t *testing.T) {
	b := primitives.NewMachineBuilder("cycle")
	b.Atomic("A")
	b.Atomic("B")
	b.Transition("A", "B")
	b.Transition("B", "A")

	got := Verify(b.MustBuild()).ByCode(CodeCompletionCycle)
	require.Len(t, got, 1)
	require.Equal(t, []string{"A", "B"}, got[0].Subjects)
}

func TestRegionConflict(t *testing.T) {
	b := primitives.NewMachineBuilder("regions")
	b.Parallel("P")
	b.Region("R1")
	b.Atomic("A1")
	b.Region("R2")
	b.Atomic("B1")
	b.Atomic("B2")
	b.Up()
	b.Atomic("X")
	b.Transition("A1", "X").On("GO")
	b.Transition("B1", "B2").On("GO")

	r := Verify(b.MustBuild())
	got := r.ByCode(CodeRegionConflict)
	require.Len(t, got, 1)
	require.Equal(t, []string{"A1-GO->X", "B1-GO->B2"}, got[0].Subjects)
}

func TestHistoryChecks(t *testing.T) {
	b := primitives.NewMachineBuilder("history")
	b.Atomic("S")
	b.Compound("C")
	b.History("H", primitives.Shallow)
	b.History("Unused", primitives.Deep)
	b.Atomic("C1")
	b.Up()
	b.Transition("S", "H").On("GO")
	b.Transition("C", "S").On("BACK")

	r := Verify(b.MustBuild())
	if diff := cmp.Diff([]string{CodeHistoryWithoutDefault, CodeUnreachableHistory}, codes(r)); diff != "" {
		t.Errorf("codes (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"H"}, r.ByCode(CodeHistoryWithoutDefault)[0].Subjects)
	require.Equal(t, []string{"Unused"}, r.ByCode(CodeUnreachableHistory)[0].Subjects)
}

func TestInvalidGraph(t *testing.T) {
	b := primitives.NewMachineBuilder("invalid")
	b.Atomic("A")
	g := b.MustBuild()
	g.Version = primitives.FormatVersion + 1

	r := Verify(g)
	require.Len(t, r.Diagnostics, 1)
	require.Equal(t, CodeInvalidGraph, r.Diagnostics[0].Code)
	require.Contains(t, r.Diagnostics[0].Message, primitives.IssueUnsupportedVersion)
	require.Zero(t, r.Configurations)
}

func TestTruncation(t *testing.T) {
	b := primitives.NewMachineBuilder("big")
	b.Atomic("A")
	b.Atomic("B")
	b.Atomic("C")
	b.Transition("A", "B").On("NEXT")
	b.Transition("B", "C").On("NEXT")

	r := Verify(b.MustBuild(), WithMaxConfigurations(2))
	require.True(t, r.Truncated)
	require.Equal(t, []string{CodeStateSpaceTruncated}, codes(r))
	require.False(t, r.HasErrors())
}

func TestTimedMachineIsClean(t *testing.T) {
	b := primitives.NewMachineBuilder("light")
	b.Atomic("Red").After("red", 30000).OnTimer("red", "Green")
	b.Atomic("Green").After("green", 25000).OnTimer("green", "Yellow")
	b.Atomic("Yellow").After("yellow", 5000).OnTimer("yellow", "Red")

	r := Verify(b.MustBuild())
	require.Empty(t, r.Diagnostics)
	require.Equal(t, 3, r.Configurations)
}

func TestJoinOverDifferentEventsIsReachable(t *testing.T) {
	b := primitives.NewMachineBuilder("join")
	b.Parallel("P")
	b.Region("A")
	b.Atomic("A1")
	b.Region("B")
	b.Atomic("B1")
	b.Up()
	b.Join("J")
	b.Atomic("Done")
	b.Transition("A1", "J").On("a")
	b.Transition("B1", "J").On("b")
	b.Transition("J", "Done")

	r := Verify(b.MustBuild())
	require.Empty(t, r.ByCode(CodeUnreachableState), "Done is entered once both regions arrive")
	require.False(t, r.Truncated)
}
