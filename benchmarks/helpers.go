// Package benchmarks provides shared graph generators for the engine and
// verifier benchmarks.
package benchmarks

import (
	"fmt"
	"testing"

	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/primitives"
)

// GenFlat creates a flat machine with n simple states cycling on "tick".
func GenFlat(n int) *primitives.Graph {
	n = max(n, 1)
	mb := primitives.NewMachineBuilder(fmt.Sprintf("flat_%d", n))
	for i := range n {
		mb.Atomic(fmt.Sprintf("s%d", i)).On("tick", fmt.Sprintf("s%d", (i+1)%n))
	}
	return mb.MustBuild()
}

// GenDeep nests depth composites and flips between two leaves at the bottom.
func GenDeep(depth int) *primitives.Graph {
	depth = max(depth, 1)
	mb := primitives.NewMachineBuilder(fmt.Sprintf("deep_%d", depth))
	for i := range depth {
		mb.Compound(fmt.Sprintf("c%d", i))
	}
	mb.Atomic("leaf1").On("tick", "leaf2")
	mb.Atomic("leaf2").On("tick", "leaf1")
	for range depth {
		mb.Up()
	}
	return mb.MustBuild()
}

// GenWide gives one state n prioritized "tick" transitions whose guards
// hold only for the highest priority.
func GenWide(n int) *primitives.Graph {
	n = max(n, 1)
	mb := primitives.NewMachineBuilder(fmt.Sprintf("wide_%d", n))
	main := mb.Atomic("main")
	for i := range n {
		target := fmt.Sprintf("target%d", i)
		main.On("tick", target).Priority(n - i).When(primitives.Literal{Value: cty.BoolVal(i == 0)})
	}
	for i := range n {
		mb.Atomic(fmt.Sprintf("target%d", i)).On("tick", "main")
	}
	return mb.MustBuild()
}

// GenParallel creates one parallel state with n regions, each flipping
// between two states on "tick".
func GenParallel(n int) *primitives.Graph {
	n = max(n, 1)
	mb := primitives.NewMachineBuilder(fmt.Sprintf("parallel_%d", n))
	mb.Parallel("P")
	for i := range n {
		mb.Region(fmt.Sprintf("r%d", i))
		a, c := fmt.Sprintf("r%d_a", i), fmt.Sprintf("r%d_b", i)
		mb.Atomic(a).On("tick", c)
		mb.Atomic(c).On("tick", a)
	}
	mb.Up()
	return mb.MustBuild()
}

// Start creates and initializes an engine for g.
func Start(tb testing.TB, g *primitives.Graph, opts ...core.Option) *core.Engine {
	tb.Helper()
	e, err := core.NewEngine(g, opts...)
	if err != nil {
		tb.Fatal(err)
	}
	if _, err := e.Init(nil); err != nil {
		tb.Fatal(err)
	}
	return e
}

// GenSnapshotYAML returns the YAML form of a snapshot taken after one tick.
func GenSnapshotYAML(tb testing.TB, numStates int, hierarchical bool) []byte {
	g := GenFlat(numStates)
	if hierarchical {
		g = GenDeep(5)
	}
	e := Start(tb, g)
	if _, err := e.Dispatch(primitives.NewEvent("tick", nil)); err != nil {
		tb.Fatal(err)
	}
	data, err := yaml.Marshal(e.Configuration())
	if err != nil {
		tb.Fatal(err)
	}
	return data
}
