package benchmarks

import (
	"fmt"
	"testing"

	"github.com/comalice/hsmkit/internal/primitives"
)

func dispatchLoop(b *testing.B, g *primitives.Graph) {
	e := Start(b, g)
	ev := primitives.NewEvent("tick", nil)
	b.ReportAllocs()
	b.ResetTimer()
	for range b.N {
		if _, err := e.Dispatch(ev); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSimpleTransition(b *testing.B) {
	dispatchLoop(b, GenFlat(1))
}

func BenchmarkFlatTransition(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("states=%d", n), func(b *testing.B) { dispatchLoop(b, GenFlat(n)) })
	}
}

func BenchmarkHierarchicalTransition(b *testing.B) {
	for _, depth := range []int{1, 5, 20} {
		b.Run(fmt.Sprintf("depth=%d", depth), func(b *testing.B) { dispatchLoop(b, GenDeep(depth)) })
	}
}

func BenchmarkGuardedPriorityTransition(b *testing.B) {
	for _, n := range []int{2, 16, 64} {
		b.Run(fmt.Sprintf("transitions=%d", n), func(b *testing.B) { dispatchLoop(b, GenWide(n)) })
	}
}

func BenchmarkParallelTransition(b *testing.B) {
	for _, n := range []int{2, 8, 32} {
		b.Run(fmt.Sprintf("regions=%d", n), func(b *testing.B) { dispatchLoop(b, GenParallel(n)) })
	}
}
