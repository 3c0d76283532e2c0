package benchmarks

import (
	"context"
	"testing"

	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/verify"
	"github.com/comalice/hsmkit/realtime"
)

// BenchmarkSimulator replays 100 scheduled events per op at 1ms ticks.
func BenchmarkSimulator(b *testing.B) {
	ev := primitives.NewEvent("tick", nil)
	b.ReportAllocs()
	for range b.N {
		b.StopTimer()
		e := Start(b, GenParallel(4))
		sim := realtime.NewSimulator(e, realtime.Config{Step: 1})
		for i := range 100 {
			sim.Schedule(int64(i*10), i%3, ev)
		}
		b.StartTimer()
		if _, err := sim.Run(context.Background(), 1000); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	graphs := map[string]*primitives.Graph{
		"flat=100":   GenFlat(100),
		"deep=20":    GenDeep(20),
		"parallel=8": GenParallel(8),
	}
	for _, name := range []string{"flat=100", "deep=20", "parallel=8"} {
		b.Run(name, func(b *testing.B) {
			g := graphs[name]
			b.ReportAllocs()
			for range b.N {
				rep := verify.Verify(g)
				if rep.Truncated {
					b.Fatalf("%s truncated", name)
				}
			}
		})
	}
}
