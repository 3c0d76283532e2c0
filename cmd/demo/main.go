// Command demo runs a timed traffic light in wall-clock time, publishing
// every step and persisting the final snapshot and trace.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/builder"
	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/production"
)

const tick = 100 * time.Millisecond

func main() {
	mb := primitives.NewMachineBuilder("traffic-light")
	mb.Field("cycles", cty.Number, cty.Zero)
	mb.Compound("traffic")
	mb.Atomic("red").After("stop", 1500).OnTimer("stop", "green").Do(builder.Set("cycles", "cycles + 1"))
	mb.Atomic("green").After("go", 1000).OnTimer("go", "yellow")
	mb.Atomic("yellow").After("slow", 500).OnTimer("slow", "red")
	mb.Up()
	mb.Atomic("flashing").On("SERVICE", "traffic")
	mb.Transition("traffic", "flashing").On("SERVICE")
	g := mb.MustBuild()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	records := make(chan production.PublishedRecord, 100)
	pub := production.NewChannelPublisher(ctx, "demo", records)
	rec := &production.Recorder{}

	e, err := core.NewEngine(g, core.WithName("demo"), core.WithLogger(log), core.WithObserver(pub), core.WithObserver(rec))
	if err != nil {
		log.Error("create engine", "err", err)
		os.Exit(1)
	}
	if _, err := e.Init(nil); err != nil {
		log.Error("init", "err", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range records {
			fmt.Printf("%6dms %-10s %v -> %v\n", r.Record.Time, r.Record.Kind, r.Record.Before, r.Record.After)
		}
	}()

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			if _, err := e.Tick(tick.Milliseconds()); err != nil {
				log.Error("tick", "err", err)
				break loop
			}
			if n, _ := e.Context()["cycles"].AsBigFloat().Int64(); n >= 3 {
				break loop
			}
		case <-ctx.Done():
			fmt.Println("\nShutting down gracefully...")
			break loop
		}
	}
	pub.Close()
	<-done

	p, err := production.NewJSONPersister(os.TempDir())
	if err == nil {
		err = p.SaveSnapshot(context.Background(), e.Configuration())
	}
	if err == nil {
		err = p.SaveTrace(context.Background(), "demo", rec.Records)
	}
	if err != nil {
		log.Error("persist", "err", err)
	}
	v := production.Visualizer{}
	fmt.Println(v.ExportDOT(g, e.Configuration().Active))
	if d := pub.Dropped(); d > 0 {
		log.Warn("records dropped", "count", d)
	}
}
