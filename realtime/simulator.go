package realtime

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/primitives"
)

// Scheduled is an event waiting for its virtual time.
type Scheduled struct {
	At       int64
	Priority int
	Event    primitives.Event
	seq      uint64
}

// Config configures a Simulator.
type Config struct {
	// Step is the tick granularity in milliseconds; 0 advances straight to
	// the next event time.
	Step   int64
	Logger *slog.Logger
}

// Simulator replays scheduled events against one engine. Schedule may be
// called from any goroutine; Run must not be called concurrently.
type Simulator struct {
	engine *core.Engine
	step   int64
	log    *slog.Logger

	mu      sync.Mutex
	pending []Scheduled
	seq     uint64
}

// NewSimulator wraps an initialized engine.
func NewSimulator(e *core.Engine, cfg Config) *Simulator {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Simulator{engine: e, step: max(cfg.Step, 0), log: log.With("instance", e.Name())}
}

// Schedule queues ev for virtual time at. Times already passed are
// dispatched at the current time.
func (s *Simulator) Schedule(at int64, priority int, ev primitives.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.pending = append(s.pending, Scheduled{At: at, Priority: priority, Event: ev, seq: s.seq})
}

// Pending returns the events not yet dispatched, in dispatch order.
func (s *Simulator) Pending() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sort()
	return slices.Clone(s.pending)
}

func (s *Simulator) sort() {
	slices.SortFunc(s.pending, func(a, b Scheduled) int {
		return cmp.Or(
			cmp.Compare(a.At, b.At),
			cmp.Compare(b.Priority, a.Priority),
			cmp.Compare(a.seq, b.seq),
		)
	})
}

// next pops the first event due at or before until.
func (s *Simulator) next(until int64) (Scheduled, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sort()
	if len(s.pending) == 0 || s.pending[0].At > until {
		return Scheduled{}, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

// Run dispatches every event due up to until and advances the clock to
// until. It returns early, without error, when the engine leaves the
// running state; the records emitted so far are returned either way.
func (s *Simulator) Run(ctx context.Context, until int64) ([]core.StepRecord, error) {
	var out []core.StepRecord
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if s.engine.Status() != core.StatusRunning {
			return out, nil
		}
		sc, ok := s.next(until)
		if !ok {
			break
		}
		recs, err := s.advanceTo(ctx, sc.At)
		out = append(out, recs...)
		if err != nil || s.engine.Status() != core.StatusRunning {
			s.requeue(sc)
			return out, err
		}
		s.log.Debug("dispatch", "time", s.engine.Now(), "event", sc.Event.Name)
		recs, err = s.engine.Dispatch(sc.Event)
		out = append(out, recs...)
		if err != nil {
			return out, fmt.Errorf("dispatch %s at %d: %w", sc.Event.Name, sc.At, err)
		}
	}
	recs, err := s.advanceTo(ctx, until)
	return append(out, recs...), err
}

func (s *Simulator) requeue(sc Scheduled) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, sc)
}

// advanceTo ticks the engine clock up to t in steps of s.step.
func (s *Simulator) advanceTo(ctx context.Context, t int64) ([]core.StepRecord, error) {
	var out []core.StepRecord
	for now := s.engine.Now(); now < t; now = s.engine.Now() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d := t - now
		if s.step > 0 {
			d = min(d, s.step)
		}
		recs, err := s.engine.Tick(d)
		out = append(out, recs...)
		if err != nil {
			return out, fmt.Errorf("tick to %d: %w", now+d, err)
		}
		if s.engine.Status() != core.StatusRunning {
			return out, nil
		}
	}
	return out, nil
}
