package extensibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/primitives"
)

// Source is a stream of external events.
type Source interface {
	Events() <-chan primitives.Event
}

// ChannelEventSource is a Source backed by a caller-owned channel.
type ChannelEventSource struct {
	ch chan primitives.Event
}

// NewChannelEventSource wraps ch. Buffer it if producers must not block.
func NewChannelEventSource(ch chan primitives.Event) *ChannelEventSource {
	return &ChannelEventSource{ch: ch}
}

func (s *ChannelEventSource) Events() <-chan primitives.Event { return s.ch }

// Pump is the single goroutine allowed to touch an engine: it dispatches
// events from src and advances the virtual clock by the wall time elapsed
// every period. Records go to the engine's observers.
type Pump struct {
	engine *core.Engine
	src    Source
	period time.Duration
	now    func() time.Time
}

// NewPump creates a Pump; a zero period disables clock advancement.
func NewPump(e *core.Engine, src Source, period time.Duration) *Pump {
	return &Pump{engine: e, src: src, period: period, now: time.Now}
}

// Run pumps until ctx is done, the source closes, or the engine fails. A
// paused engine makes Run return ErrPaused wrapped by the engine.
func (p *Pump) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.period > 0 {
		t := time.NewTicker(p.period)
		defer t.Stop()
		tick = t.C
	}
	last := p.now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-p.src.Events():
			if !ok {
				return nil
			}
			if _, err := p.engine.Dispatch(ev); err != nil {
				return fmt.Errorf("dispatch %s: %w", ev.Name, err)
			}
		case <-tick:
			now := p.now()
			elapsed := now.Sub(last).Milliseconds()
			if elapsed <= 0 {
				continue
			}
			last = last.Add(time.Duration(elapsed) * time.Millisecond)
			if _, err := p.engine.Tick(elapsed); err != nil {
				return fmt.Errorf("tick %dms: %w", elapsed, err)
			}
		}
	}
}

// Stopped reports whether err is a normal end of Run.
func Stopped(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
