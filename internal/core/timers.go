package core

import (
	"maps"
	"slices"

	"github.com/comalice/hsmkit/internal/primitives"
)

// timerInstance is one armed timer. Every timer has exactly one owner, so a
// TimerID identifies at most one instance.
type timerInstance struct {
	id     primitives.TimerID
	owner  primitives.StateID
	due    int64
	period int64
	every  bool
}

// timerRegistry tracks armed timers on the virtual clock.
type timerRegistry struct {
	g      *primitives.Graph
	active map[primitives.TimerID]*timerInstance
}

func newTimerRegistry(g *primitives.Graph) *timerRegistry {
	return &timerRegistry{g: g, active: map[primitives.TimerID]*timerInstance{}}
}

// start arms every timer owned by s, counting from now.
func (r *timerRegistry) start(s primitives.StateID, now int64) {
	for _, id := range r.g.State(s).Timers {
		t := r.g.Timer(id)
		r.active[id] = &timerInstance{
			id:     id,
			owner:  s,
			due:    now + t.Period,
			period: t.Period,
			every:  t.Kind == primitives.TimerEvery,
		}
	}
}

// cancel disarms every timer owned by s.
func (r *timerRegistry) cancel(s primitives.StateID) {
	for _, id := range r.g.State(s).Timers {
		delete(r.active, id)
	}
}

// next returns the earliest timer due at or before limit. Equal due times go
// to the timer declared first.
func (r *timerRegistry) next(limit int64) (*timerInstance, bool) {
	var best *timerInstance
	for _, ti := range r.active {
		if ti.due > limit {
			continue
		}
		if best == nil || ti.due < best.due || (ti.due == best.due && ti.id < best.id) {
			best = ti
		}
	}
	return best, best != nil
}

// fire consumes one expiry: a periodic timer is re-armed from its scheduled
// time, a one-shot timer is removed.
func (r *timerRegistry) fire(ti *timerInstance) {
	if ti.every && ti.period > 0 {
		ti.due += ti.period
		return
	}
	delete(r.active, ti.id)
}

func (r *timerRegistry) clear() { clear(r.active) }

// TimerSnapshot describes one armed timer.
type TimerSnapshot struct {
	Timer string `json:"timer" yaml:"timer"`
	Owner string `json:"owner" yaml:"owner"`
	Due   int64  `json:"due" yaml:"due"`
}

func (r *timerRegistry) snapshot() []TimerSnapshot {
	out := make([]TimerSnapshot, 0, len(r.active))
	for _, id := range slices.Sorted(maps.Keys(r.active)) {
		ti := r.active[id]
		out = append(out, TimerSnapshot{Timer: r.g.Timer(id).Name, Owner: r.g.StateName(ti.owner), Due: ti.due})
	}
	return out
}
