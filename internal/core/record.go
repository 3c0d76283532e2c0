package core

import (
	"github.com/zclconf/go-cty/cty"
)

// StepKind classifies a StepRecord.
type StepKind string

const (
	StepInit            StepKind = "init"
	StepTransition      StepKind = "transition"
	StepDiscarded       StepKind = "discarded"
	StepDeferred        StepKind = "deferred"
	StepOverflow        StepKind = "overflow"
	StepContextOverride StepKind = "context-override"
	StepPaused          StepKind = "paused"
	StepFault           StepKind = "fault"
)

// StepRecord is the observable trace of one engine step. Two engines that
// agree on semantics produce identical record sequences for identical
// inputs.
type StepRecord struct {
	Seq         uint64   `json:"seq" yaml:"seq"`
	Time        int64    `json:"time" yaml:"time"`
	Kind        StepKind `json:"kind" yaml:"kind"`
	Event       string   `json:"event,omitempty" yaml:"event,omitempty"`
	EventKind   string   `json:"eventKind,omitempty" yaml:"eventKind,omitempty"`
	Transitions []string `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Exited      []string `json:"exited,omitempty" yaml:"exited,omitempty"`
	Entered     []string `json:"entered,omitempty" yaml:"entered,omitempty"`
	Actions     []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	Before      []string `json:"before,omitempty" yaml:"before,omitempty"`
	After       []string `json:"after,omitempty" yaml:"after,omitempty"`
	Notes       []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Observer receives every StepRecord an engine emits, in order.
type Observer interface {
	Observe(StepRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(StepRecord)

func (f ObserverFunc) Observe(r StepRecord) { f(r) }

// Snapshot is a copy of the observable runtime state of an engine.
type Snapshot struct {
	Machine  string `json:"machine" yaml:"machine"`
	Instance string `json:"instance" yaml:"instance"`
	Status   string `json:"status" yaml:"status"`
	Time     int64  `json:"time" yaml:"time"`
	// Configuration lists the active basic states in document order.
	Configuration []string `json:"configuration" yaml:"configuration"`
	// Active lists every active state, composites included.
	Active  []string             `json:"active" yaml:"active"`
	Context map[string]cty.Value `json:"-" yaml:"-"`
	History map[string][]string  `json:"history,omitempty" yaml:"history,omitempty"`
	Joins   map[string]uint64    `json:"joins,omitempty" yaml:"joins,omitempty"`
	Timers  []TimerSnapshot      `json:"timers,omitempty" yaml:"timers,omitempty"`
	Queued  []string             `json:"queued,omitempty" yaml:"queued,omitempty"`
	Held    map[string][]string  `json:"deferred,omitempty" yaml:"deferred,omitempty"`
}
