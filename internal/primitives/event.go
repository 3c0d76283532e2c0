package primitives

import (
	"slices"

	"github.com/zclconf/go-cty/cty"
)

// EventKind tells where an event came from.
type EventKind uint8

const (
	EventExternal EventKind = iota
	EventInternal
	EventTimer
	EventCompletion
)

var eventKindNames = [...]string{"external", "internal", "timer", "completion"}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is the unit consumed by one run-to-completion step.
//
// Events are values; once queued they are never mutated.
type Event struct {
	Kind   EventKind
	Name   string
	Params map[string]cty.Value
	// Timer is set for EventTimer.
	Timer TimerID
	// Completed lists, in preorder, the states whose completion this event
	// announces. Only set for EventCompletion.
	Completed []StateID
	// Seq is assigned by the engine when the event is first queued.
	Seq uint64
}

// NewEvent creates an external event.
func NewEvent(name string, params map[string]cty.Value) Event {
	return Event{Kind: EventExternal, Name: name, Params: params, Timer: NoTimer}
}

// NewInternalEvent creates an event raised by an action.
func NewInternalEvent(name string) Event {
	return Event{Kind: EventInternal, Name: name, Timer: NoTimer}
}

// NewTimerEvent creates the event that fires timer t.
func NewTimerEvent(t *Timer) Event {
	return Event{Kind: EventTimer, Name: t.Name, Timer: t.ID}
}

// NewCompletionEvent announces completion of the given states.
func NewCompletionEvent(states []StateID) Event {
	return Event{Kind: EventCompletion, Name: "completion", Timer: NoTimer, Completed: states}
}

// HasCompleted reports whether s is among the completed states.
func (e *Event) HasCompleted(s StateID) bool {
	return slices.Contains(e.Completed, s)
}

// Deferrable reports whether a state may defer this event. Only named
// events are ever deferred.
func (e *Event) Deferrable() bool {
	return e.Kind == EventExternal || e.Kind == EventInternal
}

// Param returns the named parameter or cty.NilVal.
func (e *Event) Param(name string) (cty.Value, bool) {
	v, ok := e.Params[name]
	return v, ok
}
