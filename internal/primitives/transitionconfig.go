package primitives

import "fmt"

// TransitionID indexes Graph.Transitions.
type TransitionID int

// TimerID indexes Graph.Timers.
type TimerID int

const (
	NoTransition TransitionID = -1
	NoTimer      TimerID      = -1
)

// TriggerKind discriminates Trigger.
type TriggerKind uint8

const (
	// TriggerNone marks a completion transition, or an outgoing segment of a
	// pseudostate.
	TriggerNone TriggerKind = iota
	TriggerEvent
	TriggerTimer
)

// Trigger is what makes a transition eligible for selection.
type Trigger struct {
	Kind  TriggerKind
	Event string
	Timer TimerID
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerEvent:
		return t.Event
	case TriggerTimer:
		return fmt.Sprintf("timer#%d", t.Timer)
	}
	return ""
}

// Transition is one edge of the graph.
type Transition struct {
	ID      TransitionID
	Name    string
	Source  StateID
	Target  StateID
	Trigger Trigger
	// Guard is nil for unguarded transitions.
	Guard   Expr
	Actions []Stmt
	// Priority selects among candidates at one ancestor level; lower wins.
	Priority int
	Internal bool
	// Order is the declaration-order tie-break key for equal priorities.
	Order int
	Loc   Location
}

// Matches reports whether ev can fire t.
func (t *Transition) Matches(ev *Event) bool {
	switch t.Trigger.Kind {
	case TriggerEvent:
		return (ev.Kind == EventExternal || ev.Kind == EventInternal) && ev.Name == t.Trigger.Event
	case TriggerTimer:
		return ev.Kind == EventTimer && ev.Timer == t.Trigger.Timer
	default:
		return ev.Kind == EventCompletion && ev.HasCompleted(t.Source)
	}
}

// TimerKind distinguishes one-shot from periodic timers.
type TimerKind uint8

const (
	TimerAfter TimerKind = iota
	TimerEvery
)

func (k TimerKind) String() string {
	if k == TimerEvery {
		return "every"
	}
	return "after"
}

// Timer is owned by a state; it is armed on entry to the owner and cancelled
// on its exit. Period is in virtual milliseconds.
type Timer struct {
	ID     TimerID
	Name   string
	Owner  StateID
	Kind   TimerKind
	Period int64
	Loc    Location
}
