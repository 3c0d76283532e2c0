package primitives

import "fmt"

// StateID indexes Graph.States.
type StateID int

// RegionID indexes Graph.Regions.
type RegionID int

// NoState and NoRegion mark absent references.
const (
	NoState  StateID  = -1
	NoRegion RegionID = -1
)

// Kind is the closed set of vertex kinds.
type Kind uint8

const (
	KindSimple Kind = iota
	KindComposite
	KindParallel
	KindInitial
	KindFinal
	KindChoice
	KindJunction
	KindHistory
	KindFork
	KindJoin
	KindSubmachineRef
	KindEntryPoint
	KindExitPoint
)

var kindNames = [...]string{
	KindSimple:        "simple",
	KindComposite:     "composite",
	KindParallel:      "parallel",
	KindInitial:       "initial",
	KindFinal:         "final",
	KindChoice:        "choice",
	KindJunction:      "junction",
	KindHistory:       "history",
	KindFork:          "fork",
	KindJoin:          "join",
	KindSubmachineRef: "submachine",
	KindEntryPoint:    "entryPoint",
	KindExitPoint:     "exitPoint",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), true
		}
	}
	return 0, false
}

// IsPseudostate reports whether vertices of this kind are transient, i.e.
// never part of a configuration.
func (k Kind) IsPseudostate() bool {
	switch k {
	case KindInitial, KindChoice, KindJunction, KindHistory, KindFork, KindJoin, KindEntryPoint, KindExitPoint:
		return true
	}
	return false
}

// IsBasic reports whether the kind is a leaf of a configuration.
func (k Kind) IsBasic() bool {
	return k == KindSimple || k == KindFinal
}

// OwnsRegions reports whether the kind contains regions.
func (k Kind) OwnsRegions() bool {
	return k == KindComposite || k == KindParallel || k == KindSubmachineRef
}

// HistoryDepth selects what a history pseudostate remembers.
type HistoryDepth uint8

const (
	Shallow HistoryDepth = iota
	Deep
)

func (d HistoryDepth) String() string {
	if d == Deep {
		return "deep"
	}
	return "shallow"
}

// State is one vertex of the graph. Pseudostates use the same record; fields
// that make no sense for a kind stay at their zero value.
type State struct {
	ID     StateID
	Name   string
	Kind   Kind
	Parent StateID
	// ParentRegion is NoRegion for the root and for entry/exit points, which
	// sit on the boundary of Parent rather than inside one of its regions.
	ParentRegion RegionID
	Depth        int
	Regions      []RegionID
	Entry        []Stmt
	Exit         []Stmt
	Timers       []TimerID
	Defers       []string
	History      HistoryDepth
	// Submachine names the machine a KindSubmachineRef was inlined from.
	Submachine string
	Loc        Location
}

// DefersEvent reports whether the state declares name as deferred.
func (s *State) DefersEvent(name string) bool {
	for _, d := range s.Defers {
		if d == name {
			return true
		}
	}
	return false
}

// Region is an ordered set of sibling vertices with one initial pseudostate.
type Region struct {
	ID      RegionID
	Name    string
	Owner   StateID
	States  []StateID
	Initial StateID
	// Rank orders sibling regions of a parallel state; lower dispatches first.
	Rank int
	Loc  Location
}

// Location is an opaque source position carried into diagnostics and traces.
type Location struct {
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
	Line   int    `json:"line,omitempty" yaml:"line,omitempty"`
	Column int    `json:"column,omitempty" yaml:"column,omitempty"`
}

// IsZero reports whether no position is known.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0 && l.Column == 0
}

func (l Location) String() string {
	switch {
	case l.IsZero():
		return "-"
	case l.Line == 0:
		return l.File
	case l.Column == 0:
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	default:
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
}
