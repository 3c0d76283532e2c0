package primitives

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// FormatVersion is the graph document version this module executes.
const FormatVersion = 1

// Issue codes reported by Validate.
const (
	IssueUnsupportedVersion = "UNSUPPORTED_VERSION"
	IssueRootInvalid        = "ROOT_INVALID"
	IssueDuplicateName      = "DUPLICATE_NAME"
	IssueInvalidParent      = "INVALID_PARENT"
	IssueRegionCount        = "REGION_COUNT"
	IssueMissingInitial     = "MISSING_INITIAL"
	IssueInitialTransition  = "INITIAL_TRANSITION"
	IssueUnknownState       = "UNKNOWN_STATE"
	IssueInvalidSource      = "INVALID_SOURCE"
	IssueInvalidTarget      = "INVALID_TARGET"
	IssuePseudostateTrigger = "PSEUDOSTATE_TRIGGER"
	IssueHistoryPlacement   = "HISTORY_PLACEMENT"
	IssueForkShape          = "FORK_SHAPE"
	IssueJoinShape          = "JOIN_SHAPE"
	IssueBoundaryShape      = "BOUNDARY_SHAPE"
	IssueInternalTransition = "INTERNAL_TRANSITION"
	IssueInvalidTimer       = "INVALID_TIMER"
	IssueDuplicateOrder     = "DUPLICATE_ORDER"
	IssueInvalidField       = "INVALID_FIELD"
)

// ValidationIssue is one structural problem of a graph.
type ValidationIssue struct {
	Code    string
	Message string
	Loc     Location
}

// ValidationError collects every issue found by Validate.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid graph: " + e.Issues[0].Message
	}
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		msgs[i] = is.Code + ": " + is.Message
	}
	return fmt.Sprintf("invalid graph: %d issues: %s", len(e.Issues), strings.Join(msgs, "; "))
}

// Add records an issue.
func (e *ValidationError) Add(code string, loc Location, format string, args ...any) {
	e.Issues = append(e.Issues, ValidationIssue{Code: code, Message: fmt.Sprintf(format, args...), Loc: loc})
}

// HasIssues reports whether anything was recorded.
func (e *ValidationError) HasIssues() bool { return len(e.Issues) > 0 }

// Validate checks the structural well-formedness of g: the state tree, region
// shapes, pseudostate wiring, timers and fields. It returns a
// *ValidationError listing every issue, or nil. g must have been finalized.
func Validate(g *Graph) error {
	v := &validator{g: g, err: &ValidationError{}}
	v.version()
	if !v.tree() {
		return v.err
	}
	v.regions()
	v.transitions()
	v.pseudostates()
	v.timers()
	v.fields()
	if v.err.HasIssues() {
		return v.err
	}
	return nil
}

type validator struct {
	g   *Graph
	err *ValidationError
}

func (v *validator) version() {
	if v.g.Version != FormatVersion {
		v.err.Add(IssueUnsupportedVersion, Location{}, "graph version %d is not supported (want %d)", v.g.Version, FormatVersion)
	}
}

// tree checks parent links; the remaining checks assume they hold.
func (v *validator) tree() bool {
	g := v.g
	ok := true
	if len(g.States) == 0 {
		v.err.Add(IssueRootInvalid, Location{}, "graph has no states")
		return false
	}
	root := &g.States[Root]
	if root.Kind != KindComposite || root.Parent != NoState || len(root.Regions) != 1 {
		v.err.Add(IssueRootInvalid, root.Loc, "state 0 must be a parentless composite with one region")
		ok = false
	}
	seen := map[string]StateID{}
	for i := range g.States {
		s := &g.States[i]
		if s.ID != StateID(i) {
			v.err.Add(IssueInvalidParent, s.Loc, "state %q has ID %d at index %d", s.Name, s.ID, i)
			ok = false
		}
		if prev, dup := seen[s.Name]; dup {
			v.err.Add(IssueDuplicateName, s.Loc, "state name %q used by states %d and %d", s.Name, prev, i)
		}
		seen[s.Name] = s.ID
		if i == int(Root) {
			continue
		}
		if !g.validState(s.Parent) || s.Parent == s.ID {
			v.err.Add(IssueInvalidParent, s.Loc, "state %q has invalid parent %d", s.Name, s.Parent)
			ok = false
			continue
		}
		if s.Depth >= len(g.States) {
			v.err.Add(IssueInvalidParent, s.Loc, "state %q is part of a parent cycle", s.Name)
			ok = false
			continue
		}
		parent := &g.States[s.Parent]
		if s.Kind == KindEntryPoint || s.Kind == KindExitPoint {
			if s.ParentRegion != NoRegion || !parent.Kind.OwnsRegions() {
				v.err.Add(IssueBoundaryShape, s.Loc, "%s %q must sit on the boundary of a composite state", s.Kind, s.Name)
			}
			continue
		}
		if s.ParentRegion < 0 || int(s.ParentRegion) >= len(g.Regions) || g.Regions[s.ParentRegion].Owner != s.Parent {
			v.err.Add(IssueInvalidParent, s.Loc, "state %q is not inside a region of %q", s.Name, parent.Name)
			ok = false
		}
	}
	for i := range g.Regions {
		r := &g.Regions[i]
		if r.ID != RegionID(i) || !g.validState(r.Owner) {
			v.err.Add(IssueInvalidParent, r.Loc, "region %q has an invalid owner", r.Name)
			ok = false
		}
	}
	return ok
}

func (v *validator) regions() {
	g := v.g
	for i := range g.States {
		s := &g.States[i]
		n := len(s.Regions)
		switch s.Kind {
		case KindComposite, KindSubmachineRef:
			if n != 1 {
				v.err.Add(IssueRegionCount, s.Loc, "%s state %q must own exactly one region, has %d", s.Kind, s.Name, n)
			}
		case KindParallel:
			if n < 2 {
				v.err.Add(IssueRegionCount, s.Loc, "parallel state %q must own at least two regions, has %d", s.Name, n)
			}
		default:
			if n != 0 {
				v.err.Add(IssueRegionCount, s.Loc, "%s %q cannot own regions", s.Kind, s.Name)
			}
		}
		for _, r := range s.Regions {
			if r < 0 || int(r) >= len(g.Regions) || g.Regions[r].Owner != s.ID {
				v.err.Add(IssueInvalidParent, s.Loc, "state %q lists region %d it does not own", s.Name, r)
			}
		}
	}
	for i := range g.Regions {
		r := &g.Regions[i]
		if !g.validState(r.Initial) || g.States[r.Initial].Kind != KindInitial || g.States[r.Initial].ParentRegion != r.ID {
			v.err.Add(IssueMissingInitial, r.Loc, "region %q of %q has no initial pseudostate", r.Name, g.StateName(r.Owner))
			continue
		}
		for _, sid := range r.States {
			if sid != r.Initial && g.validState(sid) && g.States[sid].Kind == KindInitial {
				v.err.Add(IssueMissingInitial, g.States[sid].Loc, "region %q has more than one initial pseudostate", r.Name)
			}
		}
		t, ok := g.InitialTransition(r.ID)
		switch {
		case !ok:
			v.err.Add(IssueInitialTransition, r.Loc, "initial pseudostate of region %q must have exactly one outgoing transition", r.Name)
		case t.Guard != nil || t.Trigger.Kind != TriggerNone:
			v.err.Add(IssueInitialTransition, t.Loc, "initial transition of region %q must be unguarded and trigger-less", r.Name)
		case !g.validState(t.Target) || g.States[t.Target].ParentRegion != r.ID || g.States[t.Target].Kind.IsPseudostate():
			v.err.Add(IssueInitialTransition, t.Loc, "initial transition of region %q must target a state of that region", r.Name)
		}
	}
}

func (v *validator) transitions() {
	g := v.g
	orders := map[[2]int]TransitionID{}
	for i := range g.Transitions {
		t := &g.Transitions[i]
		if t.ID != TransitionID(i) {
			v.err.Add(IssueUnknownState, t.Loc, "transition %q has ID %d at index %d", t.Name, t.ID, i)
		}
		if !g.validState(t.Source) || !g.validState(t.Target) {
			v.err.Add(IssueUnknownState, t.Loc, "transition %q references an unknown state", t.Name)
			continue
		}
		src, tgt := &g.States[t.Source], &g.States[t.Target]
		if t.Source == Root || src.Kind == KindFinal || src.Kind == KindHistory && t.Guard != nil {
			v.err.Add(IssueInvalidSource, t.Loc, "transition %q cannot leave %s %q", g.TransitionLabel(t.ID), src.Kind, src.Name)
		}
		if t.Target == Root || tgt.Kind == KindInitial || tgt.Kind == KindExitPoint && !v.descendant(t.Source, tgt.Parent) {
			v.err.Add(IssueInvalidTarget, t.Loc, "transition %q cannot target %s %q", g.TransitionLabel(t.ID), tgt.Kind, tgt.Name)
		}
		if src.Kind.IsPseudostate() && t.Trigger.Kind != TriggerNone {
			v.err.Add(IssuePseudostateTrigger, t.Loc, "transition %q leaves %s %q and cannot have a trigger", g.TransitionLabel(t.ID), src.Kind, src.Name)
		}
		if t.Internal && (src.Kind.IsPseudostate() || !v.descendant(t.Target, t.Source)) {
			v.err.Add(IssueInternalTransition, t.Loc, "internal transition %q must target its source or a descendant of it", g.TransitionLabel(t.ID))
		}
		if t.Trigger.Kind == TriggerTimer {
			if t.Trigger.Timer < 0 || int(t.Trigger.Timer) >= len(g.Timers) || !v.descendant(t.Source, g.Timers[t.Trigger.Timer].Owner) {
				v.err.Add(IssueInvalidTimer, t.Loc, "transition %q is triggered by a timer not owned by its source or an ancestor", g.TransitionLabel(t.ID))
			}
		}
		key := [2]int{int(t.Source), t.Order}
		if prev, dup := orders[key]; dup {
			v.err.Add(IssueDuplicateOrder, t.Loc, "transitions %q and %q share declaration order %d", g.TransitionLabel(prev), g.TransitionLabel(t.ID), t.Order)
		}
		orders[key] = t.ID
	}
}

func (v *validator) pseudostates() {
	g := v.g
	for i := range g.States {
		s := &g.States[i]
		out := g.Outgoing(s.ID)
		switch s.Kind {
		case KindHistory:
			p := &g.States[s.Parent]
			if p.Kind != KindComposite && p.Kind != KindSubmachineRef {
				v.err.Add(IssueHistoryPlacement, s.Loc, "history %q must be placed in a composite state", s.Name)
			}
			if len(out) > 1 {
				v.err.Add(IssueHistoryPlacement, s.Loc, "history %q has more than one default transition", s.Name)
			}
			for _, tid := range out {
				if tgt := g.Transitions[tid].Target; !v.descendant(tgt, s.Parent) || tgt == s.Parent || g.States[tgt].Kind.IsPseudostate() {
					v.err.Add(IssueHistoryPlacement, g.Transitions[tid].Loc, "default of history %q must stay inside %q", s.Name, p.Name)
				}
			}
		case KindFork:
			if len(out) < 2 {
				v.err.Add(IssueForkShape, s.Loc, "fork %q needs at least two outgoing transitions", s.Name)
				continue
			}
			targets := make([]StateID, len(out))
			for j, tid := range out {
				if g.Transitions[tid].Guard != nil {
					v.err.Add(IssueForkShape, g.Transitions[tid].Loc, "fork %q has a guarded outgoing transition", s.Name)
				}
				targets[j] = g.Transitions[tid].Target
			}
			if _, ok := v.orthogonal(targets); !ok {
				v.err.Add(IssueForkShape, s.Loc, "targets of fork %q must lie in distinct regions of one parallel state", s.Name)
			}
		case KindJoin:
			in := g.Incoming(s.ID)
			sources := make([]StateID, len(in))
			for j, tid := range in {
				sources[j] = g.Transitions[tid].Source
				if g.States[sources[j]].Kind.IsPseudostate() {
					v.err.Add(IssueJoinShape, g.Transitions[tid].Loc, "join %q cannot be entered from a pseudostate", s.Name)
				}
			}
			if len(in) < 2 {
				v.err.Add(IssueJoinShape, s.Loc, "join %q needs at least two incoming transitions", s.Name)
			} else if _, ok := v.orthogonal(sources); !ok {
				v.err.Add(IssueJoinShape, s.Loc, "sources of join %q must lie in distinct regions of one parallel state", s.Name)
			}
			if len(out) != 1 || g.Transitions[out[0]].Guard != nil {
				v.err.Add(IssueJoinShape, s.Loc, "join %q needs exactly one unguarded outgoing transition", s.Name)
			}
		case KindEntryPoint, KindExitPoint:
			if len(out) != 1 {
				v.err.Add(IssueBoundaryShape, s.Loc, "%s %q needs exactly one outgoing transition", s.Kind, s.Name)
				continue
			}
			t := &g.Transitions[out[0]]
			if s.Kind == KindEntryPoint && !v.descendant(t.Target, s.Parent) {
				v.err.Add(IssueBoundaryShape, t.Loc, "entry point %q must lead into %q", s.Name, g.StateName(s.Parent))
			}
			if s.Kind == KindExitPoint && v.descendant(t.Target, s.Parent) {
				v.err.Add(IssueBoundaryShape, t.Loc, "exit point %q must lead out of %q", s.Name, g.StateName(s.Parent))
			}
		case KindChoice, KindJunction:
			if len(out) == 0 {
				v.err.Add(IssueInvalidSource, s.Loc, "%s %q has no outgoing transitions", s.Kind, s.Name)
			}
		}
	}
}

func (v *validator) timers() {
	g := v.g
	for i := range g.Timers {
		tm := &g.Timers[i]
		switch {
		case tm.ID != TimerID(i):
			v.err.Add(IssueInvalidTimer, tm.Loc, "timer %q has ID %d at index %d", tm.Name, tm.ID, i)
		case tm.Period <= 0:
			v.err.Add(IssueInvalidTimer, tm.Loc, "timer %q must have a positive period", tm.Name)
		case !g.validState(tm.Owner) || g.States[tm.Owner].Kind.IsPseudostate():
			v.err.Add(IssueInvalidTimer, tm.Loc, "timer %q must be owned by a state", tm.Name)
		}
	}
}

func (v *validator) fields() {
	seen := map[string]bool{}
	for _, f := range v.g.Fields {
		switch {
		case f.Name == "":
			v.err.Add(IssueInvalidField, f.Loc, "context field without a name")
		case seen[f.Name]:
			v.err.Add(IssueInvalidField, f.Loc, "context field %q declared twice", f.Name)
		case f.Type == cty.NilType:
			v.err.Add(IssueInvalidField, f.Loc, "context field %q has no type", f.Name)
		case f.Default != cty.NilVal:
			if _, err := convert.Convert(f.Default, f.Type); err != nil {
				v.err.Add(IssueInvalidField, f.Loc, "default of context field %q: %v", f.Name, err)
			}
		}
		seen[f.Name] = true
	}
}

// descendant reports whether s equals anc or lies below it.
func (v *validator) descendant(s, anc StateID) bool {
	for cur := s; v.g.validState(cur); cur = v.g.States[cur].Parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// orthogonal finds the parallel state whose distinct regions hold all of
// states.
func (v *validator) orthogonal(states []StateID) (StateID, bool) {
	g := v.g
	for p := g.States[states[0]].Parent; g.validState(p); p = g.States[p].Parent {
		if g.States[p].Kind != KindParallel {
			continue
		}
		used := map[RegionID]bool{}
		ok := true
		for _, s := range states {
			r := v.regionUnder(s, p)
			if r == NoRegion || used[r] {
				ok = false
				break
			}
			used[r] = true
		}
		if ok {
			return p, true
		}
	}
	return NoState, false
}

// regionUnder returns the region of owner that contains s.
func (v *validator) regionUnder(s, owner StateID) RegionID {
	g := v.g
	for cur := s; g.validState(cur); cur = g.States[cur].Parent {
		if g.States[cur].Parent == owner {
			return g.States[cur].ParentRegion
		}
	}
	return NoRegion
}
