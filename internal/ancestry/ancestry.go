// Package ancestry precomputes the ancestor structure of a state tree: ancestor
// chains, document (pre)order, lowest common ancestors and transition scopes.
package ancestry

import (
	"slices"

	"github.com/comalice/hsmkit/internal/primitives"
)

type (
	StateID  = primitives.StateID
	RegionID = primitives.RegionID
)

// Index answers ancestry queries over one finalized graph in O(depth) or
// better. It is immutable and safe to share.
type Index struct {
	g      *primitives.Graph
	chains [][]StateID
	rank   []int
	order  []StateID

	boundary map[StateID][]StateID
	regions  [][]RegionID
}

// New builds the index. The graph must be structurally valid.
func New(g *primitives.Graph) *Index {
	x := &Index{
		g:      g,
		chains: make([][]StateID, len(g.States)),
		rank:   make([]int, len(g.States)),
	}
	x.regions = make([][]RegionID, len(g.States))
	for i := range g.States {
		var chain []StateID
		for s := StateID(i); s != primitives.NoState; s = g.States[s].Parent {
			chain = append(chain, s)
		}
		x.chains[i] = chain
		rs := slices.Clone(g.States[i].Regions)
		slices.SortStableFunc(rs, func(a, b RegionID) int { return g.Regions[a].Rank - g.Regions[b].Rank })
		x.regions[i] = rs
		if st := &g.States[i]; st.Parent != primitives.NoState && st.ParentRegion == primitives.NoRegion {
			if x.boundary == nil {
				x.boundary = map[StateID][]StateID{}
			}
			x.boundary[st.Parent] = append(x.boundary[st.Parent], st.ID)
		}
	}
	x.visit(primitives.Root)
	return x
}

// visit assigns document order: a state, its boundary points, then each of
// its regions by dispatch rank (declaration order among equal ranks).
func (x *Index) visit(s StateID) {
	x.rank[s] = len(x.order)
	x.order = append(x.order, s)
	for _, b := range x.boundary[s] {
		x.visit(b)
	}
	for _, r := range x.Regions(s) {
		for _, c := range x.g.Region(r).States {
			x.visit(c)
		}
	}
}

// Regions returns the regions of s in dispatch order.
func (x *Index) Regions(s StateID) []RegionID { return x.regions[s] }

// Graph returns the indexed graph.
func (x *Index) Graph() *primitives.Graph { return x.g }

// Ancestors lists s and its ancestors, innermost first, ending at the root.
func (x *Index) Ancestors(s StateID) []StateID { return x.chains[s] }

// Depth is the distance from the root.
func (x *Index) Depth(s StateID) int { return len(x.chains[s]) - 1 }

// Rank is the position of s in document order.
func (x *Index) Rank(s StateID) int { return x.rank[s] }

// Preorder lists every state in document order.
func (x *Index) Preorder() []StateID { return x.order }

// SortPreorder sorts ids in document order.
func (x *Index) SortPreorder(ids []StateID) {
	slices.SortFunc(ids, func(a, b StateID) int { return x.rank[a] - x.rank[b] })
}

// IsDescendant reports whether s is anc or lies below it.
func (x *Index) IsDescendant(s, anc StateID) bool {
	c := x.chains[s]
	d := len(x.chains[anc])
	return len(c) >= d && c[len(c)-d] == anc
}

// LCA is the deepest state that is an ancestor of both a and b; a state is its
// own ancestor.
func (x *Index) LCA(a, b StateID) StateID {
	ca, cb := x.chains[a], x.chains[b]
	i, j := len(ca)-1, len(cb)-1
	lca := primitives.Root
	for i >= 0 && j >= 0 && ca[i] == cb[j] {
		lca = ca[i]
		i--
		j--
	}
	return lca
}

// ChildToward returns the ancestor of s (or s itself) whose parent is anc.
// It returns NoState when s is not strictly below anc.
func (x *Index) ChildToward(anc, s StateID) StateID {
	c := x.chains[s]
	d := len(x.chains[anc])
	if len(c) <= d || c[len(c)-d] != anc {
		return primitives.NoState
	}
	return c[len(c)-d-1]
}

// RegionToward returns the region of anc that contains s, or NoRegion.
func (x *Index) RegionToward(anc, s StateID) RegionID {
	c := x.ChildToward(anc, s)
	if c == primitives.NoState {
		return primitives.NoRegion
	}
	return x.g.States[c].ParentRegion
}

// Scope delimits the part of the active configuration a transition segment
// replaces. States strictly inside the scope are exited; entered states are
// created below it.
type Scope struct {
	State StateID
	// Region restricts the scope to one region of State. NoRegion means all
	// regions.
	Region RegionID
	// Empty scopes exit and enter nothing (internal self-transitions).
	Empty bool
}

// Contains reports whether s lies strictly inside the scope.
func (x *Index) Contains(sc Scope, s StateID) bool {
	if sc.Empty || s == sc.State || !x.IsDescendant(s, sc.State) {
		return false
	}
	return sc.Region == primitives.NoRegion || x.RegionToward(sc.State, s) == sc.Region
}

// around is the scope whose only child is s: the region enclosing s.
func (x *Index) around(s StateID) Scope {
	st := x.g.State(s)
	return Scope{State: st.Parent, Region: st.ParentRegion}
}

// ScopeOf computes the scope of transition t.
//
// The least common ancestor is refined to the least common region: a
// transition between siblings of one region of a parallel state leaves the
// other regions alone, while a transition across regions of a parallel state
// replaces all of them. External transitions whose source contains the target
// (or equals it) exit and re-enter the source.
func (x *Index) ScopeOf(t *primitives.Transition) Scope {
	g := x.g
	src, tgt := t.Source, t.Target
	srcKind, tgtKind := g.State(src).Kind, g.State(tgt).Kind

	switch {
	case tgtKind == primitives.KindExitPoint:
		return x.around(g.State(tgt).Parent)
	case srcKind == primitives.KindExitPoint:
		src = g.State(src).Parent
	case srcKind == primitives.KindEntryPoint:
		owner := g.State(src).Parent
		return Scope{State: owner, Region: x.RegionToward(owner, tgt)}
	}
	if tgtKind == primitives.KindEntryPoint {
		tgt = g.State(tgt).Parent
	}

	if t.Internal && x.IsDescendant(tgt, src) {
		if tgt == src {
			return Scope{State: src, Region: primitives.NoRegion, Empty: true}
		}
		return Scope{State: src, Region: x.RegionToward(src, tgt)}
	}

	l := x.LCA(src, tgt)
	if l == src || l == tgt {
		return x.around(l)
	}
	rs, rt := x.RegionToward(l, src), x.RegionToward(l, tgt)
	if rs == rt {
		return Scope{State: l, Region: rs}
	}
	return Scope{State: l, Region: primitives.NoRegion}
}

// EntryPath lists the states from just below sc down to s, outermost first.
// s itself is included.
func (x *Index) EntryPath(sc Scope, s StateID) []StateID {
	var path []StateID
	for _, a := range x.chains[s] {
		if a == sc.State {
			break
		}
		path = append(path, a)
	}
	slices.Reverse(path)
	return path
}
