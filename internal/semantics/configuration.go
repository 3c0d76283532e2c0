package semantics

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/comalice/hsmkit/internal/primitives"
)

// Configuration is the set of active states. Composite and parallel states
// are tracked together with their active descendants; Leaves yields the basic
// states the configuration is usually described by.
type Configuration struct {
	m      *Model
	active []bool
	count  int
	// joins holds the armed incoming transitions of each join pseudostate
	// (bit i = i-th incoming) that has not fired yet.
	joins map[StateID]uint64
}

// NewConfiguration returns an empty configuration.
func NewConfiguration(m *Model) *Configuration {
	return &Configuration{m: m, active: make([]bool, len(m.G.States))}
}

// Active reports whether s is active.
func (c *Configuration) Active(s StateID) bool {
	return s >= 0 && int(s) < len(c.active) && c.active[s]
}

// Add activates s.
func (c *Configuration) Add(s StateID) {
	if !c.active[s] {
		c.active[s] = true
		c.count++
	}
}

// Remove deactivates s.
func (c *Configuration) Remove(s StateID) {
	if c.active[s] {
		c.active[s] = false
		c.count--
	}
}

// Len is the number of active states.
func (c *Configuration) Len() int { return c.count }

// Empty reports whether nothing is active.
func (c *Configuration) Empty() bool { return c.count == 0 }

// Clear deactivates everything.
func (c *Configuration) Clear() {
	clear(c.active)
	c.count = 0
	c.joins = nil
}

// JoinMask returns the armed incoming transitions of join j.
func (c *Configuration) JoinMask(j StateID) uint64 { return c.joins[j] }

// Joins returns a copy of every non-empty join mask.
func (c *Configuration) Joins() map[StateID]uint64 { return maps.Clone(c.joins) }

// SettleJoins stores the join progress of a selection and then drops every
// armed bit whose source state is no longer active. It runs after the
// selection executed, so a join that fired or a source left through another
// transition both clear their bits.
func (c *Configuration) SettleJoins(pending map[StateID]uint64) {
	for j, mask := range pending {
		if c.joins == nil {
			c.joins = map[StateID]uint64{}
		}
		c.joins[j] = mask
	}
	for j, mask := range c.joins {
		for i, tid := range c.m.G.Incoming(j) {
			if !c.Active(c.m.G.Transition(tid).Source) {
				mask &^= 1 << uint(i)
			}
		}
		if mask == 0 {
			delete(c.joins, j)
		} else {
			c.joins[j] = mask
		}
	}
}

// States lists active states in document order.
func (c *Configuration) States() []StateID {
	out := make([]StateID, 0, c.count)
	for _, s := range c.m.X.Preorder() {
		if c.active[s] {
			out = append(out, s)
		}
	}
	return out
}

// Leaves lists the active basic states in document order, which is also the
// order in which regions are offered events.
func (c *Configuration) Leaves() []StateID {
	var out []StateID
	for _, s := range c.m.X.Preorder() {
		if c.active[s] && c.m.G.States[s].Kind.IsBasic() {
			out = append(out, s)
		}
	}
	return out
}

// ActiveIn returns the active child of region r, or NoState.
func (c *Configuration) ActiveIn(r RegionID) StateID {
	for _, s := range c.m.G.Regions[r].States {
		if c.active[s] {
			return s
		}
	}
	return primitives.NoState
}

// Descendants lists the active proper descendants of s in document order.
func (c *Configuration) Descendants(s StateID) []StateID {
	var out []StateID
	for _, d := range c.States() {
		if d != s && c.m.X.IsDescendant(d, s) {
			out = append(out, d)
		}
	}
	return out
}

// Clone returns an independent copy.
func (c *Configuration) Clone() *Configuration {
	return &Configuration{m: c.m, active: append([]bool(nil), c.active...), count: c.count, joins: maps.Clone(c.joins)}
}

// Equal reports whether both configurations hold the same states and join
// progress.
func (c *Configuration) Equal(o *Configuration) bool {
	if c.count != o.count || !maps.Equal(c.joins, o.joins) {
		return false
	}
	for i, a := range c.active {
		if a != o.active[i] {
			return false
		}
	}
	return true
}

// Key is a compact canonical encoding, usable as a map key.
func (c *Configuration) Key() string {
	var sb strings.Builder
	for _, s := range c.Leaves() {
		sb.WriteString(strconv.Itoa(int(s)))
		sb.WriteByte(',')
	}
	for _, j := range slices.Sorted(maps.Keys(c.joins)) {
		fmt.Fprintf(&sb, "j%d=%x,", j, c.joins[j])
	}
	return sb.String()
}

// Names lists the active leaf names.
func (c *Configuration) Names() []string { return c.m.G.Names(c.Leaves()) }

func (c *Configuration) String() string { return "[" + strings.Join(c.Names(), " ") + "]" }

// Check verifies the configuration invariants: exactly one active state per
// region of every active composite or parallel state, an active parent for
// every active state, and no active pseudostates.
func (c *Configuration) Check() error {
	g := c.m.G
	if !c.active[primitives.Root] {
		return fmt.Errorf("root is not active")
	}
	for i, a := range c.active {
		if !a {
			continue
		}
		s := &g.States[i]
		if s.Kind.IsPseudostate() {
			return fmt.Errorf("pseudostate %q is active", s.Name)
		}
		if s.Parent != primitives.NoState && !c.active[s.Parent] {
			return fmt.Errorf("state %q is active but its parent %q is not", s.Name, g.StateName(s.Parent))
		}
		for _, r := range s.Regions {
			n := 0
			for _, child := range g.Regions[r].States {
				if c.active[child] {
					n++
				}
			}
			if n != 1 {
				return fmt.Errorf("region %q of %q has %d active states", g.Regions[r].Name, s.Name, n)
			}
		}
	}
	return nil
}
