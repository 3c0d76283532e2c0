// Package semantics is the execution model shared by the engine and the static
// verifier: configurations, history, transition selection and the micro-step
// executor. Nothing here owns mutable runtime state beyond what callers pass in,
// and nothing here evaluates guards or runs actions directly; callers supply an
// Oracle and Hooks for that.
package semantics

import (
	"github.com/comalice/hsmkit/internal/ancestry"
	"github.com/comalice/hsmkit/internal/primitives"
)

type (
	StateID      = primitives.StateID
	RegionID     = primitives.RegionID
	TransitionID = primitives.TransitionID
)

// Model bundles a graph with the indexes the semantics need.
type Model struct {
	G *primitives.Graph
	X *ancestry.Index

	histories map[StateID][]StateID
}

// NewModel indexes g, which must be valid.
func NewModel(g *primitives.Graph) *Model {
	m := &Model{G: g, X: ancestry.New(g), histories: map[StateID][]StateID{}}
	for i := range g.States {
		s := &g.States[i]
		if s.Kind == primitives.KindHistory {
			m.histories[s.Parent] = append(m.histories[s.Parent], s.ID)
		}
	}
	return m
}

// Histories lists the history pseudostates of composite s.
func (m *Model) Histories(s StateID) []StateID { return m.histories[s] }

// Name is shorthand for the state name.
func (m *Model) Name(s StateID) string { return m.G.StateName(s) }
