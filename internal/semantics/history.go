package semantics

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/comalice/hsmkit/internal/primitives"
)

// HistoryStore holds one slot per history pseudostate. A shallow slot stores
// the direct child that was active when its composite was last exited; a deep
// slot stores every active descendant, in document order.
type HistoryStore struct {
	slots map[StateID][]StateID
}

// NewHistoryStore returns an empty store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{slots: map[StateID][]StateID{}}
}

// Get returns the recorded states of history h.
func (h *HistoryStore) Get(hist StateID) ([]StateID, bool) {
	s, ok := h.slots[hist]
	return s, ok
}

// Set replaces the slot of hist.
func (h *HistoryStore) Set(hist StateID, states []StateID) {
	h.slots[hist] = states
}

// Clear empties the store.
func (h *HistoryStore) Clear() { clear(h.slots) }

// Record stores the history of composite s. It must run before any state
// below s is exited.
func (h *HistoryStore) Record(m *Model, c *Configuration, s StateID) {
	for _, hist := range m.Histories(s) {
		st := m.G.State(hist)
		if st.History == primitives.Deep {
			h.slots[hist] = c.Descendants(s)
			continue
		}
		region := m.G.State(s).Regions[0]
		if child := c.ActiveIn(region); child != primitives.NoState {
			h.slots[hist] = []StateID{child}
		}
	}
}

// Clone returns an independent copy.
func (h *HistoryStore) Clone() *HistoryStore {
	return &HistoryStore{slots: maps.Clone(h.slots)}
}

// Snapshot returns a copy of the slots.
func (h *HistoryStore) Snapshot() map[StateID][]StateID { return maps.Clone(h.slots) }

// Key is a canonical encoding for use as a map key.
func (h *HistoryStore) Key() string {
	keys := slices.Sorted(maps.Keys(h.slots))
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(strconv.Itoa(int(k)))
		sb.WriteByte(':')
		for _, s := range h.slots[k] {
			sb.WriteString(strconv.Itoa(int(s)))
			sb.WriteByte(',')
		}
		sb.WriteByte(';')
	}
	return sb.String()
}
