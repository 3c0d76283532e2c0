package primitives

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

type fingerprintState struct {
	Name    string   `json:"n"`
	Kind    string   `json:"k"`
	Parent  string   `json:"p,omitempty"`
	Entry   []string `json:"en,omitempty"`
	Exit    []string `json:"ex,omitempty"`
	Defers  []string `json:"d,omitempty"`
	History string   `json:"h,omitempty"`
}

type fingerprintTransition struct {
	Name     string   `json:"n"`
	Source   string   `json:"s"`
	Target   string   `json:"t"`
	Trigger  string   `json:"tr,omitempty"`
	Guard    string   `json:"g,omitempty"`
	Actions  []string `json:"a,omitempty"`
	Priority int      `json:"p,omitempty"`
	Internal bool     `json:"i,omitempty"`
}

// Fingerprint computes a deterministic digest of the behaviour-relevant parts
// of g. Snapshots record it so they are only restored into the same machine.
func Fingerprint(g *Graph) string {
	doc := struct {
		Version     int                     `json:"v"`
		Name        string                  `json:"name"`
		States      []fingerprintState      `json:"states"`
		Transitions []fingerprintTransition `json:"transitions"`
		Timers      []string                `json:"timers"`
		Fields      []string                `json:"fields"`
	}{Version: g.Version, Name: g.Name}

	for i := range g.States {
		s := &g.States[i]
		fs := fingerprintState{Name: s.Name, Kind: s.Kind.String(), Parent: g.StateName(s.Parent), Entry: stmtStrings(s.Entry), Exit: stmtStrings(s.Exit), Defers: s.Defers}
		if s.Kind == KindHistory {
			fs.History = s.History.String()
		}
		doc.States = append(doc.States, fs)
	}
	for i := range g.Transitions {
		t := &g.Transitions[i]
		ft := fingerprintTransition{Name: t.Name, Source: g.StateName(t.Source), Target: g.StateName(t.Target), Trigger: t.Trigger.String(), Actions: stmtStrings(t.Actions), Priority: t.Priority, Internal: t.Internal}
		if t.Guard != nil {
			ft.Guard = t.Guard.String()
		}
		doc.Transitions = append(doc.Transitions, ft)
	}
	for _, tm := range g.Timers {
		doc.Timers = append(doc.Timers, g.StateName(tm.Owner)+"/"+tm.Name+"/"+tm.Kind.String()+"/"+strconv.FormatInt(tm.Period, 10))
	}
	for _, f := range g.Fields {
		doc.Fields = append(doc.Fields, f.Name+":"+f.Type.FriendlyName())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		// Only plain strings and ints are marshalled.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

func stmtStrings(stmts []Stmt) []string {
	if len(stmts) == 0 {
		return nil
	}
	out := make([]string, len(stmts))
	for i, s := range stmts {
		out[i] = s.String()
	}
	return out
}
