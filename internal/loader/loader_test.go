package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/primitives"
)

const door = `version: 1
name: door
fields:
  opens: {type: number, default: 2}
  tags: {type: list(string), default: [a, b]}
states:
  - name: Closed
    defer: [KNOCK]
    transitions:
      - {on: OPEN, to: Open, when: "opens < 3", do: ["opens = opens + 1", "raise OPENED"]}
  - name: Open
    entry: ['log "opened"']
    timers: [{name: auto, after: 5000}]
    transitions:
      - {timer: auto, to: Closed}
      - {on: LOCK, to: Locked, priority: 2, name: lockit}
  - name: Locked
    regions:
      - name: bolt
        states:
          - name: Thrown
          - name: Done
            kind: final
      - name: alarm
        initial: Armed
        states:
          - name: Silent
          - name: Armed
`

func TestLoad(t *testing.T) {
	g, err := Load("door.yaml", []byte(door))
	require.NoError(t, err)
	require.Equal(t, "door", g.Name)

	opens, ok := g.Field("opens")
	require.True(t, ok)
	require.Equal(t, cty.Number, opens.Type)
	require.True(t, opens.Default.RawEquals(cty.NumberIntVal(2)))
	tags, _ := g.Field("tags")
	require.Equal(t, cty.List(cty.String), tags.Type)
	require.Equal(t, primitives.Location{File: "door.yaml", Line: 4, Column: 3}, opens.Loc)

	id, ok := g.Lookup("Closed")
	require.True(t, ok)
	closed := g.State(id)
	require.Equal(t, []string{"KNOCK"}, closed.Defers)
	require.Equal(t, 6, closed.Loc.Line)

	out := g.Outgoing(id)
	require.Len(t, out, 1)
	tr := g.Transition(out[0])
	require.Equal(t, "Closed-OPEN->Open", tr.Name)
	require.Equal(t, "opens < 3", tr.Guard.String())
	require.Len(t, tr.Actions, 2)
	require.Equal(t, 9, tr.Loc.Line)

	id, _ = g.Lookup("Open")
	require.Len(t, g.State(id).Timers, 1)
	require.Equal(t, int64(5000), g.Timer(g.State(id).Timers[0]).Period)
	var names []string
	for _, tid := range g.Outgoing(id) {
		names = append(names, g.Transition(tid).Name)
	}
	require.Equal(t, []string{"Open-auto->Closed", "lockit"}, names)

	id, _ = g.Lookup("Locked")
	require.Equal(t, primitives.KindParallel, g.State(id).Kind)
	require.Len(t, g.State(id).Regions, 2)
	alarm := g.State(id).Regions[1]
	init, ok := g.InitialTransition(alarm)
	require.True(t, ok)
	require.Equal(t, "Armed", g.StateName(init.Target))

	id, _ = g.Lookup("Done")
	require.Equal(t, primitives.KindFinal, g.State(id).Kind)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "door.yaml")
	require.NoError(t, os.WriteFile(path, []byte(door), 0o644))
	g, err := LoadFile(path)
	require.NoError(t, err)
	id, _ := g.Lookup("Open")
	require.Equal(t, path, g.State(id).Loc.File)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadDocumentErrors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"no name", "states: []", "missing machine name"},
		{"bad kind", "name: m\nstates:\n  - {name: A, kind: blob}", `x.yaml:3:5`},
		{"bad guard", "name: m\nstates:\n  - name: A\n    transitions: [{on: E, to: A, when: 'x >'}]", "guard"},
		{"bad stmt", "name: m\nstates:\n  - {name: A, entry: ['x == 1']}", "unrecognized statement"},
		{"bad type", "name: m\nfields:\n  x: {type: lizt}\nstates: [{name: A}]", `field "x"`},
		{"bad default", "name: m\nfields:\n  x: {type: number, default: abc}\nstates: [{name: A}]", "default"},
		{"timer twice", "name: m\nstates:\n  - {name: A, timers: [{name: t, after: 1, every: 1}]}", "both after and every"},
		{"regions on simple", "name: m\nstates:\n  - {name: A, kind: simple, regions: [{name: r}]}", "cannot declare regions"},
		{"yaml", "name: [", "x.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("x.yaml", []byte(tt.src))
			require.ErrorIs(t, err, ErrDocument)
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadValidationIssuesCarryLocations(t *testing.T) {
	src := "name: m\nstates:\n  - name: A\n    transitions:\n      - {on: E, to: Nowhere}\n"
	_, err := Load("m.yaml", []byte(src))
	var verr *primitives.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, primitives.IssueUnknownState, verr.Issues[0].Code)
	require.Equal(t, 5, verr.Issues[0].Loc.Line)
}
