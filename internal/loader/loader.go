// Package loader reads graph documents written in YAML and builds validated
// graphs from them. Every state, transition, timer and field keeps the
// line and column it was declared at, so validation issues and verifier
// diagnostics point back into the document.
//
// A document looks like:
//
//	version: 1
//	name: door
//	fields:
//	  opens: {type: number, default: 0}
//	states:
//	  - name: Closed
//	    transitions:
//	      - {on: OPEN, to: Open, when: "opens < 3", do: ["opens = opens + 1"]}
//	  - name: Open
//	    timers: [{name: auto, after: 5000}]
//	    transitions:
//	      - {timer: auto, to: Closed}
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmkit/internal/expr"
	"github.com/comalice/hsmkit/internal/primitives"
)

// ErrDocument is wrapped by every error about document content, as opposed
// to I/O or graph validation.
var ErrDocument = errors.New("invalid graph document")

type pos struct {
	line, col int
}

func (p *pos) set(n *yaml.Node) { p.line, p.col = n.Line, n.Column }

type document struct {
	Version *int       `yaml:"version"`
	Name    string     `yaml:"name"`
	Initial string     `yaml:"initial"`
	Fields  yaml.Node  `yaml:"fields"`
	States  []stateDoc `yaml:"states"`
}

type stateDoc struct {
	pos         `yaml:"-"`
	Name        string          `yaml:"name"`
	Kind        string          `yaml:"kind"`
	Initial     string          `yaml:"initial"`
	History     string          `yaml:"history"`
	Machine     string          `yaml:"machine"`
	Entry       []stmtDoc       `yaml:"entry"`
	Exit        []stmtDoc       `yaml:"exit"`
	Defer       []string        `yaml:"defer"`
	Timers      []timerDoc      `yaml:"timers"`
	Transitions []transitionDoc `yaml:"transitions"`
	States      []stateDoc      `yaml:"states"`
	Regions     []regionDoc     `yaml:"regions"`
}

type regionDoc struct {
	pos     `yaml:"-"`
	Name    string     `yaml:"name"`
	Initial string     `yaml:"initial"`
	Rank    *int       `yaml:"rank"`
	States  []stateDoc `yaml:"states"`
}

type timerDoc struct {
	pos   `yaml:"-"`
	Name  string `yaml:"name"`
	After int64  `yaml:"after"`
	Every int64  `yaml:"every"`
}

type transitionDoc struct {
	pos      `yaml:"-"`
	To       string    `yaml:"to"`
	On       string    `yaml:"on"`
	Timer    string    `yaml:"timer"`
	When     exprDoc   `yaml:"when"`
	Do       []stmtDoc `yaml:"do"`
	Priority int       `yaml:"priority"`
	Internal bool      `yaml:"internal"`
	Name     string    `yaml:"name"`
}

// exprDoc and stmtDoc keep the scalar text with its position.
type exprDoc struct {
	pos
	src string
}

type stmtDoc struct {
	pos
	src string
}

func (s *stateDoc) UnmarshalYAML(n *yaml.Node) error {
	type plain stateDoc
	s.set(n)
	return n.Decode((*plain)(s))
}

func (r *regionDoc) UnmarshalYAML(n *yaml.Node) error {
	type plain regionDoc
	r.set(n)
	return n.Decode((*plain)(r))
}

func (t *timerDoc) UnmarshalYAML(n *yaml.Node) error {
	type plain timerDoc
	t.set(n)
	return n.Decode((*plain)(t))
}

func (t *transitionDoc) UnmarshalYAML(n *yaml.Node) error {
	type plain transitionDoc
	t.set(n)
	return n.Decode((*plain)(t))
}

func (e *exprDoc) UnmarshalYAML(n *yaml.Node) error {
	e.set(n)
	return n.Decode(&e.src)
}

func (s *stmtDoc) UnmarshalYAML(n *yaml.Node) error {
	s.set(n)
	return n.Decode(&s.src)
}

// LoadFile reads and builds the graph document at path.
func LoadFile(path string) (*primitives.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Load(path, data)
}

// Load builds the graph described by data. file labels locations. Build
// failures are returned as *primitives.ValidationError.
func Load(file string, data []byte) (*primitives.Graph, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", file, ErrDocument, err)
	}
	if doc.Name == "" {
		return nil, fmt.Errorf("%s: %w: missing machine name", file, ErrDocument)
	}
	l := &loader{file: file, b: primitives.NewMachineBuilder(doc.Name)}
	if doc.Version != nil {
		l.b.Version(*doc.Version)
	}
	if err := l.fields(&doc.Fields); err != nil {
		return nil, err
	}
	if doc.Initial != "" {
		l.b.WithInitial(doc.Initial)
	}
	for i := range doc.States {
		if err := l.state(&doc.States[i]); err != nil {
			return nil, err
		}
	}
	return l.b.Build()
}

type loader struct {
	file string
	b    *primitives.MachineBuilder
}

func (l *loader) loc(p pos) primitives.Location {
	return primitives.Location{File: l.file, Line: p.line, Column: p.col}
}

func (l *loader) errorf(p pos, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", l.loc(p), ErrDocument, fmt.Sprintf(format, args...))
}

type fieldDoc struct {
	Type    string    `yaml:"type"`
	Default yaml.Node `yaml:"default"`
}

// fields reads the ordered field mapping.
func (l *loader) fields(n *yaml.Node) error {
	if n.Kind == 0 {
		return nil
	}
	p := pos{n.Line, n.Column}
	if n.Kind != yaml.MappingNode {
		return l.errorf(p, "fields must be a mapping")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		kp := pos{key.Line, key.Column}
		var fd fieldDoc
		if err := val.Decode(&fd); err != nil {
			return l.errorf(kp, "field %q: %v", key.Value, err)
		}
		if fd.Type == "" {
			return l.errorf(kp, "field %q has no type", key.Value)
		}
		ty, err := expr.ParseType(fd.Type, l.loc(kp))
		if err != nil {
			return l.errorf(kp, "field %q: %v", key.Value, err)
		}
		def := cty.NilVal
		if fd.Default.Kind != 0 {
			if def, err = decodeValue(&fd.Default, ty); err != nil {
				return l.errorf(kp, "default of field %q: %v", key.Value, err)
			}
		}
		l.b.FieldAt(key.Value, ty, def, l.loc(kp))
	}
	return nil
}

// decodeValue converts a YAML value to ty by way of its JSON form.
func decodeValue(n *yaml.Node, ty cty.Type) (cty.Value, error) {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return cty.NilVal, err
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return cty.NilVal, err
	}
	return ctyjson.Unmarshal(buf, ty)
}

func (l *loader) kind(s *stateDoc) (primitives.Kind, error) {
	if s.Kind != "" {
		k, ok := primitives.ParseKind(s.Kind)
		if !ok || k == primitives.KindInitial {
			return 0, l.errorf(s.pos, "state %q: unknown kind %q", s.Name, s.Kind)
		}
		return k, nil
	}
	switch {
	case len(s.Regions) > 0:
		return primitives.KindParallel, nil
	case len(s.States) > 0:
		return primitives.KindComposite, nil
	}
	return primitives.KindSimple, nil
}

func (l *loader) state(s *stateDoc) error {
	if s.Name == "" {
		return l.errorf(s.pos, "state without a name")
	}
	k, err := l.kind(s)
	if err != nil {
		return err
	}
	if len(s.Regions) > 0 && k != primitives.KindParallel {
		return l.errorf(s.pos, "%s %q cannot declare regions", k, s.Name)
	}
	if len(s.States) > 0 && k != primitives.KindComposite && k != primitives.KindSubmachineRef {
		return l.errorf(s.pos, "%s %q cannot declare child states", k, s.Name)
	}

	var sb *primitives.StateBuilder
	switch k {
	case primitives.KindSimple:
		sb = l.b.Atomic(s.Name)
	case primitives.KindFinal:
		sb = l.b.Final(s.Name)
	case primitives.KindComposite:
		sb = l.b.Compound(s.Name)
	case primitives.KindSubmachineRef:
		sb = l.b.Submachine(s.Name, s.Machine)
	case primitives.KindParallel:
		sb = l.b.Parallel(s.Name)
	case primitives.KindChoice:
		sb = l.b.Choice(s.Name)
	case primitives.KindJunction:
		sb = l.b.Junction(s.Name)
	case primitives.KindFork:
		sb = l.b.Fork(s.Name)
	case primitives.KindJoin:
		sb = l.b.Join(s.Name)
	case primitives.KindEntryPoint:
		sb = l.b.EntryPoint(s.Name)
	case primitives.KindExitPoint:
		sb = l.b.ExitPoint(s.Name)
	case primitives.KindHistory:
		depth := primitives.Shallow
		switch s.History {
		case "", "shallow":
		case "deep":
			depth = primitives.Deep
		default:
			return l.errorf(s.pos, "history %q: depth must be shallow or deep, got %q", s.Name, s.History)
		}
		sb = l.b.History(s.Name, depth)
	}
	sb.At(l.loc(s.pos))

	entry, err := l.stmts(s.Entry)
	if err != nil {
		return err
	}
	exit, err := l.stmts(s.Exit)
	if err != nil {
		return err
	}
	sb.OnEntry(entry...).OnExit(exit...).Defer(s.Defer...)
	for _, t := range s.Timers {
		switch {
		case t.Name == "":
			return l.errorf(t.pos, "timer of %q without a name", s.Name)
		case t.After > 0 && t.Every > 0:
			return l.errorf(t.pos, "timer %q sets both after and every", t.Name)
		case t.Every > 0:
			sb.Every(t.Name, t.Every)
		default:
			sb.After(t.Name, t.After)
		}
		sb.TimerAt(l.loc(t.pos))
	}
	for i := range s.Transitions {
		if err := l.transition(s.Name, &s.Transitions[i]); err != nil {
			return err
		}
	}

	switch k {
	case primitives.KindComposite, primitives.KindSubmachineRef:
		if s.Initial != "" {
			l.b.WithInitial(s.Initial)
		}
		for i := range s.States {
			if err := l.state(&s.States[i]); err != nil {
				return err
			}
		}
		l.b.Up()
	case primitives.KindParallel:
		for i := range s.Regions {
			r := &s.Regions[i]
			l.b.Region(r.Name).SetLocation(l.loc(r.pos))
			if r.Rank != nil {
				l.b.Rank(*r.Rank)
			}
			if r.Initial != "" {
				l.b.WithInitial(r.Initial)
			}
			for j := range r.States {
				if err := l.state(&r.States[j]); err != nil {
					return err
				}
			}
		}
		l.b.Up()
	}
	return nil
}

func (l *loader) transition(source string, t *transitionDoc) error {
	if t.To == "" {
		return l.errorf(t.pos, "transition from %q has no target", source)
	}
	if t.On != "" && t.Timer != "" {
		return l.errorf(t.pos, "transition from %q sets both on and timer", source)
	}
	tb := l.b.Transition(source, t.To).At(l.loc(t.pos)).Priority(t.Priority)
	switch {
	case t.On != "":
		tb.On(t.On)
	case t.Timer != "":
		tb.OnTimer(t.Timer)
	}
	if t.When.src != "" {
		g, err := expr.Parse(t.When.src, l.loc(t.When.pos))
		if err != nil {
			return fmt.Errorf("%w: guard: %w", ErrDocument, err)
		}
		tb.When(g)
	}
	actions, err := l.stmts(t.Do)
	if err != nil {
		return err
	}
	tb.Do(actions...)
	if t.Internal {
		tb.Internal()
	}
	if t.Name != "" {
		tb.Named(t.Name)
	}
	return nil
}

func (l *loader) stmts(docs []stmtDoc) ([]primitives.Stmt, error) {
	var out []primitives.Stmt
	for _, d := range docs {
		s, err := expr.ParseStmt(d.src, l.loc(d.pos))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDocument, err)
		}
		out = append(out, s)
	}
	return out, nil
}
