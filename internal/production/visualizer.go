package production

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/comalice/hsmkit/internal/primitives"
)

// Visualizer renders a graph as Graphviz DOT source.
type Visualizer struct {
	// ShowInitial draws the synthesized initial pseudostates.
	ShowInitial bool
}

var pseudoShapes = map[primitives.Kind]string{
	primitives.KindInitial:    "point",
	primitives.KindChoice:     "diamond",
	primitives.KindJunction:   "circle",
	primitives.KindHistory:    "circle",
	primitives.KindFork:       "box",
	primitives.KindJoin:       "box",
	primitives.KindEntryPoint: "circle",
	primitives.KindExitPoint:  "doublecircle",
}

// ExportDOT renders g. States named in active are filled; composites
// become clusters.
func (v *Visualizer) ExportDOT(g *primitives.Graph, active []string) string {
	on := make(map[string]bool, len(active))
	for _, s := range active {
		on[s] = true
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "digraph %s {\n", strconv.Quote(g.Name))
	buf.WriteString("  compound=true;\n  rankdir=LR;\n  node [shape=box, style=rounded, fontsize=10];\n  edge [fontsize=9];\n")
	for _, r := range g.State(primitives.Root).Regions {
		v.region(&buf, g, r, on, "  ")
	}
	for i := range g.Transitions {
		t := &g.Transitions[i]
		if !v.ShowInitial && g.State(t.Source).Kind == primitives.KindInitial {
			continue
		}
		fmt.Fprintf(&buf, "  %s -> %s [label=%s];\n", node(g, t.Source), node(g, t.Target), strconv.Quote(label(g, t)))
	}
	buf.WriteString("}\n")
	return buf.String()
}

func (v *Visualizer) region(buf *bytes.Buffer, g *primitives.Graph, r primitives.RegionID, on map[string]bool, indent string) {
	for _, id := range g.Region(r).States {
		v.state(buf, g, id, on, indent)
	}
}

func (v *Visualizer) state(buf *bytes.Buffer, g *primitives.Graph, id primitives.StateID, on map[string]bool, indent string) {
	s := g.State(id)
	if s.Kind == primitives.KindInitial && !v.ShowInitial {
		return
	}
	fill := ""
	if on[s.Name] {
		fill = ", style=\"rounded,filled\", fillcolor=lightgreen"
	}
	if !s.Kind.OwnsRegions() {
		attrs := "label=" + strconv.Quote(s.Name)
		switch {
		case s.Kind == primitives.KindFinal:
			attrs += ", shape=doublecircle"
		case s.Kind == primitives.KindHistory && s.History == primitives.Deep:
			attrs = `label="H*", shape=circle`
		case s.Kind == primitives.KindHistory:
			attrs = `label="H", shape=circle`
		case s.Kind.IsPseudostate():
			attrs += ", shape=" + pseudoShapes[s.Kind]
		}
		fmt.Fprintf(buf, "%s%s [%s%s];\n", indent, node(g, id), attrs, fill)
		return
	}

	fmt.Fprintf(buf, "%ssubgraph %s {\n", indent, strconv.Quote("cluster_"+s.Name))
	fmt.Fprintf(buf, "%s  label=%s;\n", indent, strconv.Quote(s.Name+" ("+s.Kind.String()+")"))
	if on[s.Name] {
		fmt.Fprintf(buf, "%s  style=filled; fillcolor=lightyellow;\n", indent)
	}
	// Anchor node for edges that start or end at the composite itself.
	fmt.Fprintf(buf, "%s  %s [label=%s, shape=plaintext];\n", indent, node(g, id), strconv.Quote(s.Name))
	for _, r := range s.Regions {
		if s.Kind == primitives.KindParallel {
			reg := g.Region(r)
			fmt.Fprintf(buf, "%s  subgraph %s {\n%s    label=%s; style=dashed;\n", indent,
				strconv.Quote("cluster_"+s.Name+"_"+reg.Name), indent, strconv.Quote(reg.Name))
			v.region(buf, g, r, on, indent+"    ")
			fmt.Fprintf(buf, "%s  }\n", indent)
			continue
		}
		v.region(buf, g, r, on, indent+"  ")
	}
	// Boundary points sit outside every region.
	for i := range g.States {
		b := &g.States[i]
		if b.Parent == id && (b.Kind == primitives.KindEntryPoint || b.Kind == primitives.KindExitPoint) {
			v.state(buf, g, b.ID, on, indent+"  ")
		}
	}
	fmt.Fprintf(buf, "%s}\n", indent)
}

func node(g *primitives.Graph, id primitives.StateID) string {
	return strconv.Quote(g.StateName(id))
}

// label is "trigger [guard] / actions".
func label(g *primitives.Graph, t *primitives.Transition) string {
	var buf bytes.Buffer
	switch t.Trigger.Kind {
	case primitives.TriggerEvent:
		buf.WriteString(t.Trigger.Event)
	case primitives.TriggerTimer:
		tm := g.Timer(t.Trigger.Timer)
		fmt.Fprintf(&buf, "%s(%dms)", tm.Name, tm.Period)
	}
	if t.Guard != nil {
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		fmt.Fprintf(&buf, "[%s]", t.Guard)
	}
	for i, a := range t.Actions {
		if i == 0 {
			buf.WriteString(" / ")
		} else {
			buf.WriteString("; ")
		}
		buf.WriteString(a.String())
	}
	if t.Priority != 0 {
		fmt.Fprintf(&buf, " (p%d)", t.Priority)
	}
	return buf.String()
}
