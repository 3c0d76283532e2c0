// Package hsmkit executes hierarchical state machines and verifies them
// statically.
//
// A machine is a validated, immutable Graph, built in Go with
// NewMachineBuilder or loaded from a YAML document with Load. An Engine
// runs one instance of a Graph on a virtual clock: Dispatch delivers
// external events, Tick advances time and fires timers, and every step is
// reported as a StepRecord. Verify explores the same Graph with the
// engine's own selection rules and reports nondeterminism, unreachable
// states, permanently deferred events and guard defects.
//
//	g, err := hsmkit.LoadFile("door.yaml")
//	if err != nil { ... }
//	if rep := hsmkit.Verify(g); rep.HasErrors() { ... }
//	e, err := hsmkit.NewEngine(g, hsmkit.WithName("door-1"))
//	_, err = e.Init(nil)
//	recs, err := e.Dispatch(hsmkit.NewEvent("OPEN", nil))
package hsmkit

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/loader"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/verify"
)

type (
	Graph          = primitives.Graph
	MachineBuilder = primitives.MachineBuilder
	Event          = primitives.Event
	Location       = primitives.Location

	Engine       = core.Engine
	EngineOption = core.Option
	StepRecord   = core.StepRecord
	Snapshot     = core.Snapshot
	Observer     = core.Observer
	Registry     = core.Registry

	Report       = verify.Report
	Diagnostic   = verify.Diagnostic
	VerifyOption = verify.Option
)

var (
	ErrDocument = loader.ErrDocument

	WithName           = core.WithName
	WithLogger         = core.WithLogger
	WithObserver       = core.WithObserver
	WithQueueCapacity  = core.WithQueueCapacity
	WithOverflowPolicy = core.WithOverflowPolicy
	WithRegistry       = core.WithRegistry
	WithFunctions      = core.WithFunctions

	WithMaxConfigurations = verify.WithMaxConfigurations
)

// NewMachineBuilder starts a machine definition.
func NewMachineBuilder(name string) *MachineBuilder { return primitives.NewMachineBuilder(name) }

// Load parses and validates a YAML machine document; file is used in
// locations only.
func Load(file string, data []byte) (*Graph, error) { return loader.Load(file, data) }

// LoadFile reads and loads a YAML machine document.
func LoadFile(path string) (*Graph, error) { return loader.LoadFile(path) }

// NewEngine creates an uninitialized instance of g.
func NewEngine(g *Graph, opts ...EngineOption) (*Engine, error) { return core.NewEngine(g, opts...) }

// NewRegistry creates an empty registry for send targets.
func NewRegistry() *Registry { return core.NewRegistry() }

// NewEvent creates an external event.
func NewEvent(name string, params map[string]cty.Value) Event {
	return primitives.NewEvent(name, params)
}

// Verify checks g statically.
func Verify(g *Graph, opts ...VerifyOption) *Report { return verify.Verify(g, opts...) }
