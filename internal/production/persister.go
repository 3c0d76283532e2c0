// Package production provides trace and replay tooling around the engine:
// snapshot and trace persistence, Graphviz export and StepRecord publishing.
package production

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmkit/internal/core"
)

// ErrNotFound is returned when no file exists for the requested name.
var ErrNotFound = errors.New("not found")

// Persister stores engine snapshots and traces by name.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap core.Snapshot) error
	LoadSnapshot(ctx context.Context, instance string) (core.Snapshot, error)
	SaveTrace(ctx context.Context, name string, trace []core.StepRecord) error
	LoadTrace(ctx context.Context, name string) ([]core.StepRecord, error)
}

// storedValue keeps a context value with its type, both in cty's JSON form.
type storedValue struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// storedSnapshot is a Snapshot with its context in a serializable form.
type storedSnapshot struct {
	core.Snapshot `yaml:",inline"`
	Fields        map[string]storedValue `json:"context,omitempty" yaml:"context,omitempty"`
}

func encodeSnapshot(snap core.Snapshot) (storedSnapshot, error) {
	out := storedSnapshot{Snapshot: snap}
	for name, v := range snap.Context {
		ty, err := ctyjson.MarshalType(v.Type())
		if err != nil {
			return out, fmt.Errorf("field %s: %w", name, err)
		}
		val, err := ctyjson.Marshal(v, v.Type())
		if err != nil {
			return out, fmt.Errorf("field %s: %w", name, err)
		}
		if out.Fields == nil {
			out.Fields = map[string]storedValue{}
		}
		out.Fields[name] = storedValue{Type: string(ty), Value: string(val)}
	}
	return out, nil
}

func (s storedSnapshot) decode() (core.Snapshot, error) {
	snap := s.Snapshot
	snap.Context = nil
	for name, sv := range s.Fields {
		ty, err := ctyjson.UnmarshalType([]byte(sv.Type))
		if err != nil {
			return snap, fmt.Errorf("field %s: %w", name, err)
		}
		v, err := ctyjson.Unmarshal([]byte(sv.Value), ty)
		if err != nil {
			return snap, fmt.Errorf("field %s: %w", name, err)
		}
		if snap.Context == nil {
			snap.Context = map[string]cty.Value{}
		}
		snap.Context[name] = v
	}
	return snap, nil
}

// codec is one serialization format.
type codec struct {
	ext       string
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

var (
	jsonCodec = codec{
		ext:       ".json",
		marshal:   func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") },
		unmarshal: json.Unmarshal,
	}
	yamlCodec = codec{ext: ".yaml", marshal: yaml.Marshal, unmarshal: yaml.Unmarshal}
)

// FilePersister keeps one file per snapshot (<instance>.snapshot<ext>) and
// per trace (<name>.trace<ext>) in a directory.
type FilePersister struct {
	dir   string
	codec codec
}

// NewJSONPersister creates a JSON FilePersister, ensuring the directory exists.
func NewJSONPersister(dir string) (*FilePersister, error) {
	return newFilePersister(dir, jsonCodec)
}

// NewYAMLPersister creates a YAML FilePersister, ensuring the directory exists.
func NewYAMLPersister(dir string) (*FilePersister, error) {
	return newFilePersister(dir, yamlCodec)
}

func newFilePersister(dir string, c codec) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &FilePersister{dir: dir, codec: c}, nil
}

func (p *FilePersister) path(name, kind string) string {
	return filepath.Join(p.dir, name+"."+kind+p.codec.ext)
}

func (p *FilePersister) write(ctx context.Context, fn string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.codec.marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", fn, err)
	}
	if err := os.WriteFile(fn, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", fn, err)
	}
	return nil
}

func (p *FilePersister) read(ctx context.Context, fn, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(fn)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", fn, err)
	}
	if err := p.codec.unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", fn, err)
	}
	return nil
}

func (p *FilePersister) SaveSnapshot(ctx context.Context, snap core.Snapshot) error {
	if snap.Instance == "" {
		return errors.New("snapshot has no instance name")
	}
	stored, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	return p.write(ctx, p.path(snap.Instance, "snapshot"), stored)
}

func (p *FilePersister) LoadSnapshot(ctx context.Context, instance string) (core.Snapshot, error) {
	var stored storedSnapshot
	if err := p.read(ctx, p.path(instance, "snapshot"), instance, &stored); err != nil {
		return core.Snapshot{}, err
	}
	snap, err := stored.decode()
	if err != nil {
		return core.Snapshot{}, err
	}
	snap.Instance = instance
	return snap, nil
}

func (p *FilePersister) SaveTrace(ctx context.Context, name string, trace []core.StepRecord) error {
	return p.write(ctx, p.path(name, "trace"), trace)
}

func (p *FilePersister) LoadTrace(ctx context.Context, name string) ([]core.StepRecord, error) {
	var trace []core.StepRecord
	if err := p.read(ctx, p.path(name, "trace"), name, &trace); err != nil {
		return nil, err
	}
	return trace, nil
}
