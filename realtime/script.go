package realtime

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmkit/internal/primitives"
)

// Script is a timed scenario:
//
//	until: 1000
//	step: 10
//	events:
//	  - {at: 0, event: START}
//	  - {at: 250, event: SET, priority: 1, params: {level: 3}}
type Script struct {
	Until  int64        `yaml:"until"`
	Step   int64        `yaml:"step"`
	Events []ScriptStep `yaml:"events"`
}

// ScriptStep is one scheduled external event.
type ScriptStep struct {
	At       int64          `yaml:"at"`
	Event    string         `yaml:"event"`
	Priority int            `yaml:"priority"`
	Params   map[string]any `yaml:"params"`
}

// LoadScriptFile reads a Script from a YAML file.
func LoadScriptFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadScript(data)
}

// LoadScript parses a Script. Until defaults to the last event time.
func LoadScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	for i, st := range s.Events {
		if st.Event == "" {
			return nil, fmt.Errorf("script: event %d has no name", i)
		}
		if st.At < 0 {
			return nil, fmt.Errorf("script: event %d (%s) at negative time %d", i, st.Event, st.At)
		}
		s.Until = max(s.Until, st.At)
	}
	if s.Step < 0 {
		return nil, fmt.Errorf("script: negative step %d", s.Step)
	}
	return &s, nil
}

// Schedule queues every script event on sim.
func (s *Script) Schedule(sim *Simulator) error {
	for _, st := range s.Events {
		params, err := eventParams(st.Params)
		if err != nil {
			return fmt.Errorf("script: event %s at %d: %w", st.Event, st.At, err)
		}
		sim.Schedule(st.At, st.Priority, primitives.NewEvent(st.Event, params))
	}
	return nil
}

// eventParams converts decoded YAML values to cty through their JSON form.
func eventParams(raw map[string]any) (map[string]cty.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]cty.Value, len(raw))
	for name, v := range raw {
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		ty, err := ctyjson.ImpliedType(buf)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		val, err := ctyjson.Unmarshal(buf, ty)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}
