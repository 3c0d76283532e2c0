package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmkit/internal/core"
)

const light = `name: light
states:
  - name: Green
    timers: [{name: go, after: 300}]
    transitions: [{timer: go, to: Yellow}]
  - name: Yellow
    timers: [{name: slow, after: 50}]
    transitions: [{timer: slow, to: Red}]
  - name: Red
    transitions: [{on: RESET, to: Green}]
`

const racy = `name: racy
states:
  - name: Idle
    transitions:
      - {on: GO, to: A}
      - {on: GO, to: B}
  - name: A
  - name: B
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, args)
	return out.String(), err
}

func TestCleanMachine(t *testing.T) {
	out, err := runArgs(t, write(t, "light.yaml", light))
	require.NoError(t, err)
	require.Contains(t, out, "3 configuration(s) explored, 0 diagnostic(s)")
}

func TestNondeterministicMachineFails(t *testing.T) {
	out, err := runArgs(t, "-format", "yaml", write(t, "racy.yaml", racy))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.Code)

	var rep struct {
		Diagnostics []struct {
			Code     string   `yaml:"code"`
			Severity string   `yaml:"severity"`
			Subjects []string `yaml:"subjects"`
		} `yaml:"diagnostics"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Diagnostics, 1)
	require.Equal(t, "NONDETERMINISTIC_TRANSITIONS", rep.Diagnostics[0].Code)
	require.Equal(t, "error", rep.Diagnostics[0].Severity)
	require.Equal(t, []string{"Idle-GO->A", "Idle-GO->B"}, rep.Diagnostics[0].Subjects)
}

func TestInvalidMachineReportsIssues(t *testing.T) {
	out, err := runArgs(t, write(t, "bad.yaml", "name: m\nstates:\n  - {name: A, transitions: [{on: E, to: Nowhere}]}\n"))
	require.Error(t, err)
	require.Contains(t, out, "INVALID_GRAPH")
	require.Contains(t, out, "bad.yaml:3")
}

func TestScriptAndSave(t *testing.T) {
	dir := t.TempDir()
	script := write(t, "run.yaml", "step: 10\nuntil: 400\nevents:\n  - {at: 380, event: RESET}\n")
	out, err := runArgs(t, "-script", script, "-save", dir, write(t, "light.yaml", light))
	require.NoError(t, err)

	var doc struct {
		Trace []core.StepRecord `yaml:"trace"`
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(out[bytes.Index([]byte(out), []byte("trace:")):])))
	require.NoError(t, dec.Decode(&doc))
	var taken []string
	for _, r := range doc.Trace {
		taken = append(taken, r.Transitions...)
	}
	require.Equal(t, []string{"Green-go->Yellow", "Yellow-slow->Red", "Red-RESET->Green"}, taken)

	_, err = os.Stat(filepath.Join(dir, "light.snapshot.yaml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "light.trace.yaml"))
	require.NoError(t, err)
}

func TestDOT(t *testing.T) {
	out, err := runArgs(t, "-dot", write(t, "light.yaml", light))
	require.NoError(t, err)
	require.Contains(t, out, `digraph "light"`)
	require.Contains(t, out, `"Green" -> "Yellow"`)
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"-format", "xml", "m.yaml"},
		{"-log-level", "loud", "m.yaml"},
		{"-save", "dir", "m.yaml"},
		{"a.yaml", "b.yaml"},
	} {
		_, err := runArgs(t, args...)
		var exitErr *ExitError
		require.ErrorAs(t, err, &exitErr, args)
		require.Equal(t, 2, exitErr.Code, args)
	}
	_, err := runArgs(t, "-h")
	require.NoError(t, err)
}
