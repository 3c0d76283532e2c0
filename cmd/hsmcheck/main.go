// Command hsmcheck loads a YAML machine, verifies it, and optionally replays
// a timed event script against it.
//
// Exit status is 0 when no diagnostic reaches the -fail-on severity, 1 when
// one does or the script faults, and 2 for usage and load errors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmkit/internal/core"
	"github.com/comalice/hsmkit/internal/loader"
	"github.com/comalice/hsmkit/internal/primitives"
	"github.com/comalice/hsmkit/internal/production"
	"github.com/comalice/hsmkit/internal/verify"
	"github.com/comalice/hsmkit/realtime"
)

func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Message != "" {
				fmt.Fprintln(os.Stderr, exitErr.Message)
			}
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	c, exit, err := parse(args, errW)
	if err != nil || exit {
		return err
	}
	log := newLogger(c.LogLevel, c.LogFormat, errW)

	g, err := loader.LoadFile(c.Path)
	if err != nil {
		var verr *primitives.ValidationError
		if !errors.As(err, &verr) {
			return &ExitError{Code: 2, Message: err.Error()}
		}
		// Structural problems are reported like any other diagnostic.
		log.Debug("graph failed validation", "issues", len(verr.Issues))
		g = nil
	}

	if c.DOT && g != nil {
		v := production.Visualizer{}
		_, err := io.WriteString(outW, v.ExportDOT(g, nil))
		return err
	}

	var rep *verify.Report
	if g == nil {
		rep = invalidReport(err)
	} else {
		rep = verify.Verify(g, verify.WithMaxConfigurations(c.MaxStates), verify.WithLogger(log))
	}
	if err := writeReport(outW, c.Format, rep); err != nil {
		return err
	}
	failed := failing(rep, c.FailOn)

	if c.Script != "" && g != nil && !rep.HasErrors() {
		if err := simulate(ctx, outW, log, g, c); err != nil {
			return &ExitError{Code: 1, Message: err.Error()}
		}
	}
	if failed > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d diagnostic(s) at or above %s", failed, c.FailOn)}
	}
	return nil
}

// invalidReport turns validation issues into INVALID_GRAPH diagnostics.
func invalidReport(err error) *verify.Report {
	var verr *primitives.ValidationError
	errors.As(err, &verr)
	rep := &verify.Report{}
	for _, is := range verr.Issues {
		rep.Diagnostics = append(rep.Diagnostics, verify.Diagnostic{
			Code:     verify.CodeInvalidGraph,
			Severity: verify.SeverityError,
			Message:  is.Code + ": " + is.Message,
			Loc:      is.Loc,
		})
	}
	return rep
}

func failing(rep *verify.Report, failOn string) int {
	limit := verify.SeverityError
	switch failOn {
	case "warning":
		limit = verify.SeverityWarning
	case "info":
		limit = verify.SeverityInfo
	}
	n := 0
	for _, d := range rep.Diagnostics {
		if d.Severity <= limit {
			n++
		}
	}
	return n
}

func writeReport(w io.Writer, format string, rep *verify.Report) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(rep)
	}
	var b strings.Builder
	for _, d := range rep.Diagnostics {
		b.WriteString(d.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d configuration(s) explored", rep.Configurations)
	if rep.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString(", ")
	fmt.Fprintf(&b, "%d diagnostic(s)\n", len(rep.Diagnostics))
	_, err := io.WriteString(w, b.String())
	return err
}

// simulate replays the script and prints the trace as YAML.
func simulate(ctx context.Context, w io.Writer, log *slog.Logger, g *primitives.Graph, c *config) error {
	script, err := realtime.LoadScriptFile(c.Script)
	if err != nil {
		return err
	}
	rec := &production.Recorder{}
	e, err := core.NewEngine(g, core.WithName(g.Name), core.WithLogger(log), core.WithObserver(rec))
	if err != nil {
		return err
	}
	if _, err := e.Init(nil); err != nil {
		return err
	}
	sim := realtime.NewSimulator(e, realtime.Config{Step: script.Step, Logger: log})
	if err := script.Schedule(sim); err != nil {
		return err
	}
	if _, err := sim.Run(ctx, script.Until); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	if err := enc.Encode(map[string]any{"trace": rec.Records}); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if c.SaveDir == "" {
		return nil
	}
	p, err := production.NewYAMLPersister(c.SaveDir)
	if err != nil {
		return err
	}
	if err := p.SaveTrace(ctx, e.Name(), rec.Records); err != nil {
		return err
	}
	return p.SaveSnapshot(ctx, e.Configuration())
}
