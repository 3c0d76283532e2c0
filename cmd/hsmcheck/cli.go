package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// config is the parsed command line.
type config struct {
	Path      string
	Format    string
	MaxStates int
	Script    string
	SaveDir   string
	DOT       bool
	FailOn    string
	LogLevel  string
	LogFormat string
}

// parse processes command-line arguments. It returns the config, whether
// the program should exit cleanly, or an ExitError.
func parse(args []string, output io.Writer) (*config, bool, error) {
	fs := flag.NewFlagSet("hsmcheck", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `
hsmcheck - verify and simulate hierarchical state machines.

Usage:
  hsmcheck [options] MACHINE.yaml

Options:
`)
		fs.PrintDefaults()
	}

	var c config
	fs.StringVar(&c.Format, "format", "text", "Report format: 'text', 'json' or 'yaml'.")
	fs.IntVar(&c.MaxStates, "max-states", 10000, "Bound on explored abstract configurations.")
	fs.StringVar(&c.Script, "script", "", "Timed event script to run after verification.")
	fs.StringVar(&c.SaveDir, "save", "", "Directory to store the script trace and final snapshot in.")
	fs.BoolVar(&c.DOT, "dot", false, "Print the machine as Graphviz DOT and exit.")
	fs.StringVar(&c.FailOn, "fail-on", "error", "Lowest severity that fails the check: 'error', 'warning' or 'info'.")
	fs.StringVar(&c.LogFormat, "log-format", "text", "Log output format: 'text' or 'json'.")
	fs.StringVar(&c.LogLevel, "log-level", "warn", "Log level: 'debug', 'info', 'warn' or 'error'.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, false, &ExitError{Code: 2, Message: "expected exactly one machine file"}
	}
	c.Path = fs.Arg(0)

	c.Format = strings.ToLower(c.Format)
	switch c.Format {
	case "text", "json", "yaml":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid format: must be 'text', 'json' or 'yaml'"}
	}
	c.FailOn = strings.ToLower(c.FailOn)
	switch c.FailOn {
	case "error", "warning", "info":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid fail-on: must be 'error', 'warning' or 'info'"}
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	if c.SaveDir != "" && c.Script == "" {
		return nil, false, &ExitError{Code: 2, Message: "-save requires -script"}
	}
	return &c, false, nil
}

// newLogger creates a logger without touching the global default.
func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
