package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by an Engine is an *EngineError whose
// Kind is one of these; match with errors.Is.
var (
	// Caller misuse; the instance stays usable.
	ErrNotInitialized     = errors.New("engine not initialized")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrUnknownField       = errors.New("unknown context field")
	ErrInvalidValue       = errors.New("value does not convert to field type")
	ErrUnknownTarget      = errors.New("unknown breakpoint target")
	ErrUnknownBreakpoint  = errors.New("unknown breakpoint")
	ErrNotPaused          = errors.New("engine is not paused")
	ErrPaused             = errors.New("engine is paused")
	ErrTerminated         = errors.New("engine terminated")
	ErrReentrant          = errors.New("engine is already processing an event")
	ErrInvalidTick        = errors.New("elapsed time must not be negative")
	ErrMissingParam       = errors.New("event lacks a parameter its transitions read")

	// Fatal faults; the instance is terminated.
	ErrMalformedGraph     = errors.New("malformed graph")
	ErrCompletionDepth    = errors.New("completion chain too deep")
	ErrQueueOverflow      = errors.New("queue overflow")
	ErrAssertion          = errors.New("queue capacity assertion failed")
	ErrChoiceDeadEnd      = errors.New("no enabled branch at choice")
	ErrAmbiguousSelection = errors.New("ambiguous transition selection")
	ErrEvaluation         = errors.New("expression evaluation failed")
	ErrInternal           = errors.New("internal engine fault")
)

// EngineError is the error type returned by every Engine operation.
type EngineError struct {
	// Kind is the sentinel identifying the error class.
	Kind error
	// Op is the public operation that failed, e.g. "dispatch".
	Op string
	// Fatal is set when the instance was terminated by this error.
	Fatal bool
	Err   error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool { return target == e.Kind }

func misuse(op string, kind error, format string, args ...any) *EngineError {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &EngineError{Kind: kind, Op: op, Err: cause}
}

// IsFatal reports whether err terminated its engine.
func IsFatal(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Fatal
}
