// Functional options for Engine instances.

package core

import (
	"log/slog"

	"github.com/comalice/hsmkit/internal/expr"
)

// Option applies configuration to an Engine via the functional options
// pattern.
type Option func(*Engine)

// WithLogger configures the structured logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithName sets the instance name used by send targets and the registry.
// The default is a random UUID.
func WithName(name string) Option {
	return func(e *Engine) {
		e.name = name
	}
}

// WithQueueCapacity bounds the external, internal and per-state deferred
// queues. Non-positive values keep the default.
func WithQueueCapacity(external, internal, deferred int) Option {
	return func(e *Engine) {
		if external > 0 {
			e.capExternal = external
		}
		if internal > 0 {
			e.capInternal = internal
		}
		if deferred > 0 {
			e.capDeferred = deferred
		}
	}
}

// WithOverflowPolicy selects what full queues do. The default is
// OverflowError.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithMaxCompletionDepth bounds consecutive completion events.
func WithMaxCompletionDepth(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCompletion = n
		}
	}
}

// WithRegistry joins the engine to a registry so that send actions can reach
// other instances. The engine registers itself on NewEngine.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithObserver adds an observer of every StepRecord.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithFunctions extends the builtin expression functions.
func WithFunctions(fs expr.Functions) Option {
	return func(e *Engine) {
		e.funcs = e.funcs.With(fs)
	}
}
