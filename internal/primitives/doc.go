// Package primitives defines the immutable graph model shared by the execution
// engine and the static verifier.
//
// A Graph is an arena: states, regions, transitions and timers live in flat
// slices and refer to each other by integer index (StateID, RegionID,
// TransitionID, TimerID). State kinds form one closed enumeration (Kind);
// behaviour that differs per kind is expressed with switch statements over
// Kind rather than with per-kind types.
//
// Guards and actions are plain data trees (Expr and Stmt). The guard grammar
// has no assignment production, so evaluating a guard can never mutate the
// machine context.
//
// Graphs are normally assembled with MachineBuilder, which resolves names,
// synthesizes the initial pseudostate of every region and validates the result.
// Once Build returns, a Graph must not be modified; any number of engines and
// verifiers may share it.
package primitives
