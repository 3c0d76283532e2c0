// Package realtime drives engines through timed scenarios on the virtual
// clock.
//
// A Simulator holds events scheduled at virtual times and replays them in a
// deterministic order:
//  1. scheduled time (earliest first)
//  2. priority (higher first)
//  3. scheduling sequence (FIFO)
//
// Between two events the engine clock is advanced with Tick, optionally in
// fixed steps, so timers fire exactly as they would under a host that ticks
// at that rate. Wall time is never consulted.
//
//	sim := realtime.NewSimulator(engine, realtime.Config{Step: 10})
//	sim.Schedule(0, 0, primitives.NewEvent("START", nil))
//	sim.Schedule(250, 0, primitives.NewEvent("STOP", nil))
//	records, err := sim.Run(ctx, 1000)
//
// A breakpoint that pauses the engine also stops Run; events not yet
// dispatched stay pending until Run is called again after Resume.
package realtime
