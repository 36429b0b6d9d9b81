// Package dynamo provides the core value types shared by the simulation and
// inference packages.
//
//   - [State]: values of a model's state variables at one time
//   - [Params]: a resolved parameter table
//   - [Func]: a derivative closed over resolved parameters
//   - [Trajectory]: logged states, observables and intervention boundaries
//
// # Errors
//
// Every error produced by the engine wraps one of [ErrConfiguration],
// [ErrDivergence], [ErrNonConvergence], [ErrBudgetExceeded] or
// [ErrCanceled]:
//
//	traj, err := simulator.Run(ctx, req)
//	var div *dynamo.DivergenceError
//	if errors.As(err, &div) {
//	    log.Printf("segment %d failed at t=%.2f", div.Segment, div.Time)
//	}
//
// # Thread Safety
//
// Values in this package are plain data. A Trajectory is never mutated after
// the call that produced it returns, so it can be shared freely.
package dynamo
