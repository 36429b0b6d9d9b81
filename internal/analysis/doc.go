// Package analysis derives quantities of interest from trajectories.
//
//   - [Peak], [SignChangeTime], [CrossingTime]: event-like summaries of one
//     variable
//   - [QoI] constructors ([PeakValue], [PeakTime], [NDayAverage],
//     [FinalValue]) used by ensembles and policy optimization
//   - [Sweep]: one-parameter sweep of a quantity of interest
//   - [Phase]: two-variable phase plane with ASCII rendering
//
// A QoI is computed per member; aggregate across an ensemble with the
// ensemble summary or with a risk measure:
//
//	peak := analysis.PeakValue("I")
//	v, err := peak(run.Trajectory)
package analysis
