// Package viz renders simulation and ensemble output in the terminal.
//
// Static output goes through asciigraph: [Band] plots ensemble quantile
// bands and [Series] plots single trajectories. [Watch] runs a Bubble Tea
// program that follows a long computation, such as a calibration, reporting
// iterations and the loss history until it finishes or the user quits.
package viz
