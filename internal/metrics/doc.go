// Package metrics exposes simulation, calibration and ensemble counters as
// Prometheus collectors.
package metrics
