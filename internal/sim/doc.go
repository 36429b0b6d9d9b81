// Package sim runs a model forward in time across intervention boundaries.
//
// A run alternates between boundaries and integration segments. At a
// boundary every due static intervention is applied and logging times that
// coincide with it are recorded with the post-intervention value. A segment
// integrates up to the next static boundary, or up to the first crossing of
// an armed state trigger, which is localized by bisection.
package sim
