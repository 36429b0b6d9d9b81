// Package ouu designs interventions under parameter uncertainty.
//
// A policy maps decision values in a box to interventions. Its risk is the
// alpha-superquantile of a quantity of interest over an ensemble drawn with
// a fixed seed, so every candidate policy is compared on the same parameter
// draws. Solve minimizes the policy cost subject to a bound on that risk.
package ouu
