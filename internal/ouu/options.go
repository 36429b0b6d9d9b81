package ouu

import (
	"log/slog"
	"time"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/metrics"
)

// Method selects the policy search.
type Method string

const (
	NelderMead Method = "nelder-mead"
	// Grid evaluates every point of a regular grid over the box.
	Grid Method = "grid"
)

type Options struct {
	Method        Method
	MaxIterations int
	Tolerance     float64
	// Penalty weighs the relative risk-bound violation against the
	// objective.
	Penalty float64
	// GridPoints is the number of grid values per decision variable.
	GridPoints int
	Timeout    time.Duration

	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = NelderMead
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = 200
	}
	if o.Tolerance == 0 {
		o.Tolerance = 1e-6
	}
	if o.Penalty == 0 {
		o.Penalty = 1e3
	}
	if o.GridPoints == 0 {
		o.GridPoints = 11
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	if o.Method != NelderMead && o.Method != Grid {
		return dynamo.Configf("method", "unknown policy search %q", o.Method)
	}
	if o.MaxIterations < 1 || !(o.Tolerance > 0) || !(o.Penalty > 0) || o.GridPoints < 2 || o.Timeout < 0 {
		return dynamo.Configf("ouu", "iterations, tolerance, penalty and grid points must be positive")
	}
	return nil
}
