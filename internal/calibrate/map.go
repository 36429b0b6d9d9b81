package calibrate

import (
	"context"
	"errors"
	"sync"

	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/program"
)

// penalty stands in for the negative log joint of a divergent point.
const penalty = 1e300

// mode finds the posterior mode over unconstrained coordinates with
// Nelder-Mead. The result is a point-mass posterior.
func mode(ctx context.Context, c *program.Conditioned, opts Options, tr *tracker) (*Posterior, error) {
	sites := c.Program().Sites()

	var (
		mu    sync.Mutex
		fatal error
	)
	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			lj, err := c.LogJoint(ctx, z)
			if ferr := tr.record(c.Constrain(z), err); ferr != nil {
				mu.Lock()
				if fatal == nil {
					fatal = ferr
				}
				mu.Unlock()
			}
			if err != nil || !finite(lj) {
				return penalty
			}
			return -lj
		},
	}
	rec := &recorder{ctx: ctx, tr: tr, fatal: func() error {
		mu.Lock()
		defer mu.Unlock()
		return fatal
	}}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Runtime:         opts.Timeout,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance,
			Relative:   opts.Tolerance,
			Iterations: opts.Window,
		},
		Recorder: rec,
	}

	x0 := initial(c)
	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})

	post := newPosterior(MAP, sites, c.Supports())
	best := x0
	if res != nil && len(res.X) == len(x0) {
		best = res.X
	}
	post.setSamples([][]float64{c.Constrain(best)})
	tr.finish(post, rec.iterations)

	if err != nil {
		post.Provisional = true
		var stop *stopError
		if errors.As(err, &stop) {
			err = stop.err
		}
		if ctx.Err() != nil {
			err = dynamo.Canceled(ctx.Err())
		}
		return post, err
	}
	switch res.Status {
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit:
		post.Provisional = true
		return post, tr.exhausted(rec.iterations)
	}
	return post, nil
}

type stopError struct{ err error }

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// recorder reports progress per major iteration and stops the optimizer on
// cancellation or a fatal simulation failure.
type recorder struct {
	ctx        context.Context
	tr         *tracker
	fatal      func() error
	iterations int
}

func (r *recorder) Init() error { return nil }

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.fatal(); err != nil {
		return &stopError{err}
	}
	if err := r.ctx.Err(); err != nil {
		return &stopError{dynamo.Canceled(err)}
	}
	if op == optimize.MajorIteration {
		r.iterations = stats.MajorIterations
		r.tr.iteration(stats.MajorIterations-1, loc.F)
	}
	return nil
}
