package calibrate

import (
	"context"
	"errors"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/telemetry"
)

// Calibrate infers the random sites of a conditioned program.
//
// On success the returned Posterior is final. When the iteration or time
// budget runs out first, the best-so-far Posterior is returned marked
// Provisional together with a *dynamo.NonConvergenceError; cancellation of
// ctx does the same with an error wrapping dynamo.ErrCanceled. A
// *DivergenceRateError aborts with no posterior.
func Calibrate(ctx context.Context, c *program.Conditioned, opts Options) (*Posterior, error) {
	if c == nil {
		return nil, dynamo.Configf("calibrate", "no conditioned program")
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	sites := c.Program().Sites()
	if len(sites) == 0 {
		return nil, dynamo.Configf("calibrate", "model %q has no random sites", c.Program().Model().Name())
	}

	ctx, span := telemetry.Start(ctx, "calibrate",
		attribute.String("method", string(opts.Method)),
		attribute.String("model", c.Program().Model().Name()),
		attribute.Int("sites", len(sites)),
	)
	tr := newTracker(opts, sites)

	var (
		post *Posterior
		err  error
	)
	switch opts.Method {
	case Variational:
		post, err = variational(ctx, c, opts, tr)
	case MCMC:
		post, err = mcmc(ctx, c, opts, tr)
	case MAP:
		post, err = mode(ctx, c, opts, tr)
	}

	var rateErr *DivergenceRateError
	if errors.As(err, &rateErr) {
		post = nil
	}
	if post != nil {
		span.SetAttributes(
			attribute.Int("iterations", post.Iterations),
			attribute.Int("divergences", post.Divergences),
			attribute.Bool("provisional", post.Provisional),
		)
	}
	telemetry.End(span, err)
	opts.Metrics.ObserveCalibration(string(opts.Method), err)

	if err != nil {
		opts.Logger.Warn("calibration stopped", "method", opts.Method, "err", err)
	} else {
		opts.Logger.Info("calibration finished", "method", opts.Method,
			"iterations", post.Iterations, "attempts", post.Attempts, "divergences", post.Divergences)
	}
	return post, err
}

// initial returns the unconstrained prior means, the starting point of
// every method.
func initial(c *program.Conditioned) []float64 {
	sites := c.Program().Model().Sites()
	x := make([]float64, len(sites))
	for i, s := range sites {
		x[i] = s.Prior.Mean()
	}
	return c.Unconstrain(x)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
