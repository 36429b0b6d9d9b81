package calibrate

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/san-kum/episim/internal/program"
)

const (
	targetAcceptance = 0.3
	adaptEvery       = 50
)

// mcmc runs random-walk Metropolis over unconstrained coordinates. During
// burn-in the proposal scale adapts toward the target acceptance rate; the
// chain is then thinned into the posterior draws. A divergent proposal is
// rejected and counted against the failure budget.
func mcmc(ctx context.Context, c *program.Conditioned, opts Options, tr *tracker) (*Posterior, error) {
	sites := c.Program().Sites()
	d := len(sites)
	rng := rand.New(rand.NewPCG(opts.Seed, 0x2545f4914f6cdd1d))

	var rows [][]float64
	build := func(iterations int, provisional bool, z []float64) *Posterior {
		post := newPosterior(MCMC, sites, c.Supports())
		if len(rows) == 0 {
			rows = append(rows, c.Constrain(z))
		}
		post.setSamples(rows)
		post.Provisional = provisional
		tr.finish(post, iterations)
		return post
	}

	z, lp, err := start(ctx, c, rng, tr)
	if err != nil {
		return nil, err
	}

	step := opts.ProposalScale
	accepted := 0
	prop := make([]float64, d)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := tr.check(ctx, iter); err != nil {
			return build(iter, true, z), err
		}
		for i := range prop {
			prop[i] = z[i] + step*rng.NormFloat64()
		}
		lpp, err := c.LogJoint(ctx, prop)
		if fatal := tr.record(c.Constrain(prop), err); fatal != nil {
			if ctx.Err() != nil {
				return build(iter, true, z), tr.check(ctx, iter)
			}
			return build(iter, true, z), fatal
		}
		if err == nil && finite(lpp) && math.Log(rng.Float64()) < lpp-lp {
			copy(z, prop)
			lp = lpp
			accepted++
		}

		if iter < opts.BurnIn {
			if (iter+1)%adaptEvery == 0 {
				rate := float64(accepted) / adaptEvery
				step *= math.Exp(rate - targetAcceptance)
				accepted = 0
			}
		} else if (iter-opts.BurnIn)%opts.Thin == 0 {
			rows = append(rows, c.Constrain(z))
		}
		tr.iteration(iter, -lp)
	}
	return build(opts.MaxIterations, false, z), nil
}

// start finds a finite initial point: the prior means if they simulate,
// otherwise prior draws.
func start(ctx context.Context, c *program.Conditioned, rng *rand.Rand, tr *tracker) ([]float64, float64, error) {
	z := initial(c)
	const tries = 100
	for i := 0; ; i++ {
		lp, err := c.LogJoint(ctx, z)
		if fatal := tr.record(c.Constrain(z), err); fatal != nil {
			if ctx.Err() != nil {
				return nil, 0, tr.check(ctx, 0)
			}
			return nil, 0, fatal
		}
		if err == nil && finite(lp) {
			return z, lp, nil
		}
		if i == tries {
			return nil, 0, tr.exhausted(0)
		}
		s, err := c.Program().Draw(rng)
		if err != nil {
			return nil, 0, err
		}
		z = c.Unconstrain(s.Values)
	}
}
