package calibrate

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/diff/fd"

	"github.com/san-kum/episim/internal/program"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8

	minLogScale = -20
	maxLogScale = 5

	gradientStep = 1e-3
)

// variational fits a mean-field Gaussian guide over unconstrained
// coordinates by minimizing a fixed-particle estimate of the negative ELBO
// with Adam. Gradients come from central differences over the particle
// objective; particles that diverge at the current guide are excluded from
// the step and counted against the failure budget.
func variational(ctx context.Context, c *program.Conditioned, opts Options, tr *tracker) (*Posterior, error) {
	sites := c.Program().Sites()
	d := len(sites)
	rng := rand.New(rand.NewPCG(opts.Seed, 0x9e3779b97f4a7c15))

	theta := make([]float64, 2*d)
	copy(theta, initial(c))
	for i := d; i < 2*d; i++ {
		theta[i] = math.Log(opts.InitScale)
	}
	eps := make([][]float64, opts.Particles)
	for k := range eps {
		eps[k] = make([]float64, d)
		for i := range eps[k] {
			eps[k][i] = rng.NormFloat64()
		}
	}

	point := func(th []float64, k int) []float64 {
		z := make([]float64, d)
		for i := range z {
			z[i] = th[i] + math.Exp(th[d+i])*eps[k][i]
		}
		return z
	}
	entropy := func(th []float64) float64 {
		s := 0.0
		for i := d; i < 2*d; i++ {
			s += th[i]
		}
		return s
	}
	objective := func(th []float64, live []bool) float64 {
		sum, n := 0.0, 0
		for k, ok := range live {
			if !ok {
				continue
			}
			lj, err := c.LogJoint(ctx, point(th, k))
			if err != nil || !finite(lj) {
				return math.Inf(1)
			}
			sum += lj
			n++
		}
		if n == 0 {
			return math.Inf(1)
		}
		return -(sum/float64(n) + entropy(th))
	}

	best := append([]float64(nil), theta...)
	bestLoss := math.Inf(1)
	m := make([]float64, 2*d)
	v := make([]float64, 2*d)
	grad := make([]float64, 2*d)
	settings := &fd.Settings{Formula: fd.Central, Step: gradientStep, Concurrent: true}

	build := func(iterations int, provisional bool) *Posterior {
		post := guidePosterior(c, opts, best)
		post.Provisional = provisional
		tr.finish(post, iterations)
		return post
	}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := tr.check(ctx, iter); err != nil {
			return build(iter, true), err
		}

		live := make([]bool, opts.Particles)
		sum, n := 0.0, 0
		for k := range live {
			z := point(theta, k)
			lj, err := c.LogJoint(ctx, z)
			if err == nil && !finite(lj) {
				// Zero prior density; the particle carries no gradient.
				tr.record(nil, nil)
				continue
			}
			if fatal := tr.record(c.Constrain(z), err); fatal != nil {
				if ctx.Err() != nil {
					return build(iter, true), tr.check(ctx, iter)
				}
				return build(iter, true), fatal
			}
			if err != nil {
				continue
			}
			live[k] = true
			sum += lj
			n++
		}
		if n == 0 {
			tr.iteration(iter, math.Inf(1))
			continue
		}
		loss := -(sum/float64(n) + entropy(theta))
		if loss < bestLoss {
			bestLoss = loss
			copy(best, theta)
		}

		fd.Gradient(grad, func(th []float64) float64 { return objective(th, live) }, theta, settings)
		lr := opts.LearningRate / math.Sqrt(1+float64(iter)/100)
		t := float64(iter + 1)
		for i, g := range grad {
			if !finite(g) {
				g = 0
			}
			m[i] = adamBeta1*m[i] + (1-adamBeta1)*g
			v[i] = adamBeta2*v[i] + (1-adamBeta2)*g*g
			mh := m[i] / (1 - math.Pow(adamBeta1, t))
			vh := v[i] / (1 - math.Pow(adamBeta2, t))
			theta[i] -= lr * mh / (math.Sqrt(vh) + adamEpsilon)
		}
		for i := d; i < 2*d; i++ {
			theta[i] = math.Max(minLogScale, math.Min(maxLogScale, theta[i]))
		}

		tr.iteration(iter, loss)
		if tr.converged() {
			return build(iter+1, false), nil
		}
	}
	return build(opts.MaxIterations, true), tr.exhausted(opts.MaxIterations)
}

// guidePosterior freezes the guide at th and draws seeded summary samples
// from it.
func guidePosterior(c *program.Conditioned, opts Options, th []float64) *Posterior {
	sites := c.Program().Sites()
	d := len(sites)
	post := newPosterior(Variational, sites, c.Supports())
	post.loc = append([]float64(nil), th[:d]...)
	post.scale = make([]float64, d)
	for i := range post.scale {
		post.scale[i] = math.Exp(th[d+i])
	}
	rng := rand.New(rand.NewPCG(opts.Seed, 1))
	rows := make([][]float64, opts.PosteriorDraws)
	for i := range rows {
		rows[i], _ = post.Values(rng)
	}
	post.setSamples(rows)
	return post
}
