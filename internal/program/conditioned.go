package program

import (
	"context"
	"math"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/prior"
)

// Conditioned is a Program bound to observed data. It is immutable and safe
// for concurrent use.
type Conditioned struct {
	prog  *Program
	data  Dataset
	noise Noise
	vars  []string
}

func (c *Conditioned) Program() *Program { return c.prog }
func (c *Conditioned) Data() Dataset     { return c.data }
func (c *Conditioned) Noise() Noise      { return c.noise }

// Run simulates at the data times and scores the trajectory against the
// observations.
func (c *Conditioned) Run(ctx context.Context, s *Sample) (*Run, error) {
	run, err := c.prog.Run(ctx, s, c.data.Times)
	if err != nil {
		return run, err
	}
	run.LogLik = c.logLik(run.Trajectory)
	return run, nil
}

func (c *Conditioned) logLik(tr *dynamo.Trajectory) float64 {
	total := 0.0
	for _, name := range c.vars {
		sim, err := tr.Series(name)
		if err != nil {
			return math.Inf(-1)
		}
		for i, obs := range c.data.Series[name] {
			total += c.noise.LogLik(obs, sim[i])
		}
	}
	return total
}

// Supports returns the support of every site's prior in Sites() order.
func (c *Conditioned) Supports() []prior.Support {
	sites := c.prog.model.Sites()
	out := make([]prior.Support, len(sites))
	for i, s := range sites {
		out[i] = s.Prior.Support()
	}
	return out
}

// Constrain maps unconstrained coordinates to site values.
func (c *Conditioned) Constrain(z []float64) []float64 {
	sup := c.Supports()
	x := make([]float64, len(z))
	for i := range z {
		x[i] = sup[i].Forward(z[i])
	}
	return x
}

// Unconstrain maps site values to unconstrained coordinates.
func (c *Conditioned) Unconstrain(x []float64) []float64 {
	sup := c.Supports()
	z := make([]float64, len(x))
	for i := range x {
		z[i] = sup[i].Inverse(x[i])
	}
	return z
}

// LogJoint is the log posterior density, up to a constant, at unconstrained
// coordinates z: log prior + log|Jacobian| + log likelihood. A failed
// simulation yields -Inf together with its error.
func (c *Conditioned) LogJoint(ctx context.Context, z []float64) (float64, error) {
	sites := c.prog.model.Sites()
	if len(z) != len(sites) {
		return math.Inf(-1), dynamo.Configf("draw", "expected %d coordinates, got %d", len(sites), len(z))
	}
	x := make([]float64, len(z))
	logJac := 0.0
	for i, s := range sites {
		sup := s.Prior.Support()
		x[i] = sup.Forward(z[i])
		logJac += sup.LogDetJacobian(z[i])
	}
	sample, err := c.prog.NewSample(x)
	if err != nil {
		return math.Inf(-1), err
	}
	if math.IsInf(sample.LogPrior, -1) || math.IsNaN(sample.LogPrior) {
		return math.Inf(-1), nil
	}
	run, err := c.Run(ctx, sample)
	if err != nil {
		return math.Inf(-1), err
	}
	return sample.LogPrior + logJac + run.LogLik, nil
}
