package analysis

import (
	"context"
	"errors"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/program"
)

// SweepPoint is the quantity of interest at one value of the swept site.
// Err is set when the simulation diverged.
type SweepPoint struct {
	Value float64
	QoI   float64
	Err   error
}

// Sweep varies one random site of prog over [lo, hi] in steps points,
// holding the other sites at base, and evaluates q on each run. Divergent
// runs are kept as points with Err set; other errors stop the sweep.
func Sweep(ctx context.Context, prog *program.Program, base []float64, site string, lo, hi float64, steps int, times []float64, q QoI) ([]SweepPoint, error) {
	idx := -1
	for i, s := range prog.Sites() {
		if s == site {
			idx = i
		}
	}
	if idx < 0 {
		return nil, dynamo.Configf("sweep", "%q is not a random site of %s", site, prog.Model().Name())
	}
	if steps < 2 || !(hi > lo) {
		return nil, dynamo.Configf("sweep", "need at least 2 steps over a non-empty range")
	}
	if len(base) != len(prog.Sites()) {
		return nil, dynamo.Configf("sweep", "expected %d base values, got %d", len(prog.Sites()), len(base))
	}

	out := make([]SweepPoint, 0, steps)
	vals := append([]float64(nil), base...)
	for i := range steps {
		if err := ctx.Err(); err != nil {
			return out, dynamo.Canceled(err)
		}
		vals[idx] = lo + float64(i)*(hi-lo)/float64(steps-1)
		pt := SweepPoint{Value: vals[idx]}
		sample, err := prog.NewSample(vals)
		if err != nil {
			return out, err
		}
		run, err := prog.Run(ctx, sample, times)
		switch {
		case err == nil:
			pt.QoI, pt.Err = q(run.Trajectory)
		case errors.Is(err, dynamo.ErrDivergence), errors.Is(err, dynamo.ErrBudgetExceeded):
			pt.Err = err
		default:
			return out, err
		}
		out = append(out, pt)
	}
	return out, nil
}
