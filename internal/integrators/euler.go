package integrators

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/episim/internal/dynamo"
)

// Euler is the explicit first-order method. Mostly useful as a baseline.
type Euler struct {
	H float64
}

func NewEuler(h float64) *Euler {
	return &Euler{H: h}
}

func (e *Euler) Name() string { return "euler" }

func (e *Euler) Integrate(f dynamo.Func, x0 dynamo.State, t0, t1 float64, out []float64) (*Solution, error) {
	return fixedStep(e.step, 1, e.H, f, x0, t0, t1, out)
}

func (e *Euler) step(f dynamo.Func, x dynamo.State, t, dt float64) dynamo.State {
	result := x.Clone()
	floats.AddScaled(result, dt, f(t, x))
	return result
}

type stepFunc func(f dynamo.Func, x dynamo.State, t, dt float64) dynamo.State

// fixedStep advances between consecutive targets in equal sub-steps no
// longer than h, so every output time is hit exactly.
func fixedStep(step stepFunc, evalsPerStep int, h float64, f dynamo.Func, x0 dynamo.State, t0, t1 float64, out []float64) (*Solution, error) {
	if !(h > 0) || math.IsInf(h, 0) {
		return nil, dynamo.Configf("solver", "step size must be positive, got %g", h)
	}
	if err := checkSpan(x0, t0, t1, out); err != nil {
		return nil, err
	}
	sol := &Solution{
		Times:  make([]float64, 0, len(out)),
		States: make([]dynamo.State, 0, len(out)),
	}

	x := x0.Clone()
	t := t0
	for k, target := range targets(t1, out) {
		n := int(math.Ceil((target - t) / h * (1 - 1e-12)))
		if n < 1 {
			n = 1
		}
		dt := (target - t) / float64(n)
		start := t
		for i := 1; i <= n; i++ {
			x = step(f, x, t, dt)
			sol.Steps++
			sol.Evals += evalsPerStep
			t = start + float64(i)*dt
			if err := invalid(t, x); err != nil {
				sol.Final = x
				return sol, err
			}
		}
		t = target
		if k < len(out) {
			sol.Times = append(sol.Times, t)
			sol.States = append(sol.States, x.Clone())
		}
	}
	sol.Final = x
	return sol, nil
}
