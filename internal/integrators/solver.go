package integrators

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/episim/internal/dynamo"
)

// Solution holds the result of one Integrate call. States[i] is the state
// at Times[i]; Final is the state at t1.
type Solution struct {
	Times    []float64
	States   []dynamo.State
	Final    dynamo.State
	Steps    int
	Rejected int
	Evals    int
}

// Solver integrates dx/dt = f(t, x) from t0 to t1, reporting the state at
// every requested output time in (t0, t1]. Implementations are stateless
// between calls and safe for concurrent use.
type Solver interface {
	Integrate(f dynamo.Func, x0 dynamo.State, t0, t1 float64, out []float64) (*Solution, error)
	Name() string
}

// Failure is a solver error located in time. Index is the first offending
// state variable, or -1 when the failure is not tied to one.
type Failure struct {
	Time  float64
	Index int
	State dynamo.State
	Err   error
}

func (f *Failure) Error() string {
	if f.Index >= 0 {
		return fmt.Sprintf("t=%.6g: component %d: %v", f.Time, f.Index, f.Err)
	}
	return fmt.Sprintf("t=%.6g: %v", f.Time, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func checkSpan(x0 dynamo.State, t0, t1 float64, out []float64) error {
	if !(t1 > t0) {
		return dynamo.Configf("solver", "empty interval [%g, %g]", t0, t1)
	}
	if i := x0.FirstInvalid(); i >= 0 {
		return &Failure{Time: t0, Index: i, State: x0.Clone(), Err: dynamo.ErrInvalidState}
	}
	prev := t0
	for _, t := range out {
		if !(t > prev) || t > t1 {
			return dynamo.Configf("solver", "output time %g outside (%g, %g] or not increasing", t, t0, t1)
		}
		prev = t
	}
	return nil
}

func invalid(t float64, x dynamo.State) error {
	if i := x.FirstInvalid(); i >= 0 {
		return &Failure{Time: t, Index: i, State: x.Clone(), Err: dynamo.ErrInvalidState}
	}
	return nil
}

// targets returns the output times followed by t1, skipping a final output
// that coincides with t1.
func targets(t1 float64, out []float64) []float64 {
	ts := append([]float64(nil), out...)
	if len(ts) == 0 || ts[len(ts)-1] < t1 {
		ts = append(ts, t1)
	}
	return ts
}

// Options configures New.
type Options struct {
	RTol     float64
	ATol     float64
	MinStep  float64
	MaxSteps int
	Step     float64
}

// New returns a solver by name: "dopri5" (alias "rk45"), "rk4" or "euler".
func New(name string, opts Options) (Solver, error) {
	switch strings.ToLower(name) {
	case "", "dopri5", "rk45":
		r := NewRK45()
		if opts.RTol > 0 {
			r.RTol = opts.RTol
		}
		if opts.ATol > 0 {
			r.ATol = opts.ATol
		}
		if opts.MinStep > 0 {
			r.MinStep = opts.MinStep
		}
		if opts.MaxSteps > 0 {
			r.MaxSteps = opts.MaxSteps
		}
		return r, nil
	case "rk4":
		return NewRK4(stepOr(opts.Step)), nil
	case "euler":
		return NewEuler(stepOr(opts.Step)), nil
	default:
		return nil, dynamo.Configf("solver", "unknown method %q", name)
	}
}

func stepOr(h float64) float64 {
	if h > 0 && !math.IsInf(h, 0) {
		return h
	}
	return 0.1
}
