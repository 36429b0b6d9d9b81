package ouu

import (
	"context"
	"math"
	"sync"

	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/prior"
)

// best tracks the lowest-scoring policy evaluated so far.
type best struct {
	mu    sync.Mutex
	score float64
	u     []float64
	risk  float64
	evals int
	err   error
}

func (b *best) offer(u []float64, score, risk float64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evals++
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return
	}
	if b.u == nil || score < b.score {
		b.score, b.risk = score, risk
		b.u = append([]float64(nil), u...)
	}
}

// nelderMead searches over unbounded coordinates mapped into the box.
func nelderMead(ctx context.Context, ev *Evaluator, opts Options) (*Solution, error) {
	prob := ev.prob
	d := len(prob.Lower)
	box := make([]prior.Support, d)
	for i := range box {
		box[i] = prior.Interval(prob.Lower[i], prob.Upper[i])
	}
	toBox := func(z []float64) []float64 {
		u := make([]float64, d)
		for i := range u {
			u[i] = box[i].Forward(z[i])
		}
		return u
	}

	z0 := make([]float64, d)
	for i := range z0 {
		frac := 0.5
		if prob.Initial != nil {
			frac = (prob.Initial[i] - prob.Lower[i]) / (prob.Upper[i] - prob.Lower[i])
		}
		frac = math.Max(1e-3, math.Min(1-1e-3, frac))
		z0[i] = box[i].Inverse(prob.Lower[i] + frac*(prob.Upper[i]-prob.Lower[i]))
	}

	b := &best{}
	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			u := toBox(z)
			score, risk, err := ev.penalized(ctx, u, opts.Penalty)
			b.offer(u, score, risk, err)
			return score
		},
	}
	rec := &stopper{ctx: ctx, b: b}
	settings := &optimize.Settings{
		MajorIterations: opts.MaxIterations,
		Runtime:         opts.Timeout,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.Tolerance,
			Iterations: 20,
		},
		Recorder: rec,
	}
	res, err := optimize.Minimize(problem, z0, settings, &optimize.NelderMead{})
	if b.err != nil {
		return nil, b.err
	}
	if b.u == nil {
		if err == nil {
			err = dynamo.Configf("ouu", "no policy evaluated")
		}
		return nil, err
	}
	sol := ev.solution(b.u, b.risk)
	sol.Evaluations = b.evals
	if res != nil {
		sol.Iterations = res.MajorIterations
	}
	if ctx.Err() != nil {
		return sol, dynamo.Canceled(ctx.Err())
	}
	return sol, nil
}

type stopper struct {
	ctx context.Context
	b   *best
}

func (s *stopper) Init() error { return nil }

func (s *stopper) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	if err := s.ctx.Err(); err != nil {
		return dynamo.Canceled(err)
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	return s.b.err
}

// gridSearch evaluates every grid point and keeps the cheapest feasible
// one, or the least risky if none is feasible.
func gridSearch(ctx context.Context, ev *Evaluator, opts Options) (*Solution, error) {
	prob := ev.prob
	axes := make([][]float64, len(prob.Lower))
	for i := range axes {
		axes[i] = make([]float64, opts.GridPoints)
		for k := range axes[i] {
			axes[i][k] = prob.Lower[i] + float64(k)*(prob.Upper[i]-prob.Lower[i])/float64(opts.GridPoints-1)
		}
	}

	var (
		chosen *Solution
		evals  int
	)
	var walk func(depth int, current []float64) error
	walk = func(depth int, current []float64) error {
		if depth == len(axes) {
			if err := ctx.Err(); err != nil {
				return dynamo.Canceled(err)
			}
			risk, _, err := ev.Risk(ctx, current)
			if err != nil {
				return err
			}
			evals++
			cand := ev.solution(current, risk)
			if chosen == nil || better(cand, chosen) {
				chosen = cand
			}
			return nil
		}
		for _, v := range axes[depth] {
			next := append(append([]float64(nil), current...), v)
			if err := walk(depth+1, next); err != nil {
				return err
			}
		}
		return nil
	}
	err := walk(0, nil)
	if chosen != nil {
		chosen.Evaluations = evals
		chosen.Iterations = evals
	}
	return chosen, err
}

func better(a, b *Solution) bool {
	switch {
	case a.Feasible && !b.Feasible:
		return true
	case !a.Feasible && b.Feasible:
		return false
	case a.Feasible:
		return a.Objective < b.Objective
	default:
		return a.Risk < b.Risk
	}
}
