package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/integrators"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/model"
)

// Simulator integrates a model across intervention boundaries. It holds no
// per-run state and is safe for concurrent use.
type Simulator struct {
	solver    integrators.Solver
	cfg       Config
	logger    *slog.Logger
	observers []Observer
}

func New(solver integrators.Solver, opts ...Option) *Simulator {
	s := &Simulator{
		solver: solver,
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Simulator) Solver() integrators.Solver { return s.solver }
func (s *Simulator) Config() Config             { return s.cfg }

func (s *Simulator) validate(req Request) error {
	if s.solver == nil {
		return dynamo.Configf("solver", "no solver configured")
	}
	if req.Model == nil || req.Resolved == nil {
		return dynamo.Configf("request", "model and resolved parameters are required")
	}
	if math.IsNaN(req.Start) || math.IsInf(req.Start, 0) || math.IsInf(req.End, 0) || !(req.End > req.Start) {
		return dynamo.Configf("horizon", "invalid time horizon [%g, %g]", req.Start, req.End)
	}
	if len(req.Resolved.Init) != req.Model.StateDim() {
		return dynamo.Configf("initial", "state has %d entries, model %q declares %d", len(req.Resolved.Init), req.Model.Name(), req.Model.StateDim())
	}
	prev := math.Inf(-1)
	for _, t := range req.Times {
		if math.IsNaN(t) || t < req.Start || t > req.End {
			return dynamo.Configf("logging_times", "time %g outside horizon [%g, %g]", t, req.Start, req.End)
		}
		if !(t > prev) {
			return dynamo.Configf("logging_times", "times must be strictly increasing at %g", t)
		}
		prev = t
	}
	if s.cfg.MaxSegments <= 0 {
		return dynamo.Configf("max_segments", "must be positive, got %d", s.cfg.MaxSegments)
	}
	if !(s.cfg.EventTolerance > 0) {
		return dynamo.Configf("event_tolerance", "must be positive, got %g", s.cfg.EventTolerance)
	}
	return nil
}

// run is the mutable bookkeeping of one Run call.
type run struct {
	req    Request
	tr     *dynamo.Trajectory
	obs    [][]float64
	cursor *interventions.Cursor
	next   int
	seg    int
	segT0  float64
}

func near(a, b float64) bool { return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b)) }

func (r *run) log(t float64, x dynamo.State, p model.Values) {
	r.tr.Append(t, x)
	for i, v := range r.req.Model.Observe(x, p) {
		r.obs[i] = append(r.obs[i], v)
	}
}

// logAt records every logging time that coincides with t.
func (r *run) logAt(t float64, x dynamo.State, p model.Values) {
	for r.next < len(r.req.Times) && (r.req.Times[r.next] < t || near(r.req.Times[r.next], t)) {
		r.log(r.req.Times[r.next], x, p)
		r.next++
	}
}

// pending returns the logging times strictly inside (a, b).
func (r *run) pending(a, b float64) []float64 {
	var out []float64
	for k := r.next; k < len(r.req.Times); k++ {
		t := r.req.Times[k]
		if near(t, b) || t > b {
			break
		}
		if t > a && !near(t, a) {
			out = append(out, t)
		}
	}
	return out
}

func (r *run) finish() *dynamo.Trajectory {
	for i, name := range r.req.Model.ObservableNames() {
		r.tr.Observables[name] = r.obs[i]
	}
	r.tr.Segments = r.seg
	return r.tr
}

func (r *run) divergence(err error) error {
	de := &dynamo.DivergenceError{Segment: r.seg, SegmentStart: r.segT0, Time: r.segT0, Wrapped: err}
	var f *integrators.Failure
	if errors.As(err, &f) {
		de.Time = f.Time
		de.State = f.State
		if f.Index >= 0 && f.Index < r.req.Model.StateDim() {
			de.Variable = r.req.Model.States()[f.Index]
		}
	}
	return de
}

// Run simulates one trajectory. The run alternates between boundaries,
// where due interventions are applied and logging times at the boundary are
// recorded, and integration segments up to the next static boundary or
// state-trigger crossing. On divergence, cancellation or an exhausted
// segment budget the partial trajectory is returned with the error.
func (s *Simulator) Run(ctx context.Context, req Request) (*dynamo.Trajectory, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	r := &run{
		req:    req,
		tr:     dynamo.NewTrajectory(req.Model.States(), len(req.Times)),
		obs:    make([][]float64, len(req.Model.ObservableNames())),
		cursor: req.Interventions.Start(req.Start),
	}

	x := req.Resolved.Init.Clone()
	p := req.Resolved.Params
	t := req.Start

	for {
		if err := ctx.Err(); err != nil {
			return r.finish(), dynamo.Canceled(err)
		}

		before := x
		var next float64
		var fired []string
		x, p, next, fired = r.cursor.ApplyDue(t, x, p)
		if len(fired) > 0 {
			s.boundary(r, t, before, x, fired)
			if i := x.FirstInvalid(); i >= 0 {
				r.segT0 = t
				return r.finish(), r.divergence(&integrators.Failure{Time: t, Index: i, State: x.Clone(), Err: dynamo.ErrInvalidState})
			}
		}
		r.logAt(t, x, p)

		if t > req.End || near(t, req.End) {
			break
		}
		if r.seg >= s.cfg.MaxSegments {
			return r.finish(), fmt.Errorf("%w: %d segments reached before t=%g", dynamo.ErrBudgetExceeded, s.cfg.MaxSegments, req.End)
		}

		end := math.Min(next, req.End)
		var err error
		x, p, t, err = s.segment(r, t, end, x, p)
		if err != nil {
			return r.finish(), err
		}
	}

	s.logger.Debug("simulation finished", "model", req.Model.Name(), "segments", r.seg, "points", r.tr.Len())
	return r.finish(), nil
}

func (s *Simulator) boundary(r *run, t float64, before, after dynamo.State, fired []string) {
	b := dynamo.Boundary{Time: t, Before: before.Clone(), After: after.Clone(), Fired: fired}
	r.tr.Boundaries = append(r.tr.Boundaries, b)
	s.logger.Debug("interventions applied", "t", t, "fired", fired)
	for _, o := range s.observers {
		o.OnBoundary(b)
	}
}

// segment integrates from t0 towards t1 and returns where it stopped. With
// no armed state trigger the whole segment is one solver call; otherwise it
// is checked piecewise and cut at the first crossing.
func (s *Simulator) segment(r *run, t0, t1 float64, x dynamo.State, p model.Values) (dynamo.State, model.Values, float64, error) {
	r.segT0 = t0
	f := r.req.Model.Derivative(p)
	info := Segment{Index: r.seg, Start: t0, End: t1}
	defer func() {
		r.seg++
		for _, o := range s.observers {
			o.OnSegment(info)
		}
	}()

	s.logger.Debug("segment", "segment", r.seg, "start", t0, "end", t1)

	if !r.cursor.Watching() {
		sol, err := s.solver.Integrate(f, x, t0, t1, r.pending(t0, t1))
		if sol != nil {
			info.Steps, info.Evals = sol.Steps, sol.Evals
			for i := range sol.Times {
				r.log(sol.Times[i], sol.States[i], p)
				r.next++
			}
		}
		if err != nil {
			return x, p, t0, s.solveErr(r, err)
		}
		return sol.Final, p, t1, nil
	}

	maxCheck := s.cfg.MaxCheckInterval
	if !(maxCheck > 0) {
		maxCheck = (r.req.End - r.req.Start) / 100
	}

	a := t0
	for a < t1 && !near(a, t1) {
		b := t1
		if pts := r.pending(a, t1); len(pts) > 0 {
			b = pts[0]
		}
		b = math.Min(b, a+maxCheck)
		if near(b, t1) {
			b = t1
		}

		sol, err := s.solver.Integrate(f, x, a, b, nil)
		if sol != nil {
			info.Steps += sol.Steps
			info.Evals += sol.Evals
		}
		if err != nil {
			return x, p, a, s.solveErr(r, err)
		}
		xb := sol.Final

		if len(r.cursor.Crossed(a, x, b, xb, p)) > 0 {
			tc, xc, ks, err := s.localize(r, f, a, x, b, xb, p)
			if err != nil {
				return x, p, a, s.solveErr(r, err)
			}
			info.End = tc
			nx, np, fired := r.cursor.Fire(ks, tc, xc, p)
			s.boundary(r, tc, xc, nx, fired)
			if i := nx.FirstInvalid(); i >= 0 {
				return nx, np, tc, r.divergence(&integrators.Failure{Time: tc, Index: i, State: nx.Clone(), Err: dynamo.ErrInvalidState})
			}
			return nx, np, tc, nil
		}

		x, a = xb, b
		if b < t1 && r.next < len(r.req.Times) && near(r.req.Times[r.next], b) {
			r.log(r.req.Times[r.next], x, p)
			r.next++
		}
	}
	return x, p, t1, nil
}

// localize bisects [a, b] down to the event tolerance and returns the first
// point past the crossing, the state there and the triggers that crossed.
func (s *Simulator) localize(r *run, f dynamo.Func, a float64, xa dynamo.State, b float64, xb dynamo.State, p model.Values) (float64, dynamo.State, []int, error) {
	lo, xlo := a, xa
	hi, xhi := b, xb
	for iter := 0; hi-lo > s.cfg.EventTolerance && iter < 200; iter++ {
		mid := lo + (hi-lo)/2
		sol, err := s.solver.Integrate(f, xlo, lo, mid, nil)
		if err != nil {
			return 0, nil, nil, err
		}
		if len(r.cursor.Crossed(lo, xlo, mid, sol.Final, p)) > 0 {
			hi, xhi = mid, sol.Final
		} else {
			lo, xlo = mid, sol.Final
		}
	}
	return hi, xhi, r.cursor.Crossed(lo, xlo, hi, xhi, p), nil
}

func (s *Simulator) solveErr(r *run, err error) error {
	if errors.Is(err, dynamo.ErrConfiguration) {
		return err
	}
	de := r.divergence(err)
	s.logger.Warn("solver failed", "segment", r.seg, "err", de)
	return de
}
