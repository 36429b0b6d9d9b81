package ouu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/san-kum/episim/internal/analysis"
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/ensemble"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/sim"
	"github.com/san-kum/episim/internal/telemetry"
)

// Policy turns decision values into the interventions they control.
type Policy func(u []float64) ([]interventions.Intervention, error)

// Problem is an intervention design under parameter uncertainty: minimize
// Objective(u) over the box [Lower, Upper] subject to
// Superquantile(QoI, Alpha) <= RiskBound, with the QoI evaluated on an
// ensemble of Samples members.
type Problem struct {
	Model     *model.Model
	Simulator *sim.Simulator
	Start     float64
	End       float64
	Times     []float64

	// Fixed interventions applied alongside the policy.
	Fixed  []interventions.Intervention
	Policy Policy
	Lower  []float64
	Upper  []float64
	// Initial defaults to the midpoint of the box.
	Initial []float64

	// Objective defaults to the sum of the decision values.
	Objective func(u []float64) float64
	QoI       analysis.QoI
	RiskBound float64
	Alpha     float64

	Samples int
	Seed    uint64
	// Source defaults to the model prior.
	Source program.Source
}

func (p *Problem) validate() error {
	if p.Model == nil || p.Simulator == nil || p.Policy == nil || p.QoI == nil {
		return dynamo.Configf("ouu", "model, simulator, policy and qoi are required")
	}
	if len(p.Lower) == 0 || len(p.Lower) != len(p.Upper) {
		return dynamo.Configf("ouu", "bounds must be non-empty and of equal length")
	}
	for i := range p.Lower {
		if !(p.Upper[i] > p.Lower[i]) || math.IsInf(p.Lower[i], 0) || math.IsInf(p.Upper[i], 0) {
			return dynamo.Configf("ouu", "bound %d: need finite lower < upper, got [%g, %g]", i, p.Lower[i], p.Upper[i])
		}
	}
	if p.Initial != nil {
		if len(p.Initial) != len(p.Lower) {
			return dynamo.Configf("ouu", "initial point has %d values, want %d", len(p.Initial), len(p.Lower))
		}
		for i, v := range p.Initial {
			if !(v >= p.Lower[i] && v <= p.Upper[i]) {
				return dynamo.Configf("ouu", "initial value %g outside [%g, %g]", v, p.Lower[i], p.Upper[i])
			}
		}
	}
	if !(p.Alpha >= 0 && p.Alpha < 1) {
		return dynamo.Configf("alpha", "must be in [0, 1), got %g", p.Alpha)
	}
	if math.IsNaN(p.RiskBound) || math.IsInf(p.RiskBound, 0) {
		return dynamo.Configf("risk_bound", "must be finite")
	}
	if p.Samples < 1 {
		return dynamo.Configf("samples", "must be positive, got %d", p.Samples)
	}
	return nil
}

func (p *Problem) objective(u []float64) float64 {
	if p.Objective != nil {
		return p.Objective(u)
	}
	s := 0.0
	for _, v := range u {
		s += v
	}
	return s
}

// Evaluator computes the risk of policies with common random numbers: every
// evaluation reuses the same seed, so member i sees the same parameter draw
// under every policy.
type Evaluator struct {
	prob    *Problem
	sampler *ensemble.Sampler
	logger  *slog.Logger
}

func NewEvaluator(prob *Problem, sampler *ensemble.Sampler) (*Evaluator, error) {
	if err := prob.validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		sampler = &ensemble.Sampler{}
	}
	logger := sampler.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{prob: prob, sampler: sampler, logger: logger}, nil
}

// Program builds the program that applies policy u.
func (e *Evaluator) Program(u []float64) (*program.Program, error) {
	ivs, err := e.prob.Policy(u)
	if err != nil {
		return nil, err
	}
	set, err := interventions.NewSet(append(append([]interventions.Intervention(nil), e.prob.Fixed...), ivs...)...)
	if err != nil {
		return nil, err
	}
	return program.New(program.Config{
		Model:         e.prob.Model,
		Interventions: set,
		Simulator:     e.prob.Simulator,
		Start:         e.prob.Start,
		End:           e.prob.End,
	})
}

// Risk returns the alpha-superquantile of the QoI under policy u and the
// per-member QoI values of the survivors.
func (e *Evaluator) Risk(ctx context.Context, u []float64) (float64, []float64, error) {
	prog, err := e.Program(u)
	if err != nil {
		return math.NaN(), nil, err
	}
	src := e.prob.Source
	if src == nil {
		src = prog.Prior()
	}
	res, err := e.sampler.Run(ctx, prog, src, ensemble.Request{N: e.prob.Samples, Seed: e.prob.Seed, Times: e.prob.Times})
	if err != nil {
		if errors.Is(err, dynamo.ErrDivergence) && !errors.Is(err, dynamo.ErrCanceled) {
			return math.Inf(1), nil, nil
		}
		return math.NaN(), nil, err
	}
	values := make([]float64, 0, res.Summary.Successes)
	for _, m := range res.Survivors() {
		v, err := e.prob.QoI(m.Trajectory)
		if err != nil {
			return math.NaN(), nil, fmt.Errorf("qoi of member %d: %w", m.Index, err)
		}
		values = append(values, v)
	}
	return Superquantile(values, e.prob.Alpha), values, nil
}

// Solution is the outcome of Solve.
type Solution struct {
	Policy      []float64
	Objective   float64
	Risk        float64
	Feasible    bool
	Iterations  int
	Evaluations int
}

// Solve searches the policy box for the cheapest policy meeting the risk
// bound. Constraint violations are penalized relative to the bound.
func Solve(ctx context.Context, prob Problem, opts Options) (*Solution, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	ev, err := NewEvaluator(&prob, &ensemble.Sampler{Workers: opts.Workers, Logger: opts.Logger, Metrics: opts.Metrics})
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Start(ctx, "ouu.solve",
		attribute.String("model", prob.Model.Name()),
		attribute.String("method", string(opts.Method)),
		attribute.Int("samples", prob.Samples),
		attribute.Float64("alpha", prob.Alpha),
	)
	var sol *Solution
	switch opts.Method {
	case Grid:
		sol, err = gridSearch(ctx, ev, opts)
	default:
		sol, err = nelderMead(ctx, ev, opts)
	}
	if sol != nil {
		span.SetAttributes(attribute.Bool("feasible", sol.Feasible), attribute.Float64("risk", sol.Risk))
		opts.Logger.Info("policy search finished", "policy", sol.Policy, "objective", sol.Objective,
			"risk", sol.Risk, "feasible", sol.Feasible, "evaluations", sol.Evaluations)
	}
	telemetry.End(span, err)
	return sol, err
}

// penalized scores u: objective plus a relative constraint violation.
func (e *Evaluator) penalized(ctx context.Context, u []float64, penalty float64) (score, risk float64, err error) {
	risk, _, err = e.Risk(ctx, u)
	if err != nil {
		return math.Inf(1), risk, err
	}
	obj := e.prob.objective(u)
	viol := math.Max(0, risk-e.prob.RiskBound) / math.Max(1, math.Abs(e.prob.RiskBound))
	if math.IsInf(risk, 1) {
		viol = 1e6
	}
	return obj + penalty*viol, risk, nil
}

func (e *Evaluator) solution(u []float64, risk float64) *Solution {
	return &Solution{
		Policy:    append([]float64(nil), u...),
		Objective: e.prob.objective(u),
		Risk:      risk,
		Feasible:  risk-e.prob.RiskBound <= 1e-9*math.Max(1, math.Abs(e.prob.RiskBound)),
	}
}
