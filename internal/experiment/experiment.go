package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"

	"github.com/san-kum/episim/internal/analysis"
	"github.com/san-kum/episim/internal/calibrate"
	"github.com/san-kum/episim/internal/config"
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/ensemble"
	"github.com/san-kum/episim/internal/integrators"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/metrics"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/ouu"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/prior"
	"github.com/san-kum/episim/internal/sim"
	"github.com/san-kum/episim/internal/storage"
	"github.com/san-kum/episim/internal/telemetry"
)

// Experiment is a config resolved against a registry: a built model, its
// interventions and a program ready to simulate, forecast, calibrate or
// optimize.
type Experiment struct {
	cfg       *config.Config
	model     *model.Model
	solver    integrators.Solver
	simulator *sim.Simulator
	fixed     []interventions.Intervention
	prog      *program.Program
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type Option func(*Experiment)

func WithLogger(l *slog.Logger) Option      { return func(e *Experiment) { e.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Experiment) { e.metrics = m } }

func New(cfg *config.Config, reg *Registry, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	spec, err := reg.GetModel(cfg.Model)
	if err != nil {
		return nil, dynamo.Configf("model", "%v", err)
	}
	if err := override(&spec, cfg); err != nil {
		return nil, err
	}
	if e.model, err = model.New(spec); err != nil {
		return nil, err
	}

	for i, ic := range cfg.Interventions {
		iv, err := buildIntervention(e.model, ic)
		if err != nil {
			return nil, dynamo.Configf(fmt.Sprintf("interventions[%d]", i), "%v", err)
		}
		e.fixed = append(e.fixed, iv)
	}
	set, err := interventions.NewSet(e.fixed...)
	if err != nil {
		return nil, err
	}

	if e.solver, err = reg.GetSolver(cfg.Solver); err != nil {
		return nil, err
	}
	simCfg := sim.DefaultConfig()
	if cfg.MaxSegments > 0 {
		simCfg.MaxSegments = cfg.MaxSegments
	}
	e.simulator = sim.New(e.solver,
		sim.WithConfig(simCfg),
		sim.WithLogger(e.logger),
		sim.WithObserver(e.metrics.Observer()),
	)

	var noise program.Noise
	if cfg.Noise.Scale > 0 || cfg.Noise.Floor > 0 {
		noise = program.Normal{Scale: cfg.Noise.Scale, Floor: cfg.Noise.Floor, Absolute: cfg.Noise.Absolute}
	}
	e.prog, err = program.New(program.Config{
		Model:         e.model,
		Interventions: set,
		Simulator:     e.simulator,
		Noise:         noise,
		Start:         cfg.Horizon.Start,
		End:           cfg.Horizon.End,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Experiment) Config() *config.Config     { return e.cfg }
func (e *Experiment) Model() *model.Model        { return e.model }
func (e *Experiment) Program() *program.Program  { return e.prog }
func (e *Experiment) Solver() integrators.Solver { return e.solver }

// Times is the logging grid: every step across the horizon, end included.
func (e *Experiment) Times() ([]float64, error) {
	times, err := dynamo.LogTimes(e.cfg.Horizon.Start, e.cfg.Horizon.End, e.cfg.Horizon.Step)
	if err != nil {
		return nil, err
	}
	return append(times, e.cfg.Horizon.End), nil
}

// Simulate runs one forward draw from the prior using the configured seed.
func (e *Experiment) Simulate(ctx context.Context) (*program.Run, error) {
	times, err := e.Times()
	if err != nil {
		return nil, err
	}
	ctx, span := telemetry.Start(ctx, "simulate",
		attribute.String("model", e.model.Name()),
		attribute.String("solver", e.solver.Name()),
	)
	run, err := e.prog.Forward(ctx, rand.New(rand.NewPCG(e.cfg.Seed, 0)), times)
	e.metrics.ObserveRun(e.model.Name(), err)
	telemetry.End(span, err)
	return run, err
}

func (e *Experiment) sampler() *ensemble.Sampler {
	return &ensemble.Sampler{Workers: e.cfg.Ensemble.Workers, Logger: e.logger, Metrics: e.metrics}
}

// Forecast runs the configured ensemble with site values from src; nil
// means the prior.
func (e *Experiment) Forecast(ctx context.Context, src program.Source) (*ensemble.Result, error) {
	times, err := e.Times()
	if err != nil {
		return nil, err
	}
	return e.sampler().Run(ctx, e.prog, src, ensemble.Request{
		N:         e.cfg.Ensemble.Samples,
		Seed:      e.cfg.Seed,
		Times:     times,
		Quantiles: e.cfg.Ensemble.Quantiles,
	})
}

// LoadData reads the configured observation file.
func (e *Experiment) LoadData() (program.Dataset, error) {
	if e.cfg.Data == "" {
		return program.Dataset{}, dynamo.Configf("data", "no data file configured")
	}
	return storage.LoadDataset(e.cfg.Data)
}

// Calibrate conditions the program on data and infers the posterior of its
// random sites.
func (e *Experiment) Calibrate(ctx context.Context, data program.Dataset, progress func(int, float64)) (*calibrate.Posterior, error) {
	c, err := e.prog.Condition(data)
	if err != nil {
		return nil, err
	}
	cc := e.cfg.Calibration
	return calibrate.Calibrate(ctx, c, calibrate.Options{
		Method:        calibrate.Method(cc.Method),
		MaxIterations: cc.Iterations,
		Timeout:       cc.Timeout,
		Tolerance:     cc.Tolerance,
		LearningRate:  cc.LearningRate,
		Particles:     cc.Particles,
		BurnIn:        cc.BurnIn,
		Thin:          cc.Thin,
		FailureRate:   cc.FailureRate,
		MinAttempts:   cc.MinAttempts,
		Seed:          e.cfg.Seed,
		Progress:      progress,
		Logger:        e.logger,
		Metrics:       e.metrics,
	})
}

// Optimize solves the configured policy problem. Each control reduces its
// target by the decision fraction at the policy time, alongside the fixed
// interventions.
func (e *Experiment) Optimize(ctx context.Context, src program.Source) (*ouu.Solution, error) {
	pc := e.cfg.Policy
	if pc == nil {
		return nil, dynamo.Configf("policy", "no policy configured")
	}
	if !e.model.HasVariable(pc.Variable) {
		return nil, dynamo.Configf("policy.variable", "unknown variable %q", pc.Variable)
	}
	qoi, err := analysis.ParseQoI(pc.QoI, pc.Variable, pc.Window)
	if err != nil {
		return nil, dynamo.Configf("policy.qoi", "%v", err)
	}
	times, err := e.Times()
	if err != nil {
		return nil, err
	}

	lower := make([]float64, len(pc.Controls))
	upper := make([]float64, len(pc.Controls))
	for i, ctl := range pc.Controls {
		lower[i], upper[i] = ctl.Lower, ctl.Upper
	}
	controls := pc.Controls
	policy := func(u []float64) ([]interventions.Intervention, error) {
		out := make([]interventions.Intervention, len(controls))
		for i, ctl := range controls {
			var eff interventions.Effect
			if ctl.Param != "" {
				eff = interventions.ScaleParam(ctl.Param, 1-u[i])
			} else {
				eff = interventions.ScaleState(ctl.State, 1-u[i])
			}
			out[i] = interventions.Intervention{
				Name:    fmt.Sprintf("control-%d", i),
				Trigger: interventions.At(pc.At),
				Effect:  eff,
			}
		}
		return out, nil
	}

	alpha := pc.Alpha
	if alpha == 0 {
		alpha = config.DefaultAlpha
	}
	samples := pc.Samples
	if samples == 0 {
		samples = e.cfg.Ensemble.Samples
	}
	return ouu.Solve(ctx, ouu.Problem{
		Model:     e.model,
		Simulator: e.simulator,
		Start:     e.cfg.Horizon.Start,
		End:       e.cfg.Horizon.End,
		Times:     times,
		Fixed:     e.fixed,
		Policy:    policy,
		Lower:     lower,
		Upper:     upper,
		QoI:       qoi,
		RiskBound: pc.RiskBound,
		Alpha:     alpha,
		Samples:   samples,
		Seed:      e.cfg.Seed,
		Source:    src,
	}, ouu.Options{
		Method:  ouu.Method(pc.Method),
		Workers: e.cfg.Ensemble.Workers,
		Logger:  e.logger,
		Metrics: e.metrics,
	})
}

func override(spec *model.Spec, cfg *config.Config) error {
	spec.Params = append([]model.Param(nil), spec.Params...)
	for name, pc := range cfg.Params {
		idx := -1
		for i, p := range spec.Params {
			if p.Name == name {
				idx = i
			}
		}
		if idx < 0 {
			return dynamo.Configf("params."+name, "model %s has no such parameter", spec.Name)
		}
		if pc.Value != nil {
			spec.Params[idx] = model.Fixed(name, *pc.Value)
			continue
		}
		p, err := prior.Parse(pc.Prior, pc.Args)
		if err != nil {
			return dynamo.Configf("params."+name, "%v", err)
		}
		spec.Params[idx] = model.Random(name, p)
	}

	spec.Initial = append([]model.Init(nil), spec.Initial...)
	for state, pc := range cfg.Initial {
		idx := -1
		for i, in := range spec.Initial {
			if in.State == state {
				idx = i
			}
		}
		if idx < 0 {
			return dynamo.Configf("initial."+state, "model %s has no such state", spec.Name)
		}
		if pc.Value != nil {
			spec.Initial[idx] = model.Init{State: state, Value: *pc.Value}
			continue
		}
		p, err := prior.Parse(pc.Prior, pc.Args)
		if err != nil {
			return dynamo.Configf("initial."+state, "%v", err)
		}
		spec.Initial[idx] = model.Init{State: state, Prior: p}
	}
	return nil
}

func buildIntervention(m *model.Model, ic config.InterventionConfig) (interventions.Intervention, error) {
	iv := interventions.Intervention{Name: ic.Name, Recurring: ic.Recurring}
	switch {
	case ic.At != nil:
		iv.Trigger = interventions.At(*ic.At)
	case ic.Every != nil:
		iv.Trigger = interventions.Every(ic.Every.Start, ic.Every.Period)
	case ic.When != nil:
		fn, err := crossing(m, ic.When.Variable, ic.When.Level)
		if err != nil {
			return iv, err
		}
		iv.Trigger = interventions.When(fn)
	}

	type effects struct{ set, scale, shift func(string, float64) interventions.Effect }
	target, fns := ic.Param, effects{interventions.SetParam, interventions.ScaleParam, interventions.ShiftParam}
	if ic.State != "" {
		target, fns = ic.State, effects{interventions.SetState, interventions.ScaleState, interventions.ShiftState}
	}
	switch ic.Op {
	case "set":
		iv.Effect = fns.set(target, ic.Value)
	case "scale":
		iv.Effect = fns.scale(target, ic.Value)
	case "shift":
		iv.Effect = fns.shift(target, ic.Value)
	default:
		return iv, fmt.Errorf("unknown op %q", ic.Op)
	}
	return iv, nil
}

// crossing is an event function that changes sign when variable, a state
// or an observable, crosses level.
func crossing(m *model.Model, variable string, level float64) (interventions.EventFunc, error) {
	if i, ok := m.StateIndex(variable); ok {
		return func(_ float64, x dynamo.State, _ model.Values) float64 { return x[i] - level }, nil
	}
	for i, name := range m.ObservableNames() {
		if name == variable {
			return func(_ float64, x dynamo.State, p model.Values) float64 { return m.Observe(x, p)[i] - level }, nil
		}
	}
	return nil, fmt.Errorf("unknown variable %q", variable)
}
