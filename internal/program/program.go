package program

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/sim"
)

// Config assembles a Program. Interventions and Noise are optional.
type Config struct {
	Model         *model.Model
	Interventions *interventions.Set
	Simulator     *sim.Simulator
	Noise         Noise
	Start         float64
	End           float64
}

// Program wraps a model, its interventions and a simulator. A call runs in
// two phases: Draw samples every random site from its prior, then Run
// binds the draw and simulates deterministically. Program is immutable and
// safe for concurrent use.
type Program struct {
	model      *model.Model
	bound      *interventions.Bound
	sim        *sim.Simulator
	noise      Noise
	start, end float64
	names      []string
}

func New(cfg Config) (*Program, error) {
	if cfg.Model == nil {
		return nil, dynamo.Configf("program", "no model")
	}
	if cfg.Simulator == nil {
		return nil, dynamo.Configf("program", "no simulator")
	}
	if math.IsNaN(cfg.Start) || math.IsInf(cfg.Start, 0) || math.IsInf(cfg.End, 0) || !(cfg.End > cfg.Start) {
		return nil, dynamo.Configf("horizon", "invalid time horizon [%g, %g]", cfg.Start, cfg.End)
	}
	set := cfg.Interventions
	if set == nil {
		set, _ = interventions.NewSet()
	}
	bound, err := set.Bind(cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.Noise != nil {
		if err := cfg.Noise.Validate(); err != nil {
			return nil, dynamo.Configf("noise", "%v", err)
		}
	}
	p := &Program{
		model: cfg.Model,
		bound: bound,
		sim:   cfg.Simulator,
		noise: cfg.Noise,
		start: cfg.Start,
		end:   cfg.End,
	}
	for _, s := range cfg.Model.Sites() {
		p.names = append(p.names, s.Name)
	}
	return p, nil
}

func (p *Program) Model() *model.Model       { return p.model }
func (p *Program) Simulator() *sim.Simulator { return p.sim }
func (p *Program) Start() float64            { return p.start }
func (p *Program) End() float64              { return p.end }
func (p *Program) Noise() Noise              { return p.noise }
func (p *Program) Sites() []string           { return append([]string(nil), p.names...) }

// Sample is the outcome of the draw phase: one value per random site in
// Sites() order.
type Sample struct {
	Names    []string
	Values   []float64
	LogPrior float64
}

// Get returns the value drawn for a site, or NaN.
func (s *Sample) Get(name string) float64 {
	for i, n := range s.Names {
		if n == name {
			return s.Values[i]
		}
	}
	return math.NaN()
}

// Draw samples every random site from its prior.
func (p *Program) Draw(rng *rand.Rand) (*Sample, error) {
	sites := p.model.Sites()
	s := &Sample{Names: p.Sites(), Values: make([]float64, len(sites))}
	for i, site := range sites {
		v := site.Prior.Sample(rng)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, dynamo.Configf("draw", "prior of %q produced %g", site.Name, v)
		}
		s.Values[i] = v
		s.LogPrior += site.Prior.LogProb(v)
	}
	return s, nil
}

// NewSample builds a sample from explicit values and scores it under the
// priors.
func (p *Program) NewSample(values []float64) (*Sample, error) {
	sites := p.model.Sites()
	if len(values) != len(sites) {
		return nil, dynamo.Configf("draw", "expected %d site values, got %d", len(sites), len(values))
	}
	s := &Sample{Names: p.Sites(), Values: append([]float64(nil), values...)}
	for i, site := range sites {
		s.LogPrior += site.Prior.LogProb(values[i])
	}
	return s, nil
}

// Run is the outcome of one simulation call.
type Run struct {
	Sample     *Sample
	Params     model.Values
	Trajectory *dynamo.Trajectory
	// LogLik is zero in forward mode.
	LogLik float64
	// Noisy holds <variable>_noisy series when the program has a noise model
	// and the run was made with Forward.
	Noisy map[string][]float64
}

// Run binds the sample and simulates with logging at times. On failure the
// partial trajectory, if any, is returned alongside the error.
func (p *Program) Run(ctx context.Context, s *Sample, times []float64) (*Run, error) {
	if s == nil {
		return nil, dynamo.Configf("draw", "nil sample")
	}
	res, err := p.model.Bind(s.Values)
	if err != nil {
		return nil, err
	}
	tr, err := p.sim.Run(ctx, sim.Request{
		Model:         p.model,
		Resolved:      res,
		Interventions: p.bound,
		Start:         p.start,
		End:           p.end,
		Times:         times,
	})
	return &Run{Sample: s, Params: res.Params, Trajectory: tr}, err
}

// Forward draws from the prior, simulates and, if the program has a noise
// model, adds noisy observations of every state and observable.
func (p *Program) Forward(ctx context.Context, rng *rand.Rand, times []float64) (*Run, error) {
	s, err := p.Draw(rng)
	if err != nil {
		return nil, err
	}
	run, err := p.Run(ctx, s, times)
	if err != nil {
		return run, err
	}
	if p.noise != nil {
		run.Noisy = p.addNoise(rng, run.Trajectory)
	}
	return run, nil
}

func (p *Program) addNoise(rng *rand.Rand, tr *dynamo.Trajectory) map[string][]float64 {
	out := make(map[string][]float64)
	for _, name := range tr.Variables(p.model.ObservableNames()) {
		series, err := tr.Series(name)
		if err != nil {
			continue
		}
		noisy := make([]float64, len(series))
		for i, v := range series {
			noisy[i] = p.noise.Sample(rng, v)
		}
		out[name+"_noisy"] = noisy
	}
	return out
}

// Condition binds the program to observed data. The dataset is validated
// here so a malformed one fails before any solver call.
func (p *Program) Condition(data Dataset) (*Conditioned, error) {
	if err := data.validate(p.start, p.end, p.model.HasVariable); err != nil {
		return nil, err
	}
	noise := p.noise
	if noise == nil {
		noise = DefaultNoise()
	}
	return &Conditioned{prog: p, data: data, noise: noise, vars: data.Variables()}, nil
}

func (p *Program) String() string {
	return fmt.Sprintf("program(%s, [%g, %g], %d sites)", p.model.Name(), p.start, p.end, len(p.names))
}
