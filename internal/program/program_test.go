package program

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/integrators"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/models"
	"github.com/san-kum/episim/internal/prior"
	"github.com/san-kum/episim/internal/sim"
)

type countingSolver struct {
	integrators.Solver
	calls atomic.Int64
}

func (c *countingSolver) Integrate(f dynamo.Func, x0 dynamo.State, t0, t1 float64, out []float64) (*integrators.Solution, error) {
	c.calls.Add(1)
	return c.Solver.Integrate(f, x0, t0, t1, out)
}

func newProgram(t *testing.T, spec model.Spec, noise Noise, ivs ...interventions.Intervention) (*Program, *countingSolver) {
	t.Helper()
	m, err := model.New(spec)
	require.NoError(t, err)
	set, err := interventions.NewSet(ivs...)
	require.NoError(t, err)
	solver := &countingSolver{Solver: integrators.NewRK45()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := New(Config{
		Model:         m,
		Interventions: set,
		Simulator:     sim.New(solver, sim.WithLogger(logger)),
		Noise:         noise,
		Start:         0,
		End:           30,
	})
	require.NoError(t, err)
	return p, solver
}

func mustSample(t *testing.T, p *Program) *Sample {
	t.Helper()
	s, err := p.NewSample(nil)
	require.NoError(t, err)
	return s
}

func times(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestNewValidatesInterventions(t *testing.T) {
	m, err := model.New(models.SIR())
	require.NoError(t, err)
	set, err := interventions.NewSet(interventions.Intervention{Name: "x", Trigger: interventions.At(1), Effect: interventions.SetParam("delta", 1)})
	require.NoError(t, err)

	_, err = New(Config{Model: m, Interventions: set, Simulator: sim.New(integrators.NewRK45()), Start: 0, End: 10})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)

	_, err = New(Config{Model: m, Simulator: sim.New(integrators.NewRK45()), Start: 5, End: 5})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestDrawIsReproducible(t *testing.T) {
	p, _ := newProgram(t, models.SIR(), nil)

	a, err := p.Draw(rand.New(rand.NewPCG(7, 0)))
	require.NoError(t, err)
	b, err := p.Draw(rand.New(rand.NewPCG(7, 0)))
	require.NoError(t, err)
	assert.Equal(t, a.Values, b.Values)
	assert.Equal(t, []string{"beta", "gamma"}, a.Names)
	assert.True(t, a.Get("beta") >= 0.2 && a.Get("beta") <= 0.4)
	assert.False(t, math.IsInf(a.LogPrior, 0))
}

func TestFixedParametersAreNotSites(t *testing.T) {
	p, _ := newProgram(t, models.Logistic(), nil)
	assert.Equal(t, []string{"r"}, p.Sites())
}

func TestForwardWithNoise(t *testing.T) {
	p, _ := newProgram(t, models.SIR(), DefaultNoise())
	run, err := p.Forward(context.Background(), rand.New(rand.NewPCG(1, 2)), times(29))
	require.NoError(t, err)

	assert.Equal(t, 29, run.Trajectory.Len())
	for _, name := range []string{"S_noisy", "I_noisy", "R_noisy", "N_noisy", "incidence_noisy"} {
		require.Contains(t, run.Noisy, name)
		assert.Len(t, run.Noisy[name], 29)
	}
	assert.Zero(t, run.LogLik)

	quiet, _ := newProgram(t, models.SIR(), nil)
	run, err = quiet.Forward(context.Background(), rand.New(rand.NewPCG(1, 2)), times(29))
	require.NoError(t, err)
	assert.Nil(t, run.Noisy)
}

func TestConditionRejectsBadDataBeforeSolving(t *testing.T) {
	tests := []struct {
		name string
		data Dataset
	}{
		{"empty", Dataset{}},
		{"no series", Dataset{Times: []float64{1}}},
		{"unknown variable", Dataset{Times: []float64{1}, Series: map[string][]float64{"Q": {1}}}},
		{"non-finite value", Dataset{Times: []float64{1}, Series: map[string][]float64{"I": {math.NaN()}}}},
		{"outside horizon", Dataset{Times: []float64{31}, Series: map[string][]float64{"I": {1}}}},
		{"not increasing", Dataset{Times: []float64{2, 1}, Series: map[string][]float64{"I": {1, 2}}}},
		{"length mismatch", Dataset{Times: []float64{1, 2}, Series: map[string][]float64{"I": {1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, solver := newProgram(t, models.SIR(), nil)
			_, err := p.Condition(tt.data)
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
			assert.Zero(t, solver.calls.Load())
		})
	}
}

func TestLikelihoodPrefersTruth(t *testing.T) {
	p, _ := newProgram(t, models.SIR(), nil)
	truth, err := p.NewSample([]float64{0.3, 0.1})
	require.NoError(t, err)
	run, err := p.Run(context.Background(), truth, times(29))
	require.NoError(t, err)
	infected, err := run.Trajectory.Series("I")
	require.NoError(t, err)

	c, err := p.Condition(Dataset{Times: times(29), Series: map[string][]float64{"I": infected}})
	require.NoError(t, err)

	atTruth, err := c.Run(context.Background(), truth)
	require.NoError(t, err)
	wrong, err := p.NewSample([]float64{0.25, 0.12})
	require.NoError(t, err)
	atWrong, err := c.Run(context.Background(), wrong)
	require.NoError(t, err)
	assert.Greater(t, atTruth.LogLik, atWrong.LogLik)

	z := c.Unconstrain(truth.Values)
	assert.InDeltaSlice(t, truth.Values, c.Constrain(z), 1e-9)

	lj, err := c.LogJoint(context.Background(), z)
	require.NoError(t, err)
	jac := 0.0
	for i, s := range c.Supports() {
		jac += s.LogDetJacobian(z[i])
	}
	assert.InDelta(t, truth.LogPrior+jac+atTruth.LogLik, lj, 1e-6)
}

func TestUndeclaredParameterFailsBeforeSolving(t *testing.T) {
	spec := model.Spec{
		Name:    "typo",
		States:  []string{"x"},
		Params:  []model.Param{model.Fixed("k", 0.5)},
		Initial: []model.Init{{State: "x", Value: 1}},
		Derive: func(_ float64, x dynamo.State, p model.Values) dynamo.State {
			return dynamo.State{-p.Get("kk") * x[0]}
		},
	}
	_, err := model.New(spec)
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.NotErrorIs(t, err, dynamo.ErrDivergence)

	spec.Params = append(spec.Params, model.Fixed("kk", 1))
	p, solver := newProgram(t, spec, nil)
	_, err = p.Run(context.Background(), mustSample(t, p), times(5))
	require.NoError(t, err)
	assert.NotZero(t, solver.calls.Load())
}

func TestLogJointReportsDivergence(t *testing.T) {
	spec := model.Spec{
		Name:    "blowup",
		States:  []string{"x"},
		Params:  []model.Param{model.Random("a", prior.Uniform(0.5, 2))},
		Initial: []model.Init{{State: "x", Value: 1}},
		Uses:    []string{"a"},
		Derive: func(_ float64, x dynamo.State, p model.Values) dynamo.State {
			return dynamo.State{p.Get("a") * x[0] * x[0]}
		},
	}
	p, _ := newProgram(t, spec, nil)
	c, err := p.Condition(Dataset{Times: []float64{20}, Series: map[string][]float64{"x": {1}}})
	require.NoError(t, err)

	lj, err := c.LogJoint(context.Background(), c.Unconstrain([]float64{1}))
	assert.ErrorIs(t, err, dynamo.ErrDivergence)
	assert.True(t, math.IsInf(lj, -1))
}

func TestNormalNoise(t *testing.T) {
	n := Normal{Scale: 0.1}
	assert.InDelta(t, -math.Log(10*math.Sqrt(2*math.Pi)), n.LogLik(100, 100), 1e-9)
	assert.Error(t, Normal{}.Validate())
	assert.Error(t, Normal{Scale: -1}.Validate())
	assert.NoError(t, DefaultNoise().Validate())
	assert.Error(t, Normal{Scale: 0.1}.Validate())
	assert.NoError(t, Normal{Scale: 0.1, Absolute: true}.Validate())

	floored := Normal{Scale: 0.1, Floor: 1e-3}
	assert.False(t, math.IsInf(floored.LogLik(0, 0), 0))
	assert.False(t, math.IsNaN(floored.LogLik(0.5, 0)))
	abs := Normal{Scale: 2, Absolute: true}
	assert.InDelta(t, abs.LogLik(0, 0), abs.LogLik(1000, 1000), 1e-12)
}
