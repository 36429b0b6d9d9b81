package models

import (
	"math"
	"testing"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/prior"
)

func fixedValues(t *testing.T, m *model.Model, vals map[string]float64) model.Values {
	t.Helper()
	s := m.Schema()
	raw := make([]float64, s.Len())
	for name, v := range vals {
		i, ok := s.Index(name)
		if !ok {
			t.Fatalf("unknown parameter %s", name)
		}
		raw[i] = v
	}
	return model.NewValues(s, raw)
}

func TestCompartmentsConservePopulation(t *testing.T) {
	tests := []struct {
		name   string
		spec   model.Spec
		params map[string]float64
	}{
		{"sir", SIR(), map[string]float64{"beta": 0.3, "gamma": 0.1}},
		{"seir", SEIR(), map[string]float64{"beta": 0.3, "sigma": 0.2, "gamma": 0.1}},
		{"sird", SIRD(), map[string]float64{"beta": 0.3, "gamma": 0.1, "mu": 0.01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := model.New(tt.spec)
			if err != nil {
				t.Fatalf("model.New: %v", err)
			}
			p := fixedValues(t, m, tt.params)
			x := make(dynamo.State, m.StateDim())
			for i := range x {
				x[i] = float64(100 * (i + 1))
			}

			dx := m.Derivative(p)(0, x)
			sum := 0.0
			for _, v := range dx {
				sum += v
			}
			if math.Abs(sum) > 1e-9 {
				t.Errorf("derivatives should sum to zero, got %g", sum)
			}
		})
	}
}

func TestSIRDiseaseFreeEquilibrium(t *testing.T) {
	m, err := model.New(SIR())
	if err != nil {
		t.Fatal(err)
	}
	p := fixedValues(t, m, map[string]float64{"beta": 0.3, "gamma": 0.1})
	dx := m.Derivative(p)(0, dynamo.State{1000, 0, 0})
	for i, v := range dx {
		if v != 0 {
			t.Errorf("dx[%d] = %g, want 0 without infections", i, v)
		}
	}
}

func TestSIRObservables(t *testing.T) {
	m, err := model.New(SIR())
	if err != nil {
		t.Fatal(err)
	}
	p := fixedValues(t, m, map[string]float64{"beta": 0.5, "gamma": 0.1})
	obs := m.Observe(dynamo.State{50, 50, 0}, p)
	if obs[0] != 100 {
		t.Errorf("N = %g, want 100", obs[0])
	}
	if math.Abs(obs[1]-12.5) > 1e-12 {
		t.Errorf("incidence = %g, want 12.5", obs[1])
	}
}

func TestDecayAnalytic(t *testing.T) {
	spec := Decay()
	spec.Params[0] = model.Fixed("k", 0.5)
	m, err := model.New(spec)
	if err != nil {
		t.Fatal(err)
	}
	if m.NumSites() != 0 {
		t.Errorf("fixed decay should have no random sites, got %d", m.NumSites())
	}
	r, err := m.Bind(nil)
	if err != nil {
		t.Fatal(err)
	}
	dx := m.Derivative(r.Params)(0, r.Init)
	if dx[0] != -50 {
		t.Errorf("dx = %g, want -50", dx[0])
	}
}

func TestLogisticCarryingCapacity(t *testing.T) {
	spec := Logistic()
	spec.Params[0] = model.Random("r", prior.LogNormal(0, 0.1))
	m, err := model.New(spec)
	if err != nil {
		t.Fatal(err)
	}
	r, err := m.Bind([]float64{0.4})
	if err != nil {
		t.Fatal(err)
	}
	if dx := m.Derivative(r.Params)(0, dynamo.State{1000}); dx[0] != 0 {
		t.Errorf("growth at carrying capacity = %g, want 0", dx[0])
	}
}
