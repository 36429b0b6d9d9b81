package sim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/integrators"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/models"
)

func quiet() Option { return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))) }

func mustModel(t *testing.T, spec model.Spec) *model.Model {
	t.Helper()
	m, err := model.New(spec)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m
}

func mustBind(t *testing.T, m *model.Model, draw ...float64) *model.Resolved {
	t.Helper()
	r, err := m.Bind(draw)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return r
}

func mustSet(t *testing.T, m *model.Model, ivs ...interventions.Intervention) *interventions.Bound {
	t.Helper()
	s, err := interventions.NewSet(ivs...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	b, err := s.Bind(m)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return b
}

func days(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestRunMatchesDirectSolve(t *testing.T) {
	m := mustModel(t, models.SIR())
	r := mustBind(t, m, 0.3, 0.1)
	solver := integrators.NewRK45()
	times := days(59)

	tr, err := New(solver, quiet()).Run(context.Background(), Request{Model: m, Resolved: r, Start: 0, End: 60, Times: times})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sol, err := solver.Integrate(m.Derivative(r.Params), r.Init, 0, 60, times)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	if tr.Segments != 1 {
		t.Errorf("expected a single segment, got %d", tr.Segments)
	}
	if tr.Len() != len(times) {
		t.Fatalf("expected %d points, got %d", len(times), tr.Len())
	}
	for i := range times {
		for j := range tr.States[i] {
			if tr.States[i][j] != sol.States[i][j] {
				t.Fatalf("t=%v %s: run %v, direct %v", times[i], tr.Names[j], tr.States[i][j], sol.States[i][j])
			}
		}
	}
	n, err := tr.Series("N")
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	for _, v := range n {
		if math.Abs(v-1000) > 1e-6 {
			t.Errorf("population not conserved: %v", v)
		}
	}
}

func peakOf(t *testing.T, tr *dynamo.Trajectory, name string) (float64, float64) {
	t.Helper()
	series, err := tr.Series(name)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	best, at := math.Inf(-1), 0.0
	for i, v := range series {
		if v > best {
			best, at = v, tr.Times[i]
		}
	}
	return best, at
}

func TestStaticInterventionLowersPeak(t *testing.T) {
	m := mustModel(t, models.SIR())
	r := mustBind(t, m, 0.3, 0.1)
	s := New(integrators.NewRK45(), quiet())
	times := days(199)

	base, err := s.Run(context.Background(), Request{Model: m, Resolved: r, Start: 0, End: 200, Times: times})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	half := mustSet(t, m, interventions.Intervention{Name: "distancing", Trigger: interventions.At(10), Effect: interventions.ScaleParam("beta", 0.5)})
	cut, err := s.Run(context.Background(), Request{Model: m, Resolved: r, Interventions: half, Start: 0, End: 200, Times: times})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	basePeak, baseAt := peakOf(t, base, "I")
	cutPeak, cutAt := peakOf(t, cut, "I")
	if !(cutPeak < basePeak || cutAt > baseAt) {
		t.Errorf("halving beta should lower or delay the peak: base %.1f@%v, cut %.1f@%v", basePeak, baseAt, cutPeak, cutAt)
	}
	if cut.Segments != 2 || len(cut.Boundaries) != 1 {
		t.Errorf("expected 2 segments and 1 boundary, got %d and %d", cut.Segments, len(cut.Boundaries))
	}
	for i := 0; i < 10; i++ {
		if math.Abs(base.States[i][1]-cut.States[i][1]) > 1e-9*math.Abs(base.States[i][1]) {
			t.Fatalf("trajectories must agree before the intervention at t=%v", times[i])
		}
	}
}

func TestBoundaryIsRightContinuous(t *testing.T) {
	m := mustModel(t, models.SIR())
	r := mustBind(t, m, 0.3, 0.1)
	set := mustSet(t, m, interventions.Intervention{Name: "import", Trigger: interventions.At(5), Effect: interventions.ShiftState("I", 100)})

	tr, err := New(integrators.NewRK45(), quiet()).Run(context.Background(), Request{
		Model: m, Resolved: r, Interventions: set, Start: 0, End: 10, Times: []float64{0, 5, 10},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.Boundaries) != 1 {
		t.Fatalf("expected one boundary, got %d", len(tr.Boundaries))
	}
	b := tr.Boundaries[0]
	if b.Time != 5 || b.Fired[0] != "import" {
		t.Errorf("unexpected boundary %+v", b)
	}
	if got := b.After[1] - b.Before[1]; math.Abs(got-100) > 1e-9 {
		t.Errorf("jump = %v, want 100", got)
	}
	if tr.States[1][1] != b.After[1] {
		t.Errorf("logged value at the boundary should be post-intervention: %v vs %v", tr.States[1][1], b.After[1])
	}
	if tr.States[0][1] != 10 {
		t.Errorf("value at start = %v, want 10", tr.States[0][1])
	}

	solver := integrators.NewRK45()
	f := m.Derivative(r.Params)
	first, err := solver.Integrate(f, r.Init.Clone(), 0, 5, nil)
	if err != nil {
		t.Fatalf("Integrate 0-5: %v", err)
	}
	x := first.Final.Clone()
	x[1] += 100
	second, err := solver.Integrate(f, x, 5, 10, nil)
	if err != nil {
		t.Fatalf("Integrate 5-10: %v", err)
	}
	for j, want := range second.Final {
		if got := tr.States[2][j]; math.Abs(got-want) > 1e-4*math.Max(1, math.Abs(want)) {
			t.Errorf("%s at t=10: segmented %v, by hand %v", tr.Names[j], got, want)
		}
	}
}

func TestStateTriggerMatchesStatic(t *testing.T) {
	m := mustModel(t, models.SIR())
	r := mustBind(t, m, 0.3, 0.1)
	s := New(integrators.NewRK45(), quiet())
	times := days(49)

	static := mustSet(t, m, interventions.Intervention{Name: "s", Trigger: interventions.At(12.5), Effect: interventions.SetParam("beta", 0.15)})
	clock := func(t float64, _ dynamo.State, _ model.Values) float64 { return t - 12.5 }
	dynamic := mustSet(t, m, interventions.Intervention{Name: "d", Trigger: interventions.When(clock), Effect: interventions.SetParam("beta", 0.15)})

	a, err := s.Run(context.Background(), Request{Model: m, Resolved: r, Interventions: static, Start: 0, End: 50, Times: times})
	if err != nil {
		t.Fatalf("static: %v", err)
	}
	b, err := s.Run(context.Background(), Request{Model: m, Resolved: r, Interventions: dynamic, Start: 0, End: 50, Times: times})
	if err != nil {
		t.Fatalf("dynamic: %v", err)
	}
	if len(b.Boundaries) != 1 || math.Abs(b.Boundaries[0].Time-12.5) > 1e-5 {
		t.Fatalf("crossing not localized: %+v", b.Boundaries)
	}
	for i := range times {
		for j := range a.States[i] {
			if math.Abs(a.States[i][j]-b.States[i][j]) > 1e-4*math.Max(1, math.Abs(a.States[i][j])) {
				t.Fatalf("t=%v %s: static %v, dynamic %v", times[i], a.Names[j], a.States[i][j], b.States[i][j])
			}
		}
	}
}

func TestStateTriggerOnPrevalence(t *testing.T) {
	m := mustModel(t, models.SIR())
	r := mustBind(t, m, 0.3, 0.1)
	above := func(_ float64, x dynamo.State, _ model.Values) float64 { return x[1] - 100 }
	set := mustSet(t, m, interventions.Intervention{Name: "lockdown", Trigger: interventions.When(above), Effect: interventions.ScaleParam("beta", 0.2)})

	tr, err := New(integrators.NewRK45(), quiet()).Run(context.Background(), Request{Model: m, Resolved: r, Interventions: set, Start: 0, End: 100, Times: days(99)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.Boundaries) != 1 {
		t.Fatalf("expected one crossing, got %d", len(tr.Boundaries))
	}
	if got := tr.Boundaries[0].Before[1]; math.Abs(got-100) > 1e-2 {
		t.Errorf("fired at I=%v, want 100", got)
	}
	peak, _ := peakOf(t, tr, "I")
	if peak > 150 {
		t.Errorf("lockdown should cap prevalence, peak %v", peak)
	}
}

func blowup() model.Spec {
	return model.Spec{
		Name:    "blowup",
		States:  []string{"x"},
		Initial: []model.Init{{State: "x", Value: 1}},
		Derive: func(_ float64, x dynamo.State, _ model.Values) dynamo.State {
			return dynamo.State{x[0] * x[0]}
		},
	}
}

func TestDivergence(t *testing.T) {
	m := mustModel(t, blowup())
	r := mustBind(t, m)

	tr, err := New(integrators.NewRK45(), quiet()).Run(context.Background(), Request{Model: m, Resolved: r, Start: 0, End: 2, Times: []float64{0.5, 1.5}})
	if !errors.Is(err, dynamo.ErrDivergence) {
		t.Fatalf("expected divergence, got %v", err)
	}
	var de *dynamo.DivergenceError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DivergenceError, got %T", err)
	}
	if de.Segment != 0 || de.Time > 1.01 {
		t.Errorf("unexpected context %+v", de)
	}
	if tr == nil || tr.Len() != 1 {
		t.Errorf("expected the partial trajectory up to t=0.5")
	}
}

func TestSegmentBudget(t *testing.T) {
	m := mustModel(t, models.Decay())
	r := mustBind(t, m, 0.5)
	set := mustSet(t, m, interventions.Intervention{Name: "tick", Trigger: interventions.Every(0, 0.5), Effect: interventions.ShiftState("x", 1)})
	cfg := DefaultConfig()
	cfg.MaxSegments = 5

	_, err := New(integrators.NewRK45(), quiet(), WithConfig(cfg)).Run(context.Background(), Request{Model: m, Resolved: r, Interventions: set, Start: 0, End: 10})
	if !errors.Is(err, dynamo.ErrBudgetExceeded) {
		t.Fatalf("expected budget error, got %v", err)
	}
	if errors.Is(err, dynamo.ErrDivergence) {
		t.Error("budget exhaustion must be distinct from divergence")
	}
}

func TestCanceled(t *testing.T) {
	m := mustModel(t, models.Decay())
	r := mustBind(t, m, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := New(integrators.NewRK45(), quiet()).Run(ctx, Request{Model: m, Resolved: r, Start: 0, End: 10})
	if !errors.Is(err, dynamo.ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if tr == nil {
		t.Error("expected a partial trajectory")
	}
}

func TestInvalidRequest(t *testing.T) {
	m := mustModel(t, models.Decay())
	r := mustBind(t, m, 0.5)
	s := New(integrators.NewRK45(), quiet())

	tests := []struct {
		name string
		req  Request
	}{
		{"empty horizon", Request{Model: m, Resolved: r, Start: 1, End: 1}},
		{"time outside horizon", Request{Model: m, Resolved: r, Start: 0, End: 1, Times: []float64{2}}},
		{"unsorted times", Request{Model: m, Resolved: r, Start: 0, End: 1, Times: []float64{0.5, 0.2}}},
		{"no model", Request{Resolved: r, Start: 0, End: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Run(context.Background(), tt.req); !errors.Is(err, dynamo.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

type countingObserver struct {
	segments   int
	boundaries int
}

func (c *countingObserver) OnSegment(Segment)          { c.segments++ }
func (c *countingObserver) OnBoundary(dynamo.Boundary) { c.boundaries++ }

func TestObserver(t *testing.T) {
	m := mustModel(t, models.Decay())
	r := mustBind(t, m, 0.5)
	set := mustSet(t, m,
		interventions.Intervention{Name: "a", Trigger: interventions.At(2), Effect: interventions.SetParam("k", 0.1)},
		interventions.Intervention{Name: "b", Trigger: interventions.At(4), Effect: interventions.SetParam("k", 1)},
	)
	obs := &countingObserver{}

	tr, err := New(integrators.NewRK4(0.01), quiet(), WithObserver(obs)).Run(context.Background(), Request{Model: m, Resolved: r, Interventions: set, Start: 0, End: 6, Times: []float64{6}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if obs.segments != 3 || obs.boundaries != 2 {
		t.Errorf("observer saw %d segments and %d boundaries", obs.segments, obs.boundaries)
	}
	want := 100 * math.Exp(-0.5*2-0.1*2-1*2)
	if got := tr.Final()[0]; math.Abs(got-want) > 1e-6 {
		t.Errorf("final = %v, want %v", got, want)
	}
}
