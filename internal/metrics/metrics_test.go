package metrics

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/sim"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&dynamo.DivergenceError{Wrapped: dynamo.ErrInvalidState}, "divergence"},
		{dynamo.Canceled(context.Canceled), "canceled"},
		{fmt.Errorf("wrap: %w", dynamo.ErrBudgetExceeded), "budget"},
		{&dynamo.NonConvergenceError{}, "nonconvergence"},
		{dynamo.Configf("x", "bad"), "config"},
		{fmt.Errorf("boom"), "error"},
	}
	for _, tt := range tests {
		if got := Result(tt.err); got != tt.want {
			t.Errorf("Result(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("sir", nil)
	m.ObserveRun("sir", nil)
	m.ObserveRun("sir", &dynamo.DivergenceError{})
	m.ObserveIteration("variational", 12.5)
	m.ObserveMember(nil)

	obs := m.Observer()
	obs.OnSegment(sim.Segment{Steps: 40})
	obs.OnSegment(sim.Segment{Steps: 3})
	obs.OnBoundary(dynamo.Boundary{})

	if got := testutil.ToFloat64(m.simulations.WithLabelValues("sir", "ok")); got != 2 {
		t.Errorf("ok simulations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.simulations.WithLabelValues("sir", "divergence")); got != 1 {
		t.Errorf("divergent simulations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.loss.WithLabelValues("variational")); got != 12.5 {
		t.Errorf("loss = %v, want 12.5", got)
	}
	if got := testutil.ToFloat64(m.segments); got != 2 {
		t.Errorf("segments = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.boundaries); got != 1 {
		t.Errorf("boundaries = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.solverSteps); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRun("sir", nil)
	m.ObserveIteration("mcmc", 1)
	m.ObserveMember(nil)
	m.ObserveCalibration("map", nil)
	m.Observer().OnSegment(sim.Segment{})
	m.Observer().OnBoundary(dynamo.Boundary{})
}
