package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/sim"
)

// Metrics holds the Prometheus collectors of one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	simulations  *prometheus.CounterVec
	segments     prometheus.Counter
	boundaries   prometheus.Counter
	solverSteps  prometheus.Histogram
	iterations   *prometheus.CounterVec
	loss         *prometheus.GaugeVec
	members      *prometheus.CounterVec
	calibrations *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		simulations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "episim_simulations_total",
			Help: "Simulation calls by model and result",
		}, []string{"model", "result"}),
		segments: f.NewCounter(prometheus.CounterOpts{
			Name: "episim_segments_total",
			Help: "Integration segments completed",
		}),
		boundaries: f.NewCounter(prometheus.CounterOpts{
			Name: "episim_intervention_boundaries_total",
			Help: "Boundaries at which at least one intervention fired",
		}),
		solverSteps: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "episim_segment_solver_steps",
			Help:    "Accepted solver steps per segment",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "episim_calibration_iterations_total",
			Help: "Calibration iterations by method",
		}, []string{"method"}),
		loss: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "episim_calibration_loss",
			Help: "Most recent calibration loss by method",
		}, []string{"method"}),
		members: f.NewCounterVec(prometheus.CounterOpts{
			Name: "episim_ensemble_members_total",
			Help: "Ensemble members by result",
		}, []string{"result"}),
		calibrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "episim_calibration_outcomes_total",
			Help: "Finished calibrations by method and result",
		}, []string{"method", "result"}),
	}
}

// Result classifies an error into a metric label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, dynamo.ErrDivergence):
		return "divergence"
	case errors.Is(err, dynamo.ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, dynamo.ErrBudgetExceeded):
		return "budget"
	case errors.Is(err, dynamo.ErrNonConvergence):
		return "nonconvergence"
	case errors.Is(err, dynamo.ErrConfiguration):
		return "config"
	default:
		return "error"
	}
}

func (m *Metrics) ObserveRun(model string, err error) {
	if m == nil {
		return
	}
	m.simulations.WithLabelValues(model, Result(err)).Inc()
}

func (m *Metrics) ObserveIteration(method string, loss float64) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(method).Inc()
	m.loss.WithLabelValues(method).Set(loss)
}

func (m *Metrics) ObserveCalibration(method string, err error) {
	if m == nil {
		return
	}
	m.calibrations.WithLabelValues(method, Result(err)).Inc()
}

func (m *Metrics) ObserveMember(err error) {
	if m == nil {
		return
	}
	m.members.WithLabelValues(Result(err)).Inc()
}

// Observer adapts the collectors to sim.Observer.
func (m *Metrics) Observer() sim.Observer { return observer{m} }

type observer struct{ m *Metrics }

func (o observer) OnSegment(seg sim.Segment) {
	if o.m == nil {
		return
	}
	o.m.segments.Inc()
	o.m.solverSteps.Observe(float64(seg.Steps))
}

func (o observer) OnBoundary(dynamo.Boundary) {
	if o.m == nil {
		return
	}
	o.m.boundaries.Inc()
}
