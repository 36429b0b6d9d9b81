package ensemble_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/episim/internal/analysis"
	"github.com/san-kum/episim/internal/calibrate"
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/ensemble"
	"github.com/san-kum/episim/internal/integrators"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/models"
	"github.com/san-kum/episim/internal/prior"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/sim"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func build(spec model.Spec, end float64, ivs ...interventions.Intervention) *program.Program {
	m, err := model.New(spec)
	Expect(err).NotTo(HaveOccurred())
	set, err := interventions.NewSet(ivs...)
	Expect(err).NotTo(HaveOccurred())
	p, err := program.New(program.Config{
		Model:         m,
		Interventions: set,
		Simulator:     sim.New(integrators.NewRK45(), sim.WithLogger(quiet)),
		Start:         0,
		End:           end,
	})
	Expect(err).NotTo(HaveOccurred())
	return p
}

// failFirst hands a divergent value to the first k callers.
type failFirst struct {
	calls atomic.Int64
	k     int64
}

func (s *failFirst) Values(*rand.Rand) ([]float64, error) {
	if s.calls.Add(1) <= s.k {
		return []float64{2}, nil
	}
	return []float64{0.5}, nil
}

func fragile() model.Spec {
	return model.Spec{
		Name:    "fragile",
		States:  []string{"x"},
		Params:  []model.Param{model.Random("a", prior.Uniform(0, 3))},
		Initial: []model.Init{{State: "x", Value: 100}},
		Uses:    []string{"a"},
		Derive: func(_ float64, x dynamo.State, p model.Values) dynamo.State {
			if p.Get("a") > 1 {
				return dynamo.State{math.NaN()}
			}
			return dynamo.State{-p.Get("a") * x[0]}
		},
	}
}

var _ = Describe("Ensemble", func() {
	var (
		ctx     context.Context
		sampler *ensemble.Sampler
	)

	BeforeEach(func() {
		ctx = context.Background()
		sampler = &ensemble.Sampler{Workers: 4, Logger: quiet}
	})

	Context("with identical seed, model and N", func() {
		It("produces identical summaries", func() {
			p := build(models.SEIR(), 30)
			req := ensemble.Request{N: 20, Seed: 2024, Times: []float64{10, 20, 30}}

			a, err := sampler.Run(ctx, p, nil, req)
			Expect(err).NotTo(HaveOccurred())
			b, err := (&ensemble.Sampler{Workers: 1, Logger: quiet}).Run(ctx, p, nil, req)
			Expect(err).NotTo(HaveOccurred())

			Expect(a.Summary.Series).To(Equal(b.Summary.Series))
			Expect(a.Summary.Successes).To(Equal(20))
		})

		It("changes with the seed", func() {
			p := build(models.SIR(), 30)
			a, err := sampler.Run(ctx, p, nil, ensemble.Request{N: 8, Seed: 1, Times: []float64{15}})
			Expect(err).NotTo(HaveOccurred())
			b, err := sampler.Run(ctx, p, nil, ensemble.Request{N: 8, Seed: 2, Times: []float64{15}})
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Members[0].Values).NotTo(Equal(b.Members[0].Values))
		})
	})

	Context("when K of N members diverge", func() {
		It("reports N-K successes and summarizes the survivors only", func() {
			const n, k = 12, 5
			p := build(fragile(), 4)
			res, err := sampler.Run(ctx, p, &failFirst{k: k}, ensemble.Request{N: n, Times: []float64{1, 2, 4}})
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Summary.Requested).To(Equal(n))
			Expect(res.Summary.Successes).To(Equal(n - k))
			Expect(res.Summary.Failures).To(Equal(k))
			Expect(res.Survivors()).To(HaveLen(n - k))

			failed := 0
			for _, m := range res.Members {
				if !m.OK() {
					failed++
					Expect(m.Err).To(MatchError(dynamo.ErrDivergence))
				}
			}
			Expect(failed).To(Equal(k))

			st, err := res.Summary.Stats("x")
			Expect(err).NotTo(HaveOccurred())
			for j, t := range res.Times {
				Expect(st.Mean[j]).To(BeNumerically("~", 100*math.Exp(-0.5*t), 1e-3))
				Expect(st.Variance[j]).To(BeNumerically("~", 0, 1e-9))
			}
		})
	})

	Context("with an SIR outbreak and beta halved at t=10", func() {
		It("lowers or delays the peak of I for every member", func() {
			halve := interventions.Intervention{
				Name:    "distancing",
				Trigger: interventions.At(10),
				Effect:  interventions.ScaleParam("beta", 0.5),
			}
			times, err := dynamo.LogTimes(0, 30, 0.25)
			Expect(err).NotTo(HaveOccurred())
			req := ensemble.Request{N: 16, Seed: 7, Times: append(times, 30)}

			base, err := sampler.Run(ctx, build(models.SIR(), 30), nil, req)
			Expect(err).NotTo(HaveOccurred())
			treated, err := sampler.Run(ctx, build(models.SIR(), 30, halve), nil, req)
			Expect(err).NotTo(HaveOccurred())

			for i := range base.Members {
				Expect(treated.Members[i].Values).To(Equal(base.Members[i].Values))

				tb, pb, err := analysis.Peak(base.Members[i].Trajectory, "I")
				Expect(err).NotTo(HaveOccurred())
				tt, pt, err := analysis.Peak(treated.Members[i].Trajectory, "I")
				Expect(err).NotTo(HaveOccurred())

				if tb > 10 {
					Expect(pt < pb || tt > tb).To(BeTrue(), "member %d: peak %g@%g vs %g@%g", i, pt, tt, pb, tb)
				} else {
					Expect(pt).To(BeNumerically("~", pb, 1e-6*pb))
				}
			}
		})
	})

	Context("with a calibrated posterior as the source", func() {
		It("simulates around the fitted parameter", func() {
			p := build(models.Decay(), 10)
			truth, err := p.NewSample([]float64{0.4})
			Expect(err).NotTo(HaveOccurred())
			times := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
			run, err := p.Run(ctx, truth, times)
			Expect(err).NotTo(HaveOccurred())
			x, err := run.Trajectory.Series("x")
			Expect(err).NotTo(HaveOccurred())

			c, err := p.Condition(program.Dataset{Times: times, Series: map[string][]float64{"x": x}})
			Expect(err).NotTo(HaveOccurred())
			post, err := calibrate.Calibrate(ctx, c, calibrate.Options{Method: calibrate.MAP, Logger: quiet})
			if err != nil {
				Expect(err).To(MatchError(dynamo.ErrNonConvergence))
			}

			res, err := sampler.Run(ctx, p, post, ensemble.Request{N: 6, Seed: 3, Times: []float64{5}})
			Expect(err).NotTo(HaveOccurred())
			for _, m := range res.Members {
				Expect(m.Values[0]).To(BeNumerically("~", 0.4, 0.02))
			}
			st, err := res.Summary.Stats("x")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Mean[0]).To(BeNumerically("~", 100*math.Exp(-2), 2))
		})
	})
})
