package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/metrics"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/telemetry"
)

// DefaultQuantiles are reported when a request names none.
var DefaultQuantiles = []float64{0.05, 0.25, 0.5, 0.75, 0.95}

// Request describes one ensemble.
type Request struct {
	N    int
	Seed uint64
	// Times is the logging grid. Nil means unit steps across the horizon.
	Times     []float64
	Quantiles []float64
}

// Member is one simulation of an ensemble. Failed members keep their error
// and whatever partial trajectory the engine produced.
type Member struct {
	Index      int
	Values     []float64
	Trajectory *dynamo.Trajectory
	Err        error
}

func (m Member) OK() bool { return m.Err == nil }

// Result holds every member in index order and the survivors' summary.
type Result struct {
	ID      uuid.UUID
	Model   string
	Sites   []string
	Times   []float64
	Members []Member
	Summary *Summary
}

// Survivors returns the members that completed.
func (r *Result) Survivors() []Member {
	out := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		if m.OK() {
			out = append(out, m)
		}
	}
	return out
}

// Sampler runs ensemble members in parallel. The zero value uses one worker
// per CPU and the default logger.
type Sampler struct {
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (s *Sampler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Sampler) workers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (req Request) normalize(prog *program.Program) (Request, error) {
	if req.N < 1 {
		return req, dynamo.Configf("samples", "must be positive, got %d", req.N)
	}
	if req.Times == nil {
		times, err := dynamo.LogTimes(prog.Start(), prog.End(), 1)
		if err != nil {
			return req, err
		}
		req.Times = append(times, prog.End())
	}
	prev := prog.Start()
	for i, t := range req.Times {
		if math.IsNaN(t) || t < prog.Start() || t > prog.End() || (i > 0 && !(t > prev)) {
			return req, dynamo.Configf("times", "logging times must increase within [%g, %g], got %g", prog.Start(), prog.End(), t)
		}
		prev = t
	}
	if req.Quantiles == nil {
		req.Quantiles = DefaultQuantiles
	}
	for _, q := range req.Quantiles {
		if !(q >= 0 && q <= 1) {
			return req, dynamo.Configf("quantiles", "must be in [0, 1], got %g", q)
		}
	}
	return req, nil
}

// memberRNG derives the generator of member i so draws do not depend on
// scheduling.
func memberRNG(seed uint64, i int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(i)))
}

// Run simulates req.N members of prog with site values from src, which is
// typically prog.Prior() or a calibrated posterior. A nil src means the
// prior.
//
// Members that diverge or exhaust their segment budget are dropped and
// counted; statistics cover survivors only. If every member fails the
// result is returned with an error wrapping dynamo.ErrDivergence. On
// cancellation the members finished so far are summarized and returned
// with an error wrapping dynamo.ErrCanceled.
func (s *Sampler) Run(ctx context.Context, prog *program.Program, src program.Source, req Request) (*Result, error) {
	if prog == nil {
		return nil, dynamo.Configf("ensemble", "no program")
	}
	req, err := req.normalize(prog)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = prog.Prior()
	}

	ctx, span := telemetry.Start(ctx, "ensemble",
		attribute.String("model", prog.Model().Name()),
		attribute.Int("samples", req.N),
		attribute.Int("workers", s.workers()),
	)
	res, err := s.run(ctx, prog, src, req, nil)
	if res != nil {
		span.SetAttributes(attribute.Int("successes", res.Summary.Successes))
	}
	telemetry.End(span, err)
	return res, err
}

// run simulates the members whose indices are listed, or 0..N-1 when
// indices is nil.
func (s *Sampler) run(ctx context.Context, prog *program.Program, src program.Source, req Request, indices []int) (*Result, error) {
	if indices == nil {
		indices = make([]int, req.N)
		for i := range indices {
			indices[i] = i
		}
	}
	log := s.logger()
	members := make([]Member, len(indices))
	done := make([]bool, len(indices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers())
	var mu sync.Mutex
	for slot, idx := range indices {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			m, err := s.member(gctx, prog, src, req, idx)
			if err != nil {
				return err
			}
			mu.Lock()
			members[slot] = m
			done[slot] = !errors.Is(m.Err, dynamo.ErrCanceled)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	finished := make([]Member, 0, len(members))
	for i, m := range members {
		if done[i] {
			finished = append(finished, m)
		}
	}
	res := &Result{
		ID:      uuid.New(),
		Model:   prog.Model().Name(),
		Sites:   prog.Sites(),
		Times:   req.Times,
		Members: finished,
	}
	names := variables(prog)
	outputs, failures := collect(res.Members, func(m Member) (map[string][]float64, error) {
		return seriesOf(m.Trajectory, names, nil)
	})
	res.Summary = summarize(len(indices), failures, req.Times, req.Quantiles, names, outputs)

	log.Info("ensemble finished", "model", res.Model, "requested", len(indices),
		"successes", res.Summary.Successes, "failures", res.Summary.Failures)
	if err := ctx.Err(); err != nil {
		return res, dynamo.Canceled(err)
	}
	if res.Summary.Successes == 0 {
		return res, fmt.Errorf("%w: all %d ensemble members failed", dynamo.ErrDivergence, len(indices))
	}
	return res, nil
}

// member runs one simulation. Per-member failures are recorded on the
// Member; only configuration errors are returned.
func (s *Sampler) member(ctx context.Context, prog *program.Program, src program.Source, req Request, idx int) (Member, error) {
	m := Member{Index: idx}
	vals, err := src.Values(memberRNG(req.Seed, idx))
	if err != nil {
		return m, err
	}
	m.Values = vals
	sample, err := prog.NewSample(vals)
	if err != nil {
		return m, err
	}
	run, err := prog.Run(ctx, sample, req.Times)
	if run != nil {
		m.Trajectory = run.Trajectory
	}
	m.Err = err
	s.Metrics.ObserveRun(prog.Model().Name(), err)

	switch {
	case err == nil:
	case errors.Is(err, dynamo.ErrDivergence), errors.Is(err, dynamo.ErrBudgetExceeded):
		s.Metrics.ObserveMember(err)
		s.logger().Debug("ensemble member dropped", "member", idx, "err", err)
		return m, nil
	case errors.Is(err, dynamo.ErrCanceled):
		return m, nil
	default:
		return m, err
	}
	s.Metrics.ObserveMember(nil)
	return m, nil
}

func variables(prog *program.Program) []string {
	return append(prog.Model().States(), prog.Model().ObservableNames()...)
}
