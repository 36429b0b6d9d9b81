package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/telemetry"
)

// Component is one model of a mixture ensemble.
type Component struct {
	Program *program.Program
	// Source defaults to the program's prior.
	Source program.Source
	Weight float64
	// Mapping names, for every mixture output, the variable of this
	// component that provides it.
	Mapping map[string]string
}

// MixtureResult holds the per-component results and the pooled summary
// over the mapped outputs.
type MixtureResult struct {
	Components []*Result
	Counts     []int
	Outputs    []string
	Summary    *Summary
}

// stream separates component assignment from member draws.
const mixtureStream = 0x6d6978

// RunMixture draws req.N members, assigning each to a component with
// probability proportional to its weight, and pools the survivors on the
// common outputs. Assignments depend only on the seed and member index.
func (s *Sampler) RunMixture(ctx context.Context, comps []Component, req Request) (*MixtureResult, error) {
	outputs, err := validateMixture(comps)
	if err != nil {
		return nil, err
	}
	first := comps[0].Program
	req, err = req.normalize(first)
	if err != nil {
		return nil, err
	}
	for _, c := range comps[1:] {
		if _, err := (Request{N: req.N, Times: req.Times, Quantiles: req.Quantiles}).normalize(c.Program); err != nil {
			return nil, err
		}
	}

	ctx, span := telemetry.Start(ctx, "ensemble.mixture",
		attribute.Int("components", len(comps)),
		attribute.Int("samples", req.N),
	)
	res, err := s.runMixture(ctx, comps, outputs, req)
	telemetry.End(span, err)
	return res, err
}

func (s *Sampler) runMixture(ctx context.Context, comps []Component, outputs []string, req Request) (*MixtureResult, error) {
	weights := make([]float64, len(comps))
	for i, c := range comps {
		weights[i] = c.Weight
	}
	assign := make([][]int, len(comps))
	for i := 0; i < req.N; i++ {
		rng := rand.New(rand.NewPCG(req.Seed, mixtureStream<<32|uint64(i)))
		k := int(distuv.NewCategorical(weights, rng).Rand())
		assign[k] = append(assign[k], i)
	}

	res := &MixtureResult{Outputs: outputs, Counts: make([]int, len(comps))}
	var (
		pooled   []map[string][]float64
		failures int
		stopErr  error
	)
	for k, c := range comps {
		res.Counts[k] = len(assign[k])
		if len(assign[k]) == 0 {
			res.Components = append(res.Components, nil)
			continue
		}
		src := c.Source
		if src == nil {
			src = c.Program.Prior()
		}
		r, err := s.run(ctx, c.Program, src, req, assign[k])
		switch {
		case err == nil, errors.Is(err, dynamo.ErrDivergence) && r != nil:
		case errors.Is(err, dynamo.ErrCanceled) && r != nil:
			stopErr = err
		default:
			return nil, fmt.Errorf("component %d (%s): %w", k, c.Program.Model().Name(), err)
		}
		res.Components = append(res.Components, r)
		outs, failed := collect(r.Members, func(m Member) (map[string][]float64, error) {
			return seriesOf(m.Trajectory, outputs, c.Mapping)
		})
		pooled = append(pooled, outs...)
		failures += failed
		if stopErr != nil {
			break
		}
	}
	res.Summary = summarize(req.N, failures, req.Times, req.Quantiles, outputs, pooled)
	if stopErr != nil {
		return res, stopErr
	}
	if res.Summary.Successes == 0 {
		return res, fmt.Errorf("%w: all %d mixture members failed", dynamo.ErrDivergence, req.N)
	}
	return res, nil
}

func validateMixture(comps []Component) ([]string, error) {
	if len(comps) == 0 {
		return nil, dynamo.Configf("mixture", "no components")
	}
	total := 0.0
	var outputs []string
	for i, c := range comps {
		if c.Program == nil {
			return nil, dynamo.Configf("mixture", "component %d has no program", i)
		}
		if !(c.Weight >= 0) || math.IsInf(c.Weight, 0) {
			return nil, dynamo.Configf("mixture", "component %d: weight must be finite and non-negative, got %g", i, c.Weight)
		}
		total += c.Weight
		if len(c.Mapping) == 0 {
			return nil, dynamo.Configf("mixture", "component %d has no output mapping", i)
		}
		names := make([]string, 0, len(c.Mapping))
		for out, v := range c.Mapping {
			if !c.Program.Model().HasVariable(v) {
				return nil, dynamo.Configf("mixture", "component %d maps %q to unknown variable %q", i, out, v)
			}
			names = append(names, out)
		}
		sort.Strings(names)
		if i == 0 {
			outputs = names
			continue
		}
		if fmt.Sprint(names) != fmt.Sprint(outputs) {
			return nil, dynamo.Configf("mixture", "component %d maps outputs %v, want %v", i, names, outputs)
		}
	}
	if !(total > 0) {
		return nil, dynamo.Configf("mixture", "weights sum to zero")
	}
	return outputs, nil
}
