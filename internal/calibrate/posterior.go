package calibrate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/prior"
)

// Posterior is the result of a calibration. It is a program.Source, so an
// ensemble can draw site values from it in place of the prior. A Posterior
// is immutable once returned.
type Posterior struct {
	ID     uuid.UUID
	Method Method

	// Provisional marks a best-so-far result returned with a budget or
	// cancellation error.
	Provisional bool
	Iterations  int
	Losses      []float64
	Attempts    int
	Divergences int

	sites    []string
	supports []prior.Support

	// Mean-field guide in unconstrained space; nil for sample-based methods.
	loc, scale []float64

	samples [][]float64
	columns [][]float64
}

func newPosterior(method Method, sites []string, supports []prior.Support) *Posterior {
	return &Posterior{
		ID:       uuid.New(),
		Method:   method,
		sites:    sites,
		supports: supports,
	}
}

// setSamples stores constrained draws, one row per draw, and their sorted
// per-site columns.
func (p *Posterior) setSamples(rows [][]float64) {
	p.samples = rows
	p.columns = make([][]float64, len(p.sites))
	for j := range p.sites {
		col := make([]float64, len(rows))
		for i, r := range rows {
			col[i] = r[j]
		}
		sort.Float64s(col)
		p.columns[j] = col
	}
}

func (p *Posterior) Sites() []string { return append([]string(nil), p.sites...) }

// Values draws one set of site values. Guide-based posteriors sample the
// guide; sample-based ones resample the stored draws.
func (p *Posterior) Values(rng *rand.Rand) ([]float64, error) {
	if p.loc != nil {
		out := make([]float64, len(p.loc))
		for i := range out {
			out[i] = p.supports[i].Forward(p.loc[i] + p.scale[i]*rng.NormFloat64())
		}
		return out, nil
	}
	if len(p.samples) == 0 {
		return nil, dynamo.Configf("posterior", "no samples")
	}
	return append([]float64(nil), p.samples[rng.IntN(len(p.samples))]...), nil
}

// Draw returns one draw keyed by site name.
func (p *Posterior) Draw(rng *rand.Rand) (map[string]float64, error) {
	vals, err := p.Values(rng)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(vals))
	for i, s := range p.sites {
		out[s] = vals[i]
	}
	return out, nil
}

// Samples returns a copy of the stored draws.
func (p *Posterior) Samples() [][]float64 {
	out := make([][]float64, len(p.samples))
	for i, r := range p.samples {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// Guide returns the variational location and scale in unconstrained space.
// ok is false for methods without a guide.
func (p *Posterior) Guide() (loc, scale []float64, ok bool) {
	if p.loc == nil {
		return nil, nil, false
	}
	return append([]float64(nil), p.loc...), append([]float64(nil), p.scale...), true
}

func (p *Posterior) column(name string) ([]float64, error) {
	for i, s := range p.sites {
		if s == name {
			if i >= len(p.columns) || len(p.columns[i]) == 0 {
				return nil, dynamo.Configf("posterior", "no samples")
			}
			return p.columns[i], nil
		}
	}
	return nil, dynamo.Configf("posterior", "unknown site %q", name)
}

func (p *Posterior) Mean(name string) (float64, error) {
	col, err := p.column(name)
	if err != nil {
		return math.NaN(), err
	}
	return stat.Mean(col, nil), nil
}

// Quantile returns the empirical q-quantile of a site's draws.
func (p *Posterior) Quantile(name string, q float64) (float64, error) {
	if !(q >= 0 && q <= 1) {
		return math.NaN(), dynamo.Configf("quantile", "must be in [0, 1], got %g", q)
	}
	col, err := p.column(name)
	if err != nil {
		return math.NaN(), err
	}
	return stat.Quantile(q, stat.Empirical, col, nil), nil
}

// Means returns the posterior mean of every site.
func (p *Posterior) Means() map[string]float64 {
	out := make(map[string]float64, len(p.sites))
	for _, s := range p.sites {
		out[s], _ = p.Mean(s)
	}
	return out
}

func (p *Posterior) String() string {
	return fmt.Sprintf("posterior(%s, %d sites, %d draws, provisional=%t)", p.Method, len(p.sites), len(p.samples), p.Provisional)
}
