package prior

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Prior is a univariate distribution over a parameter or initial state.
type Prior interface {
	Sample(rng *rand.Rand) float64
	LogProb(x float64) float64
	Mean() float64
	Support() Support
	Validate() error
	String() string
}

type normal struct{ mu, sigma float64 }

// Normal returns N(mu, sigma^2).
func Normal(mu, sigma float64) Prior { return normal{mu, sigma} }

func (n normal) dist(rng *rand.Rand) distuv.Normal {
	d := distuv.Normal{Mu: n.mu, Sigma: n.sigma}
	if rng != nil {
		d.Src = rng
	}
	return d
}

func (n normal) Sample(rng *rand.Rand) float64 { return n.dist(rng).Rand() }
func (n normal) LogProb(x float64) float64     { return n.dist(nil).LogProb(x) }
func (n normal) Mean() float64                 { return n.mu }
func (n normal) Support() Support              { return Real() }
func (n normal) String() string                { return fmt.Sprintf("Normal(%g, %g)", n.mu, n.sigma) }
func (n normal) Validate() error {
	if !finite(n.mu) || !(n.sigma > 0) || !finite(n.sigma) {
		return fmt.Errorf("normal: need finite mu and sigma > 0, got (%g, %g)", n.mu, n.sigma)
	}
	return nil
}

type logNormal struct{ mu, sigma float64 }

// LogNormal returns a distribution whose logarithm is N(mu, sigma^2).
func LogNormal(mu, sigma float64) Prior { return logNormal{mu, sigma} }

func (l logNormal) dist(rng *rand.Rand) distuv.LogNormal {
	d := distuv.LogNormal{Mu: l.mu, Sigma: l.sigma}
	if rng != nil {
		d.Src = rng
	}
	return d
}

func (l logNormal) Sample(rng *rand.Rand) float64 { return l.dist(rng).Rand() }
func (l logNormal) LogProb(x float64) float64 {
	if !(x > 0) {
		return math.Inf(-1)
	}
	return l.dist(nil).LogProb(x)
}
func (l logNormal) Mean() float64    { return l.dist(nil).Mean() }
func (l logNormal) Support() Support { return Positive() }
func (l logNormal) String() string   { return fmt.Sprintf("LogNormal(%g, %g)", l.mu, l.sigma) }
func (l logNormal) Validate() error {
	if !finite(l.mu) || !(l.sigma > 0) || !finite(l.sigma) {
		return fmt.Errorf("lognormal: need finite mu and sigma > 0, got (%g, %g)", l.mu, l.sigma)
	}
	return nil
}

type uniform struct{ lo, hi float64 }

// Uniform returns the uniform distribution on [lo, hi].
func Uniform(lo, hi float64) Prior { return uniform{lo, hi} }

func (u uniform) dist(rng *rand.Rand) distuv.Uniform {
	d := distuv.Uniform{Min: u.lo, Max: u.hi}
	if rng != nil {
		d.Src = rng
	}
	return d
}

func (u uniform) Sample(rng *rand.Rand) float64 { return u.dist(rng).Rand() }
func (u uniform) LogProb(x float64) float64 {
	if x < u.lo || x > u.hi {
		return math.Inf(-1)
	}
	return -math.Log(u.hi - u.lo)
}
func (u uniform) Mean() float64    { return 0.5 * (u.lo + u.hi) }
func (u uniform) Support() Support { return Interval(u.lo, u.hi) }
func (u uniform) String() string   { return fmt.Sprintf("Uniform(%g, %g)", u.lo, u.hi) }
func (u uniform) Validate() error {
	if !finite(u.lo) || !finite(u.hi) || !(u.hi > u.lo) {
		return fmt.Errorf("uniform: need finite lo < hi, got (%g, %g)", u.lo, u.hi)
	}
	return nil
}

type beta struct{ alpha, beta float64 }

// Beta returns the Beta(alpha, beta) distribution on [0, 1].
func Beta(alpha, b float64) Prior { return beta{alpha, b} }

func (b beta) dist(rng *rand.Rand) distuv.Beta {
	d := distuv.Beta{Alpha: b.alpha, Beta: b.beta}
	if rng != nil {
		d.Src = rng
	}
	return d
}

func (b beta) Sample(rng *rand.Rand) float64 { return b.dist(rng).Rand() }
func (b beta) LogProb(x float64) float64 {
	if x < 0 || x > 1 {
		return math.Inf(-1)
	}
	return b.dist(nil).LogProb(x)
}
func (b beta) Mean() float64    { return b.alpha / (b.alpha + b.beta) }
func (b beta) Support() Support { return Interval(0, 1) }
func (b beta) String() string   { return fmt.Sprintf("Beta(%g, %g)", b.alpha, b.beta) }
func (b beta) Validate() error {
	if !(b.alpha > 0) || !(b.beta > 0) || !finite(b.alpha) || !finite(b.beta) {
		return fmt.Errorf("beta: need alpha, beta > 0, got (%g, %g)", b.alpha, b.beta)
	}
	return nil
}

type gamma struct{ shape, rate float64 }

// Gamma returns the Gamma distribution with the given shape and rate.
func Gamma(shape, rate float64) Prior { return gamma{shape, rate} }

func (g gamma) dist(rng *rand.Rand) distuv.Gamma {
	d := distuv.Gamma{Alpha: g.shape, Beta: g.rate}
	if rng != nil {
		d.Src = rng
	}
	return d
}

func (g gamma) Sample(rng *rand.Rand) float64 { return g.dist(rng).Rand() }
func (g gamma) LogProb(x float64) float64 {
	if !(x > 0) {
		return math.Inf(-1)
	}
	return g.dist(nil).LogProb(x)
}
func (g gamma) Mean() float64    { return g.shape / g.rate }
func (g gamma) Support() Support { return Positive() }
func (g gamma) String() string   { return fmt.Sprintf("Gamma(%g, %g)", g.shape, g.rate) }
func (g gamma) Validate() error {
	if !(g.shape > 0) || !(g.rate > 0) || !finite(g.shape) || !finite(g.rate) {
		return fmt.Errorf("gamma: need shape, rate > 0, got (%g, %g)", g.shape, g.rate)
	}
	return nil
}

// Parse builds a prior from a distribution name and its arguments, as they
// appear in experiment files.
func Parse(name string, args []float64) (Prior, error) {
	want := 2
	var p Prior
	switch strings.ToLower(name) {
	case "normal", "gaussian":
		if len(args) == want {
			p = Normal(args[0], args[1])
		}
	case "lognormal":
		if len(args) == want {
			p = LogNormal(args[0], args[1])
		}
	case "uniform":
		if len(args) == want {
			p = Uniform(args[0], args[1])
		}
	case "beta":
		if len(args) == want {
			p = Beta(args[0], args[1])
		}
	case "gamma":
		if len(args) == want {
			p = Gamma(args[0], args[1])
		}
	default:
		return nil, fmt.Errorf("unknown distribution: %s", name)
	}
	if p == nil {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", name, want, len(args))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
