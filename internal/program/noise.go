package program

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Noise is an observation model around a simulated mean.
type Noise interface {
	LogLik(obs, mean float64) float64
	Sample(rng *rand.Rand, mean float64) float64
	Validate() error
}

// Normal is Gaussian observation noise. With Absolute unset the standard
// deviation is Scale*|mean| + Floor, so noise grows with the signal; with
// Absolute set it is Scale + Floor. Relative noise needs Floor > 0 so the
// density stays finite where the mean is zero.
type Normal struct {
	Scale    float64
	Floor    float64
	Absolute bool
}

// DefaultNoise is relative Normal noise with a 10% scale.
func DefaultNoise() Normal { return Normal{Scale: 0.1, Floor: 1e-3} }

func (n Normal) sd(mean float64) float64 {
	if n.Absolute {
		return n.Scale + n.Floor
	}
	return n.Scale*math.Abs(mean) + n.Floor
}

func (n Normal) LogLik(obs, mean float64) float64 {
	return distuv.Normal{Mu: mean, Sigma: n.sd(mean)}.LogProb(obs)
}

func (n Normal) Sample(rng *rand.Rand, mean float64) float64 {
	return distuv.Normal{Mu: mean, Sigma: n.sd(mean), Src: rng}.Rand()
}

func (n Normal) Validate() error {
	if !(n.Scale >= 0) || math.IsInf(n.Scale, 0) || !(n.Floor >= 0) || math.IsInf(n.Floor, 0) {
		return fmt.Errorf("normal noise: scale and floor must be finite and non-negative")
	}
	if n.Scale+n.Floor == 0 {
		return fmt.Errorf("normal noise: scale and floor cannot both be zero")
	}
	if !n.Absolute && n.Floor == 0 {
		return fmt.Errorf("normal noise: relative noise needs a positive floor")
	}
	return nil
}
