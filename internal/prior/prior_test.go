package prior

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplesStayInSupport(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	priors := []Prior{
		Normal(0, 1),
		LogNormal(0, 0.5),
		Uniform(0.1, 0.9),
		Beta(2, 5),
		Gamma(2, 3),
	}
	for _, p := range priors {
		require.NoError(t, p.Validate(), p.String())
		for i := 0; i < 200; i++ {
			x := p.Sample(rng)
			assert.True(t, p.Support().Contains(x), "%s sampled %g", p, x)
			assert.False(t, math.IsInf(p.LogProb(x), -1), "%s: log prob of own sample", p)
		}
	}
}

func TestSamplingIsReproducible(t *testing.T) {
	p := Gamma(2, 1)
	a := rand.New(rand.NewPCG(42, 0))
	b := rand.New(rand.NewPCG(42, 0))
	for i := 0; i < 10; i++ {
		assert.Equal(t, p.Sample(a), p.Sample(b))
	}
}

func TestLogProbOutsideSupport(t *testing.T) {
	assert.True(t, math.IsInf(Uniform(0, 1).LogProb(1.5), -1))
	assert.True(t, math.IsInf(LogNormal(0, 1).LogProb(-1), -1))
	assert.True(t, math.IsInf(Gamma(1, 1).LogProb(0), -1))
	assert.True(t, math.IsInf(Beta(2, 2).LogProb(-0.1), -1))
	assert.InDelta(t, -math.Log(2), Uniform(0, 2).LogProb(1), 1e-12)
}

func TestValidate(t *testing.T) {
	bad := []Prior{
		Normal(0, 0),
		Normal(math.NaN(), 1),
		Uniform(1, 1),
		Beta(0, 1),
		Gamma(1, -1),
		LogNormal(0, -2),
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), p.String())
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("Uniform", []float64{0.1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, "Uniform(0.1, 0.5)", p.String())

	_, err = Parse("uniform", []float64{1})
	assert.Error(t, err)

	_, err = Parse("cauchy", []float64{0, 1})
	assert.Error(t, err)

	_, err = Parse("gamma", []float64{-1, 1})
	assert.Error(t, err)
}

func TestTransformRoundTrip(t *testing.T) {
	supports := []Support{Real(), Positive(), Interval(0.1, 0.9), {Lower: math.Inf(-1), Upper: 3}}
	for _, s := range supports {
		for _, z := range []float64{-3, -0.5, 0, 0.7, 2.5} {
			x := s.Forward(z)
			require.True(t, s.Contains(x))
			assert.InDelta(t, z, s.Inverse(x), 1e-9)

			// finite-difference check of the log Jacobian
			h := 1e-6
			num := (s.Forward(z+h) - s.Forward(z-h)) / (2 * h)
			assert.InDelta(t, math.Log(math.Abs(num)), s.LogDetJacobian(z), 1e-5)
		}
	}
}
