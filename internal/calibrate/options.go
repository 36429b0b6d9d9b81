package calibrate

import (
	"log/slog"
	"time"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/metrics"
)

// Method selects the inference algorithm.
type Method string

const (
	// Variational fits a mean-field Gaussian guide in unconstrained space.
	Variational Method = "variational"
	// MCMC runs random-walk Metropolis in unconstrained space.
	MCMC Method = "mcmc"
	// MAP finds the posterior mode with Nelder-Mead.
	MAP Method = "map"
)

// Options configures Calibrate. Zero fields take the values of
// DefaultOptions.
type Options struct {
	Method        Method
	MaxIterations int
	Timeout       time.Duration

	// Tolerance and Window define convergence: the mean loss over the last
	// Window iterations differs from the Window before it by at most
	// Tolerance, relative to the loss.
	Tolerance float64
	Window    int

	// Variational settings.
	LearningRate   float64
	Particles      int
	InitScale      float64
	PosteriorDraws int

	// MCMC settings.
	BurnIn        int
	Thin          int
	ProposalScale float64

	// FailureRate is the largest tolerated share of divergent simulations.
	// It is enforced once MinAttempts simulations have run.
	FailureRate float64
	MinAttempts int

	Seed     uint64
	Progress func(iteration int, loss float64)
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func DefaultOptions() Options {
	return Options{
		Method:         Variational,
		MaxIterations:  1000,
		Tolerance:      1e-4,
		Window:         20,
		LearningRate:   0.05,
		Particles:      8,
		InitScale:      0.1,
		PosteriorDraws: 1000,
		Thin:           1,
		ProposalScale:  0.1,
		FailureRate:    0.5,
		MinAttempts:    20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Method == "" {
		o.Method = d.Method
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.Tolerance == 0 {
		o.Tolerance = d.Tolerance
	}
	if o.Window == 0 {
		o.Window = d.Window
	}
	if o.LearningRate == 0 {
		o.LearningRate = d.LearningRate
	}
	if o.Particles == 0 {
		o.Particles = d.Particles
	}
	if o.InitScale == 0 {
		o.InitScale = d.InitScale
	}
	if o.PosteriorDraws == 0 {
		o.PosteriorDraws = d.PosteriorDraws
	}
	if o.BurnIn == 0 {
		o.BurnIn = o.MaxIterations / 4
	}
	if o.Thin == 0 {
		o.Thin = d.Thin
	}
	if o.ProposalScale == 0 {
		o.ProposalScale = d.ProposalScale
	}
	if o.FailureRate == 0 {
		o.FailureRate = d.FailureRate
	}
	if o.MinAttempts == 0 {
		o.MinAttempts = d.MinAttempts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) validate() error {
	switch o.Method {
	case Variational, MCMC, MAP:
	default:
		return dynamo.Configf("method", "unknown calibration method %q", o.Method)
	}
	if o.MaxIterations < 0 {
		return dynamo.Configf("max_iterations", "must be positive, got %d", o.MaxIterations)
	}
	if o.Timeout < 0 {
		return dynamo.Configf("timeout", "must not be negative")
	}
	if !(o.Tolerance > 0) || o.Window < 1 {
		return dynamo.Configf("tolerance", "tolerance and window must be positive")
	}
	if !(o.LearningRate > 0) || o.Particles < 1 || !(o.InitScale > 0) || o.PosteriorDraws < 1 {
		return dynamo.Configf("variational", "learning rate, particles, init scale and posterior draws must be positive")
	}
	if o.BurnIn < 0 || (o.Method == MCMC && o.BurnIn >= o.MaxIterations) {
		return dynamo.Configf("burn_in", "must be in [0, %d), got %d", o.MaxIterations, o.BurnIn)
	}
	if o.Thin < 1 || !(o.ProposalScale > 0) {
		return dynamo.Configf("mcmc", "thin and proposal scale must be positive")
	}
	if !(o.FailureRate > 0 && o.FailureRate <= 1) || o.MinAttempts < 1 {
		return dynamo.Configf("failure_rate", "must be in (0, 1] with a positive minimum attempt count")
	}
	return nil
}
