package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/episim/internal/dynamo"
)

const (
	DefaultModel     = "sir"
	DefaultSolver    = "dopri5"
	DefaultEnd       = 100.0
	DefaultStep      = 1.0
	DefaultSamples   = 100
	DefaultMethod    = "variational"
	DefaultIters     = 1000
	DefaultAlpha     = 0.95
	DefaultNoiseRate = 0.1
)

// Config describes one experiment: a model with parameter overrides, the
// interventions applied to it, and settings for each operation.
type Config struct {
	Model         string                 `yaml:"model"`
	Seed          uint64                 `yaml:"seed"`
	Horizon       HorizonConfig          `yaml:"horizon"`
	Solver        SolverConfig           `yaml:"solver"`
	Params        map[string]ParamConfig `yaml:"params,omitempty"`
	Initial       map[string]ParamConfig `yaml:"initial,omitempty"`
	Interventions []InterventionConfig   `yaml:"interventions,omitempty"`
	Noise         NoiseConfig            `yaml:"noise"`
	Data          string                 `yaml:"data,omitempty"`
	Calibration   CalibrationConfig      `yaml:"calibration"`
	Ensemble      EnsembleConfig         `yaml:"ensemble"`
	Policy        *PolicyConfig          `yaml:"policy,omitempty"`
	MaxSegments   int                    `yaml:"max_segments,omitempty"`
}

type HorizonConfig struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Step  float64 `yaml:"step"`
}

type SolverConfig struct {
	Method string  `yaml:"method"`
	RTol   float64 `yaml:"rtol,omitempty"`
	ATol   float64 `yaml:"atol,omitempty"`
	Step   float64 `yaml:"step,omitempty"`
}

// ParamConfig overrides a model parameter with a fixed value or a prior.
type ParamConfig struct {
	Value *float64  `yaml:"value,omitempty"`
	Prior string    `yaml:"prior,omitempty"`
	Args  []float64 `yaml:"args,omitempty"`
}

// InterventionConfig is one intervention. Exactly one of At, Every and
// When sets the trigger; exactly one of Param and State names the target.
type InterventionConfig struct {
	Name      string       `yaml:"name,omitempty"`
	At        *float64     `yaml:"at,omitempty"`
	Every     *EveryConfig `yaml:"every,omitempty"`
	When      *WhenConfig  `yaml:"when,omitempty"`
	Recurring bool         `yaml:"recurring,omitempty"`
	Param     string       `yaml:"param,omitempty"`
	State     string       `yaml:"state,omitempty"`
	// Op is set, scale or shift.
	Op    string  `yaml:"op"`
	Value float64 `yaml:"value"`
}

type EveryConfig struct {
	Start  float64 `yaml:"start"`
	Period float64 `yaml:"period"`
}

// WhenConfig fires when Variable crosses Level.
type WhenConfig struct {
	Variable string  `yaml:"variable"`
	Level    float64 `yaml:"level"`
}

type NoiseConfig struct {
	Scale    float64 `yaml:"scale"`
	Floor    float64 `yaml:"floor,omitempty"`
	Absolute bool    `yaml:"absolute,omitempty"`
}

type CalibrationConfig struct {
	Method       string        `yaml:"method"`
	Iterations   int           `yaml:"iterations"`
	Tolerance    float64       `yaml:"tolerance,omitempty"`
	LearningRate float64       `yaml:"learning_rate,omitempty"`
	Particles    int           `yaml:"particles,omitempty"`
	BurnIn       int           `yaml:"burn_in,omitempty"`
	Thin         int           `yaml:"thin,omitempty"`
	FailureRate  float64       `yaml:"failure_rate,omitempty"`
	MinAttempts  int           `yaml:"min_attempts,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

type EnsembleConfig struct {
	Samples   int       `yaml:"samples"`
	Workers   int       `yaml:"workers,omitempty"`
	Quantiles []float64 `yaml:"quantiles,omitempty"`
}

// PolicyConfig is an intervention design problem over one or more
// parameter or state scalings, applied at a fixed time.
type PolicyConfig struct {
	At        float64       `yaml:"at"`
	Controls  []ControlSpec `yaml:"controls"`
	QoI       string        `yaml:"qoi"`
	Variable  string        `yaml:"variable"`
	Window    int           `yaml:"window,omitempty"`
	RiskBound float64       `yaml:"risk_bound"`
	Alpha     float64       `yaml:"alpha"`
	Samples   int           `yaml:"samples"`
	Method    string        `yaml:"method,omitempty"`
}

// ControlSpec is one decision variable: the fraction by which Param (or
// State) is reduced, within [Lower, Upper].
type ControlSpec struct {
	Param string  `yaml:"param,omitempty"`
	State string  `yaml:"state,omitempty"`
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:   DefaultModel,
		Horizon: HorizonConfig{Start: 0, End: DefaultEnd, Step: DefaultStep},
		Solver:  SolverConfig{Method: DefaultSolver},
		Noise:   NoiseConfig{Scale: DefaultNoiseRate, Floor: 1e-3},
		Calibration: CalibrationConfig{
			Method:     DefaultMethod,
			Iterations: DefaultIters,
		},
		Ensemble: EnsembleConfig{Samples: DefaultSamples},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks what can be checked without the model; name resolution
// happens when the experiment is built.
func (c *Config) Validate() error {
	if c.Model == "" {
		return dynamo.Configf("model", "no model named")
	}
	if !(c.Horizon.End > c.Horizon.Start) {
		return dynamo.Configf("horizon", "empty time horizon [%g, %g]", c.Horizon.Start, c.Horizon.End)
	}
	if !(c.Horizon.Step > 0) {
		return dynamo.Configf("horizon.step", "must be positive, got %g", c.Horizon.Step)
	}
	for name, p := range c.Params {
		if (p.Value == nil) == (p.Prior == "") {
			return dynamo.Configf("params."+name, "set exactly one of value and prior")
		}
	}
	for name, p := range c.Initial {
		if (p.Value == nil) == (p.Prior == "") {
			return dynamo.Configf("initial."+name, "set exactly one of value and prior")
		}
	}
	for i, iv := range c.Interventions {
		if err := iv.validate(); err != nil {
			return dynamo.Configf(fmt.Sprintf("interventions[%d]", i), "%v", err)
		}
	}
	if c.Ensemble.Samples < 0 || c.Calibration.Iterations < 0 {
		return dynamo.Configf("counts", "sample and iteration counts must be positive")
	}
	if c.Policy != nil {
		if len(c.Policy.Controls) == 0 {
			return dynamo.Configf("policy", "no controls")
		}
		for i, ctl := range c.Policy.Controls {
			if (ctl.Param == "") == (ctl.State == "") {
				return dynamo.Configf(fmt.Sprintf("policy.controls[%d]", i), "set exactly one of param and state")
			}
		}
	}
	return nil
}

func (iv InterventionConfig) validate() error {
	triggers := 0
	if iv.At != nil {
		triggers++
	}
	if iv.Every != nil {
		triggers++
	}
	if iv.When != nil {
		triggers++
	}
	if triggers != 1 {
		return fmt.Errorf("set exactly one of at, every and when")
	}
	if (iv.Param == "") == (iv.State == "") {
		return fmt.Errorf("set exactly one of param and state")
	}
	switch iv.Op {
	case "set", "scale", "shift":
	default:
		return fmt.Errorf("unknown op %q", iv.Op)
	}
	return nil
}
