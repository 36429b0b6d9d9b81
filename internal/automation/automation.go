package automation

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/episim/internal/calibrate"
	"github.com/san-kum/episim/internal/config"
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/ensemble"
	"github.com/san-kum/episim/internal/experiment"
	"github.com/san-kum/episim/internal/ouu"
	"github.com/san-kum/episim/internal/program"
)

const (
	OpSimulate  = "simulate"
	OpForecast  = "forecast"
	OpCalibrate = "calibrate"
	OpOptimize  = "optimize"
)

// Scenario is a scripted sequence of experiment operations.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

// Step runs one operation on an experiment taken from a file, a preset or
// the defaults for a model. PosteriorFrom names an earlier calibrate step
// whose posterior feeds a forecast or optimize step.
type Step struct {
	Name          string  `yaml:"name"`
	Op            string  `yaml:"op"`
	Config        string  `yaml:"config,omitempty"`
	Model         string  `yaml:"model,omitempty"`
	Preset        string  `yaml:"preset,omitempty"`
	Seed          *uint64 `yaml:"seed,omitempty"`
	Samples       int     `yaml:"samples,omitempty"`
	Data          string  `yaml:"data,omitempty"`
	Method        string  `yaml:"method,omitempty"`
	PosteriorFrom string  `yaml:"posterior_from,omitempty"`
}

// Outcome is the result of one step. Exactly one of the result fields is
// set, matching Op; Err holds a non-fatal error such as an early stop.
type Outcome struct {
	Step      string
	Op        string
	Run       *program.Run
	Forecast  *ensemble.Result
	Posterior *calibrate.Posterior
	Solution  *ouu.Solution
	Err       error
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, dynamo.Configf("scenario", "%v", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// Validate checks step names, operations and posterior references.
func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return dynamo.Configf("scenario", "no steps")
	}
	calibrations := make(map[string]bool)
	seen := make(map[string]bool)
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.Name == "" {
			step.Name = fmt.Sprintf("step-%d", i+1)
		}
		field := "steps." + step.Name
		if seen[step.Name] {
			return dynamo.Configf(field, "duplicate step name")
		}
		seen[step.Name] = true
		switch step.Op {
		case OpSimulate, OpForecast, OpCalibrate, OpOptimize:
		default:
			return dynamo.Configf(field, "unknown op %q", step.Op)
		}
		if step.Config == "" && step.Model == "" {
			return dynamo.Configf(field, "set config or model")
		}
		if step.PosteriorFrom != "" {
			if step.Op != OpForecast && step.Op != OpOptimize {
				return dynamo.Configf(field, "posterior_from only applies to forecast and optimize")
			}
			if !calibrations[step.PosteriorFrom] {
				return dynamo.Configf(field, "posterior_from %q is not an earlier calibrate step", step.PosteriorFrom)
			}
		}
		if step.Op == OpCalibrate {
			calibrations[step.Name] = true
		}
	}
	return nil
}

func (step Step) config() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case step.Config != "":
		var err error
		if cfg, err = config.Load(step.Config); err != nil {
			return nil, err
		}
	case step.Preset != "":
		if cfg = config.GetPreset(step.Model, step.Preset); cfg == nil {
			return nil, dynamo.Configf("preset", "unknown preset %s/%s", step.Model, step.Preset)
		}
	default:
		cfg = config.DefaultConfig()
		cfg.Model = step.Model
	}
	if step.Seed != nil {
		cfg.Seed = *step.Seed
	}
	if step.Samples > 0 {
		cfg.Ensemble.Samples = step.Samples
		if cfg.Policy != nil {
			cfg.Policy.Samples = step.Samples
		}
	}
	if step.Data != "" {
		cfg.Data = step.Data
	}
	if step.Method != "" {
		cfg.Calibration.Method = step.Method
	}
	return cfg, nil
}

// RunScenario executes the steps in order. A step that produces no result
// stops the scenario; the outcomes so far are returned with the error.
func RunScenario(ctx context.Context, scenario *Scenario, registry *experiment.Registry, opts ...experiment.Option) ([]Outcome, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	results := make([]Outcome, 0, len(scenario.Steps))
	posteriors := make(map[string]*calibrate.Posterior)

	for i, step := range scenario.Steps {
		out, err := runStep(ctx, step, registry, posteriors, opts)
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i+1, step.Name, err)
		}
		if out.Posterior != nil {
			posteriors[step.Name] = out.Posterior
		}
		results = append(results, out)
	}
	return results, nil
}

func runStep(ctx context.Context, step Step, registry *experiment.Registry, posteriors map[string]*calibrate.Posterior, opts []experiment.Option) (Outcome, error) {
	out := Outcome{Step: step.Name, Op: step.Op}
	cfg, err := step.config()
	if err != nil {
		return out, err
	}
	exp, err := experiment.New(cfg, registry, opts...)
	if err != nil {
		return out, err
	}

	var src program.Source
	if post, ok := posteriors[step.PosteriorFrom]; ok {
		src = post
	}

	switch step.Op {
	case OpSimulate:
		out.Run, err = exp.Simulate(ctx)
		return out, err
	case OpForecast:
		out.Forecast, out.Err = exp.Forecast(ctx, src)
		if out.Forecast == nil {
			return out, out.Err
		}
	case OpCalibrate:
		data, err := exp.LoadData()
		if err != nil {
			return out, err
		}
		out.Posterior, out.Err = exp.Calibrate(ctx, data, nil)
		if out.Posterior == nil {
			return out, out.Err
		}
	case OpOptimize:
		out.Solution, out.Err = exp.Optimize(ctx, src)
		if out.Solution == nil {
			return out, out.Err
		}
	}
	return out, nil
}
