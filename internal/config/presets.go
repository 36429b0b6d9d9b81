package config

import "sort"

func at(t float64) *float64 { return &t }

func preset(model string, end float64, ivs ...InterventionConfig) *Config {
	cfg := DefaultConfig()
	cfg.Model = model
	cfg.Horizon.End = end
	cfg.Interventions = ivs
	return cfg
}

var Presets = map[string]map[string]*Config{
	"sir": {
		"baseline": preset("sir", 100),
		"lockdown": preset("sir", 100, InterventionConfig{
			Name: "lockdown", At: at(10), Param: "beta", Op: "scale", Value: 0.5,
		}),
		"reopen": preset("sir", 150,
			InterventionConfig{Name: "lockdown", At: at(10), Param: "beta", Op: "scale", Value: 0.4},
			InterventionConfig{Name: "reopen", At: at(60), Param: "beta", Op: "scale", Value: 2.0},
		),
		"threshold": preset("sir", 150, InterventionConfig{
			Name: "distancing", When: &WhenConfig{Variable: "I", Level: 100}, Param: "beta", Op: "scale", Value: 0.5,
		}),
	},
	"seir": {
		"baseline": preset("seir", 150),
		"vaccination": preset("seir", 150, InterventionConfig{
			Name: "vaccinate", Every: &EveryConfig{Start: 14, Period: 7}, State: "S", Op: "scale", Value: 0.95,
		}),
	},
	"sird": {
		"baseline": preset("sird", 120),
		"treatment": preset("sird", 120, InterventionConfig{
			Name: "treatment", At: at(30), Param: "mu", Op: "scale", Value: 0.5,
		}),
	},
	"decay": {
		"baseline": preset("decay", 10),
		"dose": preset("decay", 10, InterventionConfig{
			Name: "dose", Every: &EveryConfig{Start: 2, Period: 2}, State: "x", Op: "shift", Value: 50,
		}),
	},
	"logistic": {
		"baseline": preset("logistic", 30),
		"harvest": preset("logistic", 30, InterventionConfig{
			Name: "harvest", When: &WhenConfig{Variable: "x", Level: 500}, State: "x", Op: "scale", Value: 0.5, Recurring: true,
		}),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, name string) *Config {
	byName, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := byName[name]
	if !ok {
		return nil
	}
	cp := *cfg
	cp.Interventions = append([]InterventionConfig(nil), cfg.Interventions...)
	return &cp
}

// ListPresets returns the preset names of a model in sorted order.
func ListPresets(model string) []string {
	byName, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
