package models

import (
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/prior"
)

// Decay is dx/dt = -k x with x(0) = 100.
func Decay() model.Spec {
	return model.Spec{
		Name:    "decay",
		States:  []string{"x"},
		Params:  []model.Param{model.Random("k", prior.Uniform(0.1, 1.0))},
		Initial: []model.Init{{State: "x", Value: 100}},
		Uses:    []string{"k"},
		Derive: func(_ float64, x dynamo.State, p model.Values) dynamo.State {
			return dynamo.State{-p.Get("k") * x[0]}
		},
	}
}

// Logistic is dx/dt = r x (1 - x/K).
func Logistic() model.Spec {
	return model.Spec{
		Name:   "logistic",
		States: []string{"x"},
		Params: []model.Param{
			model.Random("r", prior.LogNormal(-1, 0.3)),
			model.Fixed("K", 1000),
		},
		Initial: []model.Init{{State: "x", Value: 10}},
		Uses:    []string{"r", "K"},
		Derive: func(_ float64, x dynamo.State, p model.Values) dynamo.State {
			return dynamo.State{p.Get("r") * x[0] * (1 - x[0]/p.Get("K"))}
		},
	}
}
