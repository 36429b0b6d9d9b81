package models

import (
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/prior"
)

// SIR implements the classic Kermack-McKendrick model.
// State: [S, I, R]
// Equations (N = S + I + R):
//
//	dS/dt = -beta S I / N
//	dI/dt =  beta S I / N - gamma I
//	dR/dt =  gamma I
func SIR() model.Spec {
	return model.Spec{
		Name:   "sir",
		States: []string{"S", "I", "R"},
		Params: []model.Param{
			model.Random("beta", prior.Uniform(0.2, 0.4)),
			model.Random("gamma", prior.Uniform(0.05, 0.15)),
		},
		Initial: []model.Init{
			{State: "S", Value: 990},
			{State: "I", Value: 10},
			{State: "R", Value: 0},
		},
		Uses:   []string{"beta", "gamma"},
		Derive: deriveSIR,
		Observables: []model.Observable{
			{Name: "N", Fn: func(x dynamo.State, _ model.Values) float64 { return x[0] + x[1] + x[2] }},
			{Name: "incidence", Fn: func(x dynamo.State, p model.Values) float64 {
				n := x[0] + x[1] + x[2]
				if n == 0 {
					return 0
				}
				return p.Get("beta") * x[0] * x[1] / n
			}},
		},
	}
}

func deriveSIR(_ float64, x dynamo.State, p model.Values) dynamo.State {
	s, i, r := x[0], x[1], x[2]
	beta, gamma := p.Get("beta"), p.Get("gamma")

	n := s + i + r
	force := 0.0
	if n != 0 {
		force = beta * s * i / n
	}
	return dynamo.State{-force, force - gamma*i, gamma * i}
}

// SEIR adds an exposed compartment with incubation rate sigma.
// State: [S, E, I, R]
func SEIR() model.Spec {
	return model.Spec{
		Name:   "seir",
		States: []string{"S", "E", "I", "R"},
		Params: []model.Param{
			model.Random("beta", prior.Uniform(0.2, 0.5)),
			model.Fixed("sigma", 1.0/5.2),
			model.Random("gamma", prior.Uniform(0.05, 0.2)),
		},
		Initial: []model.Init{
			{State: "S", Value: 990},
			{State: "E", Value: 5},
			{State: "I", Value: 5},
			{State: "R", Value: 0},
		},
		Uses: []string{"beta", "sigma", "gamma"},
		Derive: func(_ float64, x dynamo.State, p model.Values) dynamo.State {
			s, e, i, r := x[0], x[1], x[2], x[3]
			n := s + e + i + r
			force := 0.0
			if n != 0 {
				force = p.Get("beta") * s * i / n
			}
			incubation := p.Get("sigma") * e
			recovery := p.Get("gamma") * i
			return dynamo.State{-force, force - incubation, incubation - recovery, recovery}
		},
	}
}

// SIRD splits removals into recoveries and deaths.
// State: [S, I, R, D]
func SIRD() model.Spec {
	return model.Spec{
		Name:   "sird",
		States: []string{"S", "I", "R", "D"},
		Params: []model.Param{
			model.Random("beta", prior.Uniform(0.2, 0.4)),
			model.Random("gamma", prior.Uniform(0.05, 0.15)),
			model.Random("mu", prior.Beta(2, 200)),
		},
		Initial: []model.Init{
			{State: "S", Value: 990},
			{State: "I", Value: 10},
			{State: "R", Value: 0},
			{State: "D", Value: 0},
		},
		Uses: []string{"beta", "gamma", "mu"},
		Derive: func(_ float64, x dynamo.State, p model.Values) dynamo.State {
			s, i, r, d := x[0], x[1], x[2], x[3]
			n := s + i + r + d
			force := 0.0
			if n != 0 {
				force = p.Get("beta") * s * i / n
			}
			recovery := p.Get("gamma") * i
			death := p.Get("mu") * i
			return dynamo.State{-force, force - recovery - death, recovery, death}
		},
		Observables: []model.Observable{
			{Name: "alive", Fn: func(x dynamo.State, _ model.Values) float64 { return x[0] + x[1] + x[2] }},
		},
	}
}
