// Package models provides built-in compartmental and growth models.
//
// Each constructor returns a [model.Spec] with default parameters and priors
// so callers can override entries before calling [model.New]:
//
//   - [SIR]: susceptible-infected-recovered
//   - [SEIR]: SIR with a latent (exposed) compartment
//   - [SIRD]: SIR with deaths
//   - [Decay]: exponential decay dx/dt = -k x
//   - [Logistic]: logistic growth dx/dt = r x (1 - x/K)
//
// # Example
//
//	spec := models.SIR()
//	spec.Params[0] = model.Random("beta", prior.Uniform(0.2, 0.4))
//	m, err := model.New(spec)
package models
