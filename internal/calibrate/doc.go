// Package calibrate infers the random sites of a conditioned program.
//
// Three methods are available: a mean-field Gaussian variational fit, a
// random-walk Metropolis sampler and a Nelder-Mead posterior mode. All of
// them work over unconstrained coordinates, count divergent simulations
// against a failure budget and return a Posterior that ensembles can sample.
package calibrate
