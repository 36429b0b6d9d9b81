// Package program turns a model and its interventions into a probabilistic
// program: a draw phase that samples every random site from its prior and a
// deterministic simulation phase. A Conditioned program also scores the
// simulated trajectory against observed data.
package program
