// Package ensemble runs many independent simulations of a program and
// summarizes them.
//
// Members run in parallel on a bounded worker pool. Member i draws its site
// values from a generator seeded by (seed, i), so a result depends on the
// seed and N but not on the worker count or scheduling. Members that
// diverge are dropped; the summary reports how many survived and is
// computed over the survivors only.
package ensemble
