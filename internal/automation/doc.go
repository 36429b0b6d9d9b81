// Package automation runs scripted scenarios: YAML files listing experiment
// operations that execute in order, with calibrated posteriors handed to
// later forecast and optimize steps by name.
package automation
