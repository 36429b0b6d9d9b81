package program

import (
	"math"
	"sort"

	"github.com/san-kum/episim/internal/dynamo"
)

// Dataset is a set of observed series on a shared time grid.
type Dataset struct {
	Times  []float64
	Series map[string][]float64
}

// Variables returns the observed names in sorted order.
func (d Dataset) Variables() []string {
	out := make([]string, 0, len(d.Series))
	for name := range d.Series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d Dataset) Len() int { return len(d.Times) }

// validate checks the dataset against a horizon and a variable lookup.
func (d Dataset) validate(start, end float64, known func(string) bool) error {
	if len(d.Times) == 0 || len(d.Series) == 0 {
		return dynamo.Configf("data", "dataset is empty")
	}
	prev := math.Inf(-1)
	for _, t := range d.Times {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return dynamo.Configf("data", "non-finite time %g", t)
		}
		if t < start || t > end {
			return dynamo.Configf("data", "time %g outside horizon [%g, %g]", t, start, end)
		}
		if !(t > prev) {
			return dynamo.Configf("data", "times must be strictly increasing at %g", t)
		}
		prev = t
	}
	for _, name := range d.Variables() {
		if !known(name) {
			return dynamo.Configf("data", "unknown variable %q", name)
		}
		vals := d.Series[name]
		if len(vals) != len(d.Times) {
			return dynamo.Configf("data", "%q has %d values for %d times", name, len(vals), len(d.Times))
		}
		for i, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return dynamo.Configf("data", "%q: non-finite value at t=%g", name, d.Times[i])
			}
		}
	}
	return nil
}
