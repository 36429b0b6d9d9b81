package interventions

import (
	"math"
	"sort"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/model"
)

// Cursor tracks which interventions have fired during one run. It is not
// safe for concurrent use.
type Cursor struct {
	bound *Bound
	// next[k] is the next firing time of the k-th static intervention in
	// sorted order, +Inf once spent.
	next  []float64
	armed []bool
}

func timeEps(t float64) float64 { return 1e-9 * math.Max(1, math.Abs(t)) }

// NextBoundary returns the earliest pending static firing time strictly
// after t.
func (c *Cursor) NextBoundary(t float64) (float64, bool) {
	best := math.Inf(1)
	for _, nt := range c.next {
		if nt > t+timeEps(t) && nt < best {
			best = nt
		}
	}
	return best, !math.IsInf(best, 1)
}

// ApplyDue applies every static intervention due at t, ties in declaration
// order, and returns the new state and parameters, the next static boundary
// (+Inf if none) and the names of the interventions that fired.
func (c *Cursor) ApplyDue(t float64, x dynamo.State, p model.Values) (dynamo.State, model.Values, float64, []string) {
	var due []int
	for k, nt := range c.next {
		if math.Abs(nt-t) <= timeEps(t) || nt < t {
			due = append(due, k)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		return c.bound.set.static[due[a]] < c.bound.set.static[due[b]]
	})

	var fired []string
	for _, k := range due {
		i := c.bound.set.static[k]
		iv := c.bound.set.items[i]
		x, p = c.bound.applies[i](t, x, p)
		fired = append(fired, iv.Name)
		if tr := iv.Trigger.(staticTrigger); tr.period > 0 {
			for c.next[k] <= t+timeEps(t) {
				c.next[k] += tr.period
			}
		} else {
			c.next[k] = math.Inf(1)
		}
	}
	next, _ := c.NextBoundary(t)
	return x, p, next, fired
}

// Watching reports whether any state trigger is still armed.
func (c *Cursor) Watching() bool {
	for _, a := range c.armed {
		if a {
			return true
		}
	}
	return false
}

// Crossed returns the armed state triggers whose event function changed sign
// between (ta, xa) and (tb, xb) under parameters p. A trigger sitting exactly
// on zero at ta does not count as crossing.
func (c *Cursor) Crossed(ta float64, xa dynamo.State, tb float64, xb dynamo.State, p model.Values) []int {
	var out []int
	for k, armed := range c.armed {
		if !armed {
			continue
		}
		fn := c.bound.set.items[c.bound.set.dynamic[k]].Trigger.(stateTrigger).fn
		ga, gb := fn(ta, xa, p), fn(tb, xb, p)
		if math.IsNaN(ga) || math.IsNaN(gb) || ga == 0 {
			continue
		}
		if gb == 0 || math.Signbit(ga) != math.Signbit(gb) {
			out = append(out, k)
		}
	}
	return out
}

// Fire applies the state triggers returned by Crossed, in declaration order,
// and disarms the non-recurring ones.
func (c *Cursor) Fire(ks []int, t float64, x dynamo.State, p model.Values) (dynamo.State, model.Values, []string) {
	ks = append([]int(nil), ks...)
	sort.Ints(ks)
	var fired []string
	for _, k := range ks {
		if !c.armed[k] {
			continue
		}
		i := c.bound.set.dynamic[k]
		iv := c.bound.set.items[i]
		x, p = c.bound.applies[i](t, x, p)
		fired = append(fired, iv.Name)
		if !iv.Recurring {
			c.armed[k] = false
		}
	}
	return x, p, fired
}
