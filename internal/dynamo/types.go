package dynamo

import (
	"fmt"
	"math"
)

// State holds the values of a model's state variables, ordered as the
// model declares them.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	return s.FirstInvalid() < 0
}

// FirstInvalid returns the index of the first NaN or Inf entry, or -1.
func (s State) FirstInvalid() int {
	for i, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Params is a resolved parameter table, ordered by the model's schema.
type Params []float64

func (p Params) Clone() Params {
	c := make(Params, len(p))
	copy(c, p)
	return c
}

// Func is a derivative with every parameter already resolved. It must be
// pure: solvers call it repeatedly, including on rejected steps.
type Func func(t float64, x State) State

// Boundary records what happened at an intervention boundary.
type Boundary struct {
	Time   float64
	Before State
	After  State
	Fired  []string
}

// Trajectory is the output of one simulation call. States[i] is the state at
// Times[i]. A logged time that coincides with an intervention boundary holds
// the post-intervention value; the pre-intervention value is in Boundaries.
type Trajectory struct {
	Names       []string
	Times       []float64
	States      []State
	Observables map[string][]float64
	Boundaries  []Boundary
	Segments    int
}

func NewTrajectory(names []string, capacity int) *Trajectory {
	return &Trajectory{
		Names:       names,
		Times:       make([]float64, 0, capacity),
		States:      make([]State, 0, capacity),
		Observables: make(map[string][]float64),
	}
}

func (tr *Trajectory) Append(t float64, x State) {
	tr.Times = append(tr.Times, t)
	tr.States = append(tr.States, x.Clone())
}

func (tr *Trajectory) Len() int { return len(tr.Times) }

// Index returns the position of a state variable, or -1.
func (tr *Trajectory) Index(name string) int {
	for i, n := range tr.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Series returns the values of a state variable or an observable over time.
func (tr *Trajectory) Series(name string) ([]float64, error) {
	if i := tr.Index(name); i >= 0 {
		out := make([]float64, len(tr.States))
		for k, x := range tr.States {
			out[k] = x[i]
		}
		return out, nil
	}
	if obs, ok := tr.Observables[name]; ok {
		out := make([]float64, len(obs))
		copy(out, obs)
		return out, nil
	}
	return nil, fmt.Errorf("dynamo: unknown variable %q", name)
}

// Final returns the last logged state, or nil for an empty trajectory.
func (tr *Trajectory) Final() State {
	if len(tr.States) == 0 {
		return nil
	}
	return tr.States[len(tr.States)-1].Clone()
}

// Variables lists state names followed by observable names in the order
// given by observableOrder (observables missing from the map are skipped).
func (tr *Trajectory) Variables(observableOrder []string) []string {
	out := make([]string, 0, len(tr.Names)+len(observableOrder))
	out = append(out, tr.Names...)
	for _, name := range observableOrder {
		if _, ok := tr.Observables[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// LogTimes returns start+step, start+2*step, ... strictly below end.
func LogTimes(start, end, step float64) ([]float64, error) {
	if step <= 0 || math.IsNaN(step) {
		return nil, &ConfigError{Field: "logging_step", Reason: fmt.Sprintf("must be positive, got %g", step)}
	}
	if !(end > start) {
		return nil, &ConfigError{Field: "horizon", Reason: fmt.Sprintf("empty time horizon [%g, %g]", start, end)}
	}
	n := int(math.Ceil((end-start)/step)) - 1
	times := make([]float64, 0, n+1)
	for k := 1; ; k++ {
		t := start + float64(k)*step
		if t >= end-1e-12*math.Max(1, math.Abs(end)) {
			break
		}
		times = append(times, t)
	}
	return times, nil
}
