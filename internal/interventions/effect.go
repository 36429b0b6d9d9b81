package interventions

import (
	"fmt"
	"math"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/model"
)

// Apply is a compiled effect. It must not modify x or p; it returns the new
// state and parameter table.
type Apply func(t float64, x dynamo.State, p model.Values) (dynamo.State, model.Values)

// Effect changes state or parameters when an intervention fires. Bind
// resolves names against a model so unknown targets fail before any solve.
type Effect interface {
	Bind(m *model.Model) (Apply, error)
	String() string
}

type paramEffect struct {
	name string
	desc string
	fn   func(old float64) float64
}

func (e paramEffect) Bind(m *model.Model) (Apply, error) {
	slot, ok := m.Schema().Index(e.name)
	if !ok {
		return nil, dynamo.Configf("intervention", "%s targets unknown parameter %q", e.desc, e.name)
	}
	return func(_ float64, x dynamo.State, p model.Values) (dynamo.State, model.Values) {
		return x, p.With(slot, e.fn(p.At(slot)))
	}, nil
}

func (e paramEffect) String() string { return e.desc }

type stateEffect struct {
	name string
	desc string
	fn   func(old float64) float64
}

func (e stateEffect) Bind(m *model.Model) (Apply, error) {
	idx, ok := m.StateIndex(e.name)
	if !ok {
		return nil, dynamo.Configf("intervention", "%s targets unknown state %q", e.desc, e.name)
	}
	return func(_ float64, x dynamo.State, p model.Values) (dynamo.State, model.Values) {
		next := x.Clone()
		next[idx] = e.fn(x[idx])
		return next, p
	}, nil
}

func (e stateEffect) String() string { return e.desc }

type invalidEffect struct{ err error }

func (e invalidEffect) Bind(*model.Model) (Apply, error) { return nil, e.err }
func (e invalidEffect) String() string                   { return "invalid" }

func checkFinite(desc string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return dynamo.Configf("intervention", "%s: value must be finite", desc)
	}
	return nil
}

// SetParam replaces a parameter value.
func SetParam(name string, v float64) Effect {
	desc := fmt.Sprintf("set %s=%g", name, v)
	if err := checkFinite(desc, v); err != nil {
		return invalidEffect{err}
	}
	return paramEffect{name: name, desc: desc, fn: func(float64) float64 { return v }}
}

// ScaleParam multiplies a parameter by factor.
func ScaleParam(name string, factor float64) Effect {
	desc := fmt.Sprintf("scale %s*%g", name, factor)
	if err := checkFinite(desc, factor); err != nil {
		return invalidEffect{err}
	}
	return paramEffect{name: name, desc: desc, fn: func(old float64) float64 { return old * factor }}
}

// ShiftParam adds delta to a parameter.
func ShiftParam(name string, delta float64) Effect {
	desc := fmt.Sprintf("shift %s%+g", name, delta)
	if err := checkFinite(desc, delta); err != nil {
		return invalidEffect{err}
	}
	return paramEffect{name: name, desc: desc, fn: func(old float64) float64 { return old + delta }}
}

// AssignParam replaces a parameter with fn(old).
func AssignParam(name string, fn func(old float64) float64) Effect {
	desc := fmt.Sprintf("assign %s", name)
	if fn == nil {
		return invalidEffect{dynamo.Configf("intervention", "%s: nil function", desc)}
	}
	return paramEffect{name: name, desc: desc, fn: fn}
}

// SetState replaces the value of a state variable.
func SetState(name string, v float64) Effect {
	desc := fmt.Sprintf("set %s=%g", name, v)
	if err := checkFinite(desc, v); err != nil {
		return invalidEffect{err}
	}
	return stateEffect{name: name, desc: desc, fn: func(float64) float64 { return v }}
}

// ScaleState multiplies a state variable by factor.
func ScaleState(name string, factor float64) Effect {
	desc := fmt.Sprintf("scale %s*%g", name, factor)
	if err := checkFinite(desc, factor); err != nil {
		return invalidEffect{err}
	}
	return stateEffect{name: name, desc: desc, fn: func(old float64) float64 { return old * factor }}
}

// ShiftState adds delta to a state variable.
func ShiftState(name string, delta float64) Effect {
	desc := fmt.Sprintf("shift %s%+g", name, delta)
	if err := checkFinite(desc, delta); err != nil {
		return invalidEffect{err}
	}
	return stateEffect{name: name, desc: desc, fn: func(old float64) float64 { return old + delta }}
}

// AssignState replaces a state variable with fn(old).
func AssignState(name string, fn func(old float64) float64) Effect {
	desc := fmt.Sprintf("assign %s", name)
	if fn == nil {
		return invalidEffect{dynamo.Configf("intervention", "%s: nil function", desc)}
	}
	return stateEffect{name: name, desc: desc, fn: fn}
}

type composite []Effect

// Compose applies effects left to right.
func Compose(effects ...Effect) Effect { return composite(effects) }

func (c composite) Bind(m *model.Model) (Apply, error) {
	if len(c) == 0 {
		return nil, dynamo.Configf("intervention", "empty composite effect")
	}
	applies := make([]Apply, len(c))
	for i, e := range c {
		if e == nil {
			return nil, dynamo.Configf("intervention", "nil effect at position %d", i)
		}
		a, err := e.Bind(m)
		if err != nil {
			return nil, err
		}
		applies[i] = a
	}
	return func(t float64, x dynamo.State, p model.Values) (dynamo.State, model.Values) {
		for _, a := range applies {
			x, p = a(t, x, p)
		}
		return x, p
	}, nil
}

func (c composite) String() string {
	s := ""
	for i, e := range c {
		if i > 0 {
			s += "; "
		}
		if e != nil {
			s += e.String()
		}
	}
	return s
}
