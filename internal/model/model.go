package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/prior"
)

// Param declares a model parameter as either fixed or random.
type Param struct {
	Name  string
	Value float64
	Prior prior.Prior
}

// Fixed declares a parameter that never receives posterior updates.
func Fixed(name string, v float64) Param { return Param{Name: name, Value: v} }

// Random declares a parameter drawn from p once per simulation call.
func Random(name string, p prior.Prior) Param { return Param{Name: name, Prior: p} }

func (p Param) IsRandom() bool { return p.Prior != nil }

// Init declares the initial value of one state variable.
type Init struct {
	State string
	Value float64
	Prior prior.Prior
}

// Observable is a quantity derived from the state and parameters.
type Observable struct {
	Name string
	Fn   func(x dynamo.State, p Values) float64
}

// DeriveFunc computes dx/dt. It must not keep state between calls.
type DeriveFunc func(t float64, x dynamo.State, p Values) dynamo.State

// Spec is everything needed to construct a Model. Uses lists the parameter
// names Derive reads. Construction also evaluates Derive and the observables
// once, so a read of an undeclared name fails there even without Uses.
type Spec struct {
	Name        string
	States      []string
	Params      []Param
	Initial     []Init
	Uses        []string
	Derive      DeriveFunc
	Observables []Observable
}

// Site is a random draw required by one simulation call.
type Site struct {
	Name  string
	Prior prior.Prior
	// Param is the schema slot for parameter sites, or -1.
	Param int
	// State is the state index for initial-state sites, or -1.
	State int
}

// Model is an immutable dynamical system with a validated parameter schema.
// It is safe for concurrent use.
type Model struct {
	name        string
	states      []string
	stateIndex  map[string]int
	schema      *Schema
	params      []Param
	initial     []Init
	derive      DeriveFunc
	observables []Observable
	sites       []Site
}

func New(spec Spec) (*Model, error) {
	if spec.Derive == nil {
		return nil, dynamo.Configf("model", "%q has no derivative function", spec.Name)
	}
	if len(spec.States) == 0 {
		return nil, dynamo.Configf("model", "%q declares no state variables", spec.Name)
	}

	m := &Model{
		name:        spec.Name,
		states:      append([]string(nil), spec.States...),
		stateIndex:  make(map[string]int, len(spec.States)),
		params:      append([]Param(nil), spec.Params...),
		derive:      spec.Derive,
		observables: append([]Observable(nil), spec.Observables...),
	}
	for i, s := range spec.States {
		if s == "" {
			return nil, dynamo.Configf("states", "empty state name at position %d", i)
		}
		if _, dup := m.stateIndex[s]; dup {
			return nil, dynamo.Configf("states", "duplicate state %q", s)
		}
		m.stateIndex[s] = i
	}

	names := make([]string, len(spec.Params))
	for i, p := range spec.Params {
		names[i] = p.Name
	}
	schema, err := NewSchema(names)
	if err != nil {
		return nil, err
	}
	m.schema = schema

	for _, name := range spec.Uses {
		if _, ok := schema.Index(name); !ok {
			return nil, dynamo.Configf("params", "%q uses undeclared parameter %q", spec.Name, name)
		}
	}

	for i, p := range m.params {
		if p.IsRandom() {
			if err := p.Prior.Validate(); err != nil {
				return nil, dynamo.Configf("params", "%s: %v", p.Name, err)
			}
			m.sites = append(m.sites, Site{Name: p.Name, Prior: p.Prior, Param: i, State: -1})
		} else if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return nil, dynamo.Configf("params", "%s: fixed value must be finite", p.Name)
		}
	}

	m.initial = make([]Init, len(m.states))
	seen := make([]bool, len(m.states))
	for _, in := range spec.Initial {
		idx, ok := m.stateIndex[in.State]
		if !ok {
			return nil, dynamo.Configf("initial", "unknown state %q", in.State)
		}
		if seen[idx] {
			return nil, dynamo.Configf("initial", "state %q initialised twice", in.State)
		}
		seen[idx] = true
		m.initial[idx] = in
	}
	for i, ok := range seen {
		if !ok {
			return nil, dynamo.Configf("initial", "state %q has no initial value", m.states[i])
		}
		in := m.initial[i]
		if in.Prior != nil {
			if err := in.Prior.Validate(); err != nil {
				return nil, dynamo.Configf("initial", "%s: %v", in.State, err)
			}
			m.sites = append(m.sites, Site{Name: InitSite(in.State), Prior: in.Prior, Param: -1, State: i})
		}
	}

	obsSeen := make(map[string]bool, len(m.observables))
	for _, o := range m.observables {
		if o.Fn == nil || o.Name == "" {
			return nil, dynamo.Configf("observables", "observable %q is incomplete", o.Name)
		}
		if _, clash := m.stateIndex[o.Name]; clash || obsSeen[o.Name] {
			return nil, dynamo.Configf("observables", "duplicate variable name %q", o.Name)
		}
		obsSeen[o.Name] = true
	}

	if err := m.checkLookups(); err != nil {
		return nil, err
	}
	return m, nil
}

// checkLookups evaluates the derivative and every observable once at the
// start values, with random sites at their prior means, and fails if any
// of them reads a parameter the schema does not declare.
func (m *Model) checkLookups() error {
	draw := make([]float64, len(m.sites))
	for i, s := range m.sites {
		draw[i] = s.Prior.Mean()
		if math.IsNaN(draw[i]) || math.IsInf(draw[i], 0) {
			draw[i] = 0
		}
	}
	res, err := m.Bind(draw)
	if err != nil {
		return err
	}
	p := res.Params
	p.unknown = make(map[string]bool)
	m.derive(0, res.Init.Clone(), p)
	for _, o := range m.observables {
		o.Fn(res.Init.Clone(), p)
	}
	if len(p.unknown) == 0 {
		return nil
	}
	names := make([]string, 0, len(p.unknown))
	for name := range p.unknown {
		names = append(names, name)
	}
	sort.Strings(names)
	return dynamo.Configf("params", "%q reads undeclared parameters %v", m.name, names)
}

// InitSite is the site name of a random initial state.
func InitSite(state string) string { return "init." + state }

func (m *Model) Name() string     { return m.name }
func (m *Model) Schema() *Schema  { return m.schema }
func (m *Model) StateDim() int    { return len(m.states) }
func (m *Model) Sites() []Site    { return append([]Site(nil), m.sites...) }
func (m *Model) NumSites() int    { return len(m.sites) }
func (m *Model) States() []string { return append([]string(nil), m.states...) }

func (m *Model) StateIndex(name string) (int, bool) {
	i, ok := m.stateIndex[name]
	return i, ok
}

func (m *Model) ObservableNames() []string {
	out := make([]string, len(m.observables))
	for i, o := range m.observables {
		out[i] = o.Name
	}
	return out
}

// HasVariable reports whether name is a state variable or an observable.
func (m *Model) HasVariable(name string) bool {
	if _, ok := m.stateIndex[name]; ok {
		return true
	}
	for _, o := range m.observables {
		if o.Name == name {
			return true
		}
	}
	return false
}

// Resolved is the concrete parameter table and initial state of one call.
type Resolved struct {
	Params Values
	Init   dynamo.State
}

// Bind combines fixed values with a draw for every site, in Sites() order.
func (m *Model) Bind(draw []float64) (*Resolved, error) {
	if len(draw) != len(m.sites) {
		return nil, dynamo.Configf("draw", "model %q has %d random sites, got %d values", m.name, len(m.sites), len(draw))
	}
	vals := make(dynamo.Params, len(m.params))
	for i, p := range m.params {
		vals[i] = p.Value
	}
	x0 := make(dynamo.State, len(m.states))
	for i, in := range m.initial {
		x0[i] = in.Value
	}
	for k, s := range m.sites {
		v := draw[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, dynamo.Configf("draw", "site %q resolved to non-finite value", s.Name)
		}
		if s.Param >= 0 {
			vals[s.Param] = v
		} else {
			x0[s.State] = v
		}
	}
	return &Resolved{Params: Values{schema: m.schema, vals: vals}, Init: x0}, nil
}

// Derivative closes the derivative over a resolved parameter table.
func (m *Model) Derivative(p Values) dynamo.Func {
	return func(t float64, x dynamo.State) dynamo.State {
		return m.derive(t, x, p)
	}
}

// Observe evaluates every observable at x.
func (m *Model) Observe(x dynamo.State, p Values) []float64 {
	out := make([]float64, len(m.observables))
	for i, o := range m.observables {
		out[i] = o.Fn(x, p)
	}
	return out
}

func (m *Model) String() string {
	return fmt.Sprintf("%s(states=%v, params=%v, sites=%d)", m.name, m.states, m.schema.Names(), len(m.sites))
}
