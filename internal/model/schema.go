package model

import (
	"math"

	"github.com/san-kum/episim/internal/dynamo"
)

// Schema is the ordered, validated set of parameter slots of a model.
type Schema struct {
	names []string
	index map[string]int
}

func NewSchema(names []string) (*Schema, error) {
	s := &Schema{names: append([]string(nil), names...), index: make(map[string]int, len(names))}
	for i, n := range names {
		if n == "" {
			return nil, dynamo.Configf("params", "empty parameter name at position %d", i)
		}
		if _, dup := s.index[n]; dup {
			return nil, dynamo.Configf("params", "duplicate parameter %q", n)
		}
		s.index[n] = i
	}
	return s, nil
}

func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *Schema) Names() []string { return append([]string(nil), s.names...) }
func (s *Schema) Len() int        { return len(s.names) }

// Values is a resolved parameter table bound to its schema. The zero value
// is empty. Values is never mutated in place; With returns a copy.
type Values struct {
	schema *Schema
	vals   dynamo.Params
	// unknown, when set, collects names Get could not resolve.
	unknown map[string]bool
}

// NewValues builds a table directly; mostly useful in tests.
func NewValues(s *Schema, vals []float64) Values {
	return Values{schema: s, vals: append(dynamo.Params(nil), vals...)}
}

// Get returns the value of a named parameter, or NaN if it is not declared.
func (v Values) Get(name string) float64 {
	var i int
	ok := false
	if v.schema != nil {
		i, ok = v.schema.index[name]
	}
	if !ok {
		if v.unknown != nil {
			v.unknown[name] = true
		}
		return math.NaN()
	}
	return v.vals[i]
}

func (v Values) At(slot int) float64 { return v.vals[slot] }
func (v Values) Len() int            { return len(v.vals) }
func (v Values) Schema() *Schema     { return v.schema }
func (v Values) Raw() dynamo.Params  { return v.vals.Clone() }

// With returns a copy with one slot replaced.
func (v Values) With(slot int, x float64) Values {
	c := v.vals.Clone()
	c[slot] = x
	return Values{schema: v.schema, vals: c}
}

// Map returns the table keyed by name.
func (v Values) Map() map[string]float64 {
	out := make(map[string]float64, len(v.vals))
	if v.schema == nil {
		return out
	}
	for i, n := range v.schema.names {
		out[n] = v.vals[i]
	}
	return out
}
