package interventions

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/model"
)

// EventFunc is a state trigger condition. The trigger fires when its value
// changes sign between two checked states.
type EventFunc func(t float64, x dynamo.State, p model.Values) float64

// Trigger decides when an intervention fires.
type Trigger interface {
	fmt.Stringer
	isTrigger()
}

type staticTrigger struct {
	time   float64
	period float64
	every  bool
}

func (staticTrigger) isTrigger() {}

func (s staticTrigger) String() string {
	if s.period > 0 {
		return fmt.Sprintf("every %g from t=%g", s.period, s.time)
	}
	return fmt.Sprintf("t=%g", s.time)
}

type stateTrigger struct{ fn EventFunc }

func (stateTrigger) isTrigger()     {}
func (stateTrigger) String() string { return "on sign change" }

// At fires once at time t.
func At(t float64) Trigger { return staticTrigger{time: t} }

// Every fires at start, start+period, start+2*period, ...
func Every(start, period float64) Trigger { return staticTrigger{time: start, period: period, every: true} }

// When fires when fn changes sign along the trajectory.
func When(fn EventFunc) Trigger { return stateTrigger{fn: fn} }

// Intervention is a triggered change to state or parameters. Recurring only
// matters for state triggers: a recurring trigger re-arms after it fires.
// Every triggers always recur; At triggers fire once.
type Intervention struct {
	Name      string
	Trigger   Trigger
	Effect    Effect
	Recurring bool
}

func (iv Intervention) String() string {
	return fmt.Sprintf("%s: %v at %v", iv.Name, iv.Effect, iv.Trigger)
}

// Set is an immutable, validated collection of interventions. Static
// interventions are ordered by time, ties by declaration order.
type Set struct {
	items   []Intervention
	static  []int
	dynamic []int
}

// NewSet validates the interventions and orders the static ones. An empty
// set is valid.
func NewSet(items ...Intervention) (*Set, error) {
	s := &Set{items: make([]Intervention, len(items))}
	names := make(map[string]bool, len(items))
	for i, iv := range items {
		if iv.Name == "" {
			iv.Name = fmt.Sprintf("intervention-%d", i)
		}
		if names[iv.Name] {
			return nil, dynamo.Configf("interventions", "duplicate name %q", iv.Name)
		}
		names[iv.Name] = true
		if iv.Effect == nil {
			return nil, dynamo.Configf("interventions", "%s has no effect", iv.Name)
		}
		switch tr := iv.Trigger.(type) {
		case staticTrigger:
			if math.IsNaN(tr.time) || math.IsInf(tr.time, 0) {
				return nil, dynamo.Configf("interventions", "%s: time must be finite", iv.Name)
			}
			if tr.every && (math.IsInf(tr.period, 0) || !(tr.period > 0)) {
				return nil, dynamo.Configf("interventions", "%s: period must be positive", iv.Name)
			}
			s.static = append(s.static, i)
		case stateTrigger:
			if tr.fn == nil {
				return nil, dynamo.Configf("interventions", "%s: nil event function", iv.Name)
			}
			s.dynamic = append(s.dynamic, i)
		default:
			return nil, dynamo.Configf("interventions", "%s has no trigger", iv.Name)
		}
		s.items[i] = iv
	}
	sort.SliceStable(s.static, func(a, b int) bool {
		return s.items[s.static[a]].Trigger.(staticTrigger).time < s.items[s.static[b]].Trigger.(staticTrigger).time
	})
	return s, nil
}

func (s *Set) Len() int { return len(s.items) }

// Items returns the interventions with static ones first in firing order.
func (s *Set) Items() []Intervention {
	out := make([]Intervention, 0, len(s.items))
	for _, i := range s.static {
		out = append(out, s.items[i])
	}
	for _, i := range s.dynamic {
		out = append(out, s.items[i])
	}
	return out
}

// Validate checks every effect target against the model.
func (s *Set) Validate(m *model.Model) error {
	_, err := s.Bind(m)
	return err
}

// Bind compiles every effect against m. The result is immutable and may be
// shared by concurrent runs; each run takes its own Cursor.
func (s *Set) Bind(m *model.Model) (*Bound, error) {
	if m == nil {
		return nil, dynamo.Configf("interventions", "nil model")
	}
	b := &Bound{set: s, applies: make([]Apply, len(s.items))}
	for i, iv := range s.items {
		a, err := iv.Effect.Bind(m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", iv.Name, err)
		}
		b.applies[i] = a
	}
	return b, nil
}

// Bound is a Set whose effects have been resolved against a model.
type Bound struct {
	set     *Set
	applies []Apply
}

// Empty reports whether there is nothing to apply.
func (b *Bound) Empty() bool { return b == nil || len(b.set.items) == 0 }

// Start returns fresh firing bookkeeping for a run beginning at t0. Static
// interventions scheduled before t0 never fire; those at t0 are due
// immediately.
func (b *Bound) Start(t0 float64) *Cursor {
	c := &Cursor{bound: b}
	if b == nil {
		return c
	}
	c.next = make([]float64, len(b.set.static))
	for k, i := range b.set.static {
		tr := b.set.items[i].Trigger.(staticTrigger)
		switch {
		case tr.time >= t0:
			c.next[k] = tr.time
		case tr.period > 0:
			n := math.Ceil((t0 - tr.time) / tr.period)
			c.next[k] = tr.time + n*tr.period
		default:
			c.next[k] = math.Inf(1)
		}
	}
	c.armed = make([]bool, len(b.set.dynamic))
	for k := range c.armed {
		c.armed[k] = true
	}
	return c
}
