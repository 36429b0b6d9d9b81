package sim

import (
	"log/slog"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/interventions"
	"github.com/san-kum/episim/internal/model"
)

// Config bounds one simulation call.
type Config struct {
	// MaxSegments caps the number of integration segments, including those
	// cut short by state triggers.
	MaxSegments int
	// EventTolerance is the width to which a state-trigger crossing is
	// localized.
	EventTolerance float64
	// MaxCheckInterval is the longest stretch integrated between two
	// state-trigger checks. Zero means 1% of the horizon.
	MaxCheckInterval float64
}

func DefaultConfig() Config {
	return Config{
		MaxSegments:    10000,
		EventTolerance: 1e-6,
	}
}

// Request is the input of one simulation call. Interventions may be nil.
// Times are the logging times; each must lie in [Start, End] and they must
// be strictly increasing.
type Request struct {
	Model         *model.Model
	Resolved      *model.Resolved
	Interventions *interventions.Bound
	Start         float64
	End           float64
	Times         []float64
}

// Segment describes one finished integration segment.
type Segment struct {
	Index int
	Start float64
	End   float64
	Steps int
	Evals int
}

// Observer receives segment and boundary events as a run progresses. It is
// called from the goroutine running the simulation.
type Observer interface {
	OnSegment(seg Segment)
	OnBoundary(b dynamo.Boundary)
}

// Option configures a Simulator.
type Option func(*Simulator)

func WithConfig(cfg Config) Option     { return func(s *Simulator) { s.cfg = cfg } }
func WithLogger(l *slog.Logger) Option { return func(s *Simulator) { s.logger = l } }
func WithObserver(o Observer) Option   { return func(s *Simulator) { s.observers = append(s.observers, o) } }
