package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/episim/internal/dynamo"
)

// QoI reduces a trajectory to one number.
type QoI func(tr *dynamo.Trajectory) (float64, error)

func series(tr *dynamo.Trajectory, name string) ([]float64, error) {
	if tr == nil || tr.Len() == 0 {
		return nil, fmt.Errorf("analysis: empty trajectory")
	}
	return tr.Series(name)
}

// Peak returns the time and value of the maximum of a variable. Ties keep
// the earliest time.
func Peak(tr *dynamo.Trajectory, name string) (t, v float64, err error) {
	s, err := series(tr, name)
	if err != nil {
		return math.NaN(), math.NaN(), err
	}
	k := 0
	for i, x := range s {
		if x > s[k] {
			k = i
		}
	}
	return tr.Times[k], s[k], nil
}

// SignChangeTime returns the first time at which the discrete derivative of
// a variable turns from positive to non-positive, the logged-grid estimate
// of a local maximum. ok is false if the derivative never changes sign.
func SignChangeTime(tr *dynamo.Trajectory, name string) (t float64, ok bool, err error) {
	s, err := series(tr, name)
	if err != nil {
		return math.NaN(), false, err
	}
	for i := 2; i < len(s); i++ {
		if s[i-1]-s[i-2] > 0 && s[i]-s[i-1] <= 0 {
			return tr.Times[i-1], true, nil
		}
	}
	return math.NaN(), false, nil
}

// CrossingTime returns the first time a variable rises through level,
// linearly interpolated between logged points.
func CrossingTime(tr *dynamo.Trajectory, name string, level float64) (t float64, ok bool, err error) {
	s, err := series(tr, name)
	if err != nil {
		return math.NaN(), false, err
	}
	if s[0] >= level {
		return tr.Times[0], true, nil
	}
	for i := 1; i < len(s); i++ {
		if s[i-1] < level && s[i] >= level {
			frac := (level - s[i-1]) / (s[i] - s[i-1])
			return tr.Times[i-1] + frac*(tr.Times[i]-tr.Times[i-1]), true, nil
		}
	}
	return math.NaN(), false, nil
}

func PeakValue(name string) QoI {
	return func(tr *dynamo.Trajectory) (float64, error) {
		_, v, err := Peak(tr, name)
		return v, err
	}
}

func PeakTime(name string) QoI {
	return func(tr *dynamo.Trajectory) (float64, error) {
		t, _, err := Peak(tr, name)
		return t, err
	}
}

func FinalValue(name string) QoI {
	return func(tr *dynamo.Trajectory) (float64, error) {
		s, err := series(tr, name)
		if err != nil {
			return math.NaN(), err
		}
		return s[len(s)-1], nil
	}
}

// NDayAverage averages a variable over the last n logged points.
func NDayAverage(name string, n int) QoI {
	return func(tr *dynamo.Trajectory) (float64, error) {
		if n < 1 {
			return math.NaN(), dynamo.Configf("qoi", "window must be positive, got %d", n)
		}
		s, err := series(tr, name)
		if err != nil {
			return math.NaN(), err
		}
		k := min(n, len(s))
		return stat.Mean(s[len(s)-k:], nil), nil
	}
}

// ParseQoI builds a QoI from its name: "peak", "peak_time", "final" or
// "average" (with window days).
func ParseQoI(kind, variable string, window int) (QoI, error) {
	switch kind {
	case "peak", "":
		return PeakValue(variable), nil
	case "peak_time":
		return PeakTime(variable), nil
	case "final":
		return FinalValue(variable), nil
	case "average":
		if window < 1 {
			return nil, dynamo.Configf("qoi", "average needs a positive window, got %d", window)
		}
		return NDayAverage(variable, window), nil
	}
	return nil, dynamo.Configf("qoi", "unknown quantity %q", kind)
}
