package calibrate

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/episim/internal/dynamo"
)

// DivergenceRateError aborts a calibration whose simulations diverge too
// often. Region holds, per site, the smallest and largest value among the
// divergent draws.
type DivergenceRateError struct {
	Attempts    int
	Divergences int
	Limit       float64
	Sites       []string
	Region      [][2]float64
}

func (e *DivergenceRateError) Rate() float64 {
	if e.Attempts == 0 {
		return 0
	}
	return float64(e.Divergences) / float64(e.Attempts)
}

func (e *DivergenceRateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %d of %d simulations failed (%.0f%% > %.0f%%)",
		dynamo.ErrDivergence, e.Divergences, e.Attempts, 100*e.Rate(), 100*e.Limit)
	if len(e.Region) > 0 {
		b.WriteString("; divergent region:")
		for i, s := range e.Sites {
			fmt.Fprintf(&b, " %s in [%.4g, %.4g]", s, e.Region[i][0], e.Region[i][1])
		}
	}
	return b.String()
}

func (e *DivergenceRateError) Unwrap() error { return dynamo.ErrDivergence }

// region returns the per-site bounding box of the given draws.
func region(draws [][]float64, dim int) [][2]float64 {
	if len(draws) == 0 {
		return nil
	}
	out := make([][2]float64, dim)
	for j := range out {
		out[j] = [2]float64{math.Inf(1), math.Inf(-1)}
	}
	for _, d := range draws {
		for j, v := range d {
			out[j][0] = math.Min(out[j][0], v)
			out[j][1] = math.Max(out[j][1], v)
		}
	}
	return out
}
