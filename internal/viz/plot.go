package viz

import (
	"fmt"
	"math"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/ensemble"
)

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Band plots the lowest, median and highest reported quantiles of one
// variable of an ensemble summary.
func Band(s *ensemble.Summary, variable string, width, height int) (string, error) {
	if len(s.Quantiles) == 0 {
		return "", fmt.Errorf("summary has no quantiles")
	}
	lo, hi := s.Quantiles[0], s.Quantiles[len(s.Quantiles)-1]
	lower, err := s.Band(variable, lo)
	if err != nil {
		return "", err
	}
	upper, err := s.Band(variable, hi)
	if err != nil {
		return "", err
	}
	stats, err := s.Stats(variable)
	if err != nil {
		return "", err
	}
	if len(lower) == 0 {
		return "", fmt.Errorf("no surviving members")
	}
	return asciigraph.PlotMany([][]float64{lower, stats.Mean, upper},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(asciigraph.Blue, asciigraph.Green, asciigraph.Blue),
		asciigraph.Caption(fmt.Sprintf("%s: q%g, mean, q%g over %d/%d members", variable, lo, hi, s.Successes, s.Requested)),
	), nil
}

// Series plots one variable of a trajectory.
func Series(tr *dynamo.Trajectory, variable string, width, height int) (string, error) {
	data, err := tr.Series(variable)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty trajectory")
	}
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("%s vs time, t in [%g, %g]", variable, tr.Times[0], tr.Times[len(tr.Times)-1])),
	), nil
}
