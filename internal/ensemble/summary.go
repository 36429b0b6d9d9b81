package ensemble

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/episim/internal/dynamo"
)

// Summary holds per-variable, per-time statistics over the surviving
// members. Requested counts every member asked for; Successes and Failures
// count those that finished. Statistics are never padded for missing
// members.
type Summary struct {
	Requested int
	Successes int
	Failures  int
	Times     []float64
	Quantiles []float64
	Variables []string
	Series    map[string]*Stats
}

// Stats are the statistics of one variable. Quantiles[k][j] is the k-th
// requested quantile at Times[j].
type Stats struct {
	Mean      []float64
	Variance  []float64
	Quantiles [][]float64
}

// Stats returns the statistics of a variable.
func (s *Summary) Stats(name string) (*Stats, error) {
	st, ok := s.Series[name]
	if !ok {
		return nil, dynamo.Configf("summary", "no statistics for %q", name)
	}
	return st, nil
}

// Band returns the q-quantile series of a variable. q must be one of the
// requested quantiles.
func (s *Summary) Band(name string, q float64) ([]float64, error) {
	st, err := s.Stats(name)
	if err != nil {
		return nil, err
	}
	for k, qq := range s.Quantiles {
		if qq == q {
			return append([]float64(nil), st.Quantiles[k]...), nil
		}
	}
	return nil, dynamo.Configf("summary", "quantile %g was not requested", q)
}

// SuccessRate is Successes / Requested.
func (s *Summary) SuccessRate() float64 {
	if s.Requested == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requested)
}

// collect extracts the outputs of every successful member in order and
// counts the failed ones.
func collect(members []Member, fn func(Member) (map[string][]float64, error)) ([]map[string][]float64, int) {
	var (
		outputs  []map[string][]float64
		failures int
	)
	for _, m := range members {
		if !m.OK() {
			failures++
			continue
		}
		out, err := fn(m)
		if err != nil {
			failures++
			continue
		}
		outputs = append(outputs, out)
	}
	return outputs, failures
}

// seriesOf reads the named variables of a trajectory. mapping renames an
// output to the trajectory variable backing it; nil means identity.
func seriesOf(tr *dynamo.Trajectory, names []string, mapping map[string]string) (map[string][]float64, error) {
	if tr == nil {
		return nil, fmt.Errorf("ensemble: no trajectory")
	}
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		src := name
		if mapping != nil {
			src = mapping[name]
		}
		s, err := tr.Series(src)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

func summarize(requested, failures int, times, qs []float64, names []string, outputs []map[string][]float64) *Summary {
	sum := &Summary{
		Requested: requested,
		Successes: len(outputs),
		Failures:  failures,
		Times:     append([]float64(nil), times...),
		Quantiles: append([]float64(nil), qs...),
		Variables: append([]string(nil), names...),
		Series:    make(map[string]*Stats, len(names)),
	}
	if len(outputs) == 0 {
		return sum
	}
	col := make([]float64, len(outputs))
	for _, name := range names {
		st := &Stats{
			Mean:      make([]float64, len(times)),
			Variance:  make([]float64, len(times)),
			Quantiles: make([][]float64, len(qs)),
		}
		for k := range qs {
			st.Quantiles[k] = make([]float64, len(times))
		}
		for j := range times {
			for i, out := range outputs {
				col[i] = out[name][j]
			}
			st.Mean[j] = stat.Mean(col, nil)
			if len(col) > 1 {
				st.Variance[j] = stat.Variance(col, nil)
			}
			sort.Float64s(col)
			for k, q := range qs {
				st.Quantiles[k][j] = stat.Quantile(q, stat.Empirical, col, nil)
			}
		}
		sum.Series[name] = st
	}
	return sum
}
