package ensemble

import (
	"encoding/csv"
	"io"
	"strconv"
)

// Table flattens the survivors into one row per (time, member):
// timepoint_id, sample_id, timepoint, then <site>_param for every random
// site and <variable>_state for every state and observable.
func (r *Result) Table() (header []string, rows [][]string) {
	header = []string{"timepoint_id", "sample_id", "timepoint"}
	for _, s := range r.Sites {
		header = append(header, s+"_param")
	}
	var names []string
	if r.Summary != nil {
		names = r.Summary.Variables
	}
	for _, v := range names {
		header = append(header, v+"_state")
	}

	survivors := r.Survivors()
	series := make([]map[string][]float64, len(survivors))
	for k, m := range survivors {
		series[k], _ = seriesOf(m.Trajectory, names, nil)
	}
	for j, t := range r.Times {
		for k, m := range survivors {
			row := []string{strconv.Itoa(j), strconv.Itoa(m.Index), format(t)}
			for _, v := range m.Values {
				row = append(row, format(v))
			}
			for _, v := range names {
				row = append(row, format(series[k][v][j]))
			}
			rows = append(rows, row)
		}
	}
	return header, rows
}

// WriteCSV writes Table as CSV.
func (r *Result) WriteCSV(w io.Writer) error {
	header, rows := r.Table()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// WriteCSV writes one row per (variable, time) with the mean,
// variance and requested quantiles.
func (s *Summary) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"variable", "timepoint", "mean", "variance"}
	for _, q := range s.Quantiles {
		header = append(header, "q"+format(q))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, name := range s.Variables {
		st, ok := s.Series[name]
		if !ok {
			continue
		}
		for j, t := range s.Times {
			row := []string{name, format(t), format(st.Mean[j]), format(st.Variance[j])}
			for k := range s.Quantiles {
				row = append(row, format(st.Quantiles[k][j]))
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func format(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
