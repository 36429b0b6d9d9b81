package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/program"
)

// ReadDataset parses observations from CSV. The first column holds times
// and is named "time" or "t"; every other column is an observed variable.
func ReadDataset(r io.Reader) (program.Dataset, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return program.Dataset{}, dynamo.Configf("data", "%v", err)
	}
	if len(records) < 2 {
		return program.Dataset{}, dynamo.Configf("data", "need a header and at least one row")
	}
	header := records[0]
	if len(header) < 2 {
		return program.Dataset{}, dynamo.Configf("data", "need a time column and at least one variable")
	}
	if h := strings.ToLower(strings.TrimSpace(header[0])); h != "time" && h != "t" {
		return program.Dataset{}, dynamo.Configf("data", "first column must be time, got %q", header[0])
	}

	data := program.Dataset{
		Times:  make([]float64, 0, len(records)-1),
		Series: make(map[string][]float64, len(header)-1),
	}
	for _, name := range header[1:] {
		data.Series[strings.TrimSpace(name)] = make([]float64, 0, len(records)-1)
	}
	for i, record := range records[1:] {
		for j, field := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return program.Dataset{}, dynamo.Configf("data", "row %d, column %q: %v", i+1, header[j], err)
			}
			if j == 0 {
				data.Times = append(data.Times, v)
				continue
			}
			name := strings.TrimSpace(header[j])
			data.Series[name] = append(data.Series[name], v)
		}
	}
	return data, nil
}

func LoadDataset(path string) (program.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return program.Dataset{}, err
	}
	defer f.Close()
	return ReadDataset(f)
}

// Resampler is a program.Source that draws stored posterior rows uniformly.
type Resampler struct {
	rows [][]float64
}

func (r *Resampler) Values(rng *rand.Rand) ([]float64, error) {
	if len(r.rows) == 0 {
		return nil, fmt.Errorf("resampler: no rows")
	}
	return slices.Clone(r.rows[rng.IntN(len(r.rows))]), nil
}

// PosteriorSource loads a calibration run as a source for the given site
// order. The stored sites must match exactly.
func (s *Store) PosteriorSource(runID string, sites []string) (*Resampler, error) {
	stored, rows, err := s.LoadPosterior(runID)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(stored, sites) {
		return nil, dynamo.Configf("posterior", "run %s has sites %v, program has %v", runID, stored, sites)
	}
	if len(rows) == 0 {
		return nil, dynamo.Configf("posterior", "run %s has no samples", runID)
	}
	return &Resampler{rows: rows}, nil
}

type ExportData struct {
	Model       string               `json:"model"`
	Solver      string               `json:"solver"`
	Params      map[string]float64   `json:"params"`
	Steps       int                  `json:"steps"`
	Segments    int                  `json:"segments"`
	Variables   []string             `json:"variables"`
	Times       []float64            `json:"times"`
	States      [][]float64          `json:"states"`
	Observables map[string][]float64 `json:"observables,omitempty"`
	Noisy       map[string][]float64 `json:"noisy,omitempty"`
	Boundaries  []dynamo.Boundary    `json:"boundaries,omitempty"`
}

// ExportJSON writes one simulation run as indented JSON.
func ExportJSON(w io.Writer, model, solver string, run *program.Run) error {
	tr := run.Trajectory
	data := ExportData{
		Model:       model,
		Solver:      solver,
		Params:      run.Params.Map(),
		Steps:       tr.Len(),
		Segments:    tr.Segments,
		Variables:   tr.Names,
		Times:       tr.Times,
		States:      make([][]float64, len(tr.States)),
		Observables: tr.Observables,
		Noisy:       run.Noisy,
		Boundaries:  tr.Boundaries,
	}
	for i, s := range tr.States {
		data.States[i] = s
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
