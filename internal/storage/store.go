package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/episim/internal/calibrate"
	"github.com/san-kum/episim/internal/ensemble"
)

const (
	KindForecast    = "forecast"
	KindCalibration = "calibration"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Model       string             `json:"model"`
	Timestamp   time.Time          `json:"timestamp"`
	Seed        uint64             `json:"seed"`
	Method      string             `json:"method,omitempty"`
	Sites       []string           `json:"sites"`
	Samples     int                `json:"samples"`
	Failures    int                `json:"failures"`
	Provisional bool               `json:"provisional,omitempty"`
	Means       map[string]float64 `json:"means,omitempty"`
}

// SaveForecast writes an ensemble under its own ID: metadata.json,
// samples.csv with one row per surviving member and time, and summary.csv.
func (s *Store) SaveForecast(seed uint64, res *ensemble.Result) (string, error) {
	meta := RunMetadata{
		ID:        res.ID.String(),
		Kind:      KindForecast,
		Model:     res.Model,
		Timestamp: time.Now(),
		Seed:      seed,
		Sites:     res.Sites,
		Samples:   len(res.Members),
	}
	if res.Summary != nil {
		meta.Failures = res.Summary.Failures
	}
	runDir, err := s.create(meta)
	if err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, "samples.csv"), res.WriteCSV); err != nil {
		return "", err
	}
	if res.Summary != nil {
		if err := writeFile(filepath.Join(runDir, "summary.csv"), res.Summary.WriteCSV); err != nil {
			return "", err
		}
	}
	return meta.ID, nil
}

// SavePosterior writes a posterior's metadata and its samples, one column
// per site.
func (s *Store) SavePosterior(model string, seed uint64, post *calibrate.Posterior) (string, error) {
	samples := post.Samples()
	meta := RunMetadata{
		ID:          post.ID.String(),
		Kind:        KindCalibration,
		Model:       model,
		Timestamp:   time.Now(),
		Seed:        seed,
		Method:      string(post.Method),
		Sites:       post.Sites(),
		Samples:     len(samples),
		Provisional: post.Provisional,
		Means:       post.Means(),
	}
	runDir, err := s.create(meta)
	if err != nil {
		return "", err
	}

	f, err := os.Create(filepath.Join(runDir, "posterior.csv"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(meta.Sites); err != nil {
		return "", err
	}
	for _, row := range samples {
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			return "", err
		}
	}
	w.Flush()
	return meta.ID, w.Error()
}

func (s *Store) create(meta RunMetadata) (string, error) {
	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}
	return runDir, nil
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadPosterior reads the samples of a calibration run, rows in draw order.
func (s *Store) LoadPosterior(runID string) (sites []string, rows [][]float64, err error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "posterior.csv"))
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("run %s: empty posterior", runID)
	}

	sites = records[0]
	rows = make([][]float64, 0, len(records)-1)
	for i, record := range records[1:] {
		row := make([]float64, len(record))
		for j, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("run %s: row %d: %w", runID, i+1, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	return sites, rows, nil
}
