package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/episim/internal/calibrate"
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/ensemble"
	"github.com/san-kum/episim/internal/integrators"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/models"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/sim"
)

func decayProgram(t *testing.T) *program.Program {
	t.Helper()
	m, err := model.New(models.Decay())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := program.New(program.Config{
		Model:     m,
		Simulator: sim.New(integrators.NewRK45(), sim.WithLogger(logger)),
		Start:     0,
		End:       5,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestStoreSaveLoadForecast(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	prog := decayProgram(t)
	s := &ensemble.Sampler{Workers: 2}
	res, err := s.Run(context.Background(), prog, prog.Prior(), ensemble.Request{N: 4, Seed: 3})
	if err != nil {
		t.Fatalf("ensemble failed: %v", err)
	}

	runID, err := st.SaveForecast(3, res)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if runID != res.ID.String() {
		t.Errorf("expected run id %s, got %s", res.ID, runID)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Kind != KindForecast || meta.Model != "decay" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Seed != 3 || meta.Samples != 4 {
		t.Errorf("expected seed 3 and 4 samples, got %d and %d", meta.Seed, meta.Samples)
	}

	for _, name := range []string{"samples.csv", "summary.csv"} {
		data, err := os.ReadFile(filepath.Join(st.baseDir, runID, name))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(data) == 0 {
			t.Errorf("%s is empty", name)
		}
	}
	samples, _ := os.ReadFile(filepath.Join(st.baseDir, runID, "samples.csv"))
	if !strings.HasPrefix(string(samples), "timepoint_id,sample_id,timepoint,k_param,x_state") {
		t.Errorf("unexpected samples header: %q", strings.SplitN(string(samples), "\n", 2)[0])
	}
}

func TestStoreSavePosteriorAndResample(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatal(err)
	}
	prog := decayProgram(t)
	times := []float64{1, 2, 3, 4, 5}
	obs := make([]float64, len(times))
	for i, tm := range times {
		obs[i] = 100 * math.Exp(-0.5*tm)
	}
	c, err := prog.Condition(program.Dataset{Times: times, Series: map[string][]float64{"x": obs}})
	if err != nil {
		t.Fatal(err)
	}
	post, err := calibrate.Calibrate(context.Background(), c, calibrate.Options{
		Method:        calibrate.MCMC,
		MaxIterations: 200,
		BurnIn:        50,
		Seed:          1,
	})
	if err != nil {
		t.Fatalf("calibrate failed: %v", err)
	}

	runID, err := st.SavePosterior("decay", 1, post)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	meta, err := st.Load(runID)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Kind != KindCalibration || meta.Method != "mcmc" || meta.Samples != 150 {
		t.Errorf("unexpected metadata %+v", meta)
	}

	sites, rows, err := st.LoadPosterior(runID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 1 || sites[0] != "k" || len(rows) != 150 {
		t.Fatalf("unexpected posterior: %v, %d rows", sites, len(rows))
	}
	if rows[0][0] != post.Samples()[0][0] {
		t.Errorf("first sample changed on round trip: %g vs %g", rows[0][0], post.Samples()[0][0])
	}

	src, err := st.PosteriorSource(runID, []string{"k"})
	if err != nil {
		t.Fatal(err)
	}
	v, err := src.Values(rand.New(rand.NewPCG(1, 1)))
	if err != nil || len(v) != 1 || !(v[0] >= 0.1 && v[0] <= 1) {
		t.Errorf("unexpected resampled value %v (%v)", v, err)
	}

	_, err = st.PosteriorSource(runID, []string{"beta"})
	if !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected configuration error for site mismatch, got %v", err)
	}
}

func TestStoreList(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "missing"))
	runs, err := st.List()
	if err != nil {
		t.Fatalf("list on missing dir: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}

	st = New(t.TempDir())
	prog := decayProgram(t)
	s := &ensemble.Sampler{}
	for seed := uint64(1); seed <= 2; seed++ {
		res, err := s.Run(context.Background(), prog, nil, ensemble.Request{N: 2, Seed: seed})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := st.SaveForecast(seed, res); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(st.baseDir, "junk"), 0755); err != nil {
		t.Fatal(err)
	}
	runs, err = st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 runs, got %d", len(runs))
	}
}

func TestReadDataset(t *testing.T) {
	in := "time,I,R\n1,10,0\n2,12.5,1\n3,15,2.5\n"
	data, err := ReadDataset(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Times) != 3 || data.Times[2] != 3 {
		t.Errorf("unexpected times %v", data.Times)
	}
	if got := data.Series["I"]; len(got) != 3 || got[1] != 12.5 {
		t.Errorf("unexpected I series %v", got)
	}
	if got := data.Series["R"]; got[2] != 2.5 {
		t.Errorf("unexpected R series %v", got)
	}

	bad := []string{
		"",
		"time,I\n",
		"day,I\n1,2\n",
		"time\n1\n",
		"time,I\n1,abc\n",
	}
	for _, in := range bad {
		if _, err := ReadDataset(strings.NewReader(in)); !errors.Is(err, dynamo.ErrConfiguration) {
			t.Errorf("%q: expected configuration error, got %v", in, err)
		}
	}
}

func TestExportJSON(t *testing.T) {
	prog := decayProgram(t)
	s, err := prog.NewSample([]float64{0.5})
	if err != nil {
		t.Fatal(err)
	}
	run, err := prog.Run(context.Background(), s, []float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ExportJSON(&buf, "decay", "dopri5", run); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"model": "decay"`, `"solver": "dopri5"`, `"k": 0.5`, `"steps": 2`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}
