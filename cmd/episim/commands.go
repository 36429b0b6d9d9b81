package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/episim/internal/analysis"
	"github.com/san-kum/episim/internal/automation"
	"github.com/san-kum/episim/internal/calibrate"
	"github.com/san-kum/episim/internal/config"
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/experiment"
	"github.com/san-kum/episim/internal/program"
	"github.com/san-kum/episim/internal/storage"
	"github.com/san-kum/episim/internal/viz"
)

const (
	plotWidth  = 80
	plotHeight = 12
)

// loadConfig resolves the experiment: file, else preset, else defaults for
// --model; then environment; then explicitly set flags.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "":
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	case preset != "":
		if cfg = config.GetPreset(modelName, preset); cfg == nil {
			return nil, dynamo.Configf("preset", "unknown preset %s (available: %v)", preset, config.ListPresets(modelName))
		}
	default:
		cfg = config.DefaultConfig()
		cfg.Model = modelName
	}

	a.env.Apply(cfg)
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Ensemble.Workers = workers
	}
	if flags.Changed("samples") {
		cfg.Ensemble.Samples = samples
		if cfg.Policy != nil {
			cfg.Policy.Samples = samples
		}
	}
	if flags.Changed("method") {
		cfg.Calibration.Method = method
	}
	if flags.Changed("iterations") {
		cfg.Calibration.Iterations = iterations
	}
	if flags.Changed("data") {
		cfg.Data = dataFile
	}
	return cfg, cfg.Validate()
}

func (a *app) experiment(cmd *cobra.Command) (*experiment.Experiment, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return experiment.New(cfg, a.reg, experiment.WithLogger(a.logger), experiment.WithMetrics(a.metrics))
}

func (a *app) source(e *experiment.Experiment) (program.Source, error) {
	if posterior == "" {
		return nil, nil
	}
	return storage.New(dataDir).PosteriorSource(posterior, e.Program().Sites())
}

func plotVariables(e *experiment.Experiment, tr *dynamo.Trajectory) []string {
	if variable != "" {
		return []string{variable}
	}
	return tr.Variables(e.Model().ObservableNames())
}

func (a *app) simulate(cmd *cobra.Command, args []string) error {
	e, err := a.experiment(cmd)
	if err != nil {
		return err
	}
	run, err := e.Simulate(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOut {
		return storage.ExportJSON(os.Stdout, e.Model().Name(), e.Solver().Name(), run)
	}

	fmt.Println(viz.Title.Render(fmt.Sprintf("%s, seed %d", e.Model().Name(), e.Config().Seed)))
	for i, name := range run.Sample.Names {
		fmt.Println(viz.Metric(name, fmt.Sprintf("%.4g", run.Sample.Values[i])))
	}
	for _, b := range run.Trajectory.Boundaries {
		fmt.Println(viz.Subtle.Render(fmt.Sprintf("t=%.3f: %s", b.Time, strings.Join(b.Fired, ", "))))
	}
	fmt.Println()
	for _, name := range plotVariables(e, run.Trajectory) {
		graph, err := viz.Series(run.Trajectory, name, plotWidth, plotHeight)
		if err != nil {
			return err
		}
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func (a *app) forecast(cmd *cobra.Command, args []string) error {
	e, err := a.experiment(cmd)
	if err != nil {
		return err
	}
	src, err := a.source(e)
	if err != nil {
		return err
	}
	res, err := e.Forecast(cmd.Context(), src)
	if res == nil {
		return err
	}
	if err != nil {
		a.logger.Warn("forecast incomplete", "error", err)
	}

	sum := res.Summary
	fmt.Println(viz.Title.Render(fmt.Sprintf("%s forecast %s", res.Model, res.ID)))
	fmt.Println(viz.Metric("members", fmt.Sprintf("%d/%d", sum.Successes, sum.Requested)))
	fmt.Println()
	if sum.Successes > 0 {
		names := sum.Variables
		if variable != "" {
			names = []string{variable}
		}
		for _, name := range names {
			graph, err := viz.Band(sum, name, plotWidth, plotHeight)
			if err != nil {
				return err
			}
			fmt.Println(graph)
			fmt.Println()
		}
	}

	if csvOut != "" {
		f, err := os.Create(csvOut)
		if err != nil {
			return err
		}
		if err := res.WriteCSV(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	if save {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		id, err := st.SaveForecast(e.Config().Seed, res)
		if err != nil {
			return err
		}
		fmt.Println(viz.Metric("saved", id))
	}
	return err
}

func (a *app) calibrate(cmd *cobra.Command, args []string) error {
	e, err := a.experiment(cmd)
	if err != nil {
		return err
	}
	data, err := e.LoadData()
	if err != nil {
		return err
	}

	var post *calibrate.Posterior
	if watch {
		title := fmt.Sprintf("calibrating %s (%s)", e.Model().Name(), e.Config().Calibration.Method)
		err = viz.Watch(cmd.Context(), title, e.Config().Calibration.Iterations, func(ctx context.Context, report func(viz.Step)) error {
			var err error
			post, err = e.Calibrate(ctx, data, func(i int, loss float64) { report(viz.Step{Iteration: i, Loss: loss}) })
			return err
		})
	} else {
		post, err = e.Calibrate(cmd.Context(), data, nil)
	}
	if post == nil {
		return err
	}
	if err != nil {
		a.logger.Warn("calibration stopped early, posterior is provisional", "error", err)
	}

	fmt.Println(viz.Title.Render(post.String()))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tMEAN\tQ05\tQ50\tQ95")
	for _, site := range post.Sites() {
		mean, _ := post.Mean(site)
		q05, _ := post.Quantile(site, 0.05)
		q50, _ := post.Quantile(site, 0.5)
		q95, _ := post.Quantile(site, 0.95)
		fmt.Fprintf(w, "%s\t%.4g\t%.4g\t%.4g\t%.4g\n", site, mean, q05, q50, q95)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}

	if !noSave {
		st := storage.New(dataDir)
		if serr := st.Init(); serr != nil {
			return serr
		}
		id, serr := st.SavePosterior(e.Model().Name(), e.Config().Seed, post)
		if serr != nil {
			return serr
		}
		fmt.Println(viz.Metric("saved", id))
	}
	return err
}

func (a *app) optimize(cmd *cobra.Command, args []string) error {
	e, err := a.experiment(cmd)
	if err != nil {
		return err
	}
	src, err := a.source(e)
	if err != nil {
		return err
	}
	sol, err := e.Optimize(cmd.Context(), src)
	if sol == nil {
		return err
	}

	status := viz.StatusRunning.Render("feasible")
	if !sol.Feasible {
		status = viz.StatusFailed.Render("infeasible")
	}
	fmt.Println(viz.Title.Render("policy") + " " + status)
	for i, ctl := range e.Config().Policy.Controls {
		target := ctl.Param
		if target == "" {
			target = ctl.State
		}
		fmt.Println(viz.Metric(fmt.Sprintf("reduce %s by", target), fmt.Sprintf("%.4g", sol.Policy[i])))
	}
	fmt.Println(viz.Metric("objective", fmt.Sprintf("%.4g", sol.Objective)))
	fmt.Println(viz.Metric("risk", fmt.Sprintf("%.4g (bound %.4g)", sol.Risk, e.Config().Policy.RiskBound)))
	fmt.Println(viz.Metric("evaluations", fmt.Sprint(sol.Evaluations)))
	return err
}

func (a *app) sweep(cmd *cobra.Command, args []string) error {
	e, err := a.experiment(cmd)
	if err != nil {
		return err
	}
	q, err := analysis.ParseQoI(qoiKind, sweepVar, 7)
	if err != nil {
		return err
	}
	times, err := e.Times()
	if err != nil {
		return err
	}
	sites := e.Model().Sites()
	base := make([]float64, len(sites))
	for i, s := range sites {
		base[i] = s.Prior.Mean()
	}
	points, err := analysis.Sweep(cmd.Context(), e.Program(), base, sweepSite, sweepLo, sweepHi, sweepSteps, times, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s(%s)\n", strings.ToUpper(sweepSite), strings.ToUpper(qoiKind), sweepVar)
	for _, p := range points {
		if p.Err != nil {
			fmt.Fprintf(w, "%.4g\t%s\n", p.Value, viz.StatusFailed.Render(p.Err.Error()))
			continue
		}
		fmt.Fprintf(w, "%.4g\t%.6g\n", p.Value, p.QoI)
	}
	return w.Flush()
}

func (a *app) phase(cmd *cobra.Command, args []string) error {
	e, err := a.experiment(cmd)
	if err != nil {
		return err
	}
	run, err := e.Simulate(cmd.Context())
	if err != nil {
		return err
	}
	ph, err := analysis.PhasePlane(run.Trajectory, xAxis, yAxis)
	if err != nil {
		return err
	}
	fmt.Println(viz.Panel.Render(ph.ASCII(plotWidth-10, plotHeight+8)))
	return nil
}

func (a *app) scenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	fmt.Println(viz.Title.Render(sc.Name))
	if sc.Description != "" {
		fmt.Println(viz.Subtle.Render(sc.Description))
	}
	out, err := automation.RunScenario(cmd.Context(), sc, a.reg, experiment.WithLogger(a.logger), experiment.WithMetrics(a.metrics))
	for _, o := range out {
		line := fmt.Sprintf("%-12s %-10s", o.Step, o.Op)
		switch {
		case o.Run != nil:
			line += fmt.Sprintf("%d points, %d boundaries", o.Run.Trajectory.Len(), len(o.Run.Trajectory.Boundaries))
		case o.Forecast != nil:
			line += fmt.Sprintf("%d/%d members", o.Forecast.Summary.Successes, o.Forecast.Summary.Requested)
		case o.Posterior != nil:
			line += o.Posterior.String()
		case o.Solution != nil:
			line += fmt.Sprintf("policy %v, risk %.4g, feasible %t", o.Solution.Policy, o.Solution.Risk, o.Solution.Feasible)
		}
		if o.Err != nil {
			line += " " + viz.StatusWarn.Render(o.Err.Error())
		}
		fmt.Println(line)
	}
	return err
}

func (a *app) listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tMODEL\tTIME\tSEED\tSAMPLES\tMETHOD")
	for _, run := range runs {
		kind := run.Kind
		if run.Provisional {
			kind += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			run.ID,
			kind,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Seed,
			run.Samples,
			run.Method,
		)
	}
	return w.Flush()
}

func (a *app) listPresets(cmd *cobra.Command, args []string) error {
	models := a.reg.ListModels()
	if len(args) == 1 {
		models = args[:1]
	}
	for _, m := range models {
		names := config.ListPresets(m)
		if names == nil {
			return dynamo.Configf("model", "no presets for %s", m)
		}
		fmt.Printf("%s: %s\n", m, strings.Join(names, ", "))
	}
	return nil
}

func (a *app) listModels(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSTATES\tSITES")
	for _, name := range a.reg.ListModels() {
		e, err := experiment.New(config.GetPreset(name, "baseline"), a.reg, experiment.WithLogger(a.logger))
		if err != nil {
			return err
		}
		sites := e.Program().Sites()
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, strings.Join(e.Model().States(), ","), strings.Join(sites, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Println("solvers:", strings.Join(a.reg.ListSolvers(), ", "))
	return nil
}

