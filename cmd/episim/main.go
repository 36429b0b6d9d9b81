package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/san-kum/episim/internal/config"
	"github.com/san-kum/episim/internal/dynamo"
	"github.com/san-kum/episim/internal/experiment"
	"github.com/san-kum/episim/internal/metrics"
	"github.com/san-kum/episim/internal/telemetry"
)

var (
	dataDir    string
	configFile string
	preset     string
	modelName  string
	seed       uint64
	samples    int
	workers    int
	method     string
	iterations int
	dataFile   string
	posterior  string
	variable   string
	jsonOut    bool
	csvOut     string
	save       bool
	noSave     bool
	watch      bool
	// sweep
	sweepSite  string
	sweepLo    float64
	sweepHi    float64
	sweepSteps int
	qoiKind    string
	sweepVar   string
	// phase
	xAxis string
	yAxis string
)

type app struct {
	env     config.Env
	logger  *slog.Logger
	metrics *metrics.Metrics
	reg     *experiment.Registry
}

func main() {
	a := &app{reg: experiment.NewRegistry()}

	rootCmd := &cobra.Command{
		Use:           "episim",
		Short:         "intervention-aware epidemic simulation and calibration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "runs", "", "run directory (default $EPISIM_RUNS_DIR or ./runs)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "experiment file (yaml)")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "", "use a preset for --model")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", config.DefaultModel, "model name")
	rootCmd.PersistentFlags().Uint64Var(&seed, "seed", 0, "random seed")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "parallel workers (default one per CPU)")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "run one draw from the prior",
		RunE:  a.simulate,
	}
	simulateCmd.Flags().BoolVar(&jsonOut, "json", false, "write the run as json to stdout")
	simulateCmd.Flags().StringVar(&variable, "var", "", "plot only this variable")

	forecastCmd := &cobra.Command{
		Use:   "forecast",
		Short: "run an ensemble and summarize quantile bands",
		RunE:  a.forecast,
	}
	forecastCmd.Flags().IntVarP(&samples, "samples", "n", 0, "ensemble size")
	forecastCmd.Flags().StringVar(&posterior, "posterior", "", "draw parameters from a saved calibration run")
	forecastCmd.Flags().StringVar(&variable, "var", "", "plot only this variable")
	forecastCmd.Flags().StringVar(&csvOut, "csv", "", "write the sample table to this file")
	forecastCmd.Flags().BoolVar(&save, "save", false, "save the ensemble to the run directory")

	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "infer parameters from observed data",
		RunE:  a.calibrate,
	}
	calibrateCmd.Flags().StringVar(&dataFile, "data", "", "observations (csv with a time column)")
	calibrateCmd.Flags().StringVar(&method, "method", "", "variational, mcmc or map")
	calibrateCmd.Flags().IntVar(&iterations, "iterations", 0, "iteration budget")
	calibrateCmd.Flags().BoolVar(&watch, "watch", false, "show live progress")
	calibrateCmd.Flags().BoolVar(&noSave, "no-save", false, "do not save the posterior")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "search the configured policy for the cheapest one within the risk bound",
		RunE:  a.optimize,
	}
	optimizeCmd.Flags().IntVarP(&samples, "samples", "n", 0, "ensemble size per evaluation")
	optimizeCmd.Flags().StringVar(&posterior, "posterior", "", "draw parameters from a saved calibration run")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "vary one parameter and report a quantity of interest",
		RunE:  a.sweep,
	}
	sweepCmd.Flags().StringVar(&sweepSite, "param", "", "parameter to vary")
	sweepCmd.Flags().Float64Var(&sweepLo, "lo", 0, "lowest value")
	sweepCmd.Flags().Float64Var(&sweepHi, "hi", 1, "highest value")
	sweepCmd.Flags().IntVar(&sweepSteps, "steps", 11, "number of values")
	sweepCmd.Flags().StringVar(&qoiKind, "qoi", "peak", "peak, peak_time, final or average")
	sweepCmd.Flags().StringVar(&sweepVar, "var", "I", "variable the qoi is computed on")
	_ = sweepCmd.MarkFlagRequired("param")

	phaseCmd := &cobra.Command{
		Use:   "phase",
		Short: "phase-plane plot of one prior draw",
		RunE:  a.phase,
	}
	phaseCmd.Flags().StringVar(&xAxis, "x", "S", "horizontal variable")
	phaseCmd.Flags().StringVar(&yAxis, "y", "I", "vertical variable")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted sequence of operations",
		Args:  cobra.ExactArgs(1),
		RunE:  a.scenario,
	}

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list saved runs",
		RunE:  a.listRuns,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.listPresets,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list models and solvers",
		RunE:  a.listModels,
	}

	rootCmd.AddCommand(simulateCmd, forecastCmd, calibrateCmd, optimizeCmd, sweepCmd, phaseCmd, scenarioCmd, runsCmd, presetsCmd, modelsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	env, err := config.ParseEnv()
	if err != nil {
		return err
	}
	a.env = env
	if dataDir == "" {
		dataDir = env.RunsDir
	}

	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: env.Level()}))
	slog.SetDefault(a.logger)

	shutdown, err := telemetry.Setup(cmd.Context(), "episim", env.OTelEndpoint)
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
	}
	cobra.OnFinalize(func() {
		if err := shutdown(context.Background()); err != nil {
			a.logger.Warn("flush traces", "error", err)
		}
	})

	if env.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		a.metrics = metrics.New(reg)
		srv := &http.Server{Addr: env.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server", "error", err)
			}
		}()
		a.logger.Info("serving metrics", "addr", env.MetricsAddr)
	}
	return nil
}

// exitCode maps the error taxonomy onto distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, dynamo.ErrConfiguration):
		return 2
	case errors.Is(err, dynamo.ErrDivergence):
		return 3
	case errors.Is(err, dynamo.ErrNonConvergence), errors.Is(err, dynamo.ErrBudgetExceeded):
		return 4
	case errors.Is(err, dynamo.ErrCanceled), errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
