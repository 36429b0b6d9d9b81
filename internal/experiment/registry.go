package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/episim/internal/config"
	"github.com/san-kum/episim/internal/integrators"
	"github.com/san-kum/episim/internal/model"
	"github.com/san-kum/episim/internal/models"
)

// Registry maps model and solver names, as they appear in experiment
// files, to constructors.
type Registry struct {
	models  map[string]func() model.Spec
	solvers []string
}

func NewRegistry() *Registry {
	r := &Registry{
		models:  make(map[string]func() model.Spec),
		solvers: []string{"dopri5", "rk4", "euler"},
	}

	r.models["sir"] = models.SIR
	r.models["seir"] = models.SEIR
	r.models["sird"] = models.SIRD
	r.models["decay"] = models.Decay
	r.models["logistic"] = models.Logistic

	return r
}

// Register adds or replaces a model.
func (r *Registry) Register(name string, fn func() model.Spec) {
	r.models[name] = fn
}

func (r *Registry) GetModel(name string) (model.Spec, error) {
	fn, ok := r.models[name]
	if !ok {
		return model.Spec{}, fmt.Errorf("unknown model: %s", name)
	}
	return fn(), nil
}

func (r *Registry) GetSolver(cfg config.SolverConfig) (integrators.Solver, error) {
	return integrators.New(cfg.Method, integrators.Options{
		RTol: cfg.RTol,
		ATol: cfg.ATol,
		Step: cfg.Step,
	})
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ListSolvers() []string {
	return append([]string(nil), r.solvers...)
}
