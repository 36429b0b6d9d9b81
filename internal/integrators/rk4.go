package integrators

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/episim/internal/dynamo"
)

// RK4 is the classical fixed-step fourth-order Runge-Kutta method.
type RK4 struct {
	H float64
}

func NewRK4(h float64) *RK4 {
	return &RK4{H: h}
}

func (r *RK4) Name() string { return "rk4" }

func (r *RK4) Integrate(f dynamo.Func, x0 dynamo.State, t0, t1 float64, out []float64) (*Solution, error) {
	return fixedStep(r.step, 4, r.H, f, x0, t0, t1, out)
}

func (r *RK4) step(f dynamo.Func, x dynamo.State, t, dt float64) dynamo.State {
	n := len(x)
	scratch := make(dynamo.State, n)

	k1 := f(t, x)

	for i := 0; i < n; i++ {
		scratch[i] = x[i] + dt*0.5*k1[i]
	}
	k2 := f(t+dt*0.5, scratch)

	for i := 0; i < n; i++ {
		scratch[i] = x[i] + dt*0.5*k2[i]
	}
	k3 := f(t+dt*0.5, scratch)

	for i := 0; i < n; i++ {
		scratch[i] = x[i] + dt*k3[i]
	}
	k4 := f(t+dt, scratch)

	result := x.Clone()
	dt6 := dt / 6.0
	floats.AddScaled(result, dt6, k1)
	floats.AddScaled(result, 2*dt6, k2)
	floats.AddScaled(result, 2*dt6, k3)
	floats.AddScaled(result, dt6, k4)
	return result
}
