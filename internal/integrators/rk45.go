package integrators

import (
	"math"

	"github.com/san-kum/episim/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// RK45 is the adaptive Dormand-Prince 5(4) method. Steps are shortened to
// land exactly on requested output times.
type RK45 struct {
	RTol     float64
	ATol     float64
	MinStep  float64
	MaxSteps int

	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return &RK45{
		RTol:     1e-6,
		ATol:     1e-8,
		MinStep:  1e-10,
		MaxSteps: 100000,
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

func (r *RK45) Name() string { return "dopri5" }

func (r *RK45) Integrate(f dynamo.Func, x0 dynamo.State, t0, t1 float64, out []float64) (*Solution, error) {
	if err := checkSpan(x0, t0, t1, out); err != nil {
		return nil, err
	}
	sol := &Solution{
		Times:  make([]float64, 0, len(out)),
		States: make([]dynamo.State, 0, len(out)),
	}

	x := x0.Clone()
	t := t0
	h := r.initialStep(f, x, t0, t1)
	sol.Evals += 2

	for k, target := range targets(t1, out) {
		for t < target {
			if sol.Steps+sol.Rejected >= r.MaxSteps {
				sol.Final = x
				return sol, &Failure{Time: t, Index: -1, State: x.Clone(), Err: dynamo.ErrMaxSteps}
			}
			dt := math.Min(h, target-t)
			last := dt == target-t

			xNew, errNorm := r.step(f, x, t, dt)
			sol.Evals += 7
			if math.IsNaN(errNorm) {
				errNorm = math.Inf(1)
			}

			if errNorm > 1 {
				sol.Rejected++
				h = dt * math.Max(r.minScale, r.safety*math.Pow(errNorm, -0.25))
				if h < r.MinStep {
					sol.Final = x
					if err := invalid(t+dt, xNew); err != nil {
						return sol, err
					}
					return sol, &Failure{Time: t, Index: -1, State: x.Clone(), Err: dynamo.ErrStepTooSmall}
				}
				continue
			}

			sol.Steps++
			if last {
				t = target
			} else {
				t += dt
			}
			x = xNew
			if err := invalid(t, x); err != nil {
				sol.Final = x
				return sol, err
			}

			scale := r.maxScale
			if errNorm > 0 {
				scale = math.Min(r.maxScale, r.safety*math.Pow(errNorm, -0.2))
			}
			// A step clipped to an output time says little about the
			// natural step size; keep the larger of the two.
			if last {
				h = math.Max(h, dt*scale)
			} else {
				h = dt * scale
			}
			if h < r.MinStep && t < t1 {
				sol.Final = x
				return sol, &Failure{Time: t, Index: -1, State: x.Clone(), Err: dynamo.ErrStepTooSmall}
			}
		}
		if k < len(out) {
			sol.Times = append(sol.Times, t)
			sol.States = append(sol.States, x.Clone())
		}
	}
	sol.Final = x
	return sol, nil
}

// initialStep follows the usual heuristic: h0 = 0.01 * |x| / |f(x)|,
// bounded by the interval.
func (r *RK45) initialStep(f dynamo.Func, x dynamo.State, t0, t1 float64) float64 {
	span := t1 - t0
	d0, d1 := 0.0, 0.0
	k := f(t0, x)
	for i := range x {
		sc := r.ATol + r.RTol*math.Abs(x[i])
		d0 += (x[i] / sc) * (x[i] / sc)
		d1 += (k[i] / sc) * (k[i] / sc)
	}
	h := 0.01 * span
	if d0 > 1e-10 && d1 > 1e-10 {
		h = 0.01 * math.Sqrt(d0/d1)
	}
	x1 := make(dynamo.State, len(x))
	for i := range x {
		x1[i] = x[i] + h*k[i]
	}
	k1 := f(t0+h, x1)
	d2 := 0.0
	for i := range x {
		sc := r.ATol + r.RTol*math.Abs(x[i])
		d := (k1[i] - k[i]) / sc
		d2 += d * d
	}
	d2 = math.Sqrt(d2) / h
	h1 := 100 * h
	if m := math.Max(math.Sqrt(d1), d2); m > 1e-15 {
		h1 = math.Pow(0.01/m, 0.2)
	}
	h = math.Min(100*h, h1)
	if math.IsNaN(h) || !(h > 0) {
		h = 0.01 * span
	}
	return math.Min(math.Max(h, r.MinStep), span)
}

// step takes one Dormand-Prince step and returns the fifth-order solution
// with the RMS error estimate scaled by RTol and ATol.
func (r *RK45) step(f dynamo.Func, x dynamo.State, t, dt float64) (dynamo.State, float64) {
	n := len(x)

	k1 := f(t, x)

	x2 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x2[i] = x[i] + dt*b21*k1[i]
	}
	k2 := f(t+a2*dt, x2)

	x3 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x3[i] = x[i] + dt*(b31*k1[i]+b32*k2[i])
	}
	k3 := f(t+a3*dt, x3)

	x4 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x4[i] = x[i] + dt*(b41*k1[i]+b42*k2[i]+b43*k3[i])
	}
	k4 := f(t+a4*dt, x4)

	x5 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x5[i] = x[i] + dt*(b51*k1[i]+b52*k2[i]+b53*k3[i]+b54*k4[i])
	}
	k5 := f(t+a5*dt, x5)

	x6 := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		x6[i] = x[i] + dt*(b61*k1[i]+b62*k2[i]+b63*k3[i]+b64*k4[i]+b65*k5[i])
	}
	k6 := f(t+dt, x6)

	xNew := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + dt*(c1*k1[i]+c3*k3[i]+c4*k4[i]+c5*k5[i]+c6*k6[i])
	}

	k7 := f(t+dt, xNew)

	sum := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		sc := r.ATol + r.RTol*math.Max(math.Abs(x[i]), math.Abs(xNew[i]))
		sum += (errEst / sc) * (errEst / sc)
	}
	return xNew, math.Sqrt(sum / float64(n))
}
