package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/episim/internal/dynamo"
)

func TestRK4Accuracy(t *testing.T) {
	integ := NewRK4(0.01)

	sol, err := integ.Integrate(harmonic, dynamo.State{1.0, 0.0}, 0, 1, []float64{0.5, 1})
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	x := sol.Final

	expectedX := math.Cos(1)
	expectedV := -math.Sin(1)

	if math.Abs(x[0]-expectedX) > 1e-4 {
		t.Errorf("position error too large: got %.6f, expected %.6f", x[0], expectedX)
	}
	if math.Abs(x[1]-expectedV) > 1e-4 {
		t.Errorf("velocity error too large: got %.6f, expected %.6f", x[1], expectedV)
	}
	if len(sol.Times) != 2 || sol.Times[0] != 0.5 || sol.Times[1] != 1 {
		t.Errorf("unexpected output times %v", sol.Times)
	}
	if sol.Steps != 100 {
		t.Errorf("steps = %d, want 100", sol.Steps)
	}
}

func TestEulerConvergesLinearly(t *testing.T) {
	decay := func(_ float64, x dynamo.State) dynamo.State { return dynamo.State{-x[0]} }
	exact := math.Exp(-1)

	errAt := func(h float64) float64 {
		sol, err := NewEuler(h).Integrate(decay, dynamo.State{1}, 0, 1, nil)
		if err != nil {
			t.Fatalf("Integrate: %v", err)
		}
		return math.Abs(sol.Final[0] - exact)
	}

	ratio := errAt(0.01) / errAt(0.005)
	if ratio < 1.8 || ratio > 2.2 {
		t.Errorf("halving h should halve the error, ratio = %.3f", ratio)
	}
}

func TestFixedStepRejectsBadStep(t *testing.T) {
	if _, err := NewRK4(0).Integrate(harmonic, dynamo.State{1, 0}, 0, 1, nil); err == nil {
		t.Error("expected error for zero step")
	}
}
