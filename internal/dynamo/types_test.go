package dynamo

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		state State
		valid bool
		first int
	}{
		{"empty", State{}, true, -1},
		{"normal", State{1.0, 2.0, 3.0}, true, -1},
		{"zeros", State{0.0, 0.0}, true, -1},
		{"with NaN", State{1.0, math.NaN()}, false, 1},
		{"with +Inf", State{math.Inf(1), 1.0}, false, 0},
		{"with -Inf", State{1.0, math.Inf(-1)}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}
			if got := tt.state.FirstInvalid(); got != tt.first {
				t.Errorf("FirstInvalid() = %d, want %d", got, tt.first)
			}
		})
	}
}

func TestState_Arithmetic(t *testing.T) {
	a := State{1, 2, 3}
	b := State{4, 5, 6}

	sum := a.Add(b)
	if sum[0] != 5 || sum[1] != 7 || sum[2] != 9 {
		t.Errorf("Add failed: got %v", sum)
	}

	diff := b.Sub(a)
	if diff[0] != 3 || diff[1] != 3 || diff[2] != 3 {
		t.Errorf("Sub failed: got %v", diff)
	}

	scaled := a.Scale(2)
	if scaled[0] != 2 || scaled[1] != 4 || scaled[2] != 6 {
		t.Errorf("Scale failed: got %v", scaled)
	}

	if got := (State{3, 4}).Norm(); math.Abs(got-5) > 1e-12 {
		t.Errorf("Norm = %v, want 5", got)
	}
}

func TestTrajectory_Series(t *testing.T) {
	tr := NewTrajectory([]string{"S", "I"}, 2)
	tr.Append(0, State{10, 1})
	tr.Append(1, State{9, 2})
	tr.Observables["total"] = []float64{11, 11}

	s, err := tr.Series("I")
	if err != nil {
		t.Fatalf("Series(I): %v", err)
	}
	if s[0] != 1 || s[1] != 2 {
		t.Errorf("Series(I) = %v", s)
	}

	total, err := tr.Series("total")
	if err != nil || total[1] != 11 {
		t.Errorf("Series(total) = %v, %v", total, err)
	}

	if _, err := tr.Series("R"); err == nil {
		t.Error("expected error for unknown variable")
	}

	final := tr.Final()
	final[0] = -1
	if tr.States[1][0] != 9 {
		t.Error("Final must return a copy")
	}

	vars := tr.Variables([]string{"missing", "total"})
	if len(vars) != 3 || vars[2] != "total" {
		t.Errorf("Variables = %v", vars)
	}
}

func TestLogTimes(t *testing.T) {
	times, err := LogTimes(0, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 3, 4}
	if len(times) != len(want) {
		t.Fatalf("LogTimes = %v, want %v", times, want)
	}
	for i := range want {
		if math.Abs(times[i]-want[i]) > 1e-12 {
			t.Errorf("times[%d] = %v, want %v", i, times[i], want[i])
		}
	}

	tests := []struct {
		name             string
		start, end, step float64
	}{
		{"zero step", 0, 5, 0},
		{"negative step", 0, 5, -1},
		{"empty horizon", 5, 5, 1},
		{"reversed horizon", 5, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LogTimes(tt.start, tt.end, tt.step)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestErrorClasses(t *testing.T) {
	div := &DivergenceError{Segment: 2, SegmentStart: 10, Time: 12.5, Variable: "I", Wrapped: ErrStepTooSmall}
	if !errors.Is(div, ErrDivergence) || !errors.Is(div, ErrStepTooSmall) {
		t.Error("DivergenceError should match ErrDivergence and its cause")
	}
	expected := `dynamo: numerical divergence in segment 2 (start t=10, failed at t=12.5) variable "I": dynamo: adaptive timestep below minimum`
	if div.Error() != expected {
		t.Errorf("Error() = %q, want %q", div.Error(), expected)
	}
	early := &DivergenceError{Time: 1.6e-10, Wrapped: ErrInvalidState}
	if !strings.Contains(early.Error(), "failed at t=1.6e-10") {
		t.Errorf("tiny failure time lost in %q", early.Error())
	}

	nc := &NonConvergenceError{Iterations: 10, Elapsed: time.Second, Reason: "max iterations"}
	if !errors.Is(nc, ErrNonConvergence) || errors.Is(nc, ErrDivergence) {
		t.Error("NonConvergenceError must be distinct from divergence")
	}

	if !errors.Is(Configf("x", "bad %d", 1), ErrConfiguration) {
		t.Error("Configf should wrap ErrConfiguration")
	}
	if !errors.Is(Canceled(errors.New("ctx")), ErrCanceled) {
		t.Error("Canceled should wrap ErrCanceled")
	}
}
