package dynamo

import (
	"errors"
	"fmt"
	"time"
)

// Error classes. Concrete errors wrap exactly one of these so callers can
// branch with errors.Is.
var (
	// ErrConfiguration is a malformed model, intervention, dataset or option.
	// It is raised before any numerical work and never retried.
	ErrConfiguration = errors.New("dynamo: configuration error")

	// ErrDivergence indicates the solver produced a non-finite or
	// non-convergent state.
	ErrDivergence = errors.New("dynamo: numerical divergence")

	// ErrNonConvergence indicates an iteration or time budget ran out before
	// the convergence criterion was met.
	ErrNonConvergence = errors.New("dynamo: calibration did not converge")

	// ErrBudgetExceeded indicates a segment or step budget ran out.
	ErrBudgetExceeded = errors.New("dynamo: budget exceeded")

	// ErrCanceled indicates the run was interrupted at a suspension point.
	ErrCanceled = errors.New("dynamo: run canceled")
)

// Solver failures.
var (
	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrStepTooSmall indicates the adaptive timestep fell below the minimum.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrMaxSteps indicates the solver hit its step limit inside one call.
	ErrMaxSteps = errors.New("dynamo: solver step limit reached")
)

// ConfigError describes a configuration problem.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrConfiguration, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// Configf builds a ConfigError.
func Configf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DivergenceError wraps a solver failure with its segment context.
type DivergenceError struct {
	Segment      int
	SegmentStart float64
	Time         float64
	Variable     string
	State        State
	Wrapped      error
}

func (e *DivergenceError) Error() string {
	msg := fmt.Sprintf("%v in segment %d (start t=%g, failed at t=%g)", ErrDivergence, e.Segment, e.SegmentStart, e.Time)
	if e.Variable != "" {
		msg += fmt.Sprintf(" variable %q", e.Variable)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *DivergenceError) Unwrap() []error {
	if e.Wrapped == nil {
		return []error{ErrDivergence}
	}
	return []error{ErrDivergence, e.Wrapped}
}

// NonConvergenceError reports an exhausted calibration budget.
type NonConvergenceError struct {
	Iterations int
	Elapsed    time.Duration
	Reason     string
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("%v after %d iterations (%s): %s", ErrNonConvergence, e.Iterations, e.Elapsed.Round(time.Millisecond), e.Reason)
}

func (e *NonConvergenceError) Unwrap() error { return ErrNonConvergence }

// Canceled wraps a context error as a cancellation signal.
func Canceled(cause error) error {
	if cause == nil {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}
