package calibrate

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/episim/internal/dynamo"
)

// tracker accounts for simulation attempts, divergences and per-iteration
// losses across one calibration. Methods are safe for concurrent use.
type tracker struct {
	opts  Options
	sites []string
	start time.Time

	mu          sync.Mutex
	attempts    int
	divergences int
	divergent   [][]float64
	losses      []float64
}

func newTracker(opts Options, sites []string) *tracker {
	return &tracker{opts: opts, sites: sites, start: time.Now()}
}

// record accounts for one simulation at site values x. Divergences and
// exhausted segment budgets are absorbed until the failure rate exceeds the
// limit; any other error is returned as fatal.
func (t *tracker) record(x []float64, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if err == nil {
		return nil
	}
	if !errors.Is(err, dynamo.ErrDivergence) && !errors.Is(err, dynamo.ErrBudgetExceeded) {
		return err
	}
	t.divergences++
	t.divergent = append(t.divergent, append([]float64(nil), x...))
	if t.attempts >= t.opts.MinAttempts && float64(t.divergences)/float64(t.attempts) > t.opts.FailureRate {
		return &DivergenceRateError{
			Attempts:    t.attempts,
			Divergences: t.divergences,
			Limit:       t.opts.FailureRate,
			Sites:       t.sites,
			Region:      region(t.divergent, len(t.sites)),
		}
	}
	return nil
}

// iteration records a finished iteration's loss and reports progress.
func (t *tracker) iteration(i int, loss float64) {
	t.mu.Lock()
	t.losses = append(t.losses, loss)
	t.mu.Unlock()
	if t.opts.Progress != nil {
		t.opts.Progress(i, loss)
	}
	t.opts.Metrics.ObserveIteration(string(t.opts.Method), loss)
	if i%100 == 0 {
		t.opts.Logger.Debug("calibration iteration", "method", t.opts.Method, "iteration", i, "loss", loss)
	}
}

// check returns an error once ctx is done or the time budget is spent.
func (t *tracker) check(ctx context.Context, iterations int) error {
	if err := ctx.Err(); err != nil {
		return dynamo.Canceled(err)
	}
	if t.opts.Timeout > 0 && time.Since(t.start) > t.opts.Timeout {
		return &dynamo.NonConvergenceError{Iterations: iterations, Elapsed: time.Since(t.start), Reason: "time budget exhausted"}
	}
	return nil
}

func (t *tracker) exhausted(iterations int) error {
	return &dynamo.NonConvergenceError{Iterations: iterations, Elapsed: time.Since(t.start), Reason: "iteration budget exhausted"}
}

// converged reports whether the mean loss of the last window differs from
// the window before it by at most the tolerance.
func (t *tracker) converged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.opts.Window
	n := len(t.losses)
	if n < 2*w {
		return false
	}
	prev, cur := stat.Mean(t.losses[n-2*w:n-w], nil), stat.Mean(t.losses[n-w:], nil)
	if math.IsInf(prev, 0) || math.IsInf(cur, 0) {
		return false
	}
	return math.Abs(prev-cur) <= t.opts.Tolerance*math.Max(1, math.Abs(cur))
}

// finish copies the accounting into p.
func (t *tracker) finish(p *Posterior, iterations int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.Iterations = iterations
	p.Losses = append([]float64(nil), t.losses...)
	p.Attempts = t.attempts
	p.Divergences = t.divergences
}
