package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Step reports one iteration of a watched computation.
type Step struct {
	Iteration int
	Loss      float64
}

type doneMsg struct{ err error }

type tickMsg time.Time

// Watcher is the Bubble Tea model behind Watch.
type Watcher struct {
	title  string
	total  int
	start  time.Time
	now    time.Time
	last   Step
	losses []float64
	done   bool
	err    error
	cancel context.CancelFunc
}

func NewWatcher(title string, total int, cancel context.CancelFunc) Watcher {
	now := time.Now()
	return Watcher{title: title, total: total, start: now, now: now, cancel: cancel}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second/10, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (w Watcher) Init() tea.Cmd { return tick() }

func (w Watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if w.cancel != nil {
				w.cancel()
			}
		}
	case Step:
		w.last = msg
		w.losses = append(w.losses, msg.Loss)
	case doneMsg:
		w.done = true
		w.err = msg.err
		return w, tea.Quit
	case tickMsg:
		w.now = time.Time(msg)
		return w, tick()
	}
	return w, nil
}

func (w Watcher) View() string {
	var b strings.Builder
	b.WriteString(Title.Render(w.title))
	b.WriteString("\n\n")

	frac := 0.0
	if w.total > 0 {
		frac = float64(w.last.Iteration+1) / float64(w.total)
	}
	fmt.Fprintf(&b, "%s %3.0f%%\n", ProgressBar(frac, 40), 100*frac)
	b.WriteString(Metric("iteration", fmt.Sprintf("%d/%d", w.last.Iteration+1, w.total)))
	b.WriteString("  ")
	b.WriteString(Metric("loss", fmt.Sprintf("%.6g", w.last.Loss)))
	b.WriteString("  ")
	b.WriteString(Metric("elapsed", w.now.Sub(w.start).Round(100*time.Millisecond).String()))
	b.WriteString("\n")
	b.WriteString(Sparkline(w.losses, 60))
	b.WriteString("\n\n")

	switch {
	case w.done && w.err != nil:
		b.WriteString(StatusWarn.Render("stopped: " + w.err.Error()))
	case w.done:
		b.WriteString(StatusRunning.Render("done"))
	default:
		b.WriteString(KeyHint.Render("q to stop early"))
	}
	return Panel.Render(b.String()) + "\n"
}

// Watch runs fn while showing its progress. fn receives a context canceled
// when the user quits and a report function to call once per iteration.
func Watch(ctx context.Context, title string, total int, fn func(ctx context.Context, report func(Step)) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewWatcher(title, total, cancel), tea.WithContext(ctx))
	errc := make(chan error, 1)
	go func() {
		err := fn(ctx, func(s Step) { p.Send(s) })
		errc <- err
		p.Send(doneMsg{err})
	}()
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return <-errc
}
