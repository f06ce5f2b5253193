package progress

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// SpinnerProgressReporter shows a spinner with the running scenario and
// its elapsed time
type SpinnerProgressReporter struct {
	spinner *spinner.Spinner
	out     io.Writer

	mu      sync.Mutex
	message string
	started time.Time
}

// NewSpinnerProgressReporter creates a new spinner-based progress reporter
// writing to out
func NewSpinnerProgressReporter(out io.Writer) *SpinnerProgressReporter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	s.HideCursor = false

	r := &SpinnerProgressReporter{
		spinner: s,
		out:     out,
	}
	s.PreUpdate = r.updateSpinnerDisplay
	return r
}

// OnProgress handles progress events
func (r *SpinnerProgressReporter) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	if !event.Spinner {
		r.spinner.Stop()
		return
	}

	r.mu.Lock()
	r.message = event.Message
	r.started = time.Now()
	r.mu.Unlock()

	if !r.spinner.Active() {
		r.spinner.Start()
	}
}

// Info prints an info message
func (r *SpinnerProgressReporter) Info(message string) {
	r.printPaused(color.New(color.FgCyan), message)
}

// Error prints an error message
func (r *SpinnerProgressReporter) Error(message string) {
	r.printPaused(color.New(color.FgRed), message)
}

func (r *SpinnerProgressReporter) printPaused(c *color.Color, message string) {
	// Stop spinner temporarily
	wasActive := r.spinner.Active()
	if wasActive {
		r.spinner.Stop()
	}

	c.Fprintln(r.out, message)

	// Restart spinner if it was active
	if wasActive {
		r.spinner.Start()
	}
}

// updateSpinnerDisplay runs on the spinner goroutine before every frame
func (r *SpinnerProgressReporter) updateSpinnerDisplay(s *spinner.Spinner) {
	r.mu.Lock()
	message, started := r.message, r.started
	r.mu.Unlock()

	elapsed := ""
	if !started.IsZero() {
		elapsed = color.New(color.Faint).Sprintf(" (%s)", time.Since(started).Round(time.Second))
	}
	s.Suffix = " " + message + elapsed
}

// Ensure SpinnerProgressReporter implements ProgressSink
var _ usecase.ProgressSink = (*SpinnerProgressReporter)(nil)
