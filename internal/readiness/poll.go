// Package readiness polls a probe until a condition holds, a deadline
// passes or a watched process exits.
package readiness

import (
	"context"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

// Probe fetches the current observation. An error means "not yet".
type Probe[T any] func(ctx context.Context) (T, error)

// Options configures a poll.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration

	// Exited, when set, wakes the poller as soon as the watched process
	// exits. ExitStatus reports that process's status.
	Exited     <-chan struct{}
	ExitStatus func() (*domain.ExitStatus, bool)
}

const defaultInterval = 500 * time.Millisecond

// PollUntil invokes probe immediately and then once per interval until
// ready returns true, the timeout elapses, ctx is cancelled or the watched
// process exits. A ready observation wins over an exit seen on the same tick.
func PollUntil[T any](ctx context.Context, probe Probe[T], ready func(T) bool, opts Options) domain.ReadinessOutcome {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	start := time.Now()
	pollCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	exited := opts.Exited
	var lastErr error
	for {
		v, err := probe(pollCtx)
		switch {
		case err != nil:
			lastErr = err
		case ready(v):
			return domain.ReadinessOutcome{Kind: domain.OutcomeReady, Elapsed: time.Since(start)}
		}

		if status, ok := exitStatus(opts); ok {
			return domain.ReadinessOutcome{
				Kind:    domain.OutcomeProcessExited,
				Elapsed: time.Since(start),
				Status:  status,
				LastErr: lastErr,
			}
		}

		select {
		case <-pollCtx.Done():
			return domain.ReadinessOutcome{Kind: domain.OutcomeTimedOut, Elapsed: time.Since(start), LastErr: lastErr}
		case <-exited:
			// Re-probe once so a final observation made before exit still counts.
			exited = nil
		case <-ticker.C:
		}
	}
}

// Until is PollUntil for plain boolean conditions.
func Until(ctx context.Context, cond func(ctx context.Context) (bool, error), opts Options) domain.ReadinessOutcome {
	return PollUntil(ctx, Probe[bool](cond), func(ok bool) bool { return ok }, opts)
}

func exitStatus(opts Options) (*domain.ExitStatus, bool) {
	if opts.ExitStatus == nil {
		return nil, false
	}
	return opts.ExitStatus()
}
