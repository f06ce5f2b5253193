package readiness

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

func TestPollUntil_ReadyAfterErrors(t *testing.T) {
	var calls atomic.Int32
	probe := func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		if n < 3 {
			return 0, errors.New("connection refused")
		}
		return int(n), nil
	}

	out := PollUntil(context.Background(), probe, func(n int) bool { return n >= 3 },
		Options{Interval: 10 * time.Millisecond, Timeout: time.Second})

	assert.True(t, out.Ready())
	assert.Equal(t, int32(3), calls.Load())
}

func TestPollUntil_ProbesImmediately(t *testing.T) {
	start := time.Now()
	out := Until(context.Background(), func(context.Context) (bool, error) { return true, nil },
		Options{Interval: time.Hour, Timeout: time.Hour})

	assert.True(t, out.Ready())
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPollUntil_TimeoutNotBeforeDeadline(t *testing.T) {
	timeout := 150 * time.Millisecond
	interval := 20 * time.Millisecond

	start := time.Now()
	out := Until(context.Background(), func(context.Context) (bool, error) { return false, nil },
		Options{Interval: interval, Timeout: timeout})
	elapsed := time.Since(start)

	assert.Equal(t, domain.OutcomeTimedOut, out.Kind)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+interval+50*time.Millisecond)

	err := out.Err("wait")
	var timeoutErr *domain.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollUntil_ProbeContextBoundedByDeadline(t *testing.T) {
	probe := func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}

	start := time.Now()
	out := Until(context.Background(), probe, Options{Interval: 10 * time.Millisecond, Timeout: 100 * time.Millisecond})

	assert.Equal(t, domain.OutcomeTimedOut, out.Kind)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Error(t, out.LastErr)
}

func TestPollUntil_ProcessExitWakesPoller(t *testing.T) {
	exited := make(chan struct{})
	var status atomic.Pointer[domain.ExitStatus]

	go func() {
		time.Sleep(30 * time.Millisecond)
		status.Store(&domain.ExitStatus{Code: 1})
		close(exited)
	}()

	start := time.Now()
	out := Until(context.Background(), func(context.Context) (bool, error) { return false, nil }, Options{
		Interval: time.Hour,
		Timeout:  5 * time.Second,
		Exited:   exited,
		ExitStatus: func() (*domain.ExitStatus, bool) {
			s := status.Load()
			return s, s != nil
		},
	})

	assert.Equal(t, domain.OutcomeProcessExited, out.Kind)
	require.NotNil(t, out.Status)
	assert.Equal(t, 1, out.Status.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollUntil_ReadyWinsOverExit(t *testing.T) {
	out := Until(context.Background(), func(context.Context) (bool, error) { return true, nil }, Options{
		Interval: 10 * time.Millisecond,
		Timeout:  time.Second,
		ExitStatus: func() (*domain.ExitStatus, bool) {
			return &domain.ExitStatus{Code: 0}, true
		},
	})
	assert.True(t, out.Ready())
}

func TestPollUntil_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Until(ctx, func(context.Context) (bool, error) { return false, nil },
		Options{Interval: 10 * time.Millisecond, Timeout: time.Minute})
	assert.Equal(t, domain.OutcomeTimedOut, out.Kind)
}
