package process

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	psproc "github.com/shirou/gopsutil/v3/process"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

// KillStray terminates every process whose executable name is exactly
// name, except the current one. Processes that survive grace are killed.
// It returns how many processes were signaled.
func KillStray(ctx context.Context, name string, grace time.Duration, logger *slog.Logger) (int, error) {
	procs, err := psproc.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	self := int32(os.Getpid())
	var victims []*psproc.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		n, err := p.NameWithContext(ctx)
		if err != nil || n != name {
			continue
		}
		logger.Warn("terminating stray process", "name", name, "pid", p.Pid)
		if err := p.TerminateWithContext(ctx); err != nil {
			logger.Debug("terminate failed", "pid", p.Pid, "error", err)
			continue
		}
		victims = append(victims, p)
	}
	if len(victims) == 0 {
		return 0, nil
	}

	out := readiness.Until(ctx, func(ctx context.Context) (bool, error) {
		for _, p := range victims {
			if running, _ := p.IsRunningWithContext(ctx); running {
				return false, nil
			}
		}
		return true, nil
	}, readiness.Options{Interval: 100 * time.Millisecond, Timeout: grace})

	if !out.Ready() {
		for _, p := range victims {
			if running, _ := p.IsRunningWithContext(ctx); running {
				logger.Warn("stray process ignored SIGTERM, killing", "name", name, "pid", p.Pid)
				_ = p.KillWithContext(ctx)
			}
		}
	}
	return len(victims), nil
}

// WaitPortFree waits until nothing accepts TCP connections on addr. It
// gives up after attempts probes spaced by interval.
func WaitPortFree(ctx context.Context, addr string, attempts int, interval time.Duration) error {
	out := readiness.Until(ctx, func(ctx context.Context) (bool, error) {
		d := net.Dialer{Timeout: interval}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return true, nil
		}
		_ = conn.Close()
		return false, nil
	}, readiness.Options{Interval: interval, Timeout: time.Duration(attempts) * interval})

	if !out.Ready() {
		return fmt.Errorf("port %s still in use: %w", addr, out.Err("wait for free port"))
	}
	return nil
}

// FreePort asks the kernel for an unused TCP port on localhost.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(domain.DefaultRPCHost, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
