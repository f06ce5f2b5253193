// Package scenario runs named end-to-end scenarios, each against a freshly
// provisioned environment, and aggregates their results into a report.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

const (
	DefaultTimeout        = 120 * time.Second
	defaultCleanupTimeout = 30 * time.Second
)

// Env is whatever a scenario body runs against. It owns every resource the
// body acquires and must release them in Cleanup.
type Env interface {
	Cleanup(ctx context.Context) error
}

// Provisioner creates a fresh environment for one scenario.
type Provisioner[E Env] func(ctx context.Context) (E, error)

// Step is one phase of a scenario.
type Step[E Env] func(ctx context.Context, env E) error

// Definition describes one scenario. Setup and Teardown are optional;
// Teardown errors are logged and never change the verdict.
type Definition[E Env] struct {
	Name        string
	Description string
	Timeout     time.Duration
	// Live scenarios drive the chain with the traffic generator.
	Live bool

	Setup    Step[E]
	Run      Step[E]
	Teardown Step[E]
}

// Observer is told about each scenario as the suite progresses.
type Observer interface {
	ScenarioStarted(index, total int, name string)
	ScenarioFinished(index, total int, result domain.ScenarioResult)
}

type nopObserver struct{}

func (nopObserver) ScenarioStarted(int, int, string)                 {}
func (nopObserver) ScenarioFinished(int, int, domain.ScenarioResult) {}

// RunnerOptions tunes a Runner.
type RunnerOptions struct {
	// DefaultTimeout applies to definitions without their own.
	DefaultTimeout time.Duration
	CleanupTimeout time.Duration
	SkipLive       bool
	Observer       Observer
}

// Runner executes scenarios sequentially. Every scenario gets its own
// environment, which is always cleaned up before the next one starts.
type Runner[E Env] struct {
	provision Provisioner[E]
	opts      RunnerOptions
	logger    *slog.Logger
}

// NewRunner creates a runner that provisions environments with provision.
func NewRunner[E Env](provision Provisioner[E], opts RunnerOptions, logger *slog.Logger) *Runner[E] {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaultCleanupTimeout
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner[E]{
		provision: provision,
		opts:      opts,
		logger:    logger.With("component", "runner"),
	}
}

// Run executes defs in order and returns the report. Cancelling ctx stops
// the suite after the current scenario has been cleaned up.
func (r *Runner[E]) Run(ctx context.Context, name string, defs []Definition[E]) *domain.SuiteReport {
	report := &domain.SuiteReport{Name: name}
	for i, def := range defs {
		if ctx.Err() != nil {
			r.logger.Warn("suite interrupted", "remaining", len(defs)-i)
			break
		}
		r.opts.Observer.ScenarioStarted(i+1, len(defs), def.Name)
		res := r.RunOne(ctx, def)
		report.Add(res)
		r.opts.Observer.ScenarioFinished(i+1, len(defs), res)
	}
	return report
}

// RunOne provisions an environment, runs def against it under the
// scenario timeout and cleans up regardless of the outcome.
func (r *Runner[E]) RunOne(ctx context.Context, def Definition[E]) domain.ScenarioResult {
	logger := r.logger.With("scenario", def.Name)
	start := time.Now()
	result := func(status domain.ScenarioStatus, err error) domain.ScenarioResult {
		res := domain.ScenarioResult{Name: def.Name, Status: status, Duration: time.Since(start), Err: err}
		logScenarioResult(logger, res)
		return res
	}

	if def.Live && r.opts.SkipLive {
		return result(domain.StatusSkipped, domain.Skip("live scenarios disabled"))
	}
	if def.Run == nil {
		return result(domain.StatusFailed, fmt.Errorf("scenario %s has no body", def.Name))
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("provisioning environment", "timeout", timeout)
	env, err := r.provision(runCtx)
	if err != nil {
		return result(domain.StatusFailed, fmt.Errorf("failed to provision environment: %w", err))
	}
	defer r.cleanup(ctx, env, logger)

	err = r.execute(runCtx, def, env, logger)
	// A body that reports something else once its deadline passed still timed out.
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", context.DeadlineExceeded, timeout, err)
	}
	return result(Classify(err), err)
}

func (r *Runner[E]) execute(ctx context.Context, def Definition[E], env E, logger *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scenario panicked: %v", p)
		}
	}()

	if def.Setup != nil {
		if err := def.Setup(ctx, env); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	if def.Teardown != nil {
		// Teardown runs after a timeout or a panic in Run, so it gets its own budget.
		defer func() {
			tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CleanupTimeout)
			defer cancel()
			if terr := def.Teardown(tctx, env); terr != nil {
				logger.Warn("teardown failed", "error", terr)
			}
		}()
	}
	return def.Run(ctx, env)
}

func (r *Runner[E]) cleanup(ctx context.Context, env E, logger *slog.Logger) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CleanupTimeout)
	defer cancel()
	if err := env.Cleanup(cctx); err != nil {
		logger.Warn("cleanup failed", "error", err)
	}
}

// Classify maps a body outcome to a scenario status.
func Classify(err error) domain.ScenarioStatus {
	switch {
	case err == nil:
		return domain.StatusPassed
	case domain.IsSkip(err):
		return domain.StatusSkipped
	case errors.Is(err, context.DeadlineExceeded):
		return domain.StatusTimedOut
	default:
		return domain.StatusFailed
	}
}

func logScenarioResult(logger *slog.Logger, res domain.ScenarioResult) {
	attrs := []any{"status", res.Status.String(), "duration", res.Duration.Round(time.Millisecond)}
	switch res.Status {
	case domain.StatusPassed:
		logger.Info("scenario passed", attrs...)
	case domain.StatusSkipped:
		logger.Info("scenario skipped", append(attrs, "reason", res.Message())...)
	default:
		logger.Error("scenario did not pass", append(attrs, "error", res.Message())...)
	}
}

// ParseNames splits a comma-separated selection, trimming blanks.
func ParseNames(list []string) []string {
	var names []string
	for _, item := range list {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	return lo.Uniq(names)
}

// Select keeps the definitions named in names, in catalog order. An empty
// selection keeps everything. Names that match nothing are returned.
func Select[E Env](defs []Definition[E], names []string) ([]Definition[E], []string) {
	if len(names) == 0 {
		return defs, nil
	}
	known := lo.Map(defs, func(d Definition[E], _ int) string { return d.Name })
	selected := lo.Filter(defs, func(d Definition[E], _ int) bool {
		return lo.Contains(names, d.Name)
	})
	unknown := lo.Filter(names, func(n string, _ int) bool {
		return !lo.Contains(known, n)
	})
	return selected, unknown
}
