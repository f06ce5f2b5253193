// Package indexer supervises the rindexer binary under test.
package indexer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/process"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultStartupGrace = 500 * time.Millisecond
	defaultKillTimeout  = 5 * time.Second
	tailSize            = 40
)

var graphqlURLPattern = regexp.MustCompile(`https?://[^\s"'<>]+/graphql`)

// Options describes one indexer run.
type Options struct {
	Binary     string
	ProjectDir string
	Mode       domain.IndexerMode
	Env        map[string]string

	// Markers are stdout substrings meaning historic sync finished.
	Markers []string

	PollInterval time.Duration
	StartupGrace time.Duration
	KillTimeout  time.Duration

	// Mirror, when set, receives every raw output line.
	Mirror io.Writer
	PTY    bool
}

func (o *Options) applyDefaults() {
	if o.Mode == "" {
		o.Mode = domain.IndexerOnly
	}
	if len(o.Markers) == 0 {
		o.Markers = domain.DefaultCompletionMarkers
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	// A negative grace disables the startup window.
	if o.StartupGrace == 0 {
		o.StartupGrace = defaultStartupGrace
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = defaultKillTimeout
	}
}

// Supervisor owns one indexer process and the state derived from its logs.
type Supervisor struct {
	opts       Options
	baseLogger *slog.Logger
	logger     *slog.Logger

	proc *process.ManagedProcess
	tail *process.Tail

	syncCompleted atomic.Bool
	graphqlURL    atomic.Pointer[string]
	mirrorMu      sync.Mutex

	stopOnce sync.Once
	stopErr  error
}

// Start spawns the indexer and watches its startup window. A failing exit
// inside the grace period is reported as a crash; a clean exit is allowed,
// since an indexer with nothing to do may finish immediately.
func Start(ctx context.Context, opts Options, logger *slog.Logger) (*Supervisor, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		opts:       opts,
		baseLogger: logger,
		logger:     logger.With("component", "indexer", "mode", string(opts.Mode)),
		tail:       process.NewTail(tailSize),
	}
	s.proc = process.New(process.SpawnOptions{
		Name:    "rindexer",
		Command: opts.Binary,
		Args:    opts.Mode.Args(),
		Dir:     opts.ProjectDir,
		Env:     opts.Env,
		PTY:     opts.PTY,
	}, s.logger)
	s.proc.OnStdoutLine(s.observeStdout)
	s.proc.OnStderrLine(s.observeStderr)

	if err := s.proc.Start(); err != nil {
		return nil, err
	}
	s.logger.Info("indexer started", "pid", s.proc.PID(), "project", opts.ProjectDir)

	select {
	case <-s.proc.Done():
		status, _ := s.exitAfterDrain()
		if !status.Success() {
			return nil, &domain.IndexerCrashedError{Status: *status, Tail: s.tail.Lines()}
		}
		s.logger.Info("indexer exited immediately with success, likely nothing to index")
	case <-time.After(max(opts.StartupGrace, 0)):
	case <-ctx.Done():
		_ = s.Stop()
		return nil, ctx.Err()
	}
	return s, nil
}

func (s *Supervisor) observeStdout(line string) {
	s.mirror(line)
	clean := ansi.Strip(line)
	s.tail.Add(clean)
	s.logger.Debug("indexer output", "stream", "stdout", "line", clean)

	if !s.syncCompleted.Load() {
		for _, marker := range s.opts.Markers {
			if strings.Contains(clean, marker) {
				s.syncCompleted.Store(true)
				s.logger.Info("historic sync completed", "marker", marker)
				break
			}
		}
	}
	if s.graphqlURL.Load() == nil {
		if url := graphqlURLPattern.FindString(clean); url != "" {
			s.graphqlURL.CompareAndSwap(nil, &url)
			s.logger.Info("graphql endpoint announced", "url", url)
		}
	}
}

func (s *Supervisor) observeStderr(line string) {
	s.mirror(line)
	clean := ansi.Strip(line)
	s.tail.Add(clean)
	s.logger.Error("indexer output", "stream", "stderr", "line", clean)
}

func (s *Supervisor) mirror(line string) {
	if s.opts.Mirror == nil {
		return
	}
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()
	fmt.Fprintln(s.opts.Mirror, line)
}

// exitAfterDrain reports the exit status once the output observed before
// exit has been delivered, bounded by one poll interval.
func (s *Supervisor) exitAfterDrain() (*domain.ExitStatus, bool) {
	status, ok := s.proc.TryExitStatus()
	if !ok {
		return nil, false
	}
	select {
	case <-s.proc.StreamsDone():
	case <-time.After(s.opts.PollInterval):
	}
	return status, true
}

// SyncCompleted reports whether a completion marker was seen. Once true it
// stays true.
func (s *Supervisor) SyncCompleted() bool { return s.syncCompleted.Load() }

// WaitForInitialSync blocks until historic sync completes, the indexer
// exits or timeout passes.
func (s *Supervisor) WaitForInitialSync(ctx context.Context, timeout time.Duration) error {
	out := readiness.Until(ctx, func(context.Context) (bool, error) {
		return s.syncCompleted.Load(), nil
	}, readiness.Options{
		Interval:   s.opts.PollInterval,
		Timeout:    timeout,
		Exited:     s.proc.Done(),
		ExitStatus: s.exitAfterDrain,
	})

	switch out.Kind {
	case domain.OutcomeReady:
		return nil
	case domain.OutcomeProcessExited:
		if s.syncCompleted.Load() {
			return nil
		}
		if out.Status.Success() {
			return domain.ErrIndexerExited
		}
		return &domain.IndexerCrashedError{Status: *out.Status, Tail: s.tail.Lines()}
	default:
		return &domain.TimeoutError{Operation: "initial sync", Elapsed: out.Elapsed}
	}
}

// WaitForGraphQLURL waits for the indexer to announce its GraphQL
// endpoint. It returns false on timeout or exit; callers fall back to
// domain.DefaultGraphQLURL.
func (s *Supervisor) WaitForGraphQLURL(ctx context.Context, timeout time.Duration) (string, bool) {
	out := readiness.Until(ctx, func(context.Context) (bool, error) {
		return s.graphqlURL.Load() != nil, nil
	}, readiness.Options{
		Interval:   s.opts.PollInterval,
		Timeout:    timeout,
		Exited:     s.proc.Done(),
		ExitStatus: s.exitAfterDrain,
	})
	if url := s.graphqlURL.Load(); url != nil {
		return *url, true
	}
	if !out.Ready() {
		s.logger.Debug("graphql url not announced", "outcome", out.Kind.String())
	}
	return "", false
}

// IsRunning reports whether the indexer process is alive.
func (s *Supervisor) IsRunning() bool { return s.proc.Running() }

// ExitStatus returns the exit status once the process has exited.
func (s *Supervisor) ExitStatus() (*domain.ExitStatus, bool) { return s.proc.TryExitStatus() }

// Tail returns the most recent output lines, ANSI stripped.
func (s *Supervisor) Tail() []string { return s.tail.Lines() }

func (s *Supervisor) PID() int { return s.proc.PID() }

func (s *Supervisor) Mode() domain.IndexerMode { return s.opts.Mode }

// Stop terminates the indexer. It is idempotent.
func (s *Supervisor) Stop() error {
	s.stopOnce.Do(func() {
		if !s.proc.Kill(s.opts.KillTimeout) {
			s.stopErr = fmt.Errorf("indexer did not exit within %s and was killed", s.opts.KillTimeout)
		}
		s.logger.Debug("indexer stopped")
	})
	return s.stopErr
}

// Restart stops this indexer and starts a fresh one with the same
// options. The new supervisor starts with its sync flag cleared.
func (s *Supervisor) Restart(ctx context.Context) (*Supervisor, error) {
	if err := s.Stop(); err != nil {
		s.logger.Warn("stop before restart", "error", err)
	}
	return Start(ctx, s.opts, s.baseLogger)
}
