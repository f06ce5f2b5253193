// Package process supervises child processes: it spawns them, streams
// their output line by line to observers and tears them down.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
)

const (
	// streamDrainGrace bounds how long output readers may outlive the
	// process before their pipes are force-closed.
	streamDrainGrace = 2 * time.Second

	// killWaitBound bounds the wait after SIGKILL.
	killWaitBound = 5 * time.Second
)

// SpawnOptions describes a child process.
type SpawnOptions struct {
	// Name labels the process in logs and errors. Defaults to Command.
	Name    string
	Command string
	Args    []string
	Dir     string
	// Env entries override the inherited environment.
	Env map[string]string
	// PTY runs the child on a pseudo terminal. Stdout and stderr are
	// merged into the stdout stream.
	PTY bool
}

// ManagedProcess is a spawned child whose output is delivered line by line
// to registered observers.
type ManagedProcess struct {
	opts   SpawnOptions
	logger *slog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	files []*os.File

	stdout lineBroadcaster
	stderr lineBroadcaster

	started atomic.Bool
	killing atomic.Bool
	// signalled is set once Kill delivered a signal to a running child.
	signalled atomic.Bool
	status    atomic.Pointer[domain.ExitStatus]

	done        chan struct{}
	streams     sync.WaitGroup
	streamsDone chan struct{}
}

// New prepares a process without starting it, so observers can be
// registered before the first line is produced.
func New(opts SpawnOptions, logger *slog.Logger) *ManagedProcess {
	if opts.Name == "" {
		opts.Name = opts.Command
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ManagedProcess{
		opts:        opts,
		logger:      logger.With("process", opts.Name),
		done:        make(chan struct{}),
		streamsDone: make(chan struct{}),
	}
}

// Spawn is New followed by Start.
func Spawn(opts SpawnOptions, logger *slog.Logger) (*ManagedProcess, error) {
	p := New(opts, logger)
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// OnStdoutLine registers an observer for stdout lines. The returned func
// removes it.
func (p *ManagedProcess) OnStdoutLine(fn LineFunc) func() { return p.stdout.subscribe(fn) }

// OnStderrLine registers an observer for stderr lines.
func (p *ManagedProcess) OnStderrLine(fn LineFunc) func() { return p.stderr.subscribe(fn) }

// Start launches the child.
func (p *ManagedProcess) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.killing.Load() {
		return &domain.SpawnError{Command: p.opts.Command, Err: errors.New("process was killed before start")}
	}
	if !p.started.CompareAndSwap(false, true) {
		return &domain.SpawnError{Command: p.opts.Command, Err: errors.New("already started")}
	}

	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	cmd.Dir = p.opts.Dir
	cmd.Env = mergeEnv(os.Environ(), p.opts.Env)

	if p.opts.PTY {
		// pty.Start puts the child in its own session, so its pid is also
		// its process group id.
		f, err := pty.Start(cmd)
		if err != nil {
			p.failStart()
			return &domain.SpawnError{Command: p.opts.Command, Err: err}
		}
		p.files = []*os.File{f}
		p.streams.Add(1)
		go p.read(f, &p.stdout)
	} else {
		setProcessGroup(cmd)

		outR, outW, err := os.Pipe()
		if err != nil {
			p.failStart()
			return &domain.SpawnError{Command: p.opts.Command, Err: err}
		}
		errR, errW, err := os.Pipe()
		if err != nil {
			closeAll(outR, outW)
			p.failStart()
			return &domain.SpawnError{Command: p.opts.Command, Err: err}
		}
		cmd.Stdout = outW
		cmd.Stderr = errW

		if err := cmd.Start(); err != nil {
			closeAll(outR, outW, errR, errW)
			p.failStart()
			return &domain.SpawnError{Command: p.opts.Command, Err: err}
		}
		// The child holds its own copies of the write ends.
		closeAll(outW, errW)

		p.files = []*os.File{outR, errR}
		p.streams.Add(2)
		go p.read(outR, &p.stdout)
		go p.read(errR, &p.stderr)
	}

	p.cmd = cmd
	p.logger.Debug("process started", "pid", cmd.Process.Pid, "args", p.opts.Args, "dir", p.opts.Dir)

	go func() {
		p.streams.Wait()
		close(p.streamsDone)
	}()
	go p.wait()

	return nil
}

// failStart leaves the process in a terminal state when spawning fails.
func (p *ManagedProcess) failStart() {
	p.status.Store(&domain.ExitStatus{Code: -1})
	close(p.done)
	close(p.streamsDone)
}

func (p *ManagedProcess) read(f *os.File, b *lineBroadcaster) {
	defer p.streams.Done()
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			b.publish(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			// io.EOF for pipes, EIO for a pty whose child exited, or
			// os.ErrClosed after a forced close.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !errors.Is(err, syscall.EIO) {
				p.logger.Debug("output reader stopped", "error", err)
			}
			return
		}
	}
}

func (p *ManagedProcess) wait() {
	err := p.cmd.Wait()
	status := exitStatusOf(p.cmd.ProcessState, err)
	p.status.Store(&status)
	close(p.done)
	p.logger.Debug("process exited", "status", status.String())

	// Grandchildren may keep the pipes open; do not let them pin the readers.
	select {
	case <-p.streamsDone:
	case <-time.After(streamDrainGrace):
		p.mu.Lock()
		closeAll(p.files...)
		p.mu.Unlock()
	}
}

// TryExitStatus returns the exit status without blocking.
func (p *ManagedProcess) TryExitStatus() (*domain.ExitStatus, bool) {
	s := p.status.Load()
	return s, s != nil
}

// Done is closed once the process has exited.
func (p *ManagedProcess) Done() <-chan struct{} { return p.done }

// StreamsDone is closed once every output line has been delivered.
func (p *ManagedProcess) StreamsDone() <-chan struct{} { return p.streamsDone }

// Wait blocks until the process exits or ctx is done.
func (p *ManagedProcess) Wait(ctx context.Context) (domain.ExitStatus, error) {
	select {
	case <-p.done:
		return *p.status.Load(), nil
	case <-ctx.Done():
		return domain.ExitStatus{}, ctx.Err()
	}
}

// PID returns the child's pid, or 0 before it started.
func (p *ManagedProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Name is the label used in logs.
func (p *ManagedProcess) Name() string { return p.opts.Name }

// State reports the lifecycle state.
func (p *ManagedProcess) State() domain.ProcessState {
	if p.status.Load() != nil {
		if p.signalled.Load() {
			return domain.ProcessKilled
		}
		return domain.ProcessExited
	}
	if !p.started.Load() {
		return domain.ProcessSpawning
	}
	return domain.ProcessRunning
}

// Running reports whether the process is alive.
func (p *ManagedProcess) Running() bool {
	return p.State() == domain.ProcessRunning
}

// Kill asks the process group to terminate, escalating to SIGKILL after
// timeout. It reports whether the process exited within the window. Kill
// is idempotent and safe to call concurrently; no observer callback starts
// once it has been called. A process that already exited keeps its
// Exited state.
func (p *ManagedProcess) Kill(timeout time.Duration) bool {
	p.killing.Store(true)
	p.stdout.close()
	p.stderr.close()

	// Start holds mu until cmd is set or the spawn failed.
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return true
	}
	select {
	case <-p.done:
		return true
	default:
	}

	proc := cmd.Process
	if err := signalGroup(proc, syscall.SIGTERM); err != nil {
		p.logger.Debug("SIGTERM failed", "error", err)
	} else {
		p.signalled.Store(true)
	}

	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
	}

	p.logger.Warn("process did not exit after SIGTERM, sending SIGKILL", "timeout", timeout)
	if err := signalGroup(proc, syscall.SIGKILL); err != nil {
		p.logger.Debug("SIGKILL failed", "error", err)
	} else {
		p.signalled.Store(true)
	}

	select {
	case <-p.done:
	case <-time.After(killWaitBound):
		p.logger.Error("process still running after SIGKILL", "pid", proc.Pid)
	}
	return false
}

func exitStatusOf(ps *os.ProcessState, err error) domain.ExitStatus {
	if ps == nil {
		return domain.ExitStatus{Code: -1, Signal: fmt.Sprint(err)}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return domain.ExitStatus{Code: -1, Signal: ws.Signal().String()}
	}
	return domain.ExitStatus{Code: ps.ExitCode()}
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
