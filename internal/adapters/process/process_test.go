package process

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/logging"
)

// writeScript drops an executable shell script into a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "child.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestManagedProcess_StreamsInOrderToAllObservers(t *testing.T) {
	script := writeScript(t, `for i in 1 2 3 4 5; do echo "line $i"; done; echo "oops" >&2`)

	p := New(SpawnOptions{Command: script}, logging.Discard())
	var a, b, errs lineCollector
	p.OnStdoutLine(a.add)
	p.OnStdoutLine(b.add)
	p.OnStderrLine(errs.add)
	require.NoError(t, p.Start())

	status, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Success())

	<-p.StreamsDone()
	want := []string{"line 1", "line 2", "line 3", "line 4", "line 5"}
	assert.Equal(t, want, a.get())
	assert.Equal(t, want, b.get())
	assert.Equal(t, []string{"oops"}, errs.get())
	assert.Equal(t, domain.ProcessExited, p.State())
}

func TestManagedProcess_EnvAndDir(t *testing.T) {
	script := writeScript(t, `echo "$E2E_VALUE"; pwd`)
	dir := t.TempDir()

	var out lineCollector
	p := New(SpawnOptions{Command: script, Dir: dir, Env: map[string]string{"E2E_VALUE": "hello"}}, logging.Discard())
	p.OnStdoutLine(out.add)
	require.NoError(t, p.Start())
	_, err := p.Wait(context.Background())
	require.NoError(t, err)
	<-p.StreamsDone()

	lines := out.get()
	require.Len(t, lines, 2)
	assert.Equal(t, "hello", lines[0])
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{dir, resolved}, lines[1])
}

func TestManagedProcess_ExitCode(t *testing.T) {
	p, err := Spawn(SpawnOptions{Command: writeScript(t, "exit 3")}, logging.Discard())
	require.NoError(t, err)

	status, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Success())
	assert.Equal(t, 3, status.Code)
	assert.Equal(t, "exit status 3", status.String())

	got, ok := p.TryExitStatus()
	require.True(t, ok)
	assert.Equal(t, 3, got.Code)
}

func TestManagedProcess_SpawnFailure(t *testing.T) {
	_, err := Spawn(SpawnOptions{Command: filepath.Join(t.TempDir(), "missing")}, logging.Discard())
	var spawnErr *domain.SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestManagedProcess_KillAfterFailedStart(t *testing.T) {
	p := New(SpawnOptions{Command: filepath.Join(t.TempDir(), "missing")}, logging.Discard())
	require.Error(t, p.Start())

	require.NotPanics(t, func() { assert.True(t, p.Kill(time.Second)) })
	assert.Equal(t, domain.ProcessExited, p.State())
	assert.Zero(t, p.PID())
}

func TestManagedProcess_KillBeforeStart(t *testing.T) {
	p := New(SpawnOptions{Command: writeScript(t, "sleep 30")}, logging.Discard())
	assert.True(t, p.Kill(time.Second))

	var spawnErr *domain.SpawnError
	require.ErrorAs(t, p.Start(), &spawnErr)
	assert.Zero(t, p.PID())
}

func TestManagedProcess_KillAfterExitKeepsExited(t *testing.T) {
	p, err := Spawn(SpawnOptions{Command: writeScript(t, "exit 0")}, logging.Discard())
	require.NoError(t, err)
	_, err = p.Wait(context.Background())
	require.NoError(t, err)

	assert.True(t, p.Kill(time.Second))
	assert.Equal(t, domain.ProcessExited, p.State())
	status, ok := p.TryExitStatus()
	require.True(t, ok)
	assert.True(t, status.Success())
}

func TestManagedProcess_TryExitStatusWhileRunning(t *testing.T) {
	p, err := Spawn(SpawnOptions{Command: writeScript(t, "sleep 30")}, logging.Discard())
	require.NoError(t, err)
	defer p.Kill(time.Second)

	_, ok := p.TryExitStatus()
	assert.False(t, ok)
	assert.True(t, p.Running())
	assert.NotZero(t, p.PID())
}

func TestManagedProcess_KillGraceful(t *testing.T) {
	p, err := Spawn(SpawnOptions{Command: writeScript(t, "sleep 30")}, logging.Discard())
	require.NoError(t, err)

	start := time.Now()
	assert.True(t, p.Kill(2*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.ProcessKilled, p.State())

	status, ok := p.TryExitStatus()
	require.True(t, ok)
	assert.Equal(t, "terminated", status.Signal)

	// Idempotent.
	assert.True(t, p.Kill(time.Second))
}

func TestManagedProcess_KillEscalates(t *testing.T) {
	p, err := Spawn(SpawnOptions{Command: writeScript(t, `trap "" TERM; while true; do sleep 0.1; done`)}, logging.Discard())
	require.NoError(t, err)
	// Give the shell time to install the trap.
	time.Sleep(200 * time.Millisecond)

	assert.False(t, p.Kill(300*time.Millisecond))
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived SIGKILL")
	}
}

func TestManagedProcess_NoCallbacksAfterKill(t *testing.T) {
	p := New(SpawnOptions{Command: writeScript(t, `while true; do echo tick; sleep 0.01; done`)}, logging.Discard())
	var out lineCollector
	p.OnStdoutLine(out.add)
	require.NoError(t, p.Start())

	require.Eventually(t, func() bool { return len(out.get()) > 3 }, 5*time.Second, 10*time.Millisecond)
	p.Kill(time.Second)

	n := len(out.get())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, n, len(out.get()))
}

func TestManagedProcess_GrandchildDoesNotPinExit(t *testing.T) {
	p, err := Spawn(SpawnOptions{Command: writeScript(t, "sleep 30 & echo started")}, logging.Discard())
	require.NoError(t, err)
	defer p.Kill(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, status.Success())

	select {
	case <-p.StreamsDone():
	case <-time.After(streamDrainGrace + 2*time.Second):
		t.Fatal("readers pinned by grandchild")
	}
}

func TestManagedProcess_PTYMergesStreams(t *testing.T) {
	script := writeScript(t, `echo out; echo err >&2`)
	p := New(SpawnOptions{Command: script, PTY: true}, logging.Discard())
	var out lineCollector
	p.OnStdoutLine(out.add)
	require.NoError(t, p.Start())

	_, err := p.Wait(context.Background())
	require.NoError(t, err)
	<-p.StreamsDone()

	assert.ElementsMatch(t, []string{"out", "err"}, out.get())
}

func TestTail(t *testing.T) {
	tail := NewTail(3)
	for i := 0; i < 5; i++ {
		tail.Add(fmt.Sprintf("l%d", i))
	}
	assert.Equal(t, []string{"l2", "l3", "l4"}, tail.Lines())
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, "A=1,B=3,C=4", strings.Join(got, ","))
}

func TestWaitPortFree(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()

	err = WaitPortFree(context.Background(), addr, 3, 20*time.Millisecond)
	assert.Error(t, err)

	require.NoError(t, l.Close())
	assert.NoError(t, WaitPortFree(context.Background(), addr, 3, 20*time.Millisecond))
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)
}
