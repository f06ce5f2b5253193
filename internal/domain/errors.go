package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for harness operations
var (
	// ErrIndexerExited is returned when the indexer exits cleanly before it
	// ever reported historic sync completion.
	ErrIndexerExited = errors.New("indexer exited before signaling sync completion")

	// ErrNotRunning is returned when an operation needs a live indexer and there is none
	ErrNotRunning = errors.New("indexer is not running")

	// ErrSuiteFailed is returned by the suite when at least one scenario failed or timed out
	ErrSuiteFailed = errors.New("one or more scenarios failed")

	// ErrNoArtifacts is returned when the test contract artifacts cannot be found
	ErrNoArtifacts = errors.New("contract artifacts not found")

	// ErrNoContract is returned when a scenario needs a deployed contract and none exists
	ErrNoContract = errors.New("no test contract deployed")

	ErrNoScenarios = errors.New("no scenarios selected")
)

// SpawnError reports that a child process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// NodeNeverReadyError reports a chain node whose RPC never answered.
type NodeNeverReadyError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *NodeNeverReadyError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("chain node at %s not ready after %d attempts: %v", e.URL, e.Attempts, e.Last)
	}
	return fmt.Sprintf("chain node at %s not ready after %d attempts", e.URL, e.Attempts)
}

func (e *NodeNeverReadyError) Unwrap() error { return e.Last }

// RPCError wraps any failure of a JSON-RPC call: transport, HTTP status,
// malformed body or an error member in the response.
type RPCError struct {
	Method string
	Err    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// IndexerCrashedError is returned when the indexer exits with a failure
// status before signaling sync completion.
type IndexerCrashedError struct {
	Status ExitStatus
	Tail   []string
}

func (e *IndexerCrashedError) Error() string {
	return fmt.Sprintf("indexer crashed with %s", e.Status)
}

// ProcessExitedError is returned when a supervised process exits while a
// caller is still waiting on it.
type ProcessExitedError struct {
	Name   string
	Status ExitStatus
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("%s exited with %s", e.Name, e.Status)
}

// TimeoutError is returned when a readiness wait exceeds its deadline.
type TimeoutError struct {
	Operation string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Elapsed.Round(time.Millisecond))
}

// Is lets callers match timeouts with errors.Is(err, context.DeadlineExceeded).
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// SkipError marks a scenario that could not run in this environment.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip builds a SkipError.
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err carries a SkipError.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}
