package domain

import "fmt"

// ProcessState is the lifecycle state of a supervised child process.
type ProcessState int

const (
	ProcessSpawning ProcessState = iota
	ProcessRunning
	ProcessExited
	ProcessKilled
)

func (s ProcessState) String() string {
	switch s {
	case ProcessSpawning:
		return "spawning"
	case ProcessRunning:
		return "running"
	case ProcessExited:
		return "exited"
	case ProcessKilled:
		return "killed"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// ExitStatus is how a child process terminated. Signal is empty when the
// process exited on its own.
type ExitStatus struct {
	Code   int
	Signal string
}

// Success reports a zero exit code.
func (s ExitStatus) Success() bool {
	return s.Signal == "" && s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return "signal: " + s.Signal
	}
	return fmt.Sprintf("exit status %d", s.Code)
}
