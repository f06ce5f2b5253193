package domain

import "time"

// OutcomeKind classifies how a readiness wait ended.
type OutcomeKind int

const (
	OutcomeReady OutcomeKind = iota
	OutcomeTimedOut
	OutcomeProcessExited
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeReady:
		return "ready"
	case OutcomeTimedOut:
		return "timed out"
	case OutcomeProcessExited:
		return "process exited"
	default:
		return "unknown"
	}
}

// ReadinessOutcome is the result of polling a condition against a deadline.
type ReadinessOutcome struct {
	Kind    OutcomeKind
	Elapsed time.Duration
	// Status is set for OutcomeProcessExited.
	Status *ExitStatus
	// LastErr is the most recent probe error, if any.
	LastErr error
}

func (o ReadinessOutcome) Ready() bool { return o.Kind == OutcomeReady }

// Err converts the outcome into an error for the named operation.
func (o ReadinessOutcome) Err(operation string) error {
	switch o.Kind {
	case OutcomeReady:
		return nil
	case OutcomeProcessExited:
		status := ExitStatus{Code: -1}
		if o.Status != nil {
			status = *o.Status
		}
		return &ProcessExitedError{Name: operation, Status: status}
	default:
		return &TimeoutError{Operation: operation, Elapsed: o.Elapsed}
	}
}
