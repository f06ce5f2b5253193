package domain

import "time"

// ScenarioStatus is the final verdict for one scenario.
type ScenarioStatus int

const (
	StatusPassed ScenarioStatus = iota
	StatusFailed
	StatusTimedOut
	StatusSkipped
)

func (s ScenarioStatus) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timeout"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ScenarioResult is the recorded outcome of one scenario run.
type ScenarioResult struct {
	Name     string
	Status   ScenarioStatus
	Duration time.Duration
	Err      error
}

// Message returns the failure or skip cause, if any.
func (r ScenarioResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// SuiteReport aggregates scenario results in execution order.
type SuiteReport struct {
	Name     string
	Results  []ScenarioResult
	Duration time.Duration
}

func (r *SuiteReport) Add(res ScenarioResult) {
	r.Results = append(r.Results, res)
	r.Duration += res.Duration
}

func (r *SuiteReport) count(status ScenarioStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

func (r *SuiteReport) Passed() int   { return r.count(StatusPassed) }
func (r *SuiteReport) Failed() int   { return r.count(StatusFailed) }
func (r *SuiteReport) TimedOut() int { return r.count(StatusTimedOut) }
func (r *SuiteReport) Skipped() int  { return r.count(StatusSkipped) }
func (r *SuiteReport) Total() int    { return len(r.Results) }

// Success is false when any scenario failed or timed out.
func (r *SuiteReport) Success() bool {
	return r.Failed() == 0 && r.TimedOut() == 0
}
