package usecase

import (
	"context"
)

// CheckEnvironmentParams contains parameters for checking prerequisites
type CheckEnvironmentParams struct {
	// Currently no parameters, but we keep the struct for future extensibility
}

// CheckEnvironmentResult contains the outcome of every check
type CheckEnvironmentResult struct {
	Checks []CheckStatus
}

// CheckStatus represents the status of one prerequisite
type CheckStatus struct {
	Name   string
	Detail string
	Error  error
}

// OK reports whether every check passed
func (r *CheckEnvironmentResult) OK() bool {
	for _, c := range r.Checks {
		if c.Error != nil {
			return false
		}
	}
	return true
}

// CheckEnvironment is a use case for verifying that the tools the suite
// shells out to are present
type CheckEnvironment struct {
	checkers []PrerequisiteChecker
}

// NewCheckEnvironment creates a new CheckEnvironment use case
func NewCheckEnvironment(checkers []PrerequisiteChecker) *CheckEnvironment {
	return &CheckEnvironment{
		checkers: checkers,
	}
}

// Run executes the use case. Failing checks are reported in the result,
// not as an error.
func (uc *CheckEnvironment) Run(ctx context.Context, params CheckEnvironmentParams) (*CheckEnvironmentResult, error) {
	checks := make([]CheckStatus, 0, len(uc.checkers))
	for _, c := range uc.checkers {
		detail, err := c.Check(ctx)
		checks = append(checks, CheckStatus{
			Name:   c.Name(),
			Detail: detail,
			Error:  err,
		})
	}

	return &CheckEnvironmentResult{
		Checks: checks,
	}, nil
}
