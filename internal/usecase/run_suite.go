package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/scenario"
)

// DefaultSuiteName names the report when no name is given
const DefaultSuiteName = "rindexer e2e"

// RunSuiteParams contains parameters for running the suite
type RunSuiteParams struct {
	// Tests restricts the run to these scenario names. Entries may be
	// comma separated. Empty means everything.
	Tests []string
	Name  string
}

// RunSuiteResult contains the outcome of a suite run
type RunSuiteResult struct {
	Report   *domain.SuiteReport
	Selected []string
	Unknown  []string
}

// RunSuite is a use case for running the selected scenarios
type RunSuite struct {
	catalog  ScenarioCatalog
	executor SuiteExecutor
	progress ProgressSink
}

// NewRunSuite creates a new RunSuite use case
func NewRunSuite(catalog ScenarioCatalog, executor SuiteExecutor, progress ProgressSink) *RunSuite {
	if progress == nil {
		progress = NopProgress{}
	}
	return &RunSuite{
		catalog:  catalog,
		executor: executor,
		progress: progress,
	}
}

// Run executes the use case. The returned report may be unsuccessful
// without an error; callers decide how to surface failures.
func (uc *RunSuite) Run(ctx context.Context, params RunSuiteParams) (*RunSuiteResult, error) {
	names := scenario.ParseNames(params.Tests)
	selected, unknown := scenario.Select(uc.catalog.Scenarios(), names)

	for _, name := range unknown {
		uc.progress.Error(fmt.Sprintf("Warning: unknown scenario %q, ignoring", name))
	}
	if len(selected) == 0 {
		if len(names) > 0 {
			return nil, fmt.Errorf("%w: none of %s exist", domain.ErrNoScenarios, strings.Join(names, ", "))
		}
		return nil, domain.ErrNoScenarios
	}

	suiteName := params.Name
	if suiteName == "" {
		suiteName = DefaultSuiteName
	}
	uc.progress.Info(fmt.Sprintf("Running %d scenario(s)", len(selected)))

	report := uc.executor.Run(ctx, suiteName, selected)
	return &RunSuiteResult{
		Report:   report,
		Selected: lo.Map(selected, func(s scenario.Scenario, _ int) string { return s.Name }),
		Unknown:  unknown,
	}, nil
}
