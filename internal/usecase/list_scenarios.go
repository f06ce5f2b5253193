package usecase

import (
	"context"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/scenario"
)

// ListScenariosParams contains parameters for listing scenarios
type ListScenariosParams struct {
	// Tests restricts the listing the same way it restricts a run
	Tests []string
}

// ListScenariosResult contains the listed scenarios and unmatched names
type ListScenariosResult struct {
	Scenarios []ScenarioInfo
	Unknown   []string
}

// ScenarioInfo describes one runnable scenario
type ScenarioInfo struct {
	Name        string
	Description string
	Timeout     time.Duration
	Live        bool
}

// ListScenarios is a use case for listing the scenario catalog
type ListScenarios struct {
	catalog ScenarioCatalog
}

// NewListScenarios creates a new ListScenarios use case
func NewListScenarios(catalog ScenarioCatalog) *ListScenarios {
	return &ListScenarios{catalog: catalog}
}

// Run executes the use case
func (uc *ListScenarios) Run(ctx context.Context, params ListScenariosParams) (*ListScenariosResult, error) {
	selected, unknown := scenario.Select(uc.catalog.Scenarios(), scenario.ParseNames(params.Tests))

	infos := make([]ScenarioInfo, 0, len(selected))
	for _, s := range selected {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = scenario.DefaultTimeout
		}
		infos = append(infos, ScenarioInfo{
			Name:        s.Name,
			Description: s.Description,
			Timeout:     timeout,
			Live:        s.Live,
		})
	}

	return &ListScenariosResult{
		Scenarios: infos,
		Unknown:   unknown,
	}, nil
}
