package adapters

import (
	"log/slog"

	"github.com/google/wire"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/preflight"
	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/scenario"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// ProvideSuiteRunner provides the scenario runner, reporting to sink
func ProvideSuiteRunner(cfg *config.RuntimeConfig, logger *slog.Logger, sink usecase.ProgressSink) *scenario.SuiteRunner {
	return scenario.NewSuiteRunner(cfg, logger, usecase.NewSuiteObserver(sink))
}

// ProvidePrerequisites provides the checks for the configured environment
func ProvidePrerequisites(cfg *config.RuntimeConfig) []usecase.PrerequisiteChecker {
	return preflight.Checks(cfg)
}

// ScenarioSet provides the catalog and the runner
var ScenarioSet = wire.NewSet(
	scenario.NewSource,
	wire.Bind(new(usecase.ScenarioCatalog), new(*scenario.Source)),

	ProvideSuiteRunner,
	wire.Bind(new(usecase.SuiteExecutor), new(*scenario.SuiteRunner)),
)

// PreflightSet provides environment checks
var PreflightSet = wire.NewSet(
	ProvidePrerequisites,
)

// AllAdapters includes all adapter sets
var AllAdapters = wire.NewSet(
	ScenarioSet,
	PreflightSet,
)
