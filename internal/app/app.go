package app

import (
	"log/slog"

	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// App is the main application container that holds all use cases
type App struct {
	// Configuration
	Config *config.RuntimeConfig
	Logger *slog.Logger

	// Use cases
	RunSuite         *usecase.RunSuite
	ListScenarios    *usecase.ListScenarios
	CheckEnvironment *usecase.CheckEnvironment
}

// NewApp creates a new application instance with all use cases
func NewApp(
	cfg *config.RuntimeConfig,
	logger *slog.Logger,
	runSuite *usecase.RunSuite,
	listScenarios *usecase.ListScenarios,
	checkEnvironment *usecase.CheckEnvironment,
) (*App, error) {
	return &App{
		Config:           cfg,
		Logger:           logger,
		RunSuite:         runSuite,
		ListScenarios:    listScenarios,
		CheckEnvironment: checkEnvironment,
	}, nil
}
