package usecase

import (
	"context"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/scenario"
)

// ScenarioCatalog provides every scenario the suite knows about, in
// execution order
type ScenarioCatalog interface {
	Scenarios() []scenario.Scenario
}

// SuiteExecutor runs scenarios sequentially and reports on them
type SuiteExecutor interface {
	Run(ctx context.Context, name string, defs []scenario.Scenario) *domain.SuiteReport
}

// PrerequisiteChecker reports whether an external tool or file the suite
// depends on is usable
type PrerequisiteChecker interface {
	Name() string
	Check(ctx context.Context) (detail string, err error)
}

// Progress tracking interfaces

// ProgressEvent represents a progress update
type ProgressEvent struct {
	Stage    string
	Current  int
	Total    int
	Message  string
	Spinner  bool
	Metadata interface{}
}

// ProgressSink receives progress events
type ProgressSink interface {
	OnProgress(ctx context.Context, event ProgressEvent)
	Info(message string)
	Error(message string)
}

// NopProgress is a no-op implementation of ProgressSink
type NopProgress struct{}

func (NopProgress) OnProgress(context.Context, ProgressEvent) {}
func (NopProgress) Info(string)                               {}
func (NopProgress) Error(string)                              {}
