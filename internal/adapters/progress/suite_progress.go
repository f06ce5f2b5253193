package progress

import (
	"context"

	"github.com/trebuchet-org/rindexer-e2e/internal/cli/render"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// SuiteProgress drives the spinner while scenarios run and prints each
// outcome as it finishes
type SuiteProgress struct {
	renderer *render.ReportRenderer
	spinner  *SpinnerProgressReporter
}

func NewSuiteProgress(renderer *render.ReportRenderer, spinner *SpinnerProgressReporter) *SuiteProgress {
	return &SuiteProgress{
		renderer: renderer,
		spinner:  spinner,
	}
}

func (p *SuiteProgress) OnProgress(ctx context.Context, event usecase.ProgressEvent) {
	p.spinner.OnProgress(ctx, event)

	if event.Stage == usecase.StageScenarioFinished {
		if res, ok := event.Metadata.(domain.ScenarioResult); ok {
			p.renderer.RenderResult(res)
		} else {
			p.spinner.Info("Warning: wrong data-type in scenario result")
		}
	}
}

func (p *SuiteProgress) Info(message string) {
	p.spinner.Info(message)
}

func (p *SuiteProgress) Error(message string) {
	p.spinner.Error(message)
}

// Ensure SuiteProgress implements ProgressSink
var _ usecase.ProgressSink = (*SuiteProgress)(nil)
