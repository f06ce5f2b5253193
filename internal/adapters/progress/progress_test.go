package progress

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trebuchet-org/rindexer-e2e/internal/cli/render"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

func TestSuiteProgress(t *testing.T) {
	var out bytes.Buffer
	spin := NewSpinnerProgressReporter(&out)
	p := NewSuiteProgress(render.NewReportRenderer(&out, false), spin)
	obs := usecase.NewSuiteObserver(p)

	obs.ScenarioStarted(1, 2, "test_1_basic_connection")
	obs.ScenarioFinished(1, 2, domain.ScenarioResult{Name: "test_1_basic_connection", Status: domain.StatusPassed, Duration: 2 * time.Second})
	assert.False(t, spin.spinner.Active(), "finishing a scenario stops the spinner")
	assert.Contains(t, out.String(), "✓ test_1_basic_connection (2s)")

	p.OnProgress(context.Background(), usecase.ProgressEvent{Stage: usecase.StageScenarioFinished, Metadata: "oops"})
	assert.Contains(t, out.String(), "wrong data-type")

	p.Info("Running 2 scenario(s)")
	p.Error("Warning: unknown scenario")
	assert.Contains(t, out.String(), "Running 2 scenario(s)\n")
	assert.Contains(t, out.String(), "Warning: unknown scenario\n")
}

func TestSpinnerDisplay(t *testing.T) {
	var out bytes.Buffer
	spin := NewSpinnerProgressReporter(&out)
	spin.OnProgress(context.Background(), usecase.ProgressEvent{Message: "[1/1] test_9", Spinner: true})
	defer spin.spinner.Stop()

	spin.updateSpinnerDisplay(spin.spinner)
	assert.Contains(t, spin.spinner.Suffix, "[1/1] test_9")
}
