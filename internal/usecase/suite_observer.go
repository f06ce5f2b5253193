package usecase

import (
	"context"
	"fmt"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/scenario"
)

// Progress stages emitted while a suite runs
const (
	StageScenarioStarted  = "scenario_started"
	StageScenarioFinished = "scenario_finished"
)

// SuiteObserver forwards runner callbacks to a ProgressSink. Finished
// events carry the domain.ScenarioResult as metadata.
type SuiteObserver struct {
	sink ProgressSink
}

// NewSuiteObserver creates an observer reporting to sink
func NewSuiteObserver(sink ProgressSink) *SuiteObserver {
	if sink == nil {
		sink = NopProgress{}
	}
	return &SuiteObserver{sink: sink}
}

func (o *SuiteObserver) ScenarioStarted(index, total int, name string) {
	o.sink.OnProgress(context.Background(), ProgressEvent{
		Stage:   StageScenarioStarted,
		Current: index,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", index, total, name),
		Spinner: true,
	})
}

func (o *SuiteObserver) ScenarioFinished(index, total int, res domain.ScenarioResult) {
	o.sink.OnProgress(context.Background(), ProgressEvent{
		Stage:    StageScenarioFinished,
		Current:  index,
		Total:    total,
		Message:  res.Name,
		Metadata: res,
	})
}

var _ scenario.Observer = (*SuiteObserver)(nil)
