package harness

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain/project"
	"github.com/trebuchet-org/rindexer-e2e/internal/readiness"
)

const (
	csvDirName        = "generated_csv"
	eventPollInterval = 500 * time.Millisecond
)

// CSVOutputPath is where the indexer writes CSV storage.
func (tc *TestContext) CSVOutputPath() string {
	return filepath.Join(tc.ProjectDir, csvDirName)
}

// EventCSVPath is <csv>/<Contract>/<contract>-<event>.csv.
func (tc *TestContext) EventCSVPath(contract, event string) string {
	file := strings.ToLower(contract) + "-" + strings.ToLower(event) + ".csv"
	return filepath.Join(tc.CSVOutputPath(), contract, file)
}

// EventRows returns the header and data rows of an event CSV. A file that
// does not exist yet yields no rows and no error.
func (tc *TestContext) EventRows(contract, event string) ([]string, [][]string, error) {
	f, err := os.Open(tc.EventCSVPath(contract, event))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	defer f.Close()
	return readCSV(f)
}

// EventCount is the number of data rows recorded for contract/event.
func (tc *TestContext) EventCount(contract, event string) (int, error) {
	_, rows, err := tc.EventRows(contract, event)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// WaitForNewEvents waits until the test token's Transfer CSV holds at least
// expected rows beyond baseline, and returns the final count.
func (tc *TestContext) WaitForNewEvents(ctx context.Context, baseline, expected int, timeout time.Duration) (int, error) {
	if tc.indexer == nil {
		return 0, domain.ErrNotRunning
	}
	target := baseline + expected
	last := baseline
	out := readiness.PollUntil(ctx, func(context.Context) (int, error) {
		n, err := tc.EventCount(project.TokenContract, project.TransferEvent)
		if err == nil {
			last = n
		}
		return n, err
	}, func(n int) bool { return n >= target }, readiness.Options{
		Interval:   eventPollInterval,
		Timeout:    timeout,
		ExitStatus: tc.indexer.ExitStatus,
	})

	switch out.Kind {
	case domain.OutcomeReady:
		tc.logger.Info("new events indexed", "baseline", baseline, "count", last)
		return last, nil
	case domain.OutcomeProcessExited:
		if err := tc.checkAlive(); err != nil {
			return last, err
		}
		return last, domain.ErrNotRunning
	default:
		return last, fmt.Errorf("expected %d new events over %d, have %d: %w",
			expected, baseline, last, out.Err("new events"))
	}
}

// readCSV splits a CSV into header and data rows. A trailing record that
// is still being written is dropped rather than reported.
func readCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	var header []string
	var rows [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrQuote) {
				break
			}
			return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}
