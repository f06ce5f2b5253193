package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/samber/lo"

	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// ReportRenderer renders scenario outcomes and the final suite summary
type ReportRenderer struct {
	out   io.Writer
	color bool
}

// NewReportRenderer creates a new report renderer
func NewReportRenderer(out io.Writer, color bool) *ReportRenderer {
	return &ReportRenderer{
		out:   out,
		color: color,
	}
}

// RenderResult prints the one-line outcome of a finished scenario
func (r *ReportRenderer) RenderResult(res domain.ScenarioResult) {
	icon, style := statusIcon(res.Status)
	line := fmt.Sprintf("%s %s %s", paint(r.color, style, icon), res.Name,
		paint(r.color, durationStyle, "("+FormatDuration(res.Duration)+")"))
	switch res.Status {
	case domain.StatusSkipped:
		line += paint(r.color, skippedStyle, " "+res.Message())
	case domain.StatusFailed, domain.StatusTimedOut:
		line += " " + paint(r.color, style, res.Status.String())
	}
	fmt.Fprintln(r.out, line)
}

// Render prints the summary table, the totals and the cause of every
// failure
func (r *ReportRenderer) Render(result *usecase.RunSuiteResult) error {
	report := result.Report
	if report == nil || report.Total() == 0 {
		fmt.Fprintln(r.out, "No scenarios were run")
		return nil
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, paint(r.color, headerStyle, banner("Test Summary: "+report.Name)))
	fmt.Fprintln(r.out, r.resultsTable(report))
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.totals(report))

	failures := lo.Filter(report.Results, func(res domain.ScenarioResult, _ int) bool {
		return res.Status == domain.StatusFailed || res.Status == domain.StatusTimedOut
	})
	if len(failures) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, paint(r.color, headerStyle, "Failed tests:"))
		for _, res := range failures {
			fmt.Fprintf(r.out, "  %s %s: %s\n", paint(r.color, failedStyle, "•"), res.Name, res.Message())
		}
	}

	if len(result.Unknown) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, FormatWarning("Unknown scenarios ignored: "+strings.Join(result.Unknown, ", ")))
	}

	fmt.Fprintln(r.out)
	if report.Success() {
		fmt.Fprintln(r.out, FormatSuccess("All scenarios passed"))
	} else {
		fmt.Fprintln(r.out, FormatError(fmt.Sprintf("%d of %d scenarios failed", report.Failed()+report.TimedOut(), report.Total())))
	}
	return nil
}

func (r *ReportRenderer) resultsTable(report *domain.SuiteReport) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.AppendHeader(table.Row{"Scenario", "Status", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignRight},
	})

	for _, res := range report.Results {
		icon, style := statusIcon(res.Status)
		t.AppendRow(table.Row{
			res.Name,
			paint(r.color, style, icon+" "+res.Status.String()),
			FormatDuration(res.Duration),
		})
	}
	return t.Render()
}

func (r *ReportRenderer) totals(report *domain.SuiteReport) string {
	return fmt.Sprintf("%s  %s  %s  %s  Total: %d in %s",
		paint(r.color, passedStyle, fmt.Sprintf("Passed: %d", report.Passed())),
		paint(r.color, failedStyle, fmt.Sprintf("Failed: %d", report.Failed())),
		paint(r.color, timeoutStyle, fmt.Sprintf("Timed out: %d", report.TimedOut())),
		paint(r.color, skippedStyle, fmt.Sprintf("Skipped: %d", report.Skipped())),
		report.Total(),
		FormatDuration(report.Duration),
	)
}

var _ Renderer[*usecase.RunSuiteResult] = (*ReportRenderer)(nil)
