package render

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// ScenariosRenderer renders the scenario catalog
type ScenariosRenderer struct {
	out   io.Writer
	color bool
}

// NewScenariosRenderer creates a new scenarios renderer
func NewScenariosRenderer(out io.Writer, color bool) *ScenariosRenderer {
	return &ScenariosRenderer{
		out:   out,
		color: color,
	}
}

// Render prints one row per scenario
func (r *ScenariosRenderer) Render(result *usecase.ListScenariosResult) error {
	if len(result.Scenarios) == 0 {
		fmt.Fprintln(r.out, "No scenarios found")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.AppendHeader(table.Row{"Scenario", "Timeout", "Description"})
	for _, s := range result.Scenarios {
		name := s.Name
		if s.Live {
			name += " " + paint(r.color, liveStyle, "[live]")
		}
		t.AppendRow(table.Row{name, s.Timeout.String(), s.Description})
	}
	fmt.Fprintln(r.out, t.Render())
	fmt.Fprintf(r.out, "\n%d scenario(s)\n", len(result.Scenarios))

	for _, name := range result.Unknown {
		fmt.Fprintln(r.out, FormatWarning(fmt.Sprintf("Unknown scenario %q", name)))
	}
	return nil
}

var _ Renderer[*usecase.ListScenariosResult] = (*ScenariosRenderer)(nil)
