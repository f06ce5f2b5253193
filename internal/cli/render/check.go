package render

import (
	"fmt"
	"io"

	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// CheckRenderer renders prerequisite checks
type CheckRenderer struct {
	out io.Writer
}

// NewCheckRenderer creates a new check renderer
func NewCheckRenderer(out io.Writer) *CheckRenderer {
	return &CheckRenderer{
		out: out,
	}
}

// Render prints each check with its outcome
func (r *CheckRenderer) Render(result *usecase.CheckEnvironmentResult) error {
	fmt.Fprintln(r.out, "🔍 Checking prerequisites:")
	fmt.Fprintln(r.out)

	for _, c := range result.Checks {
		if c.Error != nil {
			fmt.Fprintf(r.out, "  ❌ %s - Error: %v\n", c.Name, c.Error)
		} else {
			fmt.Fprintf(r.out, "  ✅ %s - %s\n", c.Name, c.Detail)
		}
	}

	return nil
}

var _ Renderer[*usecase.CheckEnvironmentResult] = (*CheckRenderer)(nil)
