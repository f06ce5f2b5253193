package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trebuchet-org/rindexer-e2e/internal/cli/render"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// NewCheckCmd creates the check command
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the binaries and artifacts the suite needs are present",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			result, err := app.CheckEnvironment.Run(cmd.Context(), usecase.CheckEnvironmentParams{})
			if err != nil {
				return err
			}

			if err := render.NewCheckRenderer(cmd.OutOrStdout()).Render(result); err != nil {
				return err
			}
			if !result.OK() {
				return fmt.Errorf("prerequisite checks failed")
			}
			return nil
		},
	}

	return cmd
}
