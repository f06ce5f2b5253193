package cli

import (
	"github.com/spf13/cobra"

	"github.com/trebuchet-org/rindexer-e2e/internal/cli/render"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [scenario...]",
		Aliases: []string{"ls"},
		Short:   "List the available scenarios",
		Long: `List the built-in scenarios followed by the flows found in the
flows directory, in the order they run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			result, err := app.ListScenarios.Run(cmd.Context(), usecase.ListScenariosParams{Tests: args})
			if err != nil {
				return err
			}

			renderer := render.NewScenariosRenderer(cmd.OutOrStdout(), colorEnabled())
			return renderer.Render(result)
		},
	}

	return cmd
}
