package cli

import (
	"github.com/spf13/cobra"

	"github.com/trebuchet-org/rindexer-e2e/internal/cli/render"
	"github.com/trebuchet-org/rindexer-e2e/internal/domain"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run the end-to-end scenarios",
		Long: `Run the scenario suite against the configured rindexer binary.

Scenarios run one at a time, each with its own anvil node and working
directory. The command exits non-zero when any scenario fails or times
out; skipped scenarios do not count as failures.`,
		Example: `  # Run everything
  rindexer-e2e run --binary ../rindexer/target/release/rindexer_cli

  # Run two scenarios
  rindexer-e2e run --tests test_1_basic_connection,test_3_historic_indexing

  # Keep working directories for inspection
  rindexer-e2e run test_12_postgres_end_to_end --skip-cleanup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			params := usecase.RunSuiteParams{
				Tests: append(append([]string{}, app.Config.Tests...), args...),
			}
			result, err := app.RunSuite.Run(cmd.Context(), params)
			if err != nil {
				return err
			}

			renderer := render.NewReportRenderer(cmd.OutOrStdout(), colorEnabled())
			if err := renderer.Render(result); err != nil {
				return err
			}
			if !result.Report.Success() {
				return domain.ErrSuiteFailed
			}
			return nil
		},
	}

	cmd.Flags().StringSlice("tests", nil, "Comma separated scenario names to run (default all)")
	cmd.Flags().Bool("skip-cleanup", false, "Keep scenario working directories after the run")
	cmd.Flags().Bool("skip-live", false, "Skip scenarios that need live traffic")
	cmd.Flags().Duration("scenario-timeout", 0, "Timeout for scenarios that do not set their own")
	cmd.Flags().String("work-root", "", "Parent directory for scenario working directories")

	return cmd
}
