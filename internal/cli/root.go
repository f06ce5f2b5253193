package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/trebuchet-org/rindexer-e2e/internal/adapters/progress"
	"github.com/trebuchet-org/rindexer-e2e/internal/app"
	"github.com/trebuchet-org/rindexer-e2e/internal/cli/render"
	"github.com/trebuchet-org/rindexer-e2e/internal/config"
	"github.com/trebuchet-org/rindexer-e2e/internal/usecase"
)

// contextKey is the type for context keys
type contextKey string

const (
	// appKey is the context key for the app instance
	appKey contextKey = "app"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rindexer-e2e",
		Short: "End-to-end test harness for the rindexer indexer",
		Long: `rindexer-e2e runs the rindexer binary against a local anvil node and
checks what it indexes: CSV output, Postgres rows, GraphQL and health.

Every scenario gets a fresh node, project directory and indexer process,
all of which are torn down when the scenario ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip for help/version commands
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			workDir, err := os.Getwd()
			if err != nil {
				return err
			}

			// Set up viper, binding every flag of the running command
			v := config.SetupViper(workDir, cmd)

			// Only run reports progress
			var sink usecase.ProgressSink = usecase.NopProgress{}
			if cmd.Name() == "run" {
				out := cmd.OutOrStdout()
				sink = progress.NewSuiteProgress(
					render.NewReportRenderer(out, colorEnabled()),
					progress.NewSpinnerProgressReporter(out),
				)
			}

			// Initialize app with DI
			appInstance, err := app.InitApp(v, sink)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}

			// Store app in context
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("binary", "", "Path to the rindexer binary (default ../rindexer/target/release/rindexer_cli)")
	rootCmd.PersistentFlags().String("flows-dir", "", "Directory of YAML/TOML test flows")

	rootCmd.AddGroup(&cobra.Group{
		ID:    "main",
		Title: "Main Commands",
	})

	runCmd := NewRunCmd()
	runCmd.GroupID = "main"
	rootCmd.AddCommand(runCmd)

	listCmd := NewListCmd()
	listCmd.GroupID = "main"
	rootCmd.AddCommand(listCmd)

	checkCmd := NewCheckCmd()
	checkCmd.GroupID = "main"
	rootCmd.AddCommand(checkCmd)

	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// colorEnabled follows fatih/color's terminal detection
func colorEnabled() bool {
	return !color.NoColor
}

// getApp retrieves the app instance from the command context
func getApp(cmd *cobra.Command) (*app.App, error) {
	appInstance := cmd.Context().Value(appKey)
	if appInstance == nil {
		return nil, fmt.Errorf("app not initialized")
	}

	app, ok := appInstance.(*app.App)
	if !ok {
		return nil, fmt.Errorf("invalid app instance")
	}

	return app, nil
}
