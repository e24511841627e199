package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the routeperf command tree around app.
func NewRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "routeperf",
		Short:         "Per-route performance metrics: schema, maintenance and admin server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if app.Out == nil {
				app.Out = cmd.OutOrStdout()
			}
			return app.Config.Validate()
		},
	}

	cmd.AddCommand(
		newCreateTableCommand(app),
		newCreateRecordsTableCommand(app),
		newSyncSchemaCommand(app),
		newPurgeCommand(app),
		newRebuildAggregatesCommand(app),
		newSetRouteMetricsCommand(app),
		newDiagnoseCommand(app),
		newCheckDependenciesCommand(app),
		newServeCommand(app),
	)
	return cmd
}

func (a *App) out() printer { return printer{w: a.Out} }
