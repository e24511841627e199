package cli

import (
	"github.com/spf13/cobra"

	"routeperf/internal/db"
	perrors "routeperf/internal/errors"
)

func newRebuildAggregatesCommand(app *App) *cobra.Command {
	var (
		env       string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "rebuild-aggregates",
		Short: "Recompute route aggregates from their access records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := app.out()
			p.Title("routeperf - Rebuild Aggregates")
			if !app.Config.EnableAccessRecords {
				return perrors.New(perrors.CategoryConfig, "access records are disabled; there is nothing to rebuild from")
			}
			routes, records, err := app.Stores()
			if err != nil {
				return err
			}

			var scope *string
			if env != "" {
				scope = &env
			}
			res, err := db.RebuildAggregates(cmd.Context(), routes, records, scope, batchSize)
			if err != nil {
				return err
			}
			if res.Routes == 0 {
				p.Warning("No routes found for the given criteria. Nothing to rebuild.")
				return nil
			}
			p.Table([]string{"Routes scanned", "Rebuilt", "Batches"}, [][]string{{
				formatInt(res.Routes), formatInt(res.Updated), formatInt(res.Batches),
			}})
			p.Success("Rebuilt aggregates for %d route(s).", res.Updated)
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "only rebuild this environment")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", db.DefaultRebuildBatchSize, "routes per transaction")
	return cmd
}
