package db

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	perrors "routeperf/internal/errors"
)

// DefaultRebuildBatchSize is used when the caller passes a size below 1.
const DefaultRebuildBatchSize = 200

// RebuildResult reports what RebuildAggregates touched.
type RebuildResult struct {
	Routes  int // routes scanned
	Updated int // routes rewritten from their records
	Batches int
}

// RebuildAggregates recomputes the aggregate metrics of every route
// (optionally only env) from its access records: maxima for the metric
// columns, the newest access time, the record count as access count and
// the status histogram.
// Routes without records are left untouched. Each batch is written in its
// own transaction.
func RebuildAggregates(ctx context.Context, routes *RouteStore, records *RecordStore, env *string, batchSize int) (RebuildResult, error) {
	if batchSize < 1 {
		batchSize = DefaultRebuildBatchSize
	}
	var res RebuildResult
	var afterID uint
	for {
		page, err := routes.Page(ctx, env, afterID, batchSize)
		if err != nil {
			return res, err
		}
		if len(page) == 0 {
			return res, nil
		}
		res.Batches++
		res.Routes += len(page)

		ids := make([]uint, 0, len(page))
		for _, r := range page {
			ids = append(ids, r.ID)
		}
		aggs, err := records.AggregatesFor(ctx, ids)
		if err != nil {
			return res, err
		}

		// updated only counts once the batch has committed.
		updated := 0
		err = routes.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, r := range page {
				agg, ok := aggs[r.ID]
				if !ok {
					continue
				}
				cols := map[string]any{
					"request_time":  agg.MaxResponseTime,
					"total_queries": agg.MaxTotalQueries,
					"query_time":    agg.MaxQueryTime,
					"memory_usage":  agg.MaxMemoryUsage,
					"access_count":  agg.Count,
					"status_codes":  agg.StatusCodes,
				}
				if agg.LastAccessedAt != nil {
					cols["last_accessed_at"] = *agg.LastAccessedAt
				}
				if err := tx.Table(routes.table).Where("id = ?", r.ID).Updates(cols).Error; err != nil {
					return err
				}
				updated++
			}
			return nil
		})
		if err != nil {
			return res, perrors.Wrap(err, perrors.CategoryPersistence, "rebuild batch")
		}
		res.Updated += updated
		logrus.WithFields(logrus.Fields{"batch": res.Batches, "routes": len(page)}).Debug("rebuilt aggregate batch")

		afterID = page[len(page)-1].ID
		if len(page) < batchSize {
			return res, nil
		}
	}
}
