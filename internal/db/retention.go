package db

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RetentionCutoff returns the instant before which records are older than
// days.
func RetentionCutoff(now time.Time, days int) time.Time {
	return now.UTC().AddDate(0, 0, -days)
}

// runRetentionOnce deletes access records older than days, across all
// environments.
func runRetentionOnce(ctx context.Context, records *RecordStore, days int) (int64, error) {
	return records.DeleteOlderThan(ctx, RetentionCutoff(time.Now(), days), nil)
}

// StartRetentionWorker runs the retention cleanup once at startup and then
// on schedule (a cron spec or descriptor such as "@daily"). The returned
// cron is already started; Stop it on shutdown.
func StartRetentionWorker(ctx context.Context, records *RecordStore, days int, schedule string) (*cron.Cron, error) {
	log := logrus.WithFields(logrus.Fields{"component": "retention", "days": days, "table": records.Table()})

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := runRetentionOnce(ctx, records, days)
		if err != nil {
			log.WithError(err).Error("retention cleanup failed")
			return
		}
		log.WithField("deleted", n).Info("retention cleanup done")
	})
	if err != nil {
		return nil, err
	}

	go func() {
		n, err := runRetentionOnce(ctx, records, days)
		if err != nil {
			log.WithError(err).Error("retention cleanup failed (startup)")
			return
		}
		log.WithField("deleted", n).Info("retention cleanup done (startup)")
	}()

	c.Start()
	return c, nil
}
