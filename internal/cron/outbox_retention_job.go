package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const (
	outboxRetentionJobName = "outbox-retention"

	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultPurgeBatch      = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	PurgePublished(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// OutboxRetentionJobParams configure the published-row purge. BatchSize caps
// the rows deleted per transaction so a large backlog never holds one long
// delete lock against the publisher.
type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPurger
	Metrics    *metrics.CronJobMetrics
	Retention  time.Duration
	BatchSize  int
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		purger:    params.Repository,
		metrics:   params.Metrics,
		retention: params.Retention,
		batch:     params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.batch <= 0 {
		job.batch = defaultPurgeBatch
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	purger    outboxPurger
	metrics   *metrics.CronJobMetrics
	retention time.Duration
	batch     int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return outboxRetentionJobName }

// Run deletes published rows older than the retention window, one batch per
// transaction, until a short batch shows the backlog is drained.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	defer func() {
		j.metrics.AddItems(outboxRetentionJobName, "deleted", int(total))
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":       cutoff,
			"retention":    j.retention.String(),
			"batches":      batches,
			"rows_deleted": total,
		}), "outbox retention pass finished")
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = j.purger.PurgePublished(ctx, tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("purge published outbox rows: %w", err)
		}
		batches++
		total += n
		if n < int64(j.batch) {
			return nil
		}
	}
}
