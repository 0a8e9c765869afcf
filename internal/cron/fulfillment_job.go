package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/lifecycle"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const (
	fulfillmentJobName      = "fulfillment-scheduler"
	defaultProcessingGrace  = 24 * time.Hour
	defaultPerOrderTimeout  = 10 * time.Second
	defaultFulfillmentBatch = 100
)

// FulfillmentJobParams configure the scheduler that advances open orders.
type FulfillmentJobParams struct {
	Logger          *logger.Logger
	Orders          fulfillmentReader
	Lifecycle       transitioner
	Metrics         *metrics.CronJobMetrics
	ProcessingGrace time.Duration
	PerOrderTimeout time.Duration
	BatchSize       int
}

type fulfillmentReader interface {
	ListForFulfillment(ctx context.Context, query orders.FulfillmentQuery) ([]models.Order, error)
}

type transitioner interface {
	Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor lifecycle.Actor) (*lifecycle.TransitionResult, error)
}

// StageReport describes one stage of a pass: Count of the Total candidate
// orders were moved forward, and Amount sums the moved orders' totals.
type StageReport struct {
	Count   int             `json:"count"`
	Total   int             `json:"total"`
	Amount  decimal.Decimal `json:"amount"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
}

func (r *StageReport) moved(order *models.Order) {
	r.Count++
	r.Amount = r.Amount.Add(order.Total)
}

// RunReport summarizes one scheduler pass. Skipped and Failed add up both
// stages.
type RunReport struct {
	Processed StageReport `json:"processed"`
	Shipped   StageReport `json:"shipped"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
}

// FulfillmentJob moves PENDING orders to PROCESSING and ships PROCESSING
// orders that have sat longer than the grace period.
type FulfillmentJob struct {
	logg      *logger.Logger
	orders    fulfillmentReader
	lifecycle transitioner
	metrics   *metrics.CronJobMetrics
	grace     time.Duration
	perOrder  time.Duration
	batchSize int
	now       func() time.Time
}

// NewFulfillmentJob builds the fulfillment scheduler job.
func NewFulfillmentJob(params FulfillmentJobParams) (*FulfillmentJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service required")
	}
	grace := params.ProcessingGrace
	if grace < 0 {
		return nil, fmt.Errorf("processing grace must not be negative")
	}
	if grace == 0 {
		grace = defaultProcessingGrace
	}
	perOrder := params.PerOrderTimeout
	if perOrder <= 0 {
		perOrder = defaultPerOrderTimeout
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultFulfillmentBatch
	}
	return &FulfillmentJob{
		logg:      params.Logger,
		orders:    params.Orders,
		lifecycle: params.Lifecycle,
		metrics:   params.Metrics,
		grace:     grace,
		perOrder:  perOrder,
		batchSize: batch,
		now:       time.Now,
	}, nil
}

func (j *FulfillmentJob) Name() string { return fulfillmentJobName }

func (j *FulfillmentJob) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce performs one pass. Per-order failures are collected into the
// returned error and never stop the rest of the batch.
func (j *FulfillmentJob) RunOnce(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}
	cutoff := j.now().UTC().Add(-j.grace)

	var errs []error
	if err := j.advance(ctx, orders.FulfillmentQuery{Status: enums.OrderStatusPending}, enums.OrderStatusProcessing, &report.Processed, &errs); err != nil {
		errs = append(errs, err)
	}
	if ctx.Err() == nil {
		query := orders.FulfillmentQuery{Status: enums.OrderStatusProcessing, UpdatedBefore: &cutoff}
		if err := j.advance(ctx, query, enums.OrderStatusShipped, &report.Shipped, &errs); err != nil {
			errs = append(errs, err)
		}
	}
	report.Skipped = report.Processed.Skipped + report.Shipped.Skipped
	report.Failed = report.Processed.Failed + report.Shipped.Failed

	j.record("processed", report.Processed.Count)
	j.record("shipped", report.Shipped.Count)
	j.record("skipped", report.Skipped)
	j.record("failed", report.Failed)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed_count":  report.Processed.Count,
		"processed_total":  report.Processed.Total,
		"processed_amount": report.Processed.Amount.StringFixed(2),
		"shipped_count":    report.Shipped.Count,
		"shipped_total":    report.Shipped.Total,
		"shipped_amount":   report.Shipped.Amount.StringFixed(2),
		"skipped":          report.Skipped,
		"failed":           report.Failed,
		"grace":            j.grace.String(),
	})
	j.logg.Info(logCtx, "fulfillment run complete")

	return report, multierr.Combine(errs...)
}

// advance walks every page matching query and moves each order to target.
// The returned error is reserved for listing failures.
func (j *FulfillmentJob) advance(ctx context.Context, query orders.FulfillmentQuery, target enums.OrderStatus, stage *StageReport, errs *[]error) error {
	query.Limit = j.batchSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := j.orders.ListForFulfillment(ctx, query)
		if err != nil {
			return fmt.Errorf("list %s orders: %w", query.Status, err)
		}
		if len(page) == 0 {
			return nil
		}
		for i := range page {
			order := page[i]
			stage.Total++
			moved, skipped, err := j.transition(ctx, order.ID, target)
			switch {
			case err != nil:
				stage.Failed++
				*errs = append(*errs, fmt.Errorf("order %s to %s: %w", order.ID, target, err))
			case skipped:
				stage.Skipped++
			case moved != nil:
				stage.moved(moved)
			}
		}
		last := page[len(page)-1]
		query.After = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

func (j *FulfillmentJob) transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus) (*models.Order, bool, error) {
	orderCtx, cancel := context.WithTimeout(ctx, j.perOrder)
	defer cancel()

	result, err := j.lifecycle.Transition(orderCtx, orderID, target, lifecycle.Actor{
		Type: enums.ActorTypeScheduler,
		ID:   fulfillmentJobName,
	})
	logCtx := j.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "to_status": string(target)})
	if err != nil {
		// The order moved elsewhere between listing and locking.
		if pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
			j.logg.Warn(logCtx, "fulfillment skipped order in unexpected status")
			return nil, true, nil
		}
		j.logg.Error(logCtx, "fulfillment transition failed", err)
		return nil, false, err
	}
	if !result.Changed {
		return nil, true, nil
	}
	return result.Order, false, nil
}

func (j *FulfillmentJob) record(outcome string, n int) {
	if j.metrics == nil {
		return
	}
	j.metrics.AddItems(fulfillmentJobName, outcome, n)
}
