package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-backend/internal/bootstrap"
	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/lifecycle"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/instance"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const serviceName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single locked cycle and exit")
	only := flag.String("jobs", "", "comma separated job names to run (default: all)")
	flag.Parse()

	rt, err := bootstrap.Start(context.Background(), serviceName)
	if err == nil {
		err = run(rt, *once, splitJobs(*only))
	}
	if closeErr := rt.Close(); closeErr != nil {
		rt.Logger.Error(context.Background(), "shutdown cleanup failed", closeErr)
	}
	if err != nil {
		rt.Logger.Error(context.Background(), "cron worker exited", err)
		os.Exit(1)
	}
}

func run(rt *bootstrap.Runtime, once bool, jobs []string) error {
	cfg, logg := rt.Config, rt.Logger

	promRegistry := metrics.NewRegistry()
	cronMetrics := metrics.NewCronJobMetrics(promRegistry)

	outboxRepo := outbox.NewRepository(rt.DB.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)
	orderSvc, err := orders.NewService(orders.NewRepository(rt.DB.DB()), rt.DB, logg)
	if err != nil {
		return fmt.Errorf("orders service: %w", err)
	}
	inventorySvc, err := inventory.NewService(inventory.NewRepository(rt.DB.DB()), rt.DB, outboxSvc, logg)
	if err != nil {
		return fmt.Errorf("inventory service: %w", err)
	}
	lifecycleSvc, err := lifecycle.NewService(orderSvc, inventorySvc, rt.DB, outboxSvc, metrics.NewOrderMetrics(promRegistry), logg)
	if err != nil {
		return fmt.Errorf("lifecycle service: %w", err)
	}

	fulfillmentJob, err := cron.NewFulfillmentJob(cron.FulfillmentJobParams{
		Logger:          logg,
		Orders:          orderSvc,
		Lifecycle:       lifecycleSvc,
		Metrics:         cronMetrics,
		ProcessingGrace: cfg.Fulfillment.ProcessingGrace,
		PerOrderTimeout: cfg.Fulfillment.PerOrderTimeout,
		BatchSize:       cfg.Fulfillment.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("fulfillment job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         rt.DB,
		Repository: outboxRepo,
		Metrics:    cronMetrics,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return fmt.Errorf("outbox retention job: %w", err)
	}
	registry, err := cron.NewRegistry(fulfillmentJob, retentionJob).Only(jobs...)
	if err != nil {
		return fmt.Errorf("-jobs: %w", err)
	}

	// Lock TTL spans two cycles.
	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey(serviceName), 2*cfg.Fulfillment.Interval)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Fulfillment.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID(),
		"interval": cfg.Fulfillment.Interval.String(),
	})

	if once {
		logg.Info(ctx, "running single cron cycle")
		return service.RunOnce(ctx)
	}

	logg.Info(ctx, "starting cron worker")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return metrics.Serve(groupCtx, ":"+cfg.App.Port, promRegistry, logg) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
	return nil
}

func splitJobs(raw string) []string {
	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
