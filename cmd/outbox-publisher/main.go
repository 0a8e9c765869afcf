package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/storefront-backend/internal/bootstrap"
	"github.com/angelmondragon/storefront-backend/pkg/instance"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
)

func main() {
	rt, err := bootstrap.Start(context.Background(), consumerName)
	if err == nil {
		err = run(rt)
	}
	if closeErr := rt.Close(); closeErr != nil {
		rt.Logger.Error(context.Background(), "shutdown cleanup failed", closeErr)
	}
	if err != nil {
		rt.Logger.Error(context.Background(), "outbox publisher exited", err)
		os.Exit(1)
	}
}

func run(rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	rt.OnClose(pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}
	dedupe, err := idempotency.NewEventDeduper(rt.Redis, consumerName, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("event dedupe: %w", err)
	}

	promRegistry := metrics.NewRegistry()
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            rt.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(rt.DB.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(),
		Dedupe:        dedupe,
		Metrics:       metrics.NewOutboxMetrics(promRegistry),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": instance.ID(),
		"topics":   eventRegistry.Topics(),
	})
	logg.Info(ctx, "starting outbox publisher")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return metrics.Serve(groupCtx, ":"+cfg.App.Port, promRegistry, logg) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logg.Info(ctx, "outbox publisher shutting down gracefully")
	return nil
}
