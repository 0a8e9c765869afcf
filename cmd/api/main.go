package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/bootstrap"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/lifecycle"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rt, err := bootstrap.Start(context.Background(), "api")
	if err == nil {
		err = run(rt)
	}
	if closeErr := rt.Close(); closeErr != nil {
		rt.Logger.Error(context.Background(), "shutdown cleanup failed", closeErr)
	}
	if err != nil {
		rt.Logger.Error(context.Background(), "api exited", err)
		os.Exit(1)
	}
}

func run(rt *bootstrap.Runtime) error {
	cfg, logg := rt.Config, rt.Logger
	registry := metrics.NewRegistry()
	outboxSvc := outbox.NewService(outbox.NewRepository(rt.DB.DB()), logg)

	orderSvc, err := orders.NewService(orders.NewRepository(rt.DB.DB()), rt.DB, logg)
	if err != nil {
		return fmt.Errorf("orders service: %w", err)
	}
	inventorySvc, err := inventory.NewService(inventory.NewRepository(rt.DB.DB()), rt.DB, outboxSvc, logg)
	if err != nil {
		return fmt.Errorf("inventory service: %w", err)
	}
	lifecycleSvc, err := lifecycle.NewService(orderSvc, inventorySvc, rt.DB, outboxSvc, metrics.NewOrderMetrics(registry), logg)
	if err != nil {
		return fmt.Errorf("lifecycle service: %w", err)
	}

	// Cloud Run injects PORT.
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           routes.NewRouter(cfg, logg, rt.DB, rt.Redis, orderSvc, lifecycleSvc, inventorySvc, registry),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "addr": server.Addr})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logg.Info(ctx, "api server shut down gracefully")
	return nil
}
