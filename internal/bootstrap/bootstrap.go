// Package bootstrap wires the pieces every storefront binary starts with:
// .env, config, the service logger, postgres (with dev migrations) and redis.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// Runtime holds the shared clients for one process.
type Runtime struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client
	Redis  *redis.Client

	closers []func() error
}

// Load reads .env (optional) and the environment, stamps the service kind
// and builds the configured logger.
func Load(service string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: service})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = service
	return cfg, logger.FromConfig(service, cfg.App), nil
}

// Start loads config and connects postgres and redis. On failure anything
// already opened is closed before returning.
func Start(ctx context.Context, service string) (*Runtime, error) {
	cfg, logg, err := Load(service)
	if err != nil {
		return &Runtime{Logger: logg}, err
	}
	rt := &Runtime{Config: cfg, Logger: logg}

	if rt.DB, err = db.New(ctx, cfg.DB, logg); err != nil {
		return rt, fmt.Errorf("connect database: %w", err)
	}
	rt.OnClose(rt.DB.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, rt.DB); err != nil {
		return rt, multierr.Append(fmt.Errorf("dev migrations: %w", err), rt.Close())
	}

	if rt.Redis, err = redis.New(ctx, cfg.Redis, logg); err != nil {
		return rt, multierr.Append(fmt.Errorf("connect redis: %w", err), rt.Close())
	}
	rt.OnClose(rt.Redis.Close)
	return rt, nil
}

// OnClose registers fn to run on Close, after every closer added later.
func (rt *Runtime) OnClose(fn func() error) {
	rt.closers = append(rt.closers, fn)
}

// Close runs the registered closers in reverse order and joins their errors.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}
