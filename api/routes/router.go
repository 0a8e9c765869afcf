package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	inventorycontrollers "github.com/angelmondragon/storefront-backend/api/controllers/inventory"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/lifecycle"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

// CacheStore is the redis surface the API needs: idempotency records,
// rate-limit counters and a readiness ping.
type CacheStore interface {
	middleware.ResponseStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cache CacheStore,
	ordersSvc orders.Service,
	lifecycleSvc lifecycle.Service,
	inventorySvc inventory.Service,
	registry *prometheus.Registry,
) http.Handler {
	var httpMetrics *metrics.HTTPMetrics
	if registry != nil {
		httpMetrics = metrics.NewHTTPMetrics(registry)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["db"] = dbP
	}
	if cache != nil {
		readiness["redis"] = cache
	}

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
		cfg.RateLimit.CheckoutEmailLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	}

	// Guests and signed-in shoppers.
	r.Group(func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))

		r.With(
			middleware.RateLimit(checkoutPolicy, cache, logg),
			middleware.Idempotency(cache, logg),
		).Post("/api/v1/checkout", controllers.Checkout(lifecycleSvc, logg))

		r.Get("/api/v1/orders/{orderId}", ordercontrollers.Get(ordersSvc, logg))
	})

	// Signed-in customers and operators.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(cache, logg))

		r.Get("/api/v1/orders", ordercontrollers.List(ordersSvc, logg))
		r.Patch("/api/v1/orders/{orderId}/shipping-address", ordercontrollers.UpdateShippingAddress(ordersSvc, logg))
		r.Post("/api/v1/orders/{orderId}/transition", ordercontrollers.Transition(ordersSvc, lifecycleSvc, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorTypeOperator))

			r.Get("/api/v1/orders/stats", ordercontrollers.Stats(ordersSvc, logg))

			r.Get("/api/v1/inventory/summary", inventorycontrollers.Summary(inventorySvc, cfg.Inventory.LowStockThreshold, logg))
			r.Get("/api/v1/inventory/history", inventorycontrollers.History(inventorySvc, logg))
			r.Post("/api/v1/inventory/bulk-set", inventorycontrollers.BulkSet(inventorySvc, logg))
			r.Post("/api/v1/inventory/{productId}/adjust", inventorycontrollers.Adjust(inventorySvc, logg))
			r.Post("/api/v1/inventory/{productId}/restock", inventorycontrollers.Restock(inventorySvc, logg))
			r.Get("/api/v1/inventory/{productId}/availability", inventorycontrollers.Availability(inventorySvc, logg))
		})
	})

	return r
}
