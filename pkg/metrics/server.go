package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// NewAdminRouter serves /health/live and /metrics for the background workers.
func NewAdminRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", Handler(reg))
	return r
}

// Serve runs the admin router on addr until ctx is done. An empty addr is a no-op.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, logg *logger.Logger) error {
	if addr == "" || addr == ":" {
		<-ctx.Done()
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           NewAdminRouter(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && logg != nil {
			logg.Error(ctx, "admin server shutdown failed", err)
		}
		return nil
	}
}
