package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-federation/pkg/federation/api"
	"github.com/tendant/simple-federation/pkg/ratelimit"
	"github.com/tendant/simple-federation/pkg/usercache"
	"github.com/tendant/simple-federation/pkg/userstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the federation provider over HTTP",
	Long: `Serve the configured provider over HTTP.

Examples:
  # In-memory store on the default port
  federation serve

  # PostgreSQL store, applying the reference schema first
  FEDERATION_DRIVER=postgres FEDERATION_URL=postgres://localhost/accounts \
  FEDERATION_AUTO_MIGRATE=true federation serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		metrics   *userstore.StoreMetrics
		rlMetrics *ratelimit.Metrics
	)
	if cfg.HTTP.MetricsEnabled {
		metrics = userstore.NewStoreMetrics(prometheus.DefaultRegisterer)
		rlMetrics = ratelimit.NewMetrics(prometheus.DefaultRegisterer)
	}

	factory, provider, err := openProvider(ctx, metrics)
	if err != nil {
		return err
	}
	defer factory.Close()
	defer provider.Close()

	limiter := ratelimit.NewMiddleware(cfg.RateLimit, rlMetrics)
	defer limiter.Close()

	opts := []api.Option{
		api.WithPrefix(cfg.HTTP.Prefix),
		api.WithCredentialMiddleware(limiter.CredentialHandler),
	}
	if cfg.CacheEnabled {
		cache, err := usercache.New(cfg.Cache)
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, api.WithUserCache(cache))
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           newRouter(api.NewHandle(provider, opts...), cfg.HTTP.MetricsEnabled, limiter.Handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting federation server", "addr", srv.Addr, "provider_id", provider.ID(), "driver", cfg.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down federation server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(handle *api.Handle, metricsEnabled bool, mw ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(mw...)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	handle.RegisterRoutes(r)
	return r
}
