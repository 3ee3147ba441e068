// Package server exposes the operational HTTP surface: liveness and readiness
// probes, Prometheus metrics, the latest cycle status, the cached live view and
// an authenticated trigger for immediate collection. Correlation IDs are
// injected into every request context for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, opts Options) http.Handler {
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())
	h := NewHandlers(opts)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /live/{platform}", h.HandleLive)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/collect", h.HandleAdminCollect)
	mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, limiter), opts.Auth))

	return withCORSConfig(withCorrelation(mux), loadCORSConfig())
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 5 * time.Second,
		// A manual collection waits for the cycle to finish.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.String("component", "http"), slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("component", "http"), slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.String("component", "http"), slog.Any("err", err))
		return err
	}
	return nil
}
