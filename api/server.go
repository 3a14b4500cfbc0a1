// Package api exposes the marketplace over HTTP with gin, plus a WebSocket
// stream of committed events.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ThorbenD/dvp-market/events"
	"github.com/ThorbenD/dvp-market/market"
	"github.com/ThorbenD/dvp-market/registry"
	"github.com/ThorbenD/dvp-market/settlement"
)

type APIConfig struct {
	APIEndpoint     string
	ShutdownTimeout time.Duration
}

// Deps are the engine components the API serves. Checkout may be nil when no
// Lightning node is configured.
type Deps struct {
	Registry *registry.Registry
	Book     *market.Book
	Engine   *settlement.Engine
	Checkout *settlement.Checkout
	Bus      *events.Bus
	Logger   *slog.Logger
}

type server struct {
	Deps
}

// Handler builds the gin engine with every route registered.
func Handler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger))
	registerRoutes(r, &server{Deps: deps})
	return r
}

// Serve runs the API until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, cfg APIConfig, deps Deps) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              cfg.APIEndpoint,
		Handler:           Handler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		deps.Logger.Info("[API] Listening", "addr", cfg.APIEndpoint)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("[API] Request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
