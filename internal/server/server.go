// Package server assembles the Gin engine: middleware chain, route table,
// and the HTTP listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"kiro2api-go/internal/auth"
	"kiro2api-go/internal/billing"
	"kiro2api-go/internal/config"
	"kiro2api-go/internal/handlers"
	"kiro2api-go/internal/middleware"
	"kiro2api-go/internal/upstream/kiro"
)

// Dependencies carries the runtime services the route table binds to.
type Dependencies struct {
	Auth    *auth.Manager
	Client  *kiro.Client
	Cache   *kiro.ModelCache
	Billing *billing.Engine
	Ledger  billing.Ledger
}

// BuildEngine wires middleware and routes into a ready engine.
func BuildEngine(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.CORS(),
		middleware.RequestLogger(),
		middleware.Metrics(),
	)

	h := handlers.New(cfg, deps.Client, deps.Auth, deps.Cache, deps.Billing)

	engine.GET("/", h.Root)
	engine.GET("/health", h.Health)
	engine.GET("/metrics", middleware.MetricsHandler)

	v1 := engine.Group("/v1")
	v1.Use(middleware.APIKeyAuth(authConfig(cfg, deps.Ledger)))
	if cfg.RateLimitRPS > 0 {
		v1.Use(middleware.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	v1.GET("/models", h.ListModels)
	v1.GET("/models/:id", h.GetModel)
	v1.POST("/chat/completions", h.ChatCompletions)
	v1.POST("/messages", h.Messages)
	v1.POST("/messages/count_tokens", h.CountTokens)

	v1.POST("/messages/batches", h.CreateBatch)
	v1.GET("/messages/batches", h.ListBatches)
	v1.GET("/messages/batches/:id", h.GetBatch)
	v1.GET("/messages/batches/:id/results", h.BatchResults)
	v1.POST("/messages/batches/:id/cancel", h.CancelBatch)
	v1.DELETE("/messages/batches/:id", h.DeleteBatch)

	return engine
}

// authConfig selects static key matching or ledger-backed key resolution.
func authConfig(cfg *config.Config, ledger billing.Ledger) middleware.AuthConfig {
	if cfg.APIKeySource == "mongodb" && ledger != nil {
		return middleware.AuthConfig{
			Validator: func(ctx context.Context, key string) (any, error) {
				return ledger.FindActiveUserID(ctx, key)
			},
		}
	}
	return middleware.AuthConfig{StaticKeys: cfg.APIKeys}
}

// Run serves until ctx is canceled, then drains connections for up to ten
// seconds. SSE responses have no write timeout; idle streams are bounded by
// the upstream read deadline instead.
func Run(ctx context.Context, cfg *config.Config, engine *gin.Engine) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}
