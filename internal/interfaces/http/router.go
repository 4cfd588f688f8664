// Package http exposes the guard engine over a gin HTTP API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/certguard/internal/config"
	"github.com/turtacn/certguard/internal/interfaces/http/handlers"
	"github.com/turtacn/certguard/internal/interfaces/http/middleware"
	"github.com/turtacn/certguard/pkg/logger"
)

// Handlers groups the route handlers.
type Handlers struct {
	Health *handlers.HealthHandler
	Guard  *handlers.GuardHandler
	Admin  *handlers.AdminHandler
}

// Observability carries what the router needs for metrics and tracing.
type Observability struct {
	Tracer   trace.Tracer
	Requests middleware.RequestObserver
	Gatherer prometheus.Gatherer
}

// Router owns the gin engine and the HTTP server.
type Router struct {
	engine   *gin.Engine
	config   *config.Config
	logger   logger.Logger
	handlers Handlers
	obs      Observability
	server   *http.Server
}

func NewRouter(cfg *config.Config, log logger.Logger, h Handlers, obs Observability) *Router {
	if obs.Tracer == nil {
		obs.Tracer = otel.Tracer("github.com/turtacn/certguard/http")
	}
	if obs.Gatherer == nil {
		obs.Gatherer = prometheus.DefaultGatherer
	}
	r := &Router{
		engine:   gin.New(),
		config:   cfg,
		logger:   log.WithComponent("http_router"),
		handlers: h,
		obs:      obs,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.Use(gin.Recovery(), middleware.RequestID())
	if r.obs.Requests != nil {
		r.engine.Use(middleware.Observability(r.obs.Tracer, r.obs.Requests))
	}
	r.engine.Use(middleware.RequestLogger(r.logger))

	if origins := r.config.Admin.CORSOrigins; len(origins) > 0 {
		r.engine.Use(cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders: []string{middleware.RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.engine.GET("/health", r.handlers.Health.HealthCheck)
	r.engine.GET("/health/live", r.handlers.Health.LivenessCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.obs.Gatherer, promhttp.HandlerOpts{})))

	v1 := r.engine.Group("/v1")
	guard := v1.Group("/guard")
	{
		guard.POST("/check", r.handlers.Guard.Check)
		guard.POST("/record", r.handlers.Guard.Record)
	}

	if r.config.Admin.JWTSecret == "" {
		r.logger.Warn(context.Background(), "admin.jwt_secret is empty, admin routes are disabled")
	} else {
		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdminJWT([]byte(r.config.Admin.JWTSecret), r.config.Admin.Issuer, r.logger))
		{
			admin.GET("/stats", r.handlers.Admin.Stats)
			admin.POST("/blocks", r.handlers.Admin.Block)
			admin.DELETE("/blocks/:dimension/:identifier", r.handlers.Admin.Unblock)
			admin.POST("/maintenance/run", r.handlers.Admin.RunMaintenance)
		}
		if r.config.Admin.EnablePprof {
			pprof.RouteRegister(admin, "debug/pprof")
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// Engine returns the configured gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Run serves HTTP until ctx is done, then shuts the server down gracefully.
func (r *Router) Run(ctx context.Context) error {
	r.server = &http.Server{
		Addr:           r.config.Server.Addr(),
		Handler:        r.engine,
		ReadTimeout:    r.config.Server.ReadTimeout,
		WriteTimeout:   r.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info(ctx, "Starting HTTP server", logger.String("address", r.server.Addr))
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.Server.ShutdownTimeout)
	defer cancel()
	r.logger.Info(shutdownCtx, "Shutting down HTTP server")
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		r.logger.Error(shutdownCtx, "Server forced to shutdown", err)
		return err
	}
	return nil
}
