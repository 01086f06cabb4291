// Package http assembles the gin route tree and the HTTP server lifecycle.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/prometheus"
	"github.com/dealeredge/visibility-engine/internal/interfaces/http/handlers"
	"github.com/dealeredge/visibility-engine/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies for the
// route tree. Nil handlers skip their routes so partial processes (e.g. a
// worker exposing only health and metrics) reuse the same router.
type RouterConfig struct {
	Jobs        *handlers.JobHandler
	Competitive *handlers.CompetitiveHandler
	Cache       *handlers.CacheHandler
	Health      *handlers.HealthHandler

	Metrics          *prometheus.AppMetrics
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string

	Mode   string
	Logger logging.Logger
}

// NewRouter builds the engine's complete HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Mode != "" {
		gin.SetMode(ginMode(cfg.Mode))
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}
	r.Use(middleware.Metrics(cfg.Metrics))

	if cfg.Health != nil {
		r.GET("/healthz", cfg.Health.Liveness)
		r.GET("/readyz", cfg.Health.Readiness)
	}
	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.MetricsCollector.Handler()))
	}

	api := r.Group("/api/v1")
	if cfg.Jobs != nil {
		jobs := api.Group("/jobs")
		jobs.POST("", cfg.Jobs.Submit)
		jobs.GET("/statistics", cfg.Jobs.Statistics)
		jobs.GET("/:id", cfg.Jobs.Get)
		jobs.POST("/:id/cancel", cfg.Jobs.Cancel)
	}
	if cfg.Competitive != nil {
		api.GET("/dealerships/:id/competitive-report", cfg.Competitive.Report)
		api.POST("/competitive-reports", cfg.Competitive.BulkReports)
	}
	if cfg.Cache != nil {
		cache := api.Group("/cache")
		cache.GET("/stats", cfg.Cache.Stats)
		cache.POST("/invalidate", cfg.Cache.Invalidate)
	}

	return r
}

func ginMode(mode string) string {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		return mode
	default:
		return gin.ReleaseMode
	}
}
