package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crisisops/floodwatch/internal/handlers"
	"github.com/crisisops/floodwatch/internal/metrics"
)

// Pinger reports store connectivity for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the dashboard API.
// Public: /health, /ready, /metrics, /api/*
func NewRouter(st handlers.IncidentStore, pinger Pinger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	handlers.RegisterIncidentRoutes(r, st)
	handlers.RegisterPOIRoutes(r)

	return r
}
