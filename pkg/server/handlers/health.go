// Package handlers implements the HTTP endpoints over the chronograph
// client.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
)

// Build information, set at build time via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	client *chronograph.Client
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(c *chronograph.Client) *HealthHandler {
	return &HealthHandler{client: c}
}

// HealthCheck handles GET /health. Liveness only: it must answer even while
// the queue is saturated or the graph store is down.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "chronograph",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
	})
}

// ReadinessCheck handles GET /ready: verifies the graph store answers.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	code := http.StatusOK
	checks := gin.H{}

	if _, err := h.client.Stats(ctx, h.client.DefaultGroupID()); err != nil {
		status = "not ready"
		code = http.StatusServiceUnavailable
		checks["graph_store"] = err.Error()
	} else {
		checks["graph_store"] = "ok"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"service":   "chronograph",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// DetailedHealthCheck handles GET /health/detailed.
func (h *HealthHandler) DetailedHealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"service":    "chronograph",
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": GoVersion,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"runtime": gin.H{
			"goroutines":     runtime.NumGoroutine(),
			"heap_alloc_mb":  m.HeapAlloc / 1024 / 1024,
			"total_alloc_mb": m.TotalAlloc / 1024 / 1024,
			"num_gc":         m.NumGC,
		},
		"queue": h.client.QueueStats(),
	})
}
