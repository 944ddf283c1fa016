package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OstapBender-commits/ema-signal-bot/internal/services"
)

// HealthChecker is implemented by the optional Postgres and Redis clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ResourceSampler reports host load.
type ResourceSampler interface {
	Snapshot(ctx context.Context) services.ResourceSnapshot
}

type HealthHandler struct {
	checks    map[string]HealthChecker
	resources ResourceSampler
	version   string
	startTime time.Time
	now       func() time.Time
}

type HealthResponse struct {
	Status    string                     `json:"status"`
	Timestamp time.Time                  `json:"timestamp"`
	Services  map[string]string          `json:"services"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	System    *services.ResourceSnapshot `json:"system,omitempty"`
}

// NewHealthHandler creates a handler. Only configured dependencies belong in
// checks; an absent store is not a failure.
func NewHealthHandler(checks map[string]HealthChecker, resources ResourceSampler, version string) *HealthHandler {
	if checks == nil {
		checks = map[string]HealthChecker{}
	}
	return &HealthHandler{
		checks:    checks,
		resources: resources,
		version:   version,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// LivenessCheck answers the uptime pinger. It never touches dependencies.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheck reports dependency status, uptime and host load.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	svcs := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			svcs[name] = "unhealthy: " + err.Error()
			status = "degraded"
			continue
		}
		svcs[name] = "healthy"
	}

	resp := HealthResponse{
		Status:    status,
		Timestamp: h.now().UTC(),
		Services:  svcs,
		Version:   h.version,
		Uptime:    h.now().Sub(h.startTime).Round(time.Second).String(),
	}
	if h.resources != nil {
		snap := h.resources.Snapshot(ctx)
		resp.System = &snap
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}
