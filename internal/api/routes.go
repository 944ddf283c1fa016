package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/OstapBender-commits/ema-signal-bot/internal/api/handlers"
	"github.com/OstapBender-commits/ema-signal-bot/internal/logging"
	"github.com/OstapBender-commits/ema-signal-bot/internal/middleware"
)

// Dependencies are the handlers mounted on the router. Status and Metrics
// may be nil.
type Dependencies struct {
	Health  *handlers.HealthHandler
	Status  *handlers.StatusHandler
	Metrics http.Handler
}

// NewRouter builds the gin engine with tracing, request logging and recovery.
func NewRouter(serviceName string, logger logging.Logger, deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestTelemetry(logger))
	SetupRoutes(router, deps)
	return router
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	// Liveness for uptime pingers, which often send HEAD
	router.GET("/", deps.Health.LivenessCheck)
	router.HEAD("/", deps.Health.LivenessCheck)
	router.GET("/health", deps.Health.HealthCheck)

	if deps.Status != nil {
		router.GET("/status", deps.Status.GetStatus)
		router.GET("/signals", deps.Status.GetSignals)
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
}
