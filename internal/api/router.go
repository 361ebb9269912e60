package api

import (
	"github.com/gin-gonic/gin"

	"github.com/devassist/devassist/internal/slack"
	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

// RouterDeps collects everything the router wires together
type RouterDeps struct {
	Monitor       *monitor.Monitor
	Manager       *resilience.DegradationManager
	Metrics       *metrics.Metrics
	SlackHandler  *slack.Handler
	SlackCommands *slack.CommandHandler
	DB            HealthChecker
	Redis         HealthChecker
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(RecoveryMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(CORSMiddleware())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	healthHandler := NewHealthHandler(deps.Monitor, deps.Manager, deps.DB, deps.Redis)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/detailed", healthHandler.Detailed)
	router.GET("/health/report", healthHandler.Report)
	router.GET("/health/services", healthHandler.Services)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if deps.SlackHandler != nil {
		router.POST("/slack/events", deps.SlackHandler.HandleEvents)
	}

	if deps.SlackCommands != nil {
		router.POST("/slack/commands", deps.SlackCommands.HandleCommands)
	}

	return router
}
