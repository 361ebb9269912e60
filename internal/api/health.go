package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler serves the health endpoints backed by the monitor and the
// degradation manager
type HealthHandler struct {
	monitor *monitor.Monitor
	manager *resilience.DegradationManager
	db      HealthChecker
	redis   HealthChecker
}

// NewHealthHandler creates a health handler. db and redis may be nil when
// the dependency is not configured.
func NewHealthHandler(mon *monitor.Monitor, manager *resilience.DegradationManager, db, redis HealthChecker) *HealthHandler {
	return &HealthHandler{
		monitor: mon,
		manager: manager,
		db:      db,
		redis:   redis,
	}
}

// DependencyCheck is one dependency's reachability result
type DependencyCheck struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
}

type healthSummary struct {
	Status      string                     `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	UptimeHours float64                    `json:"uptime_hours"`
	Checks      map[string]DependencyCheck `json:"checks,omitempty"`
}

// Health handles GET /health. Warning states still return 200; only a
// critical verdict makes the endpoint fail, so load balancers keep routing
// while the bot runs degraded.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := h.monitor.HealthStatus()

	summary := healthSummary{
		Status:      status.Status,
		Timestamp:   status.Timestamp,
		UptimeHours: status.UptimeHours,
		Checks:      make(map[string]DependencyCheck),
	}

	h.check(ctx, &summary, "database", h.db)
	h.check(ctx, &summary, "redis", h.redis)

	code := http.StatusOK
	if summary.Status == monitor.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, summary)
}

func (h *HealthHandler) check(ctx context.Context, summary *healthSummary, name string, checker HealthChecker) {
	if checker == nil {
		return
	}

	start := time.Now()
	err := checker.Health(ctx)
	latency := time.Since(start)

	if err != nil {
		summary.Checks[name] = DependencyCheck{
			Status:  "unhealthy",
			Message: err.Error(),
			Latency: latency,
		}
		return
	}
	summary.Checks[name] = DependencyCheck{Status: "healthy", Latency: latency}
}

// Detailed handles GET /health/detailed with the full monitor snapshot
func (h *HealthHandler) Detailed(c *gin.Context) {
	SuccessResponse(c, h.monitor.HealthStatus())
}

// Report handles GET /health/report with a plain-text rendering
func (h *HealthHandler) Report(c *gin.Context) {
	c.String(http.StatusOK, h.monitor.HealthReport())
}

// Services handles GET /health/services with per-service breaker status
func (h *HealthHandler) Services(c *gin.Context) {
	SuccessResponse(c, gin.H{
		"services":         h.manager.GetAllServicesStatus(),
		"degraded_mode_ok": h.manager.CanOperateInDegradedMode(),
	})
}
