package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

type stubChecker struct {
	err error
}

func (s *stubChecker) Health(ctx context.Context) error {
	return s.err
}

type stubReader struct {
	stats monitor.SystemStats
	err   error
}

func (r *stubReader) ReadStats() (monitor.SystemStats, error) {
	return r.stats, r.err
}

func healthyReader() *stubReader {
	return &stubReader{stats: monitor.SystemStats{
		CPUPercent:        10,
		MemoryPercent:     20,
		MemoryAvailableMB: 4096,
		DiskPercent:       30,
	}}
}

func newTestRouter(t *testing.T, reader monitor.SystemReader, dbErr error) (*gin.Engine, *resilience.DegradationManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mon := monitor.New(monitor.Config{CheckInterval: time.Hour}, reader, nil, nil)
	manager := resilience.NewDegradationManager()

	cfg := &config.Config{}
	cfg.Logging.Level = "info"

	router := NewRouter(cfg, RouterDeps{
		Monitor: mon,
		Manager: manager,
		Metrics: metrics.NewMetrics(nil),
		DB:      &stubChecker{err: dbErr},
		Redis:   &stubChecker{},
	})
	return router, manager
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth_OK(t *testing.T) {
	router, _ := newTestRouter(t, healthyReader(), nil)

	rec := get(router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, monitor.StatusHealthy, body.Status)
	assert.Equal(t, "healthy", body.Checks["database"].Status)
	assert.Equal(t, "healthy", body.Checks["redis"].Status)
}

func TestHealth_CriticalReturns503(t *testing.T) {
	router, _ := newTestRouter(t, &stubReader{err: fmt.Errorf("probe failed")}, nil)

	rec := get(router, "/health")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body healthSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, monitor.StatusCritical, body.Status)
}

func TestHealth_WarningStillReturns200(t *testing.T) {
	warning := &stubReader{stats: monitor.SystemStats{
		CPUPercent:        75,
		MemoryPercent:     20,
		MemoryAvailableMB: 4096,
		DiskPercent:       30,
	}}
	router, _ := newTestRouter(t, warning, nil)

	rec := get(router, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, monitor.StatusWarning, body.Status)
}

func TestHealth_ReportsUnhealthyDependency(t *testing.T) {
	router, _ := newTestRouter(t, healthyReader(), fmt.Errorf("connection refused"))

	rec := get(router, "/health")

	var body healthSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Checks["database"].Status)
	assert.Contains(t, body.Checks["database"].Message, "connection refused")
}

func TestHealthDetailed(t *testing.T) {
	router, _ := newTestRouter(t, healthyReader(), nil)

	rec := get(router, "/health/detailed")
	require.Equal(t, http.StatusOK, rec.Code)

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)

	data, ok := body.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, data, "system")
	assert.Contains(t, data, "performance")
}

func TestHealthReport(t *testing.T) {
	router, _ := newTestRouter(t, healthyReader(), nil)

	rec := get(router, "/health/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "System status:")
	assert.Contains(t, rec.Body.String(), "CPU:")
}

func TestHealthServices(t *testing.T) {
	router, manager := newTestRouter(t, healthyReader(), nil)
	manager.RegisterService(resilience.ServiceConfig{
		Name:         "anthropic",
		MaxFailures:  3,
		RecoveryTime: time.Minute,
	})
	manager.MarkServiceUnavailable("anthropic")

	rec := get(router, "/health/services")
	require.Equal(t, http.StatusOK, rec.Code)

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data := body.Data.(map[string]interface{})
	services := data["services"].(map[string]interface{})
	anthropic := services["anthropic"].(map[string]interface{})
	assert.Equal(t, "FAILED", anthropic["state"])
	assert.Equal(t, false, data["degraded_mode_ok"])
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, healthyReader(), nil)

	rec := get(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devassist_")
}

func TestRequestIDHeader(t *testing.T) {
	router, _ := newTestRouter(t, healthyReader(), nil)

	rec := get(router, "/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
