package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Disabled(t *testing.T) {
	m := NewMetrics(&Config{Enabled: false})

	// All record methods must be safe no-ops
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.RecordServiceCall("anthropic", true, time.Second)
	m.SetCircuitBreakerState("anthropic", 2)
	m.RecordFallback("anthropic", "short_circuit")
	m.RecordError("llm", "timeout")
	m.UpdateHealth("critical", 99, 99, 99, 99, 10)
}

func TestMetrics_RecordServiceCall(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordServiceCall("anthropic", true, time.Second)
	m.RecordServiceCall("anthropic", false, time.Second)
	m.RecordServiceCall("anthropic", false, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceCallsTotal.WithLabelValues("anthropic", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ServiceCallsTotal.WithLabelValues("anthropic", "failure")))
}

func TestMetrics_CircuitBreakerState(t *testing.T) {
	m := NewMetrics(nil)

	m.SetCircuitBreakerState("slack", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("slack")))

	m.SetCircuitBreakerState("slack", 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("slack")))
}

func TestMetrics_UpdateHealth(t *testing.T) {
	m := NewMetrics(nil)

	m.UpdateHealth("warning", 75.0, 60.0, 40.0, 6.5, 12)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HealthVerdict))
	assert.Equal(t, 75.0, testutil.ToFloat64(m.CPUPercent))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.ActiveConnections))

	m.UpdateHealth("critical", 95.0, 60.0, 40.0, 20.0, 12)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HealthVerdict))
}

func TestMetrics_RecordLLMTokens(t *testing.T) {
	m := NewMetrics(nil)

	m.RecordLLMTokens(100, 250)
	m.RecordLLMTokens(50, 50)

	assert.Equal(t, 150.0, testutil.ToFloat64(m.LLMTokensTotal.WithLabelValues("input")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.LLMTokensTotal.WithLabelValues("output")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordServiceCall("anthropic", true, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "devassist_service_calls_total")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration
	m1 := NewMetrics(nil)
	m2 := NewMetrics(nil)

	m1.RecordError("llm", "timeout")
	m2.RecordError("llm", "timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(m1.ErrorsTotal.WithLabelValues("llm", "timeout")))
}
