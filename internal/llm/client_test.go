package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

func testClient(t *testing.T, serverURL string) (*Client, *resilience.DegradationManager, *monitor.Monitor) {
	t.Helper()

	manager := resilience.NewDegradationManager()
	manager.RegisterService(resilience.ServiceConfig{
		Name:            ServiceName,
		MaxFailures:     3,
		FailureWindow:   5 * time.Minute,
		RecoveryTime:    100 * time.Millisecond,
		FallbackEnabled: true,
	})
	manager.RegisterFallback(ServiceName, Fallback)

	mon := monitor.New(monitor.DefaultConfig(), stubReader{}, nil, nil)

	client := NewClient(config.AnthropicConfig{
		APIKey:         "sk-test",
		Model:          "claude-3-5-sonnet-20241022",
		BaseURL:        serverURL,
		MaxTokens:      1000,
		RequestTimeout: 5 * time.Second,
	}, manager, mon, metrics.NewMetrics(nil))

	// Fail fast in tests
	client.retrier = resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
	})

	return client, manager, mon
}

type stubReader struct{}

func (stubReader) ReadStats() (monitor.SystemStats, error) {
	return monitor.SystemStats{CPUPercent: 10, MemoryPercent: 10, DiskPercent: 10}, nil
}

func messagesHandler(t *testing.T, reply string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-3-5-sonnet-20241022", req["model"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content":     []map[string]string{{"type": "text", "text": reply}},
			"model":       "claude-3-5-sonnet-20241022",
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 12, "output_tokens": 30},
		})
	}
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(messagesHandler(t, "Here is the answer."))
	defer server.Close()

	client, _, mon := testClient(t, server.URL)

	completion, err := client.Complete(context.Background(), "You are a helpful assistant.", []Message{
		{Role: "user", Content: "How do I reverse a slice in Go?"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Here is the answer.", completion.Text)
	assert.Equal(t, 12, completion.InputTokens)
	assert.Equal(t, 30, completion.OutputTokens)
	assert.False(t, completion.Degraded)

	status := mon.HealthStatus()
	assert.Equal(t, int64(1), status.APIs[ServiceName].TotalCalls)
	assert.Equal(t, int64(1), status.APIs[ServiceName].SuccessfulCalls)
}

func TestClient_ServerErrorServesFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "api_error", "message": "overloaded"},
		})
	}))
	defer server.Close()

	client, _, mon := testClient(t, server.URL)

	completion, err := client.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}})

	require.NoError(t, err)
	assert.True(t, completion.Degraded)

	status := mon.HealthStatus()
	assert.Equal(t, int64(1), status.APIs[ServiceName].FailedCalls)
	assert.Equal(t, "LLM_ERROR: overloaded", status.APIs[ServiceName].LastError)
}

func TestClient_BreakerTripsAfterRepeatedFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, manager, _ := testClient(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		completion, err := client.Complete(ctx, "", []Message{{Role: "user", Content: "hi"}})
		require.NoError(t, err)
		assert.True(t, completion.Degraded)
	}
	assert.Equal(t, "FAILED", manager.GetServiceStatus(ServiceName).State)

	// Short-circuited: the server must not be hit again
	before := atomic.LoadInt32(&calls)
	completion, err := client.Complete(ctx, "", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.True(t, completion.Degraded)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestClient_RecoversAfterOutage(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	healthy := messagesHandler(t, "recovered")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		healthy(w, r)
	}))
	defer server.Close()

	client, manager, _ := testClient(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		client.Complete(ctx, "", []Message{{Role: "user", Content: "hi"}})
	}
	require.Equal(t, "FAILED", manager.GetServiceStatus(ServiceName).State)

	failing.Store(false)
	time.Sleep(120 * time.Millisecond)

	completion, err := client.Complete(ctx, "", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.False(t, completion.Degraded)
	assert.Equal(t, "recovered", completion.Text)
	assert.Equal(t, "HEALTHY", manager.GetServiceStatus(ServiceName).State)
}

func TestClient_RateLimitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"type": "rate_limit_error", "message": "rate limited"},
		})
	}))
	defer server.Close()

	client, manager, _ := testClient(t, server.URL)

	// Without a fallback the original error surfaces
	manager.RegisterService(resilience.ServiceConfig{
		Name:         ServiceName,
		MaxFailures:  3,
		RecoveryTime: time.Minute,
	})

	_, err := client.Complete(context.Background(), "", []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}
