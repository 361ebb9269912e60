package slack

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devassist/devassist/pkg/metrics"
	"github.com/devassist/devassist/pkg/monitor"
	"github.com/devassist/devassist/pkg/resilience"
)

func setupCommandHandler(t *testing.T) (*gin.Engine, *Verifier, *resilience.DegradationManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier := NewVerifier("test-secret", 5*time.Minute)
	manager := resilience.NewDegradationManager()
	manager.RegisterService(resilience.ServiceConfig{
		Name:          "anthropic",
		MaxFailures:   3,
		FailureWindow: time.Minute,
		RecoveryTime:  time.Minute,
	})
	mon := monitor.New(monitor.Config{CheckInterval: time.Hour}, nil, nil, nil)

	handler := NewCommandHandler(verifier, mon, manager, metrics.NewMetrics(nil))
	router := gin.New()
	router.POST("/slack/commands", handler.HandleCommands)
	return router, verifier, manager
}

func signedCommand(t *testing.T, verifier *Verifier, text string) *http.Request {
	t.Helper()

	form := url.Values{}
	form.Set("command", "/devassist")
	form.Set("text", text)
	form.Set("user_id", "U123")
	form.Set("channel_id", "C456")
	body := []byte(form.Encode())

	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", timestamp)
	req.Header.Set("X-Slack-Signature", verifier.Sign(body, timestamp))
	return req
}

func TestCommandHandler_RejectsBadSignature(t *testing.T) {
	router, verifier, _ := setupCommandHandler(t)

	req := signedCommand(t, verifier, "health")
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCommandHandler_Health(t *testing.T) {
	router, verifier, _ := setupCommandHandler(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedCommand(t, verifier, "health"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ephemeral")
	assert.Contains(t, rec.Body.String(), "System status:")
}

func TestCommandHandler_Services(t *testing.T) {
	router, verifier, manager := setupCommandHandler(t)
	manager.MarkServiceUnavailable("anthropic")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedCommand(t, verifier, "services"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "anthropic")
	assert.Contains(t, rec.Body.String(), "FAILED")
}

func TestCommandHandler_UnknownSubcommandShowsUsage(t *testing.T) {
	router, verifier, _ := setupCommandHandler(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedCommand(t, verifier, "bogus"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Usage: /devassist")
}
