package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devassist/devassist/pkg/errors"
	"github.com/devassist/devassist/pkg/logging"
)

// captureLogs swaps the global logger for one writing into a buffer
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	logger, err := logging.NewLogger(&logging.Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)

	prev := logging.GetLogger()
	logging.SetGlobalLogger(logger)
	t.Cleanup(func() { logging.SetGlobalLogger(prev) })
	return &buf
}

func TestLoggingMiddleware_EmitsRequestLine(t *testing.T) {
	buf := captureLogs(t)
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	line := buf.String()
	assert.Contains(t, line, `"http_method":"GET"`)
	assert.Contains(t, line, `"http_path":"/ping"`)
	assert.Contains(t, line, `"http_status":200`)
	assert.Contains(t, line, `"request_id":"req-42"`)
}

func TestRecoveryMiddleware_RendersErrorEnvelope(t *testing.T) {
	buf := captureLogs(t)
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(RecoveryMiddleware())
	router.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, rec.Body.String(), "kaboom", "panic details must not leak to clients")
	assert.Contains(t, buf.String(), "kaboom")
}

func TestFailureResponse_StatusByErrorType(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"validation", errors.NewValidationError("bad input"), http.StatusBadRequest},
		{"not_found", errors.NewNotFoundError("conversation"), http.StatusNotFound},
		{"internal", errors.NewInternalError("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/fail", func(c *gin.Context) { FailureResponse(c, tc.err) })

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}
