package api

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devassist/devassist/pkg/errors"
	"github.com/devassist/devassist/pkg/logging"
)

// RequestIDMiddleware adds a unique request ID to each request and stashes
// it in the request context so downstream log lines carry it
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

// LoggingMiddleware emits one structured log line per request
func LoggingMiddleware() gin.HandlerFunc {
	logger := logging.GetLogger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.LogRequest(c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// RecoveryMiddleware converts panics into 500 responses in the standard
// error envelope
func RecoveryMiddleware() gin.HandlerFunc {
	logger := logging.GetLogger()
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.LogError(c.Request.Context(), fmt.Errorf("panic: %v", recovered), "Recovered from panic", nil)
		// Panic details stay in the log, not the response
		FailureResponse(c, errors.NewInternalError("internal server error"))
		c.Abort()
	})
}

// CORSMiddleware configures cross-origin access for the health endpoints
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID",
		},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	})
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
