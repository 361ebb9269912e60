package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/devassist/devassist/pkg/errors"
)

// APIResponse is the standard response envelope
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError carries the error code and message of a failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func requestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// FailureResponse sends an error response with the status derived from the
// application error type
func FailureResponse(c *gin.Context, err error) {
	code := errors.GetCode(err)
	message := err.Error()
	if appErr, ok := err.(*errors.AppError); ok {
		message = appErr.Message
	}

	c.JSON(statusForError(err), APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

func statusForError(err error) int {
	switch errors.GetType(err) {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
